package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mdraihan27/maildoor/internal/models"
	"github.com/mdraihan27/maildoor/pkg/config"
)

func newTestAuthService(expiration time.Duration) *AuthService {
	return NewAuthService(config.JWTConfig{
		Secret:     "unit-test-jwt-secret",
		Expiration: expiration,
		Issuer:     "maildoor",
	}, zap.NewNop())
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestAuthService(time.Hour)
	user := activeUser("u1")
	user.Role = models.RoleAdmin

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, user.Email, claims.Email)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	svc := newTestAuthService(time.Hour)

	token, err := svc.GenerateToken(activeUser("u1"))
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	_, err = svc.ValidateToken(tampered)
	require.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := newTestAuthService(-time.Minute)

	token, err := svc.GenerateToken(activeUser("u1"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	minting := newTestAuthService(time.Hour)
	validating := NewAuthService(config.JWTConfig{
		Secret:     "a-different-secret",
		Expiration: time.Hour,
		Issuer:     "maildoor",
	}, zap.NewNop())

	token, err := minting.GenerateToken(activeUser("u1"))
	require.NoError(t, err)

	_, err = validating.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestAuthService(time.Hour)

	_, err := svc.ValidateToken("not.a.token")
	require.Error(t, err)
	_, err = svc.ValidateToken("")
	require.Error(t, err)
}
