package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mdraihan27/maildoor/internal/models"
	"github.com/mdraihan27/maildoor/pkg/config"
	appErrors "github.com/mdraihan27/maildoor/pkg/errors"
)

// AuthService validates dashboard session tokens. Tokens are minted during
// the Google OAuth callback; here we only verify signature, expiry and issuer.
type AuthService struct {
	cfg    config.JWTConfig
	logger *zap.Logger
}

func NewAuthService(cfg config.JWTConfig, logger *zap.Logger) *AuthService {
	return &AuthService{cfg: cfg, logger: logger}
}

// GenerateToken signs a session token for a user. Used by the login flow and
// by tests that need valid tokens.
func (s *AuthService) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := models.JWTClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.Expiration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", appErrors.Wrap(err, "TOKEN_SIGNING_FAILED", 500, "failed to sign token")
	}
	return signed, nil
}

// ValidateToken parses and verifies a session token, rejecting any signing
// method other than HMAC-SHA256.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	claims := &models.JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, appErrors.ErrUnauthorized
		}
		return []byte(s.cfg.Secret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, appErrors.ErrUnauthorized
	}
	if claims.UserID == "" || !models.ValidRole(claims.Role) {
		return nil, appErrors.ErrUnauthorized
	}
	return claims, nil
}
