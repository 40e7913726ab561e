package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mdraihan27/maildoor/internal/middleware"
	"github.com/mdraihan27/maildoor/internal/models"
	"github.com/mdraihan27/maildoor/internal/service"
	"github.com/mdraihan27/maildoor/pkg/config"
	"github.com/mdraihan27/maildoor/pkg/secrets"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// in-memory stores backing the real services under test

type stubKeyStore struct {
	mu   sync.Mutex
	keys map[string]*models.APIKey
}

func newStubKeyStore() *stubKeyStore {
	return &stubKeyStore{keys: map[string]*models.APIKey{}}
}

func (s *stubKeyStore) Create(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *stubKeyStore) FindByDigest(_ context.Context, digest string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.HashedKey == digest {
			cp := *k
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *stubKeyStore) FindByID(_ context.Context, id string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubKeyStore) ListByOwner(_ context.Context, ownerID string, _, _ int) ([]models.APIKey, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.APIKey
	for _, k := range s.keys {
		if k.UserID == ownerID {
			out = append(out, *k)
		}
	}
	return out, len(out), nil
}

func (s *stubKeyStore) CountActiveByOwner(_ context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.keys {
		if k.UserID == ownerID && k.Status == models.APIKeyStatusActive {
			n++
		}
	}
	return n, nil
}

func (s *stubKeyStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		k.Status = models.APIKeyStatusRevoked
	}
	return nil
}

func (s *stubKeyStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	return nil
}

func (s *stubKeyStore) TouchLastUsed(_ context.Context, _ string, _ time.Time) error { return nil }

func (s *stubKeyStore) DeleteExpiredRevoked(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type stubUserStore struct {
	users map[string]*models.User
}

func (s *stubUserStore) FindByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type stubAuditStore struct {
	mu      sync.Mutex
	written []models.AuditLog
}

func (s *stubAuditStore) Create(_ context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, *entry)
	return nil
}

func (s *stubAuditStore) InsertMany(_ context.Context, entries []models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, entries...)
	return nil
}

func (s *stubAuditStore) List(_ context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditLog
	for _, e := range s.written {
		if filter.Actor != "" && (e.Actor == nil || *e.Actor != filter.Actor) {
			continue
		}
		out = append(out, e)
	}
	// Newest first, like the repository's created_at ordering.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

func (s *stubAuditStore) FindByRequestID(_ context.Context, _ string) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written, nil
}

func (s *stubAuditStore) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *stubAuditStore) actions() []models.AuditAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditAction, 0, len(s.written))
	for _, e := range s.written {
		out = append(out, e.Action)
	}
	return out
}

type keyFixture struct {
	handler *APIKeyHandler
	store   *stubKeyStore
	audits  *stubAuditStore
	svc     *service.APIKeyService
	audit   *service.AuditService
}

func newKeyFixture(t *testing.T) *keyFixture {
	t.Helper()
	store := newStubKeyStore()
	users := &stubUserStore{users: map[string]*models.User{
		"u1": {ID: "u1", Email: "u1@example.com", Role: models.RoleUser, Status: models.UserStatusActive},
	}}
	audits := &stubAuditStore{}
	audit := service.NewAuditService(audits, service.AuditConfig{BufferMaxSize: 1}, nil, zap.NewNop())
	t.Cleanup(func() { audit.Shutdown(context.Background()) })
	svc := service.NewAPIKeyService(store, users, secrets.NewCodec(""), 25, zap.NewNop())
	return &keyFixture{
		handler: NewAPIKeyHandler(svc, audit),
		store:   store,
		audits:  audits,
		svc:     svc,
		audit:   audit,
	}
}

func testContext(t *testing.T, method, path string, payload interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func asUser(c *gin.Context, id string, role models.UserRole) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: id, Email: id + "@example.com", Role: role})
}

func TestAPIKeyHandlerCreateReturnsRawOnce(t *testing.T) {
	fx := newKeyFixture(t)

	c, w := testContext(t, http.MethodPost, "/keys", service.IssueKeyInput{Name: "deploy bot"})
	asUser(c, "u1", models.RoleUser)
	fx.handler.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)

	var envelope struct {
		Data struct {
			APIKey string `json:"api_key"`
			Key    struct {
				ID        string `json:"id"`
				MaskedKey string `json:"masked_key"`
			} `json:"key"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Contains(t, envelope.Data.APIKey, secrets.DefaultPrefix)
	assert.NotEmpty(t, envelope.Data.Key.MaskedKey)
	assert.NotEqual(t, envelope.Data.APIKey, envelope.Data.Key.MaskedKey)

	require.Eventually(t, func() bool {
		for _, a := range fx.audits.actions() {
			if a == models.AuditActionKeyCreated {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestAPIKeyHandlerCreateRequiresAuth(t *testing.T) {
	fx := newKeyFixture(t)

	c, w := testContext(t, http.MethodPost, "/keys", service.IssueKeyInput{Name: "nope"})
	fx.handler.Create(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyHandlerListExcludesSecrets(t *testing.T) {
	fx := newKeyFixture(t)
	_, _, err := fx.svc.Issue(context.Background(), "u1", service.IssueKeyInput{Name: "a"})
	require.NoError(t, err)

	c, w := testContext(t, http.MethodGet, "/keys", nil)
	asUser(c, "u1", models.RoleUser)
	fx.handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.NotContains(t, body, "hashed_key")
	assert.Contains(t, body, "masked_key")
}

func TestAPIKeyHandlerRevokeFlow(t *testing.T) {
	fx := newKeyFixture(t)
	key, _, err := fx.svc.Issue(context.Background(), "u1", service.IssueKeyInput{Name: "doomed"})
	require.NoError(t, err)

	c, w := testContext(t, http.MethodPost, "/keys/"+key.ID+"/revoke", nil)
	c.Params = gin.Params{{Key: "id", Value: key.ID}}
	asUser(c, "u1", models.RoleUser)
	fx.handler.Revoke(c)
	require.Equal(t, http.StatusOK, w.Code)

	// second revoke conflicts
	c2, w2 := testContext(t, http.MethodPost, "/keys/"+key.ID+"/revoke", nil)
	c2.Params = gin.Params{{Key: "id", Value: key.ID}}
	asUser(c2, "u1", models.RoleUser)
	fx.handler.Revoke(c2)
	assert.Equal(t, http.StatusConflict, w2.Code)
}

// TestKeyLifecycleAuditTimeline drives issue, use and revoke through a real
// router and asserts the owner's audit timeline preserves creation order.
func TestKeyLifecycleAuditTimeline(t *testing.T) {
	keyStore := newStubKeyStore()
	users := &stubUserStore{users: map[string]*models.User{
		"u1": {ID: "u1", Email: "u1@example.com", Role: models.RoleUser, Status: models.UserStatusActive},
	}}
	audits := &stubAuditStore{}
	audit := service.NewAuditService(audits, service.AuditConfig{BufferMaxSize: 1}, nil, zap.NewNop())
	t.Cleanup(func() { audit.Shutdown(context.Background()) })
	keys := service.NewAPIKeyService(keyStore, users, secrets.NewCodec(""), 25, zap.NewNop())
	auth := service.NewAuthService(config.JWTConfig{
		Secret:     "timeline-test-secret",
		Expiration: time.Hour,
		Issuer:     "maildoor",
	}, zap.NewNop())

	keyHandler := NewAPIKeyHandler(keys, audit)
	auditHandler := NewAuditHandler(audit, nil)

	router := gin.New()
	authed := router.Group("", middleware.JWT(auth))
	authed.POST("/keys", keyHandler.Create)
	authed.POST("/keys/:id/revoke", keyHandler.Revoke)
	authed.GET("/audit/me", auditHandler.ListMine)
	router.POST("/relay/send", middleware.APIKeyAuth(keys, audit, nil), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	token, err := auth.GenerateToken(&models.User{ID: "u1", Email: "u1@example.com", Role: models.RoleUser})
	require.NoError(t, err)

	do := func(method, path string, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
		var body *bytes.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			require.NoError(t, err)
			body = bytes.NewReader(raw)
		} else {
			body = bytes.NewReader(nil)
		}
		req := httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}
	bearer := map[string]string{"Authorization": "Bearer " + token}
	flushed := func(n int) func() bool {
		return func() bool { return len(audits.actions()) >= n }
	}

	w := do(http.MethodPost, "/keys", service.IssueKeyInput{Name: "ci"}, bearer)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Data struct {
			APIKey string `json:"api_key"`
			Key    struct {
				ID string `json:"id"`
			} `json:"key"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Eventually(t, flushed(1), time.Second, 10*time.Millisecond)

	w = do(http.MethodPost, "/relay/send", nil, map[string]string{middleware.HeaderAPIKey: created.Data.APIKey})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, flushed(2), time.Second, 10*time.Millisecond)

	w = do(http.MethodPost, "/keys/"+created.Data.Key.ID+"/revoke", nil, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, flushed(3), time.Second, 10*time.Millisecond)

	w = do(http.MethodGet, "/audit/me", nil, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	var timeline struct {
		Data []models.AuditLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &timeline))
	require.Len(t, timeline.Data, 3)

	// Newest first from the listing; reading backwards gives creation order.
	assert.Equal(t, models.AuditActionKeyRevoked, timeline.Data[0].Action)
	assert.Equal(t, models.AuditActionKeyUsed, timeline.Data[1].Action)
	assert.Equal(t, models.AuditActionKeyCreated, timeline.Data[2].Action)
	for _, entry := range timeline.Data {
		require.NotNil(t, entry.Actor)
		assert.Equal(t, "u1", *entry.Actor)
	}
}

func TestAPIKeyHandlerDelete(t *testing.T) {
	fx := newKeyFixture(t)
	key, _, err := fx.svc.Issue(context.Background(), "u1", service.IssueKeyInput{Name: "temp"})
	require.NoError(t, err)

	c, w := testContext(t, http.MethodDelete, "/keys/"+key.ID, nil)
	c.Params = gin.Params{{Key: "id", Value: key.ID}}
	asUser(c, "u1", models.RoleUser)
	fx.handler.Delete(c)
	// Handlers invoked outside the engine never flush gin's buffered status.
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)

	c2, w2 := testContext(t, http.MethodGet, "/keys/"+key.ID, nil)
	c2.Params = gin.Params{{Key: "id", Value: key.ID}}
	asUser(c2, "u1", models.RoleUser)
	fx.handler.Get(c2)
	assert.Equal(t, http.StatusNotFound, w2.Code)
}
