package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mdraihan27/maildoor/internal/models"
	appErrors "github.com/mdraihan27/maildoor/pkg/errors"
	"github.com/mdraihan27/maildoor/pkg/jobs"
	"github.com/mdraihan27/maildoor/pkg/secrets"
)

const touchLastUsedJob = "apikey.touch_last_used"

type apiKeyStore interface {
	Create(ctx context.Context, key *models.APIKey) error
	FindByDigest(ctx context.Context, digest string) (*models.APIKey, error)
	FindByID(ctx context.Context, id string) (*models.APIKey, error)
	ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]models.APIKey, int, error)
	CountActiveByOwner(ctx context.Context, ownerID string) (int, error)
	Revoke(ctx context.Context, id string) error
	DeleteByID(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, ts time.Time) error
	DeleteExpiredRevoked(ctx context.Context, cutoff time.Time) (int64, error)
}

type apiKeyUserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// IssueKeyInput is the payload for minting a new API key.
type IssueKeyInput struct {
	Name       string     `json:"name" validate:"required,max=80"`
	AllowedIPs []string   `json:"allowed_ips" validate:"omitempty,dive,ip"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// APIKeyService issues, validates, lists, revokes and deletes API keys. The
// raw secret is generated here, returned to the caller exactly once, and only
// its digest ever reaches the store.
type APIKeyService struct {
	keys      apiKeyStore
	users     apiKeyUserStore
	codec     *secrets.Codec
	touches   *jobs.Queue
	validate  *validator.Validate
	logger    *zap.Logger
	maxActive int
}

func NewAPIKeyService(keys apiKeyStore, users apiKeyUserStore, codec *secrets.Codec, maxActive int, logger *zap.Logger) *APIKeyService {
	if maxActive <= 0 {
		maxActive = 25
	}
	return &APIKeyService{
		keys:      keys,
		users:     users,
		codec:     codec,
		validate:  validator.New(),
		logger:    logger,
		maxActive: maxActive,
	}
}

// SetTouchQueue wires the background queue used for last-used timestamp
// updates. Without a queue the touch runs inline on a best-effort basis.
func (s *APIKeyService) SetTouchQueue(q *jobs.Queue) {
	s.touches = q
}

// TouchQueueHandler processes queued last-used updates.
func (s *APIKeyService) TouchQueueHandler(ctx context.Context, job jobs.Job) error {
	id, ok := job.Payload.(string)
	if !ok || id == "" {
		return nil
	}
	return s.keys.TouchLastUsed(ctx, id, job.Enqueued)
}

// Issue mints a new key for the owner. Fails when the owner already holds the
// maximum number of active keys; revoked keys do not count against the quota.
func (s *APIKeyService) Issue(ctx context.Context, ownerID string, input IssueKeyInput) (*models.APIKey, string, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, validationMessage(err))
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(time.Now()) {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "expiry must be in the future")
	}

	active, err := s.keys.CountActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to count active keys")
	}
	if active >= s.maxActive {
		return nil, "", appErrors.ErrQuotaExceeded
	}

	generated, err := s.codec.Generate()
	if err != nil {
		return nil, "", appErrors.Wrap(err, "KEY_GENERATION_FAILED", 500, "failed to generate key material")
	}

	key := &models.APIKey{
		UserID:     ownerID,
		Name:       input.Name,
		HashedKey:  generated.Digest,
		Prefix:     generated.Prefix,
		Suffix:     generated.Suffix,
		Status:     models.APIKeyStatusActive,
		AllowedIPs: input.AllowedIPs,
		ExpiresAt:  input.ExpiresAt,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, "", appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to store key")
	}

	s.logger.Info("api key issued",
		zap.String("key_id", key.ID),
		zap.String("owner_id", ownerID),
		zap.String("prefix", key.Prefix))
	return key, generated.Raw, nil
}

// Validate authenticates a raw secret presented on a request. Every rejection
// reason collapses to the same invalid-key error so callers cannot distinguish
// unknown, revoked, expired, IP-restricted keys or a suspended owner.
func (s *APIKeyService) Validate(ctx context.Context, raw, clientIP string) (*models.APIKey, *models.User, error) {
	if raw == "" || !strings.HasPrefix(raw, s.codec.Prefix()) {
		return nil, nil, appErrors.ErrInvalidAPIKey
	}

	key, err := s.keys.FindByDigest(ctx, secrets.Digest(raw))
	if err != nil || key == nil {
		return nil, nil, appErrors.ErrInvalidAPIKey
	}
	if !secrets.Verify(raw, key.HashedKey) {
		return nil, nil, appErrors.ErrInvalidAPIKey
	}
	if key.Status != models.APIKeyStatusActive || key.Expired(time.Now()) {
		return nil, nil, appErrors.ErrInvalidAPIKey
	}
	if !key.IPAllowed(clientIP) {
		return nil, nil, appErrors.ErrInvalidAPIKey
	}

	owner, err := s.users.FindByID(ctx, key.UserID)
	if err != nil || owner == nil {
		return nil, nil, appErrors.ErrInvalidAPIKey
	}
	if !owner.Active() {
		return nil, nil, appErrors.ErrInvalidAPIKey
	}

	s.touchLastUsed(ctx, key.ID)
	return key, owner, nil
}

// touchLastUsed records key usage off the request path. A full queue or a
// failed update never affects the validation outcome.
func (s *APIKeyService) touchLastUsed(ctx context.Context, keyID string) {
	now := time.Now().UTC()
	if s.touches != nil {
		err := s.touches.Enqueue(jobs.Job{
			ID:       uuid.NewString(),
			Type:     touchLastUsedJob,
			Payload:  keyID,
			Enqueued: now,
		})
		if err == nil {
			return
		}
		s.logger.Warn("last-used enqueue failed, touching inline",
			zap.String("key_id", keyID), zap.Error(err))
	}
	if err := s.keys.TouchLastUsed(ctx, keyID, now); err != nil {
		s.logger.Warn("last-used update failed",
			zap.String("key_id", keyID), zap.Error(err))
	}
}

// ListByOwner returns the owner's keys without digests, newest first.
func (s *APIKeyService) ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]models.APIKey, *models.Pagination, error) {
	keys, total, err := s.keys.ListByOwner(ctx, ownerID, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to list keys")
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return keys, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns one key, enforcing ownership. Admin callers may read any key.
func (s *APIKeyService) Get(ctx context.Context, callerID, keyID string, admin bool) (*models.APIKey, error) {
	return s.authorize(ctx, callerID, keyID, admin)
}

// Revoke deactivates a key permanently and frees its quota slot.
func (s *APIKeyService) Revoke(ctx context.Context, callerID, keyID string, admin bool) (*models.APIKey, error) {
	key, err := s.authorize(ctx, callerID, keyID, admin)
	if err != nil {
		return nil, err
	}
	if key.Status == models.APIKeyStatusRevoked {
		return nil, appErrors.ErrAlreadyRevoked
	}
	if err := s.keys.Revoke(ctx, key.ID); err != nil {
		return nil, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to revoke key")
	}
	key.Status = models.APIKeyStatusRevoked

	s.logger.Info("api key revoked",
		zap.String("key_id", key.ID), zap.String("owner_id", key.UserID))
	return key, nil
}

// Delete removes a key outright, erasing it from listings.
func (s *APIKeyService) Delete(ctx context.Context, callerID, keyID string, admin bool) error {
	key, err := s.authorize(ctx, callerID, keyID, admin)
	if err != nil {
		return err
	}
	if err := s.keys.DeleteByID(ctx, key.ID); err != nil {
		return appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to delete key")
	}

	s.logger.Info("api key deleted",
		zap.String("key_id", key.ID), zap.String("owner_id", key.UserID))
	return nil
}

// SweepRevoked deletes revoked keys whose expiry passed before the cutoff.
// Driven by the job scheduler.
func (s *APIKeyService) SweepRevoked(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := s.keys.DeleteExpiredRevoked(ctx, cutoff)
	if err != nil {
		return 0, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to sweep revoked keys")
	}
	return deleted, nil
}

// authorize loads a key and checks the caller may act on it.
func (s *APIKeyService) authorize(ctx context.Context, callerID, keyID string, admin bool) (*models.APIKey, error) {
	key, err := s.keys.FindByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to load key")
	}
	if key.UserID != callerID && !admin {
		return nil, appErrors.ErrForbidden
	}
	return key, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		field := strings.ToLower(verrs[0].Field())
		switch verrs[0].Tag() {
		case "required":
			return field + " is required"
		case "max":
			return field + " is too long"
		case "ip":
			return field + " contains an invalid IP address"
		default:
			return field + " is invalid"
		}
	}
	return "invalid request payload"
}
