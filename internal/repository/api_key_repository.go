package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mdraihan27/maildoor/internal/models"
)

// listColumns deliberately excludes hashed_key: rows destined for display
// must never carry the digest.
const apiKeyListColumns = `id, user_id, name, prefix, suffix, status, last_used_at, expires_at, allowed_ips, created_at, updated_at`

// apiKeyFullColumns includes hashed_key for reads that feed into digest
// comparison.
const apiKeyFullColumns = `id, user_id, name, hashed_key, prefix, suffix, status, last_used_at, expires_at, allowed_ips, created_at, updated_at`

// APIKeyRepository provides database access for issued credentials.
type APIKeyRepository struct {
	db *sqlx.DB
}

// NewAPIKeyRepository creates a new instance of APIKeyRepository.
func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Create inserts a new credential record. A duplicate digest violates the
// unique index and surfaces as a conflict from the driver.
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if key.CreatedAt.IsZero() {
		key.CreatedAt = now
	}
	key.UpdatedAt = now
	if key.Status == "" {
		key.Status = models.APIKeyStatusActive
	}

	const query = `INSERT INTO api_keys (id, user_id, name, hashed_key, prefix, suffix, status, last_used_at, expires_at, allowed_ips, created_at, updated_at) VALUES (:id, :user_id, :name, :hashed_key, :prefix, :suffix, :status, :last_used_at, :expires_at, :allowed_ips, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// FindByDigest returns the credential matching a digest, including the raw
// stored digest for constant-time comparison by the caller.
func (r *APIKeyRepository) FindByDigest(ctx context.Context, digest string) (*models.APIKey, error) {
	query := fmt.Sprintf(`SELECT %s FROM api_keys WHERE hashed_key = $1 LIMIT 1`, apiKeyFullColumns)
	var key models.APIKey
	if err := r.db.GetContext(ctx, &key, query, digest); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find api key by digest: %w", err)
	}
	return &key, nil
}

// FindByID returns a credential by identifier, digest included for
// service-side authorization decisions.
func (r *APIKeyRepository) FindByID(ctx context.Context, id string) (*models.APIKey, error) {
	query := fmt.Sprintf(`SELECT %s FROM api_keys WHERE id = $1 LIMIT 1`, apiKeyFullColumns)
	var key models.APIKey
	if err := r.db.GetContext(ctx, &key, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find api key by id: %w", err)
	}
	return &key, nil
}

// ListByOwner returns an owner's credentials with total count, newest first.
func (r *APIKeyRepository) ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]models.APIKey, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT %s FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC LIMIT %d OFFSET %d`, apiKeyListColumns, pageSize, offset)
	var keys []models.APIKey
	if err := r.db.SelectContext(ctx, &keys, query, ownerID); err != nil {
		return nil, 0, fmt.Errorf("list api keys: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM api_keys WHERE user_id = $1`, ownerID); err != nil {
		return nil, 0, fmt.Errorf("count api keys: %w", err)
	}

	return keys, total, nil
}

// CountActiveByOwner counts an owner's ACTIVE credentials for the quota check.
func (r *APIKeyRepository) CountActiveByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	const query = `SELECT COUNT(*) FROM api_keys WHERE user_id = $1 AND status = $2`
	if err := r.db.GetContext(ctx, &count, query, ownerID, models.APIKeyStatusActive); err != nil {
		return 0, fmt.Errorf("count active api keys: %w", err)
	}
	return count, nil
}

// Revoke transitions a credential to REVOKED. The transition is one-way.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	const query = `UPDATE api_keys SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.APIKeyStatusRevoked, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return nil
}

// DeleteByID hard-deletes a credential record.
func (r *APIKeyRepository) DeleteByID(ctx context.Context, id string) error {
	const query = `DELETE FROM api_keys WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return nil
}

// TouchLastUsed updates the best-effort last_used_at timestamp.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("touch api key last used: %w", err)
	}
	return nil
}

// DeleteExpiredRevoked removes revoked keys whose expiry passed before the
// cutoff. Used by the maintenance sweep.
func (r *APIKeyRepository) DeleteExpiredRevoked(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM api_keys WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2`
	res, err := r.db.ExecContext(ctx, query, models.APIKeyStatusRevoked, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep expired api keys: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep expired api keys: %w", err)
	}
	return affected, nil
}
