package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mdraihan27/maildoor/internal/models"
)

const auditColumns = `id, actor, action, category, severity, resource, resource_id, ip, user_agent, device_info, headers, request_id, meta, duration_ms, outcome, error_message, created_at`

const auditInsert = `INSERT INTO audit_logs (id, actor, action, category, severity, resource, resource_id, ip, user_agent, device_info, headers, request_id, meta, duration_ms, outcome, error_message, created_at) VALUES (:id, :actor, :action, :category, :severity, :resource, :resource_id, :ip, :user_agent, :device_info, :headers, :request_id, :meta, :duration_ms, :outcome, :error_message, :created_at)`

// AuditRepository provides database access for the append-only audit trail.
// Optimised for write-heavy workloads: the buffer batches entries into
// InsertMany.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new instance of AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a single audit entry.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	prepare(entry)
	if _, err := r.db.NamedExecContext(ctx, auditInsert, entry); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// InsertMany bulk-inserts a batch in a single statement. sqlx expands the
// named VALUES clause once per entry. The multi-row INSERT is atomic, so one
// rejected row would discard its siblings; when it fails, the rows are retried
// individually and only the rejected ones are lost.
func (r *AuditRepository) InsertMany(ctx context.Context, entries []models.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}
	for i := range entries {
		prepare(&entries[i])
	}
	if _, err := r.db.NamedExecContext(ctx, auditInsert, entries); err == nil {
		return nil
	}

	var firstErr error
	rejected := 0
	for i := range entries {
		if _, err := r.db.NamedExecContext(ctx, auditInsert, entries[i]); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			rejected++
		}
	}
	if rejected > 0 {
		return fmt.Errorf("bulk insert audit logs: %d of %d rows rejected: %w", rejected, len(entries), firstErr)
	}
	return nil
}

// List returns entries matching a filter with total count, newest first.
// Creation timestamp is the ordering source of truth.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	baseQuery := `FROM audit_logs WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Actor != "" {
		conditions = append(conditions, fmt.Sprintf("actor = $%d", len(args)+1))
		args = append(args, filter.Actor)
	}
	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)+1))
		args = append(args, filter.Action)
	}
	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, filter.Category)
	}
	if filter.IP != "" {
		conditions = append(conditions, fmt.Sprintf("ip = $%d", len(args)+1))
		args = append(args, filter.IP)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", len(args)+1))
		args = append(args, filter.Outcome)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", auditColumns, baseQuery, pageSize, offset)

	var entries []models.AuditLog
	if err := r.db.SelectContext(ctx, &entries, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	return entries, total, nil
}

// FindByActor returns an actor's timeline.
func (r *AuditRepository) FindByActor(ctx context.Context, actorID string, page, pageSize int) ([]models.AuditLog, int, error) {
	return r.List(ctx, models.AuditFilter{Actor: actorID, Page: page, PageSize: pageSize})
}

// FindByCategory returns entries within a category.
func (r *AuditRepository) FindByCategory(ctx context.Context, category models.AuditCategory, page, pageSize int) ([]models.AuditLog, int, error) {
	return r.List(ctx, models.AuditFilter{Category: category, Page: page, PageSize: pageSize})
}

// FindByAction returns entries for a single action tag.
func (r *AuditRepository) FindByAction(ctx context.Context, action models.AuditAction, page, pageSize int) ([]models.AuditLog, int, error) {
	return r.List(ctx, models.AuditFilter{Action: action, Page: page, PageSize: pageSize})
}

// FindByRequestID returns all entries sharing a correlation ID, oldest first.
func (r *AuditRepository) FindByRequestID(ctx context.Context, requestID string) ([]models.AuditLog, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_logs WHERE request_id = $1 ORDER BY created_at ASC`, auditColumns)
	var entries []models.AuditLog
	if err := r.db.SelectContext(ctx, &entries, query, requestID); err != nil {
		return nil, fmt.Errorf("find audit logs by request id: %w", err)
	}
	return entries, nil
}

// DeleteOlderThan purges entries created before the cutoff. Retention is a
// storage policy executed by the scheduled purge job.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM audit_logs WHERE created_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit logs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge audit logs: %w", err)
	}
	return affected, nil
}

func prepare(entry *models.AuditLog) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Category == "" {
		entry.Category = models.DeriveCategory(entry.Action)
	}
	if entry.Severity == "" {
		entry.Severity = models.AuditSeverityInfo
	}
}
