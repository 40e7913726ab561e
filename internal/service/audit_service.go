package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mdraihan27/maildoor/internal/models"
	appErrors "github.com/mdraihan27/maildoor/pkg/errors"
	"github.com/mdraihan27/maildoor/pkg/middleware/requestid"
)

// auditStore is the persistence surface the audit service depends on.
type auditStore interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	InsertMany(ctx context.Context, entries []models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
	FindByRequestID(ctx context.Context, requestID string) ([]models.AuditLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// auditMetrics receives buffer telemetry. All methods must be safe to call
// from multiple goroutines.
type auditMetrics interface {
	SetAuditBufferDepth(depth int)
	AddAuditFlushed(count int)
	AddAuditDropped(count int)
}

// AuditConfig tunes the write-behind buffer.
type AuditConfig struct {
	FlushInterval time.Duration
	BufferMaxSize int
	Retention     time.Duration
	FlushTimeout  time.Duration
}

// safeHeaders is the allowlist of request headers that may be attached to an
// audit entry. Everything else (cookies, authorization, API keys) is dropped.
var safeHeaders = map[string]struct{}{
	"user-agent":      {},
	"referer":         {},
	"origin":          {},
	"content-type":    {},
	"accept-language": {},
	"x-forwarded-for": {},
	"x-request-id":    {},
}

// AuditService buffers audit entries in memory and writes them to the store
// in batches. Recording is fire-and-forget: callers never observe storage
// errors, and a failed batch is logged and dropped rather than retried.
type AuditService struct {
	store   auditStore
	logger  *zap.Logger
	metrics auditMetrics
	cfg     AuditConfig

	mu       sync.Mutex
	buffer   []models.AuditLog
	timer    *time.Timer
	flushing bool
	closed   bool
	inflight sync.WaitGroup
}

func NewAuditService(store auditStore, cfg AuditConfig, metrics auditMetrics, logger *zap.Logger) *AuditService {
	if cfg.BufferMaxSize <= 0 {
		cfg.BufferMaxSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	return &AuditService{
		store:   store,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
	}
}

// Log buffers a single audit entry. Entries with an unknown action are
// rejected here so invalid values never reach the store.
func (s *AuditService) Log(entry models.AuditLog) {
	if !models.ValidAuditAction(entry.Action) {
		s.logger.Warn("audit entry with unknown action dropped",
			zap.String("action", string(entry.Action)))
		if s.metrics != nil {
			s.metrics.AddAuditDropped(1)
		}
		return
	}
	s.normalize(&entry)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("audit entry after shutdown dropped",
			zap.String("action", string(entry.Action)))
		if s.metrics != nil {
			s.metrics.AddAuditDropped(1)
		}
		return
	}
	s.buffer = append(s.buffer, entry)
	depth := len(s.buffer)
	if s.metrics != nil {
		s.metrics.SetAuditBufferDepth(depth)
	}
	if depth >= s.cfg.BufferMaxSize {
		s.startFlushLocked()
	} else if s.timer == nil {
		s.timer = time.AfterFunc(s.cfg.FlushInterval, s.onTimer)
	}
	s.mu.Unlock()
}

// LogFromContext enriches the entry with request metadata (client IP, request
// ID, filtered headers) before buffering it.
func (s *AuditService) LogFromContext(c *gin.Context, entry models.AuditLog) {
	if c != nil {
		if entry.IP == nil {
			ip := c.ClientIP()
			if ip != "" {
				entry.IP = &ip
			}
		}
		if entry.RequestID == nil {
			if rid := requestid.Value(c); rid != "" {
				entry.RequestID = &rid
			}
		}
		if entry.UserAgent == nil {
			if ua := c.Request.UserAgent(); ua != "" {
				entry.UserAgent = &ua
			}
		}
		if entry.DeviceInfo == nil {
			if dev := deviceFromUserAgent(c.Request.UserAgent()); dev != "" {
				entry.DeviceInfo = &dev
			}
		}
		if entry.Headers == nil {
			entry.Headers = filterHeaders(c)
		}
	}
	s.Log(entry)
}

func (s *AuditService) onTimer() {
	s.mu.Lock()
	s.timer = nil
	s.startFlushLocked()
	s.mu.Unlock()
}

// startFlushLocked swaps the buffer for an empty one and hands the batch to a
// background goroutine. At most one flush runs at a time; entries arriving
// while one is in flight accumulate for the next batch. Caller holds s.mu.
func (s *AuditService) startFlushLocked() {
	// After Shutdown begins draining, a late timer callback must not start a
	// flush nobody waits for.
	if s.closed || s.flushing || len(s.buffer) == 0 {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	batch := s.buffer
	s.buffer = nil
	s.flushing = true
	if s.metrics != nil {
		s.metrics.SetAuditBufferDepth(0)
	}
	s.inflight.Add(1)
	go s.flush(batch)
}

func (s *AuditService) flush(batch []models.AuditLog) {
	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
	defer cancel()

	s.write(ctx, batch)

	s.mu.Lock()
	s.flushing = false
	if !s.closed {
		if len(s.buffer) >= s.cfg.BufferMaxSize {
			s.startFlushLocked()
		} else if len(s.buffer) > 0 && s.timer == nil {
			s.timer = time.AfterFunc(s.cfg.FlushInterval, s.onTimer)
		}
	}
	s.mu.Unlock()
}

func (s *AuditService) write(ctx context.Context, batch []models.AuditLog) {
	var err error
	if len(batch) == 1 {
		err = s.store.Create(ctx, &batch[0])
	} else {
		err = s.store.InsertMany(ctx, batch)
	}
	if err != nil {
		actions := make([]string, 0, len(batch))
		for i := range batch {
			actions = append(actions, string(batch[i].Action))
		}
		s.logger.Error("audit flush failed, batch dropped",
			zap.Int("entries", len(batch)),
			zap.Strings("actions", actions),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.AddAuditDropped(len(batch))
		}
		return
	}
	if s.metrics != nil {
		s.metrics.AddAuditFlushed(len(batch))
	}
}

// Shutdown drains the buffer synchronously. Entries recorded after Shutdown
// returns are dropped.
func (s *AuditService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.inflight.Wait()

	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(batch) > 0 {
		s.write(ctx, batch)
	}
}

// List returns audit entries matching the filter, newest first.
func (s *AuditService) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	entries, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to list audit entries")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	return entries, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ListByActor returns the newest entries for one actor.
func (s *AuditService) ListByActor(ctx context.Context, actor string, page, pageSize int) ([]models.AuditLog, *models.Pagination, error) {
	return s.List(ctx, models.AuditFilter{Actor: actor, Page: page, PageSize: pageSize})
}

// Trail returns every entry sharing a request ID, oldest first.
func (s *AuditService) Trail(ctx context.Context, requestID string) ([]models.AuditLog, error) {
	entries, err := s.store.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to load audit trail")
	}
	return entries, nil
}

// PurgeExpired deletes entries older than the retention window. Meant to be
// driven by the job scheduler.
func (s *AuditService) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.Retention)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to purge audit entries")
	}
	if deleted > 0 {
		s.logger.Info("purged expired audit entries",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

func (s *AuditService) normalize(entry *models.AuditLog) {
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
	if entry.Headers != nil {
		filtered := models.JSONMap{}
		for k, v := range entry.Headers {
			key := strings.ToLower(k)
			if _, ok := safeHeaders[key]; ok {
				filtered[key] = v
			}
		}
		entry.Headers = filtered
	}
}

func filterHeaders(c *gin.Context) models.JSONMap {
	headers := models.JSONMap{}
	for name := range safeHeaders {
		if v := c.GetHeader(name); v != "" {
			headers[name] = v
		}
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

func deviceFromUserAgent(ua string) string {
	if ua == "" {
		return ""
	}
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "bot") || strings.Contains(lower, "curl") || strings.Contains(lower, "wget"):
		return "bot"
	case strings.Contains(lower, "tablet") || strings.Contains(lower, "ipad"):
		return "tablet"
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "android") || strings.Contains(lower, "iphone"):
		return "mobile"
	default:
		return "desktop"
	}
}
