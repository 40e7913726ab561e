package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mdraihan27/maildoor/internal/models"
)

type fakeAuditStore struct {
	mu      sync.Mutex
	singles []models.AuditLog
	batches [][]models.AuditLog
	fail    bool

	entries []models.AuditLog
	deleted int64
	cutoff  time.Time
}

func (f *fakeAuditStore) Create(_ context.Context, entry *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store down")
	}
	f.singles = append(f.singles, *entry)
	return nil
}

func (f *fakeAuditStore) InsertMany(_ context.Context, entries []models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store down")
	}
	batch := make([]models.AuditLog, len(entries))
	copy(batch, entries)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeAuditStore) List(_ context.Context, _ models.AuditFilter) ([]models.AuditLog, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries, len(f.entries), nil
}

func (f *fakeAuditStore) FindByRequestID(_ context.Context, _ string) ([]models.AuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries, nil
}

func (f *fakeAuditStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = cutoff
	return f.deleted, nil
}

func (f *fakeAuditStore) written() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.singles)
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func (f *fakeAuditStore) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func newTestAuditService(store *fakeAuditStore, cfg AuditConfig) *AuditService {
	return NewAuditService(store, cfg, nil, zap.NewNop())
}

func TestAuditLogFlushesAtThreshold(t *testing.T) {
	store := &fakeAuditStore{}
	svc := newTestAuditService(store, AuditConfig{BufferMaxSize: 3, FlushInterval: time.Hour})

	for i := 0; i < 3; i++ {
		svc.Log(models.AuditLog{Action: models.AuditActionKeyUsed})
	}

	require.Eventually(t, func() bool { return store.written() == 3 },
		time.Second, 10*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.batches, 1)
	assert.Empty(t, store.singles)
}

func TestAuditLogTimerFlush(t *testing.T) {
	store := &fakeAuditStore{}
	svc := newTestAuditService(store, AuditConfig{BufferMaxSize: 50, FlushInterval: 30 * time.Millisecond})

	svc.Log(models.AuditLog{Action: models.AuditActionKeyCreated})
	svc.Log(models.AuditLog{Action: models.AuditActionKeyRevoked})

	assert.Zero(t, store.written())
	require.Eventually(t, func() bool { return store.written() == 2 },
		time.Second, 10*time.Millisecond)
}

func TestAuditSingleEntryUsesCreate(t *testing.T) {
	store := &fakeAuditStore{}
	svc := newTestAuditService(store, AuditConfig{BufferMaxSize: 50, FlushInterval: 20 * time.Millisecond})

	svc.Log(models.AuditLog{Action: models.AuditActionLogout})

	require.Eventually(t, func() bool { return store.written() == 1 },
		time.Second, 10*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.singles, 1)
	assert.Empty(t, store.batches)
}

func TestAuditFlushFailureDropsBatch(t *testing.T) {
	store := &fakeAuditStore{}
	store.setFail(true)
	svc := newTestAuditService(store, AuditConfig{BufferMaxSize: 2, FlushInterval: time.Hour})

	svc.Log(models.AuditLog{Action: models.AuditActionKeyUsed})
	svc.Log(models.AuditLog{Action: models.AuditActionKeyUsed})

	// Wait for the failed flush to complete, then recover the store. The
	// dropped batch must not be retried.
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return !svc.flushing && len(svc.buffer) == 0
	}, time.Second, 10*time.Millisecond)
	store.setFail(false)

	svc.Log(models.AuditLog{Action: models.AuditActionKeyCreated})
	svc.Log(models.AuditLog{Action: models.AuditActionKeyRevoked})

	require.Eventually(t, func() bool { return store.written() == 2 },
		time.Second, 10*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.batches, 1)
	assert.Equal(t, models.AuditActionKeyCreated, store.batches[0][0].Action)
}

func TestAuditRejectsUnknownAction(t *testing.T) {
	store := &fakeAuditStore{}
	svc := newTestAuditService(store, AuditConfig{BufferMaxSize: 1, FlushInterval: time.Hour})

	svc.Log(models.AuditLog{Action: "SOMETHING_ELSE"})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, store.written())
}

func TestAuditShutdownDrainsBuffer(t *testing.T) {
	store := &fakeAuditStore{}
	svc := newTestAuditService(store, AuditConfig{BufferMaxSize: 50, FlushInterval: time.Hour})

	svc.Log(models.AuditLog{Action: models.AuditActionKeyUsed})
	svc.Log(models.AuditLog{Action: models.AuditActionKeyUsed})
	svc.Shutdown(context.Background())

	assert.Equal(t, 2, store.written())

	// Entries after shutdown are dropped.
	svc.Log(models.AuditLog{Action: models.AuditActionKeyUsed})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, store.written())
}

func TestAuditLateTimerAfterShutdownStartsNoFlush(t *testing.T) {
	store := &fakeAuditStore{}
	svc := newTestAuditService(store, AuditConfig{BufferMaxSize: 50, FlushInterval: time.Hour})

	svc.Log(models.AuditLog{Action: models.AuditActionKeyUsed})
	svc.Shutdown(context.Background())
	require.Equal(t, 1, store.written())

	// A timer callback that lost the race with Shutdown fires against a
	// closed service. It must not kick off a flush nobody will wait for.
	svc.mu.Lock()
	svc.buffer = append(svc.buffer, models.AuditLog{Action: models.AuditActionKeyUsed})
	svc.mu.Unlock()
	svc.onTimer()

	svc.mu.Lock()
	flushing := svc.flushing
	svc.mu.Unlock()
	assert.False(t, flushing)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, store.written())
}

func TestAuditNormalizeFillsDefaults(t *testing.T) {
	store := &fakeAuditStore{}
	svc := newTestAuditService(store, AuditConfig{BufferMaxSize: 1, FlushInterval: time.Hour})

	svc.Log(models.AuditLog{Action: models.AuditActionUserSuspended})

	require.Eventually(t, func() bool { return store.written() == 1 },
		time.Second, 10*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	entry := store.singles[0]
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.Equal(t, models.AuditCategoryUser, entry.Category)
	assert.Equal(t, models.AuditSeverityInfo, entry.Severity)
}

func TestAuditHeaderFiltering(t *testing.T) {
	store := &fakeAuditStore{}
	svc := newTestAuditService(store, AuditConfig{BufferMaxSize: 1, FlushInterval: time.Hour})

	svc.Log(models.AuditLog{
		Action: models.AuditActionKeyUsed,
		Headers: models.JSONMap{
			"User-Agent":    "curl/8.0",
			"Cookie":        "session=secret",
			"Authorization": "Bearer abc",
		},
	})

	require.Eventually(t, func() bool { return store.written() == 1 },
		time.Second, 10*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	headers := store.singles[0].Headers
	assert.Equal(t, "curl/8.0", headers["user-agent"])
	assert.NotContains(t, headers, "cookie")
	assert.NotContains(t, headers, "authorization")
	assert.NotContains(t, headers, "Cookie")
}

func TestAuditPurgeExpiredUsesRetentionCutoff(t *testing.T) {
	store := &fakeAuditStore{deleted: 7}
	svc := newTestAuditService(store, AuditConfig{Retention: 90 * 24 * time.Hour})

	deleted, err := svc.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)

	store.mu.Lock()
	defer store.mu.Unlock()
	expected := time.Now().UTC().Add(-90 * 24 * time.Hour)
	assert.WithinDuration(t, expected, store.cutoff, time.Minute)
}
