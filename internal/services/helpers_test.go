package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/database"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

var errStoreDown = errors.New("store unavailable")

func setupGuardTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// failingAttemptStore returns the configured error from each method.
type failingAttemptStore struct {
	countErr  error
	appendErr error
	statsErr  error
	pruneErr  error
	appended  int
	last      *models.AttemptRecord
}

func (f *failingAttemptStore) CountSince(context.Context, models.AttemptKey, time.Time) (int64, error) {
	return 0, f.countErr
}

func (f *failingAttemptStore) Append(_ context.Context, rec *models.AttemptRecord) error {
	f.appended++
	f.last = rec
	return f.appendErr
}

func (f *failingAttemptStore) IPStats(context.Context, string, time.Time) (int64, int64, error) {
	return 0, 0, f.statsErr
}

func (f *failingAttemptStore) PruneBefore(context.Context, time.Time) (int64, error) {
	return 0, f.pruneErr
}

// memoryAttemptStore is a goroutine-safe in-process ledger.
type memoryAttemptStore struct {
	mu      sync.Mutex
	records []models.AttemptRecord
}

func (m *memoryAttemptStore) CountSince(_ context.Context, key models.AttemptKey, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if r.Key() == key && !r.AttemptedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memoryAttemptStore) Append(_ context.Context, rec *models.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memoryAttemptStore) IPStats(_ context.Context, ip string, since time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total, blocked int64
	for _, r := range m.records {
		if r.SourceIP == ip && !r.AttemptedAt.Before(since) {
			total++
			if !r.Allowed {
				blocked++
			}
		}
	}
	return total, blocked, nil
}

func (m *memoryAttemptStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var pruned int64
	for _, r := range m.records {
		if r.AttemptedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return pruned, nil
}

// failingIncidentStore fails lookups or creates on demand and records creates otherwise.
type failingIncidentStore struct {
	findErr   error
	createErr error
	created   []models.SecurityIncident
}

func (f *failingIncidentStore) Create(_ context.Context, inc *models.SecurityIncident) error {
	if f.createErr != nil {
		return f.createErr
	}
	inc.IncidentID = fmt.Sprintf("inc-%d", len(f.created)+1)
	inc.Status = models.StatusDetected
	f.created = append(f.created, *inc)
	return nil
}

func (f *failingIncidentStore) FindOpen(context.Context, OpenIncidentQuery) (*models.SecurityIncident, error) {
	return nil, f.findErr
}
