package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/config"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

type memoryLedger struct {
	mu      sync.Mutex
	records []models.AttemptRecord
}

func (m *memoryLedger) CountSince(_ context.Context, key models.AttemptKey, since time.Time) (int64, error) {
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

func (m *memoryLedger) Append(_ context.Context, rec *models.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memoryLedger) IPStats(context.Context, string, time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (m *memoryLedger) PruneBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func mustPolicies(t *testing.T) config.Policies {
	t.Helper()
	p, err := config.NewPolicies([]config.RateLimitPolicy{{Name: "api_general", Limit: 2, Window: time.Minute}})
	require.NoError(t, err)
	return p
}
