package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

type stubResolver struct {
	resolved int64
	err      error
	calls    int
}

func (s *stubResolver) AutoResolve(context.Context, time.Duration) (int64, error) {
	s.calls++
	return s.resolved, s.err
}

func TestSweepService_PrunesAndResolves(t *testing.T) {
	db := setupGuardTestDB(t)
	clock := newFakeClock()
	ledger := NewAttemptLedger(db)
	incidents := NewIncidentService(db, nil)
	incidents.now = clock.Now

	ctx := context.Background()
	now := clock.Now()
	for _, age := range []time.Duration{30 * time.Hour, 25 * time.Hour, time.Hour} {
		require.NoError(t, ledger.Append(ctx, &models.AttemptRecord{
			PolicyName: "login", Identifier: "u", AttemptedAt: now.Add(-age), Allowed: true,
		}))
	}
	require.NoError(t, incidents.Create(ctx, patternIncident("c", models.SeverityMedium)))
	clock.Advance(73 * time.Hour)

	sweep := NewSweepService(ledger, incidents, 24*time.Hour, 72*time.Hour)
	sweep.now = func() time.Time { return now }

	res, err := sweep.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.PrunedAttempts)
	assert.Equal(t, int64(1), res.ResolvedIncidents)

	n, err := ledger.CountSince(ctx, models.AttemptKey{Policy: "login", Identifier: "u"}, now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	res, err = sweep.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.PrunedAttempts)
	assert.Zero(t, res.ResolvedIncidents)
}

func TestSweepService_StepsFailIndependently(t *testing.T) {
	resolver := &stubResolver{resolved: 3}
	sweep := NewSweepService(&failingAttemptStore{pruneErr: errStoreDown}, resolver, 0, 0)

	res, err := sweep.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, int64(3), res.ResolvedIncidents)

	resolveErr := errors.New("incidents unavailable")
	resolver = &stubResolver{err: resolveErr}
	sweep = NewSweepService(&failingAttemptStore{pruneErr: errStoreDown}, resolver, 0, 0)
	_, err = sweep.Run(context.Background())
	assert.ErrorIs(t, err, errStoreDown)
	assert.ErrorIs(t, err, resolveErr)
}

func TestSweepService_DefaultsAndSchedule(t *testing.T) {
	sweep := NewSweepService(&memoryAttemptStore{}, &stubResolver{}, 0, 0)
	assert.Equal(t, DefaultAttemptRetention, sweep.retention)
	assert.Equal(t, DefaultIncidentMaxAge, sweep.maxAge)

	_, err := sweep.Schedule("not a cron spec", time.Second)
	assert.Error(t, err)

	c, err := sweep.Schedule("@every 1h", time.Second)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Len(t, c.Entries(), 1)
	<-c.Stop().Done()
}
