package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

type captureObserver struct {
	accept bool
	seen   []models.ActivityRecord
}

func (c *captureObserver) Enqueue(rec models.ActivityRecord) bool {
	c.seen = append(c.seen, rec)
	return c.accept
}

func TestActivityService_RecordValidates(t *testing.T) {
	svc := NewActivityService(setupGuardTestDB(t))
	ctx := context.Background()

	_, err := svc.Record(ctx, ActivityEvent{ActionType: "login"})
	assert.ErrorIs(t, err, ErrMissingClientID)

	_, err = svc.Record(ctx, ActivityEvent{ClientID: "c"})
	assert.ErrorIs(t, err, ErrMissingActionType)
}

func TestActivityService_RecordPersistsAndNotifies(t *testing.T) {
	svc := NewActivityService(setupGuardTestDB(t))
	clock := newFakeClock()
	svc.now = clock.Now
	obs := &captureObserver{accept: true}
	svc.SetObserver(obs)

	rec, err := svc.Record(context.Background(), ActivityEvent{
		ClientID:         "client-1",
		ActorID:          "user-1",
		ActionType:       "contact_created",
		RelatedEntityIDs: []string{"contact-9"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, clock.Now(), rec.OccurredAt)
	require.Len(t, obs.seen, 1)
	assert.Equal(t, rec.ID, obs.seen[0].ID)

	// A full queue does not fail the write.
	obs.accept = false
	_, err = svc.Record(context.Background(), ActivityEvent{ClientID: "client-1", ActionType: "login"})
	require.NoError(t, err)
}

func TestActivityService_KeepsReportedTimestamp(t *testing.T) {
	svc := NewActivityService(setupGuardTestDB(t))
	at := time.Date(2025, 2, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	rec, err := svc.Record(context.Background(), ActivityEvent{ClientID: "c", ActionType: "login", OccurredAt: at})
	require.NoError(t, err)
	assert.True(t, rec.OccurredAt.Equal(at))
	assert.Equal(t, time.UTC, rec.OccurredAt.Location())
}

func TestActivityService_CountMatching(t *testing.T) {
	svc := NewActivityService(setupGuardTestDB(t))
	clock := newFakeClock()
	svc.now = clock.Now
	ctx := context.Background()

	var first string
	for i := 0; i < 12; i++ {
		rec, err := svc.Record(ctx, ActivityEvent{ClientID: "c1", ActorID: "u1", ActionType: "contact_created"})
		require.NoError(t, err)
		if i == 0 {
			first = rec.ID
		}
		clock.Advance(time.Second)
	}
	_, err := svc.Record(ctx, ActivityEvent{ClientID: "c1", ActorID: "u2", ActionType: "contact_created"})
	require.NoError(t, err)
	_, err = svc.Record(ctx, ActivityEvent{ClientID: "c1", ActionType: "company_created"})
	require.NoError(t, err)
	_, err = svc.Record(ctx, ActivityEvent{ClientID: "c2", ActorID: "u1", ActionType: "contact_created"})
	require.NoError(t, err)

	q := ActivityQuery{
		ClientID:   "c1",
		ActorID:    "u1",
		ScopeActor: true,
		Actions:    []string{"contact_created", "company_created"},
		Since:      clock.Now().Add(-time.Hour),
	}
	n, samples, err := svc.CountMatching(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	require.Len(t, samples, DefaultSampleSize)
	assert.Equal(t, first, samples[0])

	q.ScopeActor = false
	n, _, err = svc.CountMatching(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(14), n)

	q.Since = clock.Now().Add(-3 * time.Second)
	n, _, err = svc.CountMatching(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	q.Actions = nil
	n, samples, err = svc.CountMatching(ctx, q)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, samples)
}
