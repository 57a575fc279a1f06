package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

func TestAuditService_LogAndList(t *testing.T) {
	svc := NewAuditService(setupGuardTestDB(t))
	clock := newFakeClock()
	svc.now = clock.Now
	ctx := context.Background()

	require.NoError(t, svc.LogAudit(ctx, nil))

	first := &models.SecurityAudit{Actor: "alice", Action: models.AuditSweepRun}
	require.NoError(t, svc.LogAudit(ctx, first))
	assert.NotEmpty(t, first.UUID)
	assert.Equal(t, clock.Now(), first.CreatedAt)

	clock.Advance(time.Minute)
	require.NoError(t, svc.LogAudit(ctx, &models.SecurityAudit{Actor: "bob", Action: models.AuditIncidentResolved, Target: "inc-1"}))
	clock.Advance(time.Minute)
	require.NoError(t, svc.LogAudit(ctx, &models.SecurityAudit{Actor: "alice", Action: models.AuditIncidentsRescan, Target: "client-1"}))

	all, err := svc.ListAudit(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.AuditIncidentsRescan, all[0].Action)

	alice, err := svc.ListAudit(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	one, err := svc.ListAudit(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}
