package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/logger"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

var (
	ErrMissingClientID   = errors.New("client id is required")
	ErrMissingActionType = errors.New("action type is required")
)

// DefaultSampleSize caps the record ids copied into pattern evidence.
const DefaultSampleSize = 10

// ActivityEvent is a business action reported by the CRM.
type ActivityEvent struct {
	ClientID         string    `json:"client_id" binding:"required"`
	ActorID          string    `json:"actor_id,omitempty"`
	ActionType       string    `json:"action_type" binding:"required"`
	OccurredAt       time.Time `json:"occurred_at,omitempty"`
	RelatedEntityIDs []string  `json:"related_entity_ids,omitempty"`
}

// ActivityQuery selects activity records for pattern counting. When ScopeActor
// is set, ActorID is matched exactly (an empty ActorID selects client-level rows).
type ActivityQuery struct {
	ClientID    string
	ActorID     string
	ScopeActor  bool
	Actions     []string
	Since       time.Time
	SampleLimit int
}

// ActivityCounter answers pattern-count queries over the activity stream.
type ActivityCounter interface {
	CountMatching(ctx context.Context, q ActivityQuery) (int64, []string, error)
}

// ActivityObserver receives every recorded activity without blocking the writer.
type ActivityObserver interface {
	Enqueue(rec models.ActivityRecord) bool
}

// ActivityService mirrors the CRM action log and fans records out to the detector.
type ActivityService struct {
	db       *gorm.DB
	observer ActivityObserver
	now      func() time.Time
}

// NewActivityService returns an ActivityService using the provided DB.
func NewActivityService(db *gorm.DB) *ActivityService {
	return &ActivityService{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetObserver attaches the detector dispatch queue.
func (s *ActivityService) SetObserver(o ActivityObserver) {
	s.observer = o
}

// Record persists ev and hands it to the observer. Persistence errors are
// returned; anything downstream of the observer is not.
func (s *ActivityService) Record(ctx context.Context, ev ActivityEvent) (*models.ActivityRecord, error) {
	if ev.ClientID == "" {
		return nil, ErrMissingClientID
	}
	if ev.ActionType == "" {
		return nil, ErrMissingActionType
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}

	rec := &models.ActivityRecord{
		ID:               newRecordID(),
		ClientID:         ev.ClientID,
		ActorID:          ev.ActorID,
		ActionType:       ev.ActionType,
		OccurredAt:       occurred.UTC(),
		RelatedEntityIDs: ev.RelatedEntityIDs,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}

	if s.observer != nil && !s.observer.Enqueue(*rec) {
		logger.Component("activity").WithField("client_id", rec.ClientID).
			WithField("action_type", rec.ActionType).
			Warn("detector queue full, activity not evaluated")
	}
	return rec, nil
}

// CountMatching counts records selected by q and returns up to SampleLimit of
// the earliest matching ids.
func (s *ActivityService) CountMatching(ctx context.Context, q ActivityQuery) (int64, []string, error) {
	if len(q.Actions) == 0 {
		return 0, nil, nil
	}
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("client_id = ? AND action_type IN ? AND occurred_at >= ?", q.ClientID, q.Actions, q.Since.UTC())
		if q.ScopeActor {
			db = db.Where("actor_id = ?", q.ActorID)
		}
		return db
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.ActivityRecord{}).Scopes(scope).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	limit := q.SampleLimit
	if limit <= 0 {
		limit = DefaultSampleSize
	}
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.ActivityRecord{}).Scopes(scope).
		Order("occurred_at asc, id asc").Limit(limit).Pluck("id", &ids).Error; err != nil {
		return 0, nil, err
	}
	return count, ids, nil
}

// newRecordID returns a time-ordered UUIDv7, falling back to a random v4.
func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
