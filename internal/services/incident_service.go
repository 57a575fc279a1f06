package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/logger"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/metrics"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrIncidentNotOpen  = errors.New("incident is already resolved")
	ErrInvalidIncident  = errors.New("invalid incident")
	ErrMissingSourceIP  = errors.New("source ip is required")
)

const (
	// DefaultIncidentMaxAge is the age after which detected incidents auto-resolve.
	DefaultIncidentMaxAge = 72 * time.Hour

	defaultListLimit = 50
	maxListLimit     = 500
)

// IncidentFilter narrows List. Empty fields match everything.
type IncidentFilter struct {
	ClientID string                `form:"client_id" json:"client_id,omitempty"`
	Severity models.Severity       `form:"severity" json:"severity,omitempty"`
	Status   models.IncidentStatus `form:"status" json:"status,omitempty"`
}

// OpenIncidentQuery identifies the scope used to dedupe incidents. ClientID and
// ActorID match exactly; SourceIP is matched only when set.
type OpenIncidentQuery struct {
	PatternName string
	ClientID    string
	ActorID     string
	SourceIP    string
	Since       time.Time
}

// IncidentRecorder is the subset of the incident store used by detectors.
type IncidentRecorder interface {
	Create(ctx context.Context, inc *models.SecurityIncident) error
	FindOpen(ctx context.Context, q OpenIncidentQuery) (*models.SecurityIncident, error)
}

// IncidentNotifier is told about every newly opened incident.
type IncidentNotifier interface {
	Notify(inc models.SecurityIncident)
}

// IncidentService stores incidents and drives their status lifecycle.
type IncidentService struct {
	db       *gorm.DB
	notifier IncidentNotifier
	now      func() time.Time
}

// NewIncidentService returns an IncidentService using the provided DB. notifier may be nil.
func NewIncidentService(db *gorm.DB, notifier IncidentNotifier) *IncidentService {
	return &IncidentService{
		db:       db,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create validates inc, assigns its id and opens it as detected.
func (s *IncidentService) Create(ctx context.Context, inc *models.SecurityIncident) error {
	if err := validateIncident(inc); err != nil {
		return err
	}
	inc.ID = 0
	inc.IncidentID = newRecordID()
	inc.Kind = inc.Evidence.Kind
	inc.Status = models.StatusDetected
	inc.DetectedAt = s.now()
	inc.ResolvedAt = nil
	inc.ResolvedBy = ""

	if err := s.db.WithContext(ctx).Create(inc).Error; err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	metrics.IncIncidentOpened(inc.PatternName, string(inc.Severity))
	if s.notifier != nil {
		s.notifier.Notify(*inc)
	}
	return nil
}

func validateIncident(inc *models.SecurityIncident) error {
	if inc == nil {
		return ErrInvalidIncident
	}
	if inc.PatternName == "" {
		return fmt.Errorf("%w: missing pattern name", ErrInvalidIncident)
	}
	if !inc.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidIncident, inc.Severity)
	}
	if err := inc.Evidence.Validate(); err != nil {
		return err
	}
	switch inc.Evidence.Kind {
	case models.EvidencePatternThreshold:
		if inc.ClientID == "" {
			return ErrMissingClientID
		}
	case models.EvidenceSuspiciousSource:
		if inc.SourceIP == "" {
			return ErrMissingSourceIP
		}
	}
	return nil
}

// List returns incidents matching filter, newest first.
func (s *IncidentService) List(ctx context.Context, filter IncidentFilter, limit int) ([]models.SecurityIncident, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	q := s.db.WithContext(ctx).Order("detected_at desc, id desc").Limit(limit)
	if filter.ClientID != "" {
		q = q.Where("client_id = ?", filter.ClientID)
	}
	if filter.Severity != "" {
		q = q.Where("severity = ?", filter.Severity)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	var res []models.SecurityIncident
	if err := q.Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// Get returns the incident with the given public id.
func (s *IncidentService) Get(ctx context.Context, incidentID string) (*models.SecurityIncident, error) {
	var inc models.SecurityIncident
	if err := s.db.WithContext(ctx).Where("incident_id = ?", incidentID).First(&inc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIncidentNotFound
		}
		return nil, err
	}
	return &inc, nil
}

// FindOpen returns the newest detected incident in scope detected at or after
// q.Since, or nil when there is none.
func (s *IncidentService) FindOpen(ctx context.Context, q OpenIncidentQuery) (*models.SecurityIncident, error) {
	db := s.db.WithContext(ctx).
		Where("pattern_name = ? AND client_id = ? AND actor_id = ? AND status = ? AND detected_at >= ?",
			q.PatternName, q.ClientID, q.ActorID, models.StatusDetected, q.Since.UTC())
	if q.SourceIP != "" {
		db = db.Where("source_ip = ?", q.SourceIP)
	}
	var res []models.SecurityIncident
	if err := db.Order("detected_at desc").Limit(1).Find(&res).Error; err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	return &res[0], nil
}

// AutoResolve moves every detected incident at least maxAge old to
// auto_resolved. The status predicate lives in the UPDATE itself, so repeated
// or concurrent sweeps resolve each incident once.
func (s *IncidentService) AutoResolve(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = DefaultIncidentMaxAge
	}
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.SecurityIncident{}).
		Where("status = ? AND detected_at <= ?", models.StatusDetected, now.Add(-maxAge)).
		Updates(map[string]interface{}{
			"status":      models.StatusAutoResolved,
			"resolved_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("auto resolve incidents: %w", res.Error)
	}
	metrics.AddIncidentsResolved(string(models.StatusAutoResolved), res.RowsAffected)
	if res.RowsAffected > 0 {
		logger.Component("incidents").WithField("count", res.RowsAffected).Info("auto-resolved stale incidents")
	}
	return res.RowsAffected, nil
}

// Resolve marks a detected incident as manually resolved by operator.
func (s *IncidentService) Resolve(ctx context.Context, incidentID, operator string) (*models.SecurityIncident, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.SecurityIncident{}).
		Where("incident_id = ? AND status = ?", incidentID, models.StatusDetected).
		Updates(map[string]interface{}{
			"status":      models.StatusManuallyResolved,
			"resolved_at": now,
			"resolved_by": operator,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	inc, err := s.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return inc, ErrIncidentNotOpen
	}
	metrics.AddIncidentsResolved(string(models.StatusManuallyResolved), 1)
	return inc, nil
}
