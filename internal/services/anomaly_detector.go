package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/config"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/logger"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/metrics"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

// AnomalyDetector evaluates behavioral patterns whenever an activity is logged.
// It is best-effort: every failure is logged and swallowed.
type AnomalyDetector struct {
	activity  ActivityCounter
	attempts  AttemptStore
	incidents IncidentRecorder
	patterns  config.Patterns
	timeout   time.Duration
	now       func() time.Time
}

// NewAnomalyDetector wires the detector to its stores. attempts may be nil
// when no pattern reads the ledger.
func NewAnomalyDetector(activity ActivityCounter, attempts AttemptStore, incidents IncidentRecorder, patterns config.Patterns, timeout time.Duration) *AnomalyDetector {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &AnomalyDetector{
		activity:  activity,
		attempts:  attempts,
		incidents: incidents,
		patterns:  patterns,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Patterns returns the configured pattern set.
func (d *AnomalyDetector) Patterns() config.Patterns {
	return d.patterns
}

// Handle adapts Evaluate to the dispatcher.
func (d *AnomalyDetector) Handle(ctx context.Context, rec models.ActivityRecord) {
	d.Evaluate(ctx, rec)
}

// Evaluate checks every pattern triggered by rec's action type and returns the
// incidents it opened.
func (d *AnomalyDetector) Evaluate(ctx context.Context, rec models.ActivityRecord) (opened []models.SecurityIncident) {
	log := logger.Component("detector").WithFields(logrus.Fields{
		"client_id":   rec.ClientID,
		"actor_id":    rec.ActorID,
		"action_type": rec.ActionType,
	})
	defer func() {
		if r := recover(); r != nil {
			metrics.IncDetectorError("panic")
			log.WithError(fmt.Errorf("%v", r)).Error("anomaly evaluation panicked")
		}
	}()

	if rec.ClientID == "" {
		log.Debug("activity without client id, skipping anomaly evaluation")
		return nil
	}
	now := d.now()
	for _, p := range d.patterns.ForAction(rec.ActionType) {
		if inc, ok := d.evaluatePattern(ctx, log, p, rec.ClientID, rec.ActorID, now); ok {
			opened = append(opened, inc)
		}
	}
	return opened
}

// EvaluateAll re-checks every configured pattern for a client/actor scope.
func (d *AnomalyDetector) EvaluateAll(ctx context.Context, clientID, actorID string) []models.SecurityIncident {
	if clientID == "" {
		return nil
	}
	log := logger.Component("detector").WithFields(logrus.Fields{
		"client_id": clientID,
		"actor_id":  actorID,
		"rescan":    true,
	})
	now := d.now()
	var opened []models.SecurityIncident
	for _, p := range d.patterns.List() {
		if inc, ok := d.evaluatePattern(ctx, log, p, clientID, actorID, now); ok {
			opened = append(opened, inc)
		}
	}
	return opened
}

func (d *AnomalyDetector) evaluatePattern(ctx context.Context, log *logrus.Entry, p config.PatternDefinition, clientID, actorID string, now time.Time) (models.SecurityIncident, bool) {
	log = log.WithField("pattern", p.Name)
	if !p.PerActor {
		actorID = ""
	}
	since := now.Add(-p.Window)

	count, samples, err := d.count(ctx, p, clientID, actorID, since)
	if err != nil {
		metrics.IncDetectorError("count")
		log.WithError(err).Warn("pattern count failed, skipping")
		return models.SecurityIncident{}, false
	}
	if count < int64(p.Threshold) {
		return models.SecurityIncident{}, false
	}

	open, err := d.findOpen(ctx, OpenIncidentQuery{
		PatternName: p.Name,
		ClientID:    clientID,
		ActorID:     actorID,
		Since:       since,
	})
	if err != nil {
		metrics.IncDetectorError("dedupe")
		log.WithError(err).Warn("open incident lookup failed, skipping")
		return models.SecurityIncident{}, false
	}
	if open != nil {
		log.WithField("incident_id", open.IncidentID).Debug("pattern already has an open incident")
		return models.SecurityIncident{}, false
	}

	inc := models.SecurityIncident{
		PatternName: p.Name,
		Severity:    p.Severity,
		ClientID:    clientID,
		ActorID:     actorID,
		Evidence: models.NewPatternEvidence(models.PatternEvidence{
			Pattern:         p.Name,
			Count:           count,
			Threshold:       p.Threshold,
			WindowSeconds:   int64(p.Window / time.Second),
			ActionTypes:     p.Actions,
			SampleRecordIDs: samples,
		}),
	}
	if err := d.create(ctx, &inc); err != nil {
		metrics.IncDetectorError("create")
		log.WithError(err).Warn("failed to open incident")
		return models.SecurityIncident{}, false
	}
	log.WithFields(logrus.Fields{
		"incident_id": inc.IncidentID,
		"severity":    inc.Severity,
		"count":       count,
		"threshold":   p.Threshold,
	}).Warn("anomaly pattern threshold breached")
	return inc, true
}

func (d *AnomalyDetector) count(ctx context.Context, p config.PatternDefinition, clientID, actorID string, since time.Time) (int64, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if p.Source == config.SourceLedger {
		if d.attempts == nil {
			return 0, nil, fmt.Errorf("pattern %s reads the attempt ledger but none is configured", p.Name)
		}
		identifier := clientID
		if p.PerActor && actorID != "" {
			identifier = actorID
		}
		n, err := d.attempts.CountSince(ctx, models.AttemptKey{Policy: p.LedgerPolicy, Identifier: identifier}, since)
		return n, nil, err
	}
	return d.activity.CountMatching(ctx, ActivityQuery{
		ClientID:    clientID,
		ActorID:     actorID,
		ScopeActor:  p.PerActor,
		Actions:     p.Actions,
		Since:       since,
		SampleLimit: DefaultSampleSize,
	})
}

func (d *AnomalyDetector) findOpen(ctx context.Context, q OpenIncidentQuery) (*models.SecurityIncident, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.incidents.FindOpen(ctx, q)
}

func (d *AnomalyDetector) create(ctx context.Context, inc *models.SecurityIncident) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.incidents.Create(ctx, inc)
}
