package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/logger"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/metrics"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

// SuspicionPatternName names incidents raised by the suspicion scorer.
const SuspicionPatternName = "suspicious_rate_limiting"

// DefaultSuspicionLookback is used when Score receives a non-positive lookback.
const DefaultSuspicionLookback = time.Hour

const (
	suspiciousTotalAttempts   = 500
	suspiciousBlockRate       = 0.5
	suspiciousBlockedAttempts = 50
	suspiciousElevatedRate    = 0.3
)

// SuspicionScore summarises the rate-limit history of one source address.
type SuspicionScore struct {
	SourceIP        string        `json:"source_ip"`
	IsSuspicious    bool          `json:"is_suspicious"`
	TotalAttempts   int64         `json:"total_attempts"`
	BlockedAttempts int64         `json:"blocked_attempts"`
	BlockRate       float64       `json:"block_rate"`
	Lookback        time.Duration `json:"lookback"`
	Reasons         []string      `json:"reasons,omitempty"`
	IncidentID      string        `json:"incident_id,omitempty"`
}

// SuspicionScorer derives a per-IP risk signal from the attempt ledger.
type SuspicionScorer struct {
	attempts  AttemptStore
	incidents IncidentRecorder
	timeout   time.Duration
	now       func() time.Time
}

// NewSuspicionScorer returns a scorer reading attempts and opening incidents.
func NewSuspicionScorer(attempts AttemptStore, incidents IncidentRecorder, timeout time.Duration) *SuspicionScorer {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &SuspicionScorer{
		attempts:  attempts,
		incidents: incidents,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Score evaluates sourceIP over lookback. On storage errors the address is
// reported as not suspicious.
func (s *SuspicionScorer) Score(ctx context.Context, sourceIP string, lookback time.Duration) SuspicionScore {
	if lookback <= 0 {
		lookback = DefaultSuspicionLookback
	}
	score := SuspicionScore{SourceIP: sourceIP, Lookback: lookback}
	if sourceIP == "" {
		return score
	}
	log := logger.Component("suspicion").WithField("source_ip", sourceIP)
	now := s.now()
	since := now.Add(-lookback)

	total, blocked, err := s.ipStats(ctx, sourceIP, since)
	if err != nil {
		metrics.IncSuspicionScore("error")
		log.WithError(err).Warn("attempt ledger unavailable, treating source as not suspicious")
		return score
	}
	score.TotalAttempts = total
	score.BlockedAttempts = blocked
	if total > 0 {
		score.BlockRate = float64(blocked) / float64(total)
	}
	score.Reasons = suspicionReasons(score)
	score.IsSuspicious = len(score.Reasons) > 0
	if !score.IsSuspicious {
		metrics.IncSuspicionScore("clean")
		return score
	}
	metrics.IncSuspicionScore("suspicious")

	log = log.WithFields(logrus.Fields{
		"total_attempts":   total,
		"blocked_attempts": blocked,
		"block_rate":       score.BlockRate,
		"reasons":          score.Reasons,
	})
	score.IncidentID = s.raise(ctx, log, score, since)
	return score
}

func suspicionReasons(s SuspicionScore) []string {
	var reasons []string
	if s.TotalAttempts > suspiciousTotalAttempts {
		reasons = append(reasons, "high_volume")
	}
	if s.BlockRate > suspiciousBlockRate {
		reasons = append(reasons, "high_block_rate")
	}
	if s.BlockedAttempts > suspiciousBlockedAttempts && s.BlockRate > suspiciousElevatedRate {
		reasons = append(reasons, "sustained_blocking")
	}
	return reasons
}

// raise opens a suspicion incident unless one is already open for the
// address within the lookback, and returns the relevant incident id.
func (s *SuspicionScorer) raise(ctx context.Context, log *logrus.Entry, score SuspicionScore, since time.Time) string {
	if s.incidents == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	open, err := s.incidents.FindOpen(ctx, OpenIncidentQuery{
		PatternName: SuspicionPatternName,
		SourceIP:    score.SourceIP,
		Since:       since,
	})
	if err != nil {
		log.WithError(err).Warn("open incident lookup failed, not raising suspicion incident")
		return ""
	}
	if open != nil {
		return open.IncidentID
	}

	inc := models.SecurityIncident{
		PatternName: SuspicionPatternName,
		Severity:    models.SeverityMedium,
		SourceIP:    score.SourceIP,
		Evidence: models.NewSuspicionEvidence(models.SuspicionEvidence{
			TotalAttempts:   score.TotalAttempts,
			BlockedAttempts: score.BlockedAttempts,
			BlockRate:       score.BlockRate,
			WindowSeconds:   int64(score.Lookback / time.Second),
		}),
	}
	if err := s.incidents.Create(ctx, &inc); err != nil {
		log.WithError(err).Warn("failed to open suspicion incident")
		return ""
	}
	log.WithField("incident_id", inc.IncidentID).Warn("suspicious rate limiting activity")
	return inc.IncidentID
}

func (s *SuspicionScorer) ipStats(ctx context.Context, ip string, since time.Time) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.attempts.IPStats(ctx, ip, since)
}
