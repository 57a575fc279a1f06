package models

import (
	"errors"
	"fmt"
)

// EvidenceKind tags the variant held by Evidence.
type EvidenceKind string

const (
	EvidencePatternThreshold EvidenceKind = "pattern_threshold"
	EvidenceSuspiciousSource EvidenceKind = "suspicious_rate_limiting"
)

// ErrInvalidEvidence is returned when an evidence payload does not match its kind.
var ErrInvalidEvidence = errors.New("invalid incident evidence")

// PatternEvidence snapshots an activity pattern that crossed its threshold.
type PatternEvidence struct {
	Pattern         string   `json:"pattern"`
	Count           int64    `json:"count"`
	Threshold       int      `json:"threshold"`
	WindowSeconds   int64    `json:"window_seconds"`
	ActionTypes     []string `json:"action_types"`
	SampleRecordIDs []string `json:"sample_record_ids,omitempty"`
}

// SuspicionEvidence snapshots the allow/deny ratio of one source address.
type SuspicionEvidence struct {
	TotalAttempts   int64   `json:"total_attempts"`
	BlockedAttempts int64   `json:"blocked_attempts"`
	BlockRate       float64 `json:"block_rate"`
	WindowSeconds   int64   `json:"window_seconds"`
}

// Evidence is a tagged union; exactly the variant named by Kind is set.
type Evidence struct {
	Kind      EvidenceKind       `json:"kind"`
	Pattern   *PatternEvidence   `json:"pattern,omitempty"`
	Suspicion *SuspicionEvidence `json:"suspicion,omitempty"`
}

// NewPatternEvidence wraps a pattern snapshot.
func NewPatternEvidence(e PatternEvidence) Evidence {
	return Evidence{Kind: EvidencePatternThreshold, Pattern: &e}
}

// NewSuspicionEvidence wraps a suspicion snapshot.
func NewSuspicionEvidence(e SuspicionEvidence) Evidence {
	return Evidence{Kind: EvidenceSuspiciousSource, Suspicion: &e}
}

// Validate checks the structural invariants of the evidence variant.
func (e Evidence) Validate() error {
	switch e.Kind {
	case EvidencePatternThreshold:
		if e.Pattern == nil || e.Suspicion != nil {
			return fmt.Errorf("%w: %s requires only a pattern payload", ErrInvalidEvidence, e.Kind)
		}
		p := e.Pattern
		if p.Pattern == "" {
			return fmt.Errorf("%w: missing pattern name", ErrInvalidEvidence)
		}
		if p.Threshold <= 0 || p.WindowSeconds <= 0 {
			return fmt.Errorf("%w: threshold and window must be positive", ErrInvalidEvidence)
		}
		if p.Count < int64(p.Threshold) {
			return fmt.Errorf("%w: count %d below threshold %d", ErrInvalidEvidence, p.Count, p.Threshold)
		}
	case EvidenceSuspiciousSource:
		if e.Suspicion == nil || e.Pattern != nil {
			return fmt.Errorf("%w: %s requires only a suspicion payload", ErrInvalidEvidence, e.Kind)
		}
		s := e.Suspicion
		if s.TotalAttempts <= 0 || s.BlockedAttempts < 0 || s.BlockedAttempts > s.TotalAttempts {
			return fmt.Errorf("%w: inconsistent attempt counts", ErrInvalidEvidence)
		}
		if s.BlockRate < 0 || s.BlockRate > 1 {
			return fmt.Errorf("%w: block rate out of range", ErrInvalidEvidence)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvidence, e.Kind)
	}
	return nil
}
