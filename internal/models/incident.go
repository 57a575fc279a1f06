package models

import (
	"time"
)

// Severity ranks an incident.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Rank orders severities from 1 (low) to 4 (critical); unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// IncidentStatus is the lifecycle state of an incident. Detected is the only
// initial state; both resolved states are terminal.
type IncidentStatus string

const (
	StatusDetected         IncidentStatus = "detected"
	StatusAutoResolved     IncidentStatus = "auto_resolved"
	StatusManuallyResolved IncidentStatus = "manually_resolved"
)

// Valid reports whether s is a known status.
func (s IncidentStatus) Valid() bool {
	switch s {
	case StatusDetected, StatusAutoResolved, StatusManuallyResolved:
		return true
	}
	return false
}

// SecurityIncident records a breached anomaly pattern or a suspicious source.
// Incidents are never deleted.
type SecurityIncident struct {
	ID          uint           `json:"-" gorm:"primaryKey"`
	IncidentID  string         `json:"incident_id" gorm:"size:64;uniqueIndex"`
	PatternName string         `json:"pattern_name" gorm:"size:128;not null;index:idx_incident_open,priority:1"`
	Kind        EvidenceKind   `json:"kind" gorm:"size:64;not null"`
	Severity    Severity       `json:"severity" gorm:"size:16;not null;index"`
	ClientID    string         `json:"client_id,omitempty" gorm:"size:128;index:idx_incident_open,priority:2;index:idx_incident_client,priority:1"`
	ActorID     string         `json:"actor_id,omitempty" gorm:"size:128;index:idx_incident_open,priority:3"`
	SourceIP    string         `json:"source_ip,omitempty" gorm:"size:64;index"`
	Status      IncidentStatus `json:"status" gorm:"size:32;not null;index:idx_incident_status,priority:1"`
	DetectedAt  time.Time      `json:"detected_at" gorm:"not null;index:idx_incident_status,priority:2;index:idx_incident_client,priority:2"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy  string         `json:"resolved_by,omitempty" gorm:"size:128"`
	Evidence    Evidence       `json:"evidence" gorm:"serializer:json;type:text"`
}

// IsOpen reports whether the incident still awaits resolution.
func (i SecurityIncident) IsOpen() bool {
	return i.Status == StatusDetected
}
