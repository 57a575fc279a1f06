package models

import (
	"time"
)

// Audited operator actions.
const (
	AuditIncidentResolved = "incident_resolved"
	AuditIncidentsRescan  = "incidents_rescanned"
	AuditSweepRun         = "sweep_run"
)

// SecurityAudit records an operator action taken through the API.
type SecurityAudit struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UUID      string    `json:"uuid" gorm:"size:64;uniqueIndex"`
	Actor     string    `json:"actor" gorm:"size:128;index"`
	Action    string    `json:"action" gorm:"size:64;index"`
	Target    string    `json:"target,omitempty" gorm:"size:128"`
	Details   string    `json:"details,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}
