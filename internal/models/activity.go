package models

import (
	"time"
)

// ActivityRecord mirrors one entry of the CRM action log. The log is owned by
// the CRM; rows here are written once and never mutated.
type ActivityRecord struct {
	ID               string    `json:"id" gorm:"primaryKey;size:64"`
	ClientID         string    `json:"client_id" gorm:"size:128;not null;index:idx_activity_scope,priority:1"`
	ActorID          string    `json:"actor_id,omitempty" gorm:"size:128;index:idx_activity_scope,priority:2"`
	ActionType       string    `json:"action_type" gorm:"size:128;not null;index:idx_activity_scope,priority:3"`
	OccurredAt       time.Time `json:"occurred_at" gorm:"not null;index:idx_activity_scope,priority:4"`
	RelatedEntityIDs []string  `json:"related_entity_ids,omitempty" gorm:"serializer:json;type:text"`
}
