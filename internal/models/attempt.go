package models

import (
	"time"
)

// AttemptKey identifies one rate-limit counter. Policy and identifier are kept
// as separate columns so neither can smuggle a delimiter into the other.
type AttemptKey struct {
	Policy     string `json:"policy"`
	Identifier string `json:"identifier"`
}

// String renders the key for logs only; it is never used as a storage key.
func (k AttemptKey) String() string {
	return k.Policy + "/" + k.Identifier
}

// AttemptRecord is one rate-limit check. Rows are append-only and removed only
// by the retention sweep.
type AttemptRecord struct {
	ID          uint              `json:"id" gorm:"primaryKey"`
	PolicyName  string            `json:"policy_name" gorm:"size:128;not null;index:idx_attempt_key,priority:1"`
	Identifier  string            `json:"identifier" gorm:"size:512;not null;index:idx_attempt_key,priority:2"`
	AttemptedAt time.Time         `json:"attempted_at" gorm:"not null;index:idx_attempt_key,priority:3;index:idx_attempt_ip,priority:2;index"`
	Allowed     bool              `json:"allowed"`
	SourceIP    string            `json:"source_ip,omitempty" gorm:"size:64;index:idx_attempt_ip,priority:1"`
	UserAgent   string            `json:"user_agent,omitempty" gorm:"type:text"`
	Metadata    map[string]string `json:"metadata,omitempty" gorm:"serializer:json;type:text"`
}

// Key returns the composite counter key of the record.
func (a AttemptRecord) Key() AttemptKey {
	return AttemptKey{Policy: a.PolicyName, Identifier: a.Identifier}
}
