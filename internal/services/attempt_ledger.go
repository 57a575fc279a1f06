package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

// AttemptStore is the append-only ledger of rate-limit checks.
type AttemptStore interface {
	// CountSince counts records for key with attempted_at >= since.
	CountSince(ctx context.Context, key models.AttemptKey, since time.Time) (int64, error)
	// Append stores one record. Records are never updated.
	Append(ctx context.Context, rec *models.AttemptRecord) error
	// IPStats returns total and denied checks from sourceIP since the given time, across all policies.
	IPStats(ctx context.Context, sourceIP string, since time.Time) (total, blocked int64, err error)
	// PruneBefore removes records older than cutoff and reports how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GormAttemptLedger stores attempt records in the attempt_records table.
type GormAttemptLedger struct {
	db *gorm.DB
}

// NewAttemptLedger returns a ledger backed by db.
func NewAttemptLedger(db *gorm.DB) *GormAttemptLedger {
	return &GormAttemptLedger{db: db}
}

func (l *GormAttemptLedger) CountSince(ctx context.Context, key models.AttemptKey, since time.Time) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).
		Model(&models.AttemptRecord{}).
		Where("policy_name = ? AND identifier = ? AND attempted_at >= ?", key.Policy, key.Identifier, since.UTC()).
		Count(&n).Error
	return n, err
}

func (l *GormAttemptLedger) Append(ctx context.Context, rec *models.AttemptRecord) error {
	rec.AttemptedAt = rec.AttemptedAt.UTC()
	return l.db.WithContext(ctx).Create(rec).Error
}

func (l *GormAttemptLedger) IPStats(ctx context.Context, sourceIP string, since time.Time) (int64, int64, error) {
	var row struct {
		Total   int64
		Blocked int64
	}
	err := l.db.WithContext(ctx).
		Model(&models.AttemptRecord{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN allowed = ? THEN 1 ELSE 0 END), 0) AS blocked", false).
		Where("source_ip = ? AND attempted_at >= ?", sourceIP, since.UTC()).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Total, row.Blocked, nil
}

func (l *GormAttemptLedger) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := l.db.WithContext(ctx).
		Where("attempted_at < ?", cutoff.UTC()).
		Delete(&models.AttemptRecord{})
	return res.RowsAffected, res.Error
}
