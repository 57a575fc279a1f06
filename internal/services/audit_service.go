package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

// AuditService stores the operator audit trail.
type AuditService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// LogAudit stores an audit entry
func (s *AuditService) LogAudit(ctx context.Context, a *models.SecurityAudit) error {
	if a == nil {
		return nil
	}
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	return s.db.WithContext(ctx).Create(a).Error
}

// ListAudit returns recent entries, newest first, optionally for one actor.
func (s *AuditService) ListAudit(ctx context.Context, actor string, limit int) ([]models.SecurityAudit, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	q := s.db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit)
	if actor != "" {
		q = q.Where("actor = ?", actor)
	}
	var res []models.SecurityAudit
	if err := q.Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}
