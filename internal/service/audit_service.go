package service

import (
	"context"

	"backoffice/internal/repository"
	"backoffice/pkg/pagination"
)

type AuditLogResponse struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Details    string `json:"details"`
	CreatedAt  string `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, page, limit int, action string) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	auditRepo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repository.AuditRepository) AuditService {
	return &auditService{auditRepo: auditRepo}
}

// GetAuditLogs returns one page of audit records, newest first, optionally filtered by action
func (s *auditService) GetAuditLogs(ctx context.Context, page, limit int, action string) ([]AuditLogResponse, int64, error) {
	p := pagination.Standard.Normalize(page, limit)
	logs, total, err := s.auditRepo.List(ctx, p.Page, p.Limit, action)
	if err != nil {
		return nil, 0, err
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		res = append(res, AuditLogResponse{
			ID:         l.ID.String(),
			Action:     l.Action,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			Details:    l.Details,
			CreatedAt:  l.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	return res, total, nil
}
