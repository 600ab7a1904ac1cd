package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"backoffice/internal/model"
	"backoffice/internal/repository"
)

// Clock supplies the current time. Cash sessions and document numbers are derived from it.
type Clock interface {
	Now() time.Time
}

type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// EventPublisher pushes committed state changes to live listeners.
type EventPublisher interface {
	Publish(event string, data interface{})
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(string, interface{}) {}

// Event names
const (
	EventStockChanged       = "stock_changed"
	EventOrderStatusChanged = "order_status_changed"
	EventCashMovement       = "cash_movement"
	EventCashSession        = "cash_session_changed"
)

// writeAudit records an audit log in the transaction carried by ctx.
func writeAudit(ctx context.Context, repo repository.AuditRepository, action, entityID, entityName string, details interface{}) error {
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte("{}")
	}
	entry := &model.AuditLog{
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    string(payload),
	}
	if err := repo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
