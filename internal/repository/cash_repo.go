package repository

import (
	"context"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CashRepository interface {
	CreateSession(ctx context.Context, session *model.CashSession) error
	CreateSessionIfAbsent(ctx context.Context, session *model.CashSession) error
	SaveSession(ctx context.Context, session *model.CashSession) error
	FindSessionByDate(ctx context.Context, date string) (*model.CashSession, error)
	FindSessionByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.CashSession, error)
	FindSessionByDateForUpdate(ctx context.Context, date string) (*model.CashSession, error)
	FindOpenSessionsBefore(ctx context.Context, date string) ([]model.CashSession, error)
	CreateMovement(ctx context.Context, movement *model.CashMovement) error
	ListMovements(ctx context.Context, sessionID uuid.UUID, newestFirst bool) ([]model.CashMovement, error)
}

type cashRepository struct {
	db *gorm.DB
}

func NewCashRepository(db *gorm.DB) CashRepository {
	return &cashRepository{db: db}
}

func (r *cashRepository) CreateSession(ctx context.Context, session *model.CashSession) error {
	return GetDB(ctx, r.db).Create(session).Error
}

// CreateSessionIfAbsent inserts the session unless one already exists for its date.
func (r *cashRepository) CreateSessionIfAbsent(ctx context.Context, session *model.CashSession) error {
	return GetDB(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoNothing: true,
	}).Create(session).Error
}

func (r *cashRepository) SaveSession(ctx context.Context, session *model.CashSession) error {
	return GetDB(ctx, r.db).Model(session).
		Select("opening_amount", "closing_amount", "is_open", "closed_at").
		Updates(session).Error
}

func (r *cashRepository) FindSessionByDate(ctx context.Context, date string) (*model.CashSession, error) {
	var session model.CashSession
	if err := GetDB(ctx, r.db).Where("date = ?", date).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *cashRepository) FindSessionByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.CashSession, error) {
	var session model.CashSession
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *cashRepository) FindSessionByDateForUpdate(ctx context.Context, date string) (*model.CashSession, error) {
	var session model.CashSession
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("date = ?", date).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// FindOpenSessionsBefore lists sessions of earlier days that were never closed.
func (r *cashRepository) FindOpenSessionsBefore(ctx context.Context, date string) ([]model.CashSession, error) {
	var sessions []model.CashSession
	if err := GetDB(ctx, r.db).
		Where("is_open = ? AND date < ?", true, date).
		Order("date ASC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *cashRepository) CreateMovement(ctx context.Context, movement *model.CashMovement) error {
	return GetDB(ctx, r.db).Create(movement).Error
}

func (r *cashRepository) ListMovements(ctx context.Context, sessionID uuid.UUID, newestFirst bool) ([]model.CashMovement, error) {
	var movements []model.CashMovement
	order := "occurred_at ASC, created_at ASC"
	if newestFirst {
		order = "occurred_at DESC, created_at DESC"
	}
	if err := GetDB(ctx, r.db).Where("session_id = ?", sessionID).Order(order).Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}
