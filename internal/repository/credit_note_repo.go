package repository

import (
	"context"
	"time"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CreditNoteRepository interface {
	Create(ctx context.Context, note *model.CreditNote) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.CreditNote, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]model.CreditNote, error)
	NextNumber(ctx context.Context, day time.Time) (string, error)
}

type creditNoteRepository struct {
	db *gorm.DB
}

func NewCreditNoteRepository(db *gorm.DB) CreditNoteRepository {
	return &creditNoteRepository{db: db}
}

// Create inserts the note together with its items.
func (r *creditNoteRepository) Create(ctx context.Context, note *model.CreditNote) error {
	return GetDB(ctx, r.db).Create(note).Error
}

func (r *creditNoteRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.CreditNote, error) {
	var note model.CreditNote
	if err := GetDB(ctx, r.db).Preload("Items").First(&note, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &note, nil
}

func (r *creditNoteRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]model.CreditNote, error) {
	var notes []model.CreditNote
	if err := GetDB(ctx, r.db).Preload("Items").
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&notes).Error; err != nil {
		return nil, err
	}
	return notes, nil
}

// NextNumber returns the next credit note number of the day, e.g. NC-20060102-00001.
func (r *creditNoteRepository) NextNumber(ctx context.Context, day time.Time) (string, error) {
	return nextNumber(ctx, r.db, &model.CreditNote{}, "number", "NC-"+day.Format("20060102")+"-", 5)
}
