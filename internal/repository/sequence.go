package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// ErrSequenceExhausted is returned when a numbering prefix has no free numbers left.
var ErrSequenceExhausted = errors.New("sequence exhausted")

// nextNumber returns prefix followed by the next zero padded number of the given width,
// based on the highest existing value of column starting with prefix. On postgres the
// prefix is serialized with a transaction scoped advisory lock.
func nextNumber(ctx context.Context, rootDB *gorm.DB, value interface{}, column, prefix string, width int) (string, error) {
	db := GetDB(ctx, rootDB)

	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", prefix).Error; err != nil {
			return "", fmt.Errorf("failed to lock sequence %s: %w", prefix, err)
		}
	}

	var last []string
	if err := db.Unscoped().Model(value).
		Where(column+" LIKE ?", prefix+"%").
		Where("LENGTH("+column+") = ?", len(prefix)+width).
		Order(column+" DESC").
		Limit(1).
		Pluck(column, &last).Error; err != nil {
		return "", err
	}

	n := 0
	if len(last) > 0 {
		parsed, err := strconv.Atoi(strings.TrimPrefix(last[0], prefix))
		if err != nil {
			return "", fmt.Errorf("malformed sequence value %q: %w", last[0], err)
		}
		n = parsed
	}
	n++

	formatted := fmt.Sprintf("%0*d", width, n)
	if len(formatted) > width {
		return "", fmt.Errorf("%w: %s", ErrSequenceExhausted, prefix)
	}
	return prefix + formatted, nil
}
