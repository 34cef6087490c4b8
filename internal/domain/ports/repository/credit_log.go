package repository

import (
	"context"

	"planetq-generation/internal/domain/model"
)

type CreditLogRepository interface {
	// Append inserts a new entry. Entries are never updated or deleted.
	Append(ctx context.Context, tx Tx, e *model.CreditLogEntry) error
	ListByUser(ctx context.Context, tx Tx, userID string, offset, limit int) ([]*model.CreditLogEntry, error)
	ListByRelatedID(ctx context.Context, tx Tx, relatedID string) ([]*model.CreditLogEntry, error)
}
