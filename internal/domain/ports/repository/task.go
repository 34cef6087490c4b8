package repository

import (
	"context"
	"time"

	"planetq-generation/internal/domain/model"
)

type TaskRepository interface {
	Save(ctx context.Context, tx Tx, task *model.GenerationTask) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.GenerationTask, error)
	FindByExternalID(ctx context.Context, tx Tx, provider, externalID string) (*model.GenerationTask, error)
	// FindByIDForUpdate locks the row for the duration of the enclosing
	// transaction. Reconciliation uses it so concurrent webhook/sweep attempts
	// serialize on the task before checking the deducted flag.
	FindByIDForUpdate(ctx context.Context, tx Tx, id string) (*model.GenerationTask, error)
	ListByUser(ctx context.Context, tx Tx, userID string, offset, limit int) ([]*model.GenerationTask, error)
	// ListUnfinishedOlderThan returns non-terminal tasks created before cutoff,
	// oldest first. The sweep job re-checks these.
	ListUnfinishedOlderThan(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.GenerationTask, error)
}
