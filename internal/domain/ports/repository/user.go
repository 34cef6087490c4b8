package repository

import (
	"context"

	"planetq-generation/internal/domain/model"
)

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	FindByEmail(ctx context.Context, tx Tx, email string) (*model.User, error)
	// FindByIDForUpdate locks the user row. The credit ledger uses it so
	// balance mutations serialize inside the transaction.
	FindByIDForUpdate(ctx context.Context, tx Tx, id string) (*model.User, error)
	// AdjustCredits applies a signed delta to credits (and, for deductions,
	// adds to total_used). Callers must hold the row lock via the same tx.
	AdjustCredits(ctx context.Context, tx Tx, id string, delta int64) error
	CountUsers(ctx context.Context, tx Tx) (int, error)
}
