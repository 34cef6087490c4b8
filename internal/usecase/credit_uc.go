package usecase

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"planetq-generation/internal/domain"
	"planetq-generation/internal/domain/model"
	"planetq-generation/internal/domain/ports/repository"
	"planetq-generation/internal/infra/metrics"
)

// Compile-time check
var _ CreditLedgerUseCase = (*creditLedgerUC)(nil)

// CreditLedgerUseCase is the only path for mutating a user's credit balance.
// Every mutation pairs the balance write with an append-only log entry inside
// one transaction; if either write fails, neither commits.
type CreditLedgerUseCase interface {
	Deduct(ctx context.Context, userID string, amount int64, reason, relatedID, description string) (*model.CreditLogEntry, error)
	Add(ctx context.Context, userID string, amount int64, reason, relatedID, description string) (*model.CreditLogEntry, error)
	// DeductInTx / AddInTx run inside a caller-owned transaction, for callers
	// (reconciliation) that need the balance change atomic with their own writes.
	DeductInTx(ctx context.Context, tx repository.Tx, userID string, amount int64, reason, relatedID, description string) (*model.CreditLogEntry, error)
	AddInTx(ctx context.Context, tx repository.Tx, userID string, amount int64, reason, relatedID, description string) (*model.CreditLogEntry, error)
	History(ctx context.Context, userID string, offset, limit int) ([]*model.CreditLogEntry, error)
}

type creditLedgerUC struct {
	users repository.UserRepository
	logs  repository.CreditLogRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
}

func NewCreditLedgerUseCase(users repository.UserRepository, logs repository.CreditLogRepository, tm repository.TransactionManager, logger *zerolog.Logger) *creditLedgerUC {
	return &creditLedgerUC{users: users, logs: logs, tm: tm, log: logger}
}

func (l *creditLedgerUC) Deduct(ctx context.Context, userID string, amount int64, reason, relatedID, description string) (*model.CreditLogEntry, error) {
	var entry *model.CreditLogEntry
	err := l.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		e, err := l.DeductInTx(ctx, tx, userID, amount, reason, relatedID, description)
		entry = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (l *creditLedgerUC) Add(ctx context.Context, userID string, amount int64, reason, relatedID, description string) (*model.CreditLogEntry, error) {
	var entry *model.CreditLogEntry
	err := l.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		e, err := l.AddInTx(ctx, tx, userID, amount, reason, relatedID, description)
		entry = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (l *creditLedgerUC) DeductInTx(ctx context.Context, tx repository.Tx, userID string, amount int64, reason, relatedID, description string) (*model.CreditLogEntry, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	u, err := l.users.FindByIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if !u.CanAfford(amount) {
		return nil, &domain.InsufficientCreditsError{Required: amount, Available: u.Credits}
	}
	if err := l.users.AdjustCredits(ctx, tx, userID, -amount); err != nil {
		return nil, err
	}
	entry := model.NewCreditLogEntry(userID, -amount, u.Credits-amount, reason, relatedID, description)
	if err := l.logs.Append(ctx, tx, entry); err != nil {
		return nil, err
	}
	metrics.AddCreditsSpent(reason, amount)
	l.log.Debug().Str("user_id", userID).Int64("amount", amount).Str("reason", reason).
		Int64("balance_after", entry.BalanceAfter).Msg("credits deducted")
	return entry, nil
}

func (l *creditLedgerUC) AddInTx(ctx context.Context, tx repository.Tx, userID string, amount int64, reason, relatedID, description string) (*model.CreditLogEntry, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	u, err := l.users.FindByIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := l.users.AdjustCredits(ctx, tx, userID, amount); err != nil {
		return nil, err
	}
	entry := model.NewCreditLogEntry(userID, amount, u.Credits+amount, reason, relatedID, description)
	if err := l.logs.Append(ctx, tx, entry); err != nil {
		return nil, err
	}
	metrics.AddCreditsGranted(reason, amount)
	return entry, nil
}

func (l *creditLedgerUC) History(ctx context.Context, userID string, offset, limit int) ([]*model.CreditLogEntry, error) {
	return l.logs.ListByUser(ctx, nil, userID, offset, limit)
}
