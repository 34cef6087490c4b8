package model

import (
	"time"

	"planetq-generation/internal/domain"

	"github.com/google/uuid"
)

// User holds the spendable credit balance. The balance is mutated only through
// the credit ledger's transactional deduct/add, never by direct field writes.
type User struct {
	ID           string
	Email        string
	Name         string
	Credits      int64
	TotalUsed    int64 // cumulative credits ever spent
	RegisteredAt time.Time
	LastActiveAt time.Time
	IsAdmin      bool
}

func NewUser(id, email, name string, initialCredits int64) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if email == "" {
		return nil, domain.ErrInvalidArgument
	}
	if initialCredits < 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &User{
		ID:           id,
		Email:        email,
		Name:         name,
		Credits:      initialCredits,
		RegisteredAt: now,
		LastActiveAt: now,
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }
func (u *User) Touch()       { u.LastActiveAt = time.Now() }

// CanAfford reports whether the balance covers amount.
func (u *User) CanAfford(amount int64) bool { return u.Credits >= amount }
