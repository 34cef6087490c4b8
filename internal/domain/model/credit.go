package model

import (
	"time"

	"github.com/google/uuid"
)

// Reasons recorded on credit log entries.
const (
	CreditReasonGeneration = "generation"
	CreditReasonPurchase   = "purchase"
	CreditReasonRenewal    = "subscription_renewal"
	CreditReasonRefund     = "refund"
	CreditReasonSeed       = "seed"
)

// CreditLogEntry is an append-only audit row, created whenever a balance changes.
// Amount is signed: negative for deductions, positive for additions.
type CreditLogEntry struct {
	ID           string
	UserID       string
	Amount       int64
	BalanceAfter int64
	Reason       string
	RelatedID    string // e.g. the generation task charged for
	Description  string
	CreatedAt    time.Time
}

func NewCreditLogEntry(userID string, amount, balanceAfter int64, reason, relatedID, description string) *CreditLogEntry {
	return &CreditLogEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Reason:       reason,
		RelatedID:    relatedID,
		Description:  description,
		CreatedAt:    time.Now(),
	}
}
