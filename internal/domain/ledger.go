package domain

import "time"

// Ledger entry kinds. Purchases and refunds carry positive deltas,
// spends negative.
const (
	EntryPurchase = "purchase"
	EntrySpend    = "spend"
	EntryRefund   = "refund"
)

// Ledger entry statuses. An entry is immutable once terminal; the only
// transitions are pending→completed, pending→failed and, for spend
// entries, completed→refunded.
const (
	EntryPending   = "pending"
	EntryCompleted = "completed"
	EntryFailed    = "failed"
	EntryRefunded  = "refunded"
)

// LedgerEntry is an immutable record of a single credit movement.
// The sum of all completed deltas for an account equals its balance.
type LedgerEntry struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Kind        string    `json:"kind"`
	Delta       int64     `json:"delta"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	StoryID     string    `json:"story_id,omitempty"`
	ExternalID  string    `json:"external_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PaymentEvent is a verified payment-processor notification handed to
// the reconciler. EventID is the processor's idempotency key.
type PaymentEvent struct {
	EventID       string
	SessionID     string
	Type          string // checkout.session.completed, ...
	Mode          string // payment | subscription
	CustomerEmail string
	CustomerID    string // processor-side customer id
	PackID        string // from session metadata
	Credits       int64  // from session metadata
}

// AuthorizationResult reports the outcome of a successful debit.
type AuthorizationResult struct {
	Entry      *LedgerEntry // nil for zero-cost tiers
	NewBalance int64
	Debited    int64
}
