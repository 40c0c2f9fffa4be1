package domain

import "time"

// SubscriptionStatus values mirrored from the payment provider.
const (
	SubscriptionFree      = "free"
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
)

// Account is a user of the service and the owner of a credit balance.
// The balance is mutated only by applying ledger entries; accounts are
// soft-deactivated, never deleted.
type Account struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	FullName              string     `json:"full_name,omitempty"`
	PasswordHash          string     `json:"-"`
	CreditsBalance        int64      `json:"credits_balance"`
	TotalCreditsPurchased int64      `json:"total_credits_purchased"`
	TotalCreditsSpent     int64      `json:"total_credits_spent"`
	StripeCustomerID      string     `json:"-"`
	SubscriptionStatus    string     `json:"subscription_status"`
	SubscriptionEnd       *time.Time `json:"subscription_end,omitempty"`
	IsActive              bool       `json:"is_active"`
	CreatedAt             time.Time  `json:"created_at"`
	LastLoginAt           *time.Time `json:"last_login_at,omitempty"`
}

// BalanceResponse is returned by GET /v1/credits/balance.
type BalanceResponse struct {
	CreditsBalance int64 `json:"credits_balance"`
	TotalPurchased int64 `json:"total_purchased"`
	TotalSpent     int64 `json:"total_spent"`
}

// RefreshToken is a stored (hashed) refresh token for session rotation.
type RefreshToken struct {
	TokenHash string
	AccountID string
	ExpiresAt time.Time
	Revoked   bool
}
