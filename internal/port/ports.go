// Package port defines the interfaces services consume. Implementations
// live under internal/infra.
package port

import (
	"context"
	"time"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
)

// AccountStore handles account rows. Balances are never written
// directly through this interface; only the LedgerStore moves credits.
type AccountStore interface {
	CreateAccount(ctx context.Context, email, passwordHash, fullName string) (*domain.Account, error)
	GetAccountByID(ctx context.Context, id string) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	DeactivateAccount(ctx context.Context, id string) error
}

// LedgerStore is the single write path for credit movements. Every
// method that moves credits is one atomic transaction.
type LedgerStore interface {
	// DebitForStory atomically checks and decrements the balance, bumps
	// total_credits_spent and writes a completed spend entry linked to
	// storyID. Returns ErrInsufficientCredits without side effects when
	// the balance cannot cover the amount.
	DebitForStory(ctx context.Context, accountID string, amount int64, storyID, description string) (*domain.AuthorizationResult, error)

	// RefundSpend reverses a completed spend entry: credits the amount
	// back, writes a refund entry for the same story and marks the
	// spend refunded. Idempotent per story; a repeat call returns the
	// existing refund entry.
	RefundSpend(ctx context.Context, accountID, spendEntryID string) (*domain.LedgerEntry, error)

	// ApplyPurchase applies a verified payment event exactly once,
	// keyed on the event's external id. Returns applied=false when the
	// event was seen before.
	ApplyPurchase(ctx context.Context, event *domain.PaymentEvent) (entry *domain.LedgerEntry, applied bool, err error)

	ListEntries(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error)
	GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error)

	// SumCompletedDeltas returns the ledger-derived balance, used for
	// reconciliation checks.
	SumCompletedDeltas(ctx context.Context, accountID string) (int64, error)
}

// StoryStore persists generation artifacts.
type StoryStore interface {
	CreateStory(ctx context.Context, story *domain.Story) error
	CompleteStory(ctx context.Context, id, title, content string, wordCount int) error
	FailStory(ctx context.Context, id string) error
	GetStory(ctx context.Context, id string) (*domain.Story, error)
	ListStories(ctx context.Context, accountID string, limit int) ([]domain.Story, error)
	CreateExtra(ctx context.Context, extra *domain.StoryExtra) error
	ListExtras(ctx context.Context, storyID string) ([]domain.StoryExtra, error)
}

// AuthStore persists refresh tokens.
type AuthStore interface {
	StoreRefreshToken(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllRefreshTokens(ctx context.Context, accountID string) error
}

// TextGenerator is the LLM boundary. Generate must return exactly one
// terminal result per call and respect ctx deadlines; the credit gate
// relies on a bounded-time answer to decide whether to refund.
type TextGenerator interface {
	Generate(ctx context.Context, prompt, systemPrompt, model string) (string, error)
}

// CheckoutProvider creates hosted checkout sessions at the payment
// processor.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, email, packID, packName string, priceCents, credits int64) (*domain.CheckoutSession, error)
}

// Cache is a generic TTL cache.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
