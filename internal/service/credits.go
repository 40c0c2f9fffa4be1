// Package service provides the business logic layer (use cases).
// CreditService is the single gate for credit movements: every debit,
// refund and purchase goes through it and lands in the ledger.
package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ghostwriter/ghostwriter-api/internal/catalog"
	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/observability"
	"github.com/ghostwriter/ghostwriter-api/internal/port"
)

var creditTracer = otel.Tracer("service/credits")

// CreditService owns the credit lifecycle.
type CreditService struct {
	accounts port.AccountStore
	ledger   port.LedgerStore
	catalog  *catalog.Catalog
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewCreditService creates a new credit service.
func NewCreditService(accounts port.AccountStore, ledger port.LedgerStore, cat *catalog.Catalog, metrics *observability.Metrics, logger *zap.Logger) *CreditService {
	return &CreditService{
		accounts: accounts,
		ledger:   ledger,
		catalog:  cat,
		metrics:  metrics,
		logger:   logger,
	}
}

// Balance returns the account's live balance and lifetime totals.
func (s *CreditService) Balance(ctx context.Context, accountID string) (*domain.BalanceResponse, error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.Balance")
	defer span.End()

	acc, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &domain.BalanceResponse{
		CreditsBalance: acc.CreditsBalance,
		TotalPurchased: acc.TotalCreditsPurchased,
		TotalSpent:     acc.TotalCreditsSpent,
	}, nil
}

// Packs returns the purchasable credit packs.
func (s *CreditService) Packs(ctx context.Context) []domain.PackInfo {
	_, span := creditTracer.Start(ctx, "CreditService.Packs")
	defer span.End()

	return s.catalog.Packs()
}

// Cost resolves the credit cost for a (category, tier) pair.
func (s *CreditService) Cost(category, tier string) (int64, error) {
	return s.catalog.Cost(category, tier)
}

// AuthorizeAndDebit checks and debits the cost of a generation in one
// atomic step. Zero-cost tiers short-circuit: no ledger entry, no
// balance read required. The returned result carries the spend entry to
// refund if the generation later fails.
func (s *CreditService) AuthorizeAndDebit(ctx context.Context, accountID, category, tier, storyID string) (*domain.AuthorizationResult, error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.AuthorizeAndDebit")
	defer span.End()
	span.SetAttributes(
		attribute.String("credit.category", category),
		attribute.String("credit.tier", tier),
	)

	cost, err := s.catalog.Cost(category, tier)
	if err != nil {
		return nil, err
	}
	if cost == 0 {
		// Free tier: no debit, no ledger entry. Read the balance only so
		// the response can report it.
		acc, err := s.accounts.GetAccountByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		return &domain.AuthorizationResult{NewBalance: acc.CreditsBalance}, nil
	}

	result, err := s.ledger.DebitForStory(ctx, accountID, cost, storyID,
		fmt.Sprintf("%s generation (%s)", category, tier))
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCredits(domain.EntrySpend, cost)
	return result, nil
}

// Refund reverses a debit after a failed generation. No-op for zero-cost
// authorizations (nil entry). Safe to call more than once.
func (s *CreditService) Refund(ctx context.Context, accountID string, auth *domain.AuthorizationResult) error {
	ctx, span := creditTracer.Start(ctx, "CreditService.Refund")
	defer span.End()

	if auth == nil || auth.Entry == nil {
		return nil
	}

	refund, err := s.ledger.RefundSpend(ctx, accountID, auth.Entry.ID)
	if err != nil {
		s.logger.Error("refund failed",
			zap.String("account_id", accountID),
			zap.String("spend_entry_id", auth.Entry.ID),
			zap.Error(err),
		)
		return err
	}

	s.metrics.RecordCredits(domain.EntryRefund, refund.Delta)
	return nil
}

// ApplyPaymentEvent reconciles a verified webhook event into the ledger.
// Returns ErrDuplicateEvent for redeliveries; callers ack those with a
// success status so the processor stops retrying.
func (s *CreditService) ApplyPaymentEvent(ctx context.Context, event *domain.PaymentEvent) (*domain.LedgerEntry, error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.ApplyPaymentEvent")
	defer span.End()
	span.SetAttributes(attribute.String("payment.event_id", event.EventID))

	if event.Type != "checkout.session.completed" {
		s.logger.Debug("ignoring payment event type", zap.String("type", event.Type))
		return nil, nil
	}

	// Cross-check metadata credits against the catalog when the pack is
	// known; a mismatch means someone tampered with the session.
	if event.PackID != "" {
		pack, err := s.catalog.Pack(event.PackID)
		if err == nil && pack.Credits != event.Credits {
			return nil, &domain.ErrValidation{
				Field:   "metadata.credits",
				Message: fmt.Sprintf("credits %d do not match pack %q", event.Credits, event.PackID),
			}
		}
	}

	entry, applied, err := s.ledger.ApplyPurchase(ctx, event)
	if err != nil {
		return nil, err
	}
	if !applied {
		s.metrics.IncrWebhookEvent("duplicate")
		return nil, &domain.ErrDuplicateEvent{ExternalID: event.EventID}
	}

	s.metrics.IncrWebhookEvent("applied")
	s.metrics.RecordCredits(domain.EntryPurchase, event.Credits)
	return entry, nil
}

// Transactions returns the account's recent ledger entries.
func (s *CreditService) Transactions(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.Transactions")
	defer span.End()

	return s.ledger.ListEntries(ctx, accountID, limit)
}

// Reconcile verifies the ledger sums to the stored balance. A mismatch
// is a corruption signal worth paging on.
func (s *CreditService) Reconcile(ctx context.Context, accountID string) error {
	ctx, span := creditTracer.Start(ctx, "CreditService.Reconcile")
	defer span.End()

	acc, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	sum, err := s.ledger.SumCompletedDeltas(ctx, accountID)
	if err != nil {
		return err
	}
	if sum != acc.CreditsBalance {
		s.logger.Error("ledger does not reconcile",
			zap.String("account_id", accountID),
			zap.Int64("balance", acc.CreditsBalance),
			zap.Int64("ledger_sum", sum),
		)
		return fmt.Errorf("ledger sum %d does not match balance %d for account %s", sum, acc.CreditsBalance, accountID)
	}
	return nil
}
