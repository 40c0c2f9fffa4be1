package service_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/ghostwriter/ghostwriter-api/internal/catalog"
	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/observability"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/sqlite"
	"github.com/ghostwriter/ghostwriter-api/internal/service"
)

func newCreditFixture(t *testing.T) (*service.CreditService, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := service.NewCreditService(store, store, catalog.Default(), observability.NewMetrics(), zap.NewNop())
	return svc, store
}

func seedAccount(t *testing.T, svc *service.CreditService, store *sqlite.Store, credits int64) *domain.Account {
	t.Helper()
	ctx := context.Background()
	acc, err := store.CreateAccount(ctx, "author@example.com", "hash", "Author")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if credits > 0 {
		_, err := svc.ApplyPaymentEvent(ctx, &domain.PaymentEvent{
			EventID:       "evt_seed",
			Type:          "checkout.session.completed",
			Mode:          "payment",
			CustomerEmail: acc.Email,
			Credits:       credits,
		})
		if err != nil {
			t.Fatalf("seed purchase: %v", err)
		}
	}
	return acc
}

func TestAuthorizeAndDebit_ZeroCostLeavesNoTrace(t *testing.T) {
	svc, store := newCreditFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, svc, store, 50)

	auth, err := svc.AuthorizeAndDebit(ctx, acc.ID, catalog.CategoryFiction, domain.FictionSample, "story-1")
	if err != nil {
		t.Fatalf("AuthorizeAndDebit: %v", err)
	}
	if auth.Entry != nil {
		t.Error("zero-cost authorization wrote a ledger entry")
	}
	if auth.Debited != 0 {
		t.Errorf("Debited = %d, want 0", auth.Debited)
	}
	if auth.NewBalance != 50 {
		t.Errorf("NewBalance = %d, want 50", auth.NewBalance)
	}

	entries, _ := svc.Transactions(ctx, acc.ID, 50)
	if len(entries) != 1 { // seed purchase only
		t.Errorf("ledger has %d entries, want 1", len(entries))
	}
}

func TestAuthorizeAndDebit_ThenRefundRestoresBalance(t *testing.T) {
	svc, store := newCreditFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, svc, store, 100)

	auth, err := svc.AuthorizeAndDebit(ctx, acc.ID, catalog.CategoryFiction, domain.FictionNovella, "story-1")
	if err != nil {
		t.Fatalf("AuthorizeAndDebit: %v", err)
	}
	if auth.Debited != 50 || auth.NewBalance != 50 {
		t.Fatalf("auth = %+v", auth)
	}

	// Refund twice: second call must be a no-op on the balance.
	if err := svc.Refund(ctx, acc.ID, auth); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if err := svc.Refund(ctx, acc.ID, auth); err != nil {
		t.Fatalf("second Refund: %v", err)
	}

	balance, err := svc.Balance(ctx, acc.ID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance.CreditsBalance != 100 {
		t.Errorf("balance = %d, want 100", balance.CreditsBalance)
	}

	if err := svc.Reconcile(ctx, acc.ID); err != nil {
		t.Errorf("Reconcile: %v", err)
	}
}

func TestApplyPaymentEvent_DuplicateDelivery(t *testing.T) {
	svc, store := newCreditFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, svc, store, 0)

	event := &domain.PaymentEvent{
		EventID:       "evt_once",
		Type:          "checkout.session.completed",
		Mode:          "payment",
		CustomerEmail: acc.Email,
		PackID:        "starter",
		Credits:       100,
	}

	if _, err := svc.ApplyPaymentEvent(ctx, event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	for i := 0; i < 2; i++ {
		_, err := svc.ApplyPaymentEvent(ctx, event)
		var dup *domain.ErrDuplicateEvent
		if !errors.As(err, &dup) {
			t.Fatalf("redelivery %d: expected ErrDuplicateEvent, got %v", i+1, err)
		}
	}

	balance, _ := svc.Balance(ctx, acc.ID)
	if balance.CreditsBalance != 100 {
		t.Errorf("balance = %d, want 100 after redeliveries", balance.CreditsBalance)
	}
}

func TestApplyPaymentEvent_IgnoresOtherTypes(t *testing.T) {
	svc, store := newCreditFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, svc, store, 0)

	entry, err := svc.ApplyPaymentEvent(ctx, &domain.PaymentEvent{
		EventID:       "evt_other",
		Type:          "invoice.paid",
		CustomerEmail: acc.Email,
		Credits:       100,
	})
	if err != nil {
		t.Fatalf("ApplyPaymentEvent: %v", err)
	}
	if entry != nil {
		t.Error("non-checkout event produced a ledger entry")
	}

	balance, _ := svc.Balance(ctx, acc.ID)
	if balance.CreditsBalance != 0 {
		t.Errorf("balance = %d, want 0", balance.CreditsBalance)
	}
}

func TestApplyPaymentEvent_RejectsTamperedCredits(t *testing.T) {
	svc, store := newCreditFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, svc, store, 0)

	_, err := svc.ApplyPaymentEvent(ctx, &domain.PaymentEvent{
		EventID:       "evt_tampered",
		Type:          "checkout.session.completed",
		Mode:          "payment",
		CustomerEmail: acc.Email,
		PackID:        "micro", // micro is 20 credits
		Credits:       99999,
	})
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAuthorizeAndDebit_InsufficientCredits(t *testing.T) {
	svc, store := newCreditFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, svc, store, 20)

	_, err := svc.AuthorizeAndDebit(ctx, acc.ID, catalog.CategoryFiction, domain.FictionNovel, "story-1")
	var insufficient *domain.ErrInsufficientCredits
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if insufficient.Available != 20 || insufficient.Required != 100 {
		t.Errorf("error = %+v", insufficient)
	}
}
