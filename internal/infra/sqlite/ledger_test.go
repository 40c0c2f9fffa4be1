package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fundedAccount(t *testing.T, s *Store, credits int64) *domain.Account {
	t.Helper()
	ctx := context.Background()
	acc, err := s.CreateAccount(ctx, "writer@example.com", "hash", "Test Writer")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if credits > 0 {
		_, applied, err := s.ApplyPurchase(ctx, &domain.PaymentEvent{
			EventID:       "evt_seed_" + acc.ID,
			Type:          "checkout.session.completed",
			Mode:          "payment",
			CustomerEmail: acc.Email,
			PackID:        "starter",
			Credits:       credits,
		})
		if err != nil || !applied {
			t.Fatalf("seed purchase: applied=%v err=%v", applied, err)
		}
	}
	return acc
}

func TestDebitForStory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := fundedAccount(t, s, 100)

	res, err := s.DebitForStory(ctx, acc.ID, 50, "story-1", "novella")
	if err != nil {
		t.Fatalf("DebitForStory: %v", err)
	}
	if res.NewBalance != 50 {
		t.Errorf("NewBalance = %d, want 50", res.NewBalance)
	}
	if res.Entry.Kind != domain.EntrySpend || res.Entry.Delta != -50 {
		t.Errorf("spend entry = %+v", res.Entry)
	}
	if res.Entry.Status != domain.EntryCompleted {
		t.Errorf("spend status = %s, want completed", res.Entry.Status)
	}
}

func TestDebitInsufficientCredits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := fundedAccount(t, s, 30)

	_, err := s.DebitForStory(ctx, acc.ID, 50, "story-1", "novella")

	var insufficient *domain.ErrInsufficientCredits
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if insufficient.Available != 30 || insufficient.Required != 50 {
		t.Errorf("error = %+v", insufficient)
	}

	// Balance and ledger must be untouched.
	got, err := s.GetAccountByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("GetAccountByID: %v", err)
	}
	if got.CreditsBalance != 30 {
		t.Errorf("balance = %d, want 30", got.CreditsBalance)
	}
	entries, _ := s.ListEntries(ctx, acc.ID, 50)
	if len(entries) != 1 { // just the seed purchase
		t.Errorf("expected 1 ledger entry, got %d", len(entries))
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := fundedAccount(t, s, 100)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.DebitForStory(ctx, acc.ID, 60, "story-"+string(rune('a'+i)), "novella")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		var insufficient *domain.ErrInsufficientCredits
		if !errors.As(err, &insufficient) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 successful debit, got %d", successes)
	}

	got, _ := s.GetAccountByID(ctx, acc.ID)
	if got.CreditsBalance != 40 {
		t.Errorf("balance = %d, want 40", got.CreditsBalance)
	}
}

func TestRefundSpendIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := fundedAccount(t, s, 100)

	res, err := s.DebitForStory(ctx, acc.ID, 75, "story-1", "standard biography")
	if err != nil {
		t.Fatalf("DebitForStory: %v", err)
	}

	first, err := s.RefundSpend(ctx, acc.ID, res.Entry.ID)
	if err != nil {
		t.Fatalf("RefundSpend: %v", err)
	}
	if first.Kind != domain.EntryRefund || first.Delta != 75 {
		t.Errorf("refund entry = %+v", first)
	}

	second, err := s.RefundSpend(ctx, acc.ID, res.Entry.ID)
	if err != nil {
		t.Fatalf("second RefundSpend: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second refund created a new entry: %s vs %s", second.ID, first.ID)
	}

	got, _ := s.GetAccountByID(ctx, acc.ID)
	if got.CreditsBalance != 100 {
		t.Errorf("balance = %d, want 100 after single refund", got.CreditsBalance)
	}

	spend, _ := s.GetEntry(ctx, res.Entry.ID)
	if spend.Status != domain.EntryRefunded {
		t.Errorf("spend status = %s, want refunded", spend.Status)
	}
}

func TestRefundKeepsLifetimeTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := fundedAccount(t, s, 100)

	res, err := s.DebitForStory(ctx, acc.ID, 50, "story-1", "novella")
	if err != nil {
		t.Fatalf("DebitForStory: %v", err)
	}
	if _, err := s.RefundSpend(ctx, acc.ID, res.Entry.ID); err != nil {
		t.Fatalf("RefundSpend: %v", err)
	}

	got, _ := s.GetAccountByID(ctx, acc.ID)
	if got.CreditsBalance != 100 {
		t.Errorf("balance = %d, want 100", got.CreditsBalance)
	}
	// Lifetime counters never decrease; the spend stays on the record.
	if got.TotalCreditsSpent != 50 {
		t.Errorf("total spent = %d, want 50 after refund", got.TotalCreditsSpent)
	}
	if got.TotalCreditsPurchased != 100 {
		t.Errorf("total purchased = %d, want 100", got.TotalCreditsPurchased)
	}
}

func TestRefundRejectsNonSpendEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := fundedAccount(t, s, 100)

	entries, _ := s.ListEntries(ctx, acc.ID, 10)
	purchase := entries[0]

	_, err := s.RefundSpend(ctx, acc.ID, purchase.ID)
	var invariant *domain.ErrRefundInvariant
	if !errors.As(err, &invariant) {
		t.Fatalf("expected ErrRefundInvariant, got %v", err)
	}
}

func TestApplyPurchaseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := fundedAccount(t, s, 0)

	event := &domain.PaymentEvent{
		EventID:       "evt_123",
		Type:          "checkout.session.completed",
		Mode:          "payment",
		CustomerEmail: acc.Email,
		PackID:        "starter",
		Credits:       100,
	}

	for i := 0; i < 3; i++ {
		_, applied, err := s.ApplyPurchase(ctx, event)
		if err != nil {
			t.Fatalf("ApplyPurchase #%d: %v", i+1, err)
		}
		if wantApplied := i == 0; applied != wantApplied {
			t.Errorf("ApplyPurchase #%d applied = %v, want %v", i+1, applied, wantApplied)
		}
	}

	got, _ := s.GetAccountByID(ctx, acc.ID)
	if got.CreditsBalance != 100 {
		t.Errorf("balance = %d, want 100 after redelivered webhooks", got.CreditsBalance)
	}
	if got.TotalCreditsPurchased != 100 {
		t.Errorf("total purchased = %d, want 100", got.TotalCreditsPurchased)
	}
}

func TestApplyPurchaseCreatesAccountForUnknownEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, applied, err := s.ApplyPurchase(ctx, &domain.PaymentEvent{
		EventID:       "evt_new",
		Type:          "checkout.session.completed",
		Mode:          "payment",
		CustomerEmail: "new@example.com",
		PackID:        "micro",
		Credits:       20,
	})
	if err != nil || !applied {
		t.Fatalf("ApplyPurchase: applied=%v err=%v", applied, err)
	}

	acc, err := s.GetAccountByEmail(ctx, "new@example.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail: %v", err)
	}
	if acc.CreditsBalance != 20 {
		t.Errorf("balance = %d, want 20", acc.CreditsBalance)
	}
}

func TestSubscriptionEventActivatesAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := fundedAccount(t, s, 0)

	_, applied, err := s.ApplyPurchase(ctx, &domain.PaymentEvent{
		EventID:       "evt_sub",
		Type:          "checkout.session.completed",
		Mode:          "subscription",
		CustomerEmail: acc.Email,
		CustomerID:    "cus_42",
		PackID:        "pro",
		Credits:       550,
	})
	if err != nil || !applied {
		t.Fatalf("ApplyPurchase: applied=%v err=%v", applied, err)
	}

	got, _ := s.GetAccountByID(ctx, acc.ID)
	if got.SubscriptionStatus != domain.SubscriptionActive {
		t.Errorf("subscription status = %s, want active", got.SubscriptionStatus)
	}
	if got.SubscriptionEnd == nil {
		t.Error("subscription end not set")
	}
	if got.StripeCustomerID != "cus_42" {
		t.Errorf("customer id = %q, want cus_42", got.StripeCustomerID)
	}
}

func TestLedgerReconciliation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := fundedAccount(t, s, 200)

	res1, err := s.DebitForStory(ctx, acc.ID, 50, "story-1", "novella")
	if err != nil {
		t.Fatalf("debit 1: %v", err)
	}
	if _, err := s.DebitForStory(ctx, acc.ID, 100, "story-2", "novel"); err != nil {
		t.Fatalf("debit 2: %v", err)
	}
	if _, err := s.RefundSpend(ctx, acc.ID, res1.Entry.ID); err != nil {
		t.Fatalf("refund: %v", err)
	}

	got, _ := s.GetAccountByID(ctx, acc.ID)
	sum, err := s.SumCompletedDeltas(ctx, acc.ID)
	if err != nil {
		t.Fatalf("SumCompletedDeltas: %v", err)
	}
	if sum != got.CreditsBalance {
		t.Errorf("ledger sum %d != balance %d", sum, got.CreditsBalance)
	}
	if got.CreditsBalance != 100 {
		t.Errorf("balance = %d, want 100", got.CreditsBalance)
	}
}

func TestDebitInactiveAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := fundedAccount(t, s, 100)

	if err := s.DeactivateAccount(ctx, acc.ID); err != nil {
		t.Fatalf("DeactivateAccount: %v", err)
	}

	_, err := s.DebitForStory(ctx, acc.ID, 10, "story-1", "extra")
	var inactive *domain.ErrAccountInactive
	if !errors.As(err, &inactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestDuplicateEmailConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateAccount(ctx, "dup@example.com", "h1", ""); err != nil {
		t.Fatalf("first CreateAccount: %v", err)
	}
	_, err := s.CreateAccount(ctx, "DUP@example.com", "h2", "")
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
