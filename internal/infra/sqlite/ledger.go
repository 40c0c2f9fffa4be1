package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
)

const ledgerColumns = `id, account_id, kind, delta, description, status,
	story_id, external_id, created_at`

// DebitForStory atomically debits amount from the account and records a
// completed spend entry for storyID. The balance check and decrement are
// one conditional UPDATE, so two concurrent debits can never both pass a
// stale balance check.
func (s *Store) DebitForStory(ctx context.Context, accountID string, amount int64, storyID, description string) (*domain.AuthorizationResult, error) {
	if amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "debit amount must be positive"}
	}

	var result *domain.AuthorizationResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts
			 SET credits_balance = credits_balance - ?,
			     total_credits_spent = total_credits_spent + ?
			 WHERE id = ? AND is_active = 1 AND credits_balance >= ?`,
			amount, amount, accountID, amount,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Distinguish broke from missing/inactive.
			var balance int64
			var isActive int
			row := tx.QueryRowContext(ctx,
				`SELECT credits_balance, is_active FROM accounts WHERE id = ?`, accountID)
			if scanErr := row.Scan(&balance, &isActive); scanErr != nil {
				if errors.Is(scanErr, sql.ErrNoRows) {
					return &domain.ErrNotFound{Resource: "account", ID: accountID}
				}
				return scanErr
			}
			if isActive == 0 {
				return &domain.ErrAccountInactive{AccountID: accountID}
			}
			return &domain.ErrInsufficientCredits{Available: balance, Required: amount}
		}

		entry := &domain.LedgerEntry{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			Kind:        domain.EntrySpend,
			Delta:       -amount,
			Description: description,
			Status:      domain.EntryCompleted,
			StoryID:     storyID,
			CreatedAt:   time.Now().UTC(),
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}

		var newBalance int64
		if err := tx.QueryRowContext(ctx,
			`SELECT credits_balance FROM accounts WHERE id = ?`, accountID,
		).Scan(&newBalance); err != nil {
			return err
		}

		result = &domain.AuthorizationResult{
			Entry:      entry,
			NewBalance: newBalance,
			Debited:    amount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("credits debited",
		zap.String("account_id", accountID),
		zap.String("story_id", storyID),
		zap.Int64("amount", amount),
		zap.Int64("new_balance", result.NewBalance),
	)
	return result, nil
}

// RefundSpend reverses a completed spend entry: it credits the amount
// back, marks the spend refunded and records a refund entry for the same
// story. Calling it twice for the same spend returns the existing refund
// entry; the partial unique index on (story_id, kind) backstops races.
func (s *Store) RefundSpend(ctx context.Context, accountID, spendEntryID string) (*domain.LedgerEntry, error) {
	var refund *domain.LedgerEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		spend, err := getEntryTx(ctx, tx, spendEntryID)
		if err != nil {
			return err
		}
		if spend.AccountID != accountID {
			return &domain.ErrRefundInvariant{EntryID: spendEntryID, Reason: "entry belongs to a different account"}
		}
		if spend.Kind != domain.EntrySpend {
			return &domain.ErrRefundInvariant{EntryID: spendEntryID, Reason: fmt.Sprintf("cannot refund a %s entry", spend.Kind)}
		}

		if spend.Status == domain.EntryRefunded {
			// Already refunded: return the existing refund entry.
			existing, err := getRefundForStoryTx(ctx, tx, spend.StoryID)
			if err != nil {
				return err
			}
			refund = existing
			return nil
		}
		if spend.Status != domain.EntryCompleted {
			return &domain.ErrRefundInvariant{EntryID: spendEntryID, Reason: fmt.Sprintf("spend entry is %s, not completed", spend.Status)}
		}

		amount := -spend.Delta
		entry := &domain.LedgerEntry{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			Kind:        domain.EntryRefund,
			Delta:       amount,
			Description: "refund: " + spend.Description,
			Status:      domain.EntryCompleted,
			StoryID:     spend.StoryID,
			CreatedAt:   time.Now().UTC(),
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			if isUniqueViolation(err) {
				// Lost a race with another refund of the same story.
				existing, lookupErr := getRefundForStoryTx(ctx, tx, spend.StoryID)
				if lookupErr != nil {
					return lookupErr
				}
				refund = existing
				return nil
			}
			return err
		}

		// Lifetime totals only ever grow; the refund entry restores the
		// balance without rewriting spend history.
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET credits_balance = credits_balance + ? WHERE id = ?`,
			amount, accountID,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE ledger_entries SET status = ? WHERE id = ?`,
			domain.EntryRefunded, spendEntryID,
		); err != nil {
			return err
		}

		refund = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("credits refunded",
		zap.String("account_id", accountID),
		zap.String("spend_entry_id", spendEntryID),
		zap.Int64("amount", refund.Delta),
	)
	return refund, nil
}

// ApplyPurchase applies a verified payment event exactly once, keyed on
// the processor's event id. Redelivered events return applied=false with
// no balance change. Unknown emails get a fresh account so a purchase is
// never dropped.
func (s *Store) ApplyPurchase(ctx context.Context, event *domain.PaymentEvent) (*domain.LedgerEntry, bool, error) {
	if event.EventID == "" {
		return nil, false, &domain.ErrValidation{Field: "event_id", Message: "payment event is missing an id"}
	}
	if event.Credits <= 0 {
		return nil, false, &domain.ErrValidation{Field: "credits", Message: "payment event must carry positive credits"}
	}

	var entry *domain.LedgerEntry
	applied := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM ledger_entries WHERE external_id = ?`, event.EventID,
		).Scan(&existing)
		if err == nil {
			return nil // seen before, absorb
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		accountID, err := s.resolvePurchaseAccount(ctx, tx, event)
		if err != nil {
			return err
		}

		entry = &domain.LedgerEntry{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			Kind:        domain.EntryPurchase,
			Delta:       event.Credits,
			Description: fmt.Sprintf("credit pack purchase: %s", event.PackID),
			Status:      domain.EntryCompleted,
			ExternalID:  event.EventID,
			CreatedAt:   time.Now().UTC(),
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			if isUniqueViolation(err) {
				entry = nil
				return nil // concurrent delivery won the race
			}
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts
			 SET credits_balance = credits_balance + ?,
			     total_credits_purchased = total_credits_purchased + ?,
			     stripe_customer_id = CASE WHEN ? != '' THEN ? ELSE stripe_customer_id END
			 WHERE id = ?`,
			event.Credits, event.Credits, event.CustomerID, event.CustomerID, accountID,
		); err != nil {
			return err
		}

		if event.Mode == "subscription" {
			end := time.Now().UTC().Add(30 * 24 * time.Hour)
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET subscription_status = ?, subscription_end = ? WHERE id = ?`,
				domain.SubscriptionActive, end, accountID,
			); err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !applied {
		return nil, false, nil
	}

	s.logger.Info("purchase applied",
		zap.String("event_id", event.EventID),
		zap.String("pack_id", event.PackID),
		zap.Int64("credits", event.Credits),
	)
	return entry, true, nil
}

// resolvePurchaseAccount finds the account a purchase belongs to, creating
// one from the checkout email when no account exists yet.
func (s *Store) resolvePurchaseAccount(ctx context.Context, tx *sql.Tx, event *domain.PaymentEvent) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE email = ?`, event.CustomerEmail,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if event.CustomerEmail == "" {
		return "", &domain.ErrValidation{Field: "customer_email", Message: "payment event has no customer email and no known account"}
	}

	id = uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, subscription_status, is_active, created_at)
		 VALUES (?, ?, '', ?, 1, ?)`,
		id, event.CustomerEmail, domain.SubscriptionFree, time.Now().UTC(),
	)
	if err != nil {
		return "", err
	}
	s.logger.Info("account created from payment event",
		zap.String("account_id", id),
		zap.String("event_id", event.EventID),
	)
	return id, nil
}

// ListEntries returns the most recent ledger entries for an account.
func (s *Store) ListEntries(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		 WHERE account_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// GetEntry fetches a single ledger entry by id.
func (s *Store) GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: "ledger entry", ID: id}
		}
		return nil, err
	}
	return entry, nil
}

// SumCompletedDeltas returns the net of all completed and refunded entry
// deltas for an account. A refunded spend keeps its delta on the books;
// the refund entry cancels it, so the sum always equals the live balance.
func (s *Store) SumCompletedDeltas(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries
		 WHERE account_id = ? AND status IN (?, ?)`,
		accountID, domain.EntryCompleted, domain.EntryRefunded,
	).Scan(&sum)
	return sum, err
}

func insertEntry(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error {
	var externalID any
	if e.ExternalID != "" {
		externalID = e.ExternalID
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, account_id, kind, delta, description, status, story_id, external_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.Kind, e.Delta, e.Description, e.Status, e.StoryID, externalID, e.CreatedAt,
	)
	return err
}

func getEntryTx(ctx context.Context, tx *sql.Tx, id string) (*domain.LedgerEntry, error) {
	entry, err := scanEntry(tx.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: "ledger entry", ID: id}
		}
		return nil, err
	}
	return entry, nil
}

func getRefundForStoryTx(ctx context.Context, tx *sql.Tx, storyID string) (*domain.LedgerEntry, error) {
	entry, err := scanEntry(tx.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE story_id = ? AND kind = ?`,
		storyID, domain.EntryRefund))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: "refund entry for story", ID: storyID}
		}
		return nil, err
	}
	return entry, nil
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var externalID sql.NullString
	err := row.Scan(
		&e.ID, &e.AccountID, &e.Kind, &e.Delta, &e.Description, &e.Status,
		&e.StoryID, &externalID, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if externalID.Valid {
		e.ExternalID = externalID.String
	}
	return &e, nil
}
