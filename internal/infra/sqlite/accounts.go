package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
)

const accountColumns = `id, email, password_hash, full_name, credits_balance,
	total_credits_purchased, total_credits_spent, stripe_customer_id,
	subscription_status, subscription_end, is_active, created_at, last_login_at`

// CreateAccount inserts a new account with a zero balance.
func (s *Store) CreateAccount(ctx context.Context, email, passwordHash, fullName string) (*domain.Account, error) {
	acc := &domain.Account{
		ID:                 uuid.NewString(),
		Email:              strings.ToLower(strings.TrimSpace(email)),
		PasswordHash:       passwordHash,
		FullName:           fullName,
		SubscriptionStatus: domain.SubscriptionFree,
		IsActive:           true,
		CreatedAt:          time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, full_name, subscription_status, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?)`,
		acc.ID, acc.Email, acc.PasswordHash, acc.FullName, acc.SubscriptionStatus, acc.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &domain.ErrConflict{Message: "an account with this email already exists"}
		}
		return nil, err
	}
	return acc, nil
}

// GetAccountByID fetches an account by id.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id), "account", id)
}

// GetAccountByEmail fetches an account by email (case-insensitive).
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email), "account", email)
}

// UpdateLastLogin stamps the last successful login.
func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET last_login_at = ? WHERE id = ?`, at.UTC(), id)
	return err
}

// DeactivateAccount soft-deletes an account. Ledger history is kept.
func (s *Store) DeactivateAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "account", ID: id}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanAccount(row rowScanner, resource, id string) (*domain.Account, error) {
	var acc domain.Account
	var subEnd, lastLogin sql.NullTime
	var isActive int

	err := row.Scan(
		&acc.ID, &acc.Email, &acc.PasswordHash, &acc.FullName, &acc.CreditsBalance,
		&acc.TotalCreditsPurchased, &acc.TotalCreditsSpent, &acc.StripeCustomerID,
		&acc.SubscriptionStatus, &subEnd, &isActive, &acc.CreatedAt, &lastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: resource, ID: id}
	}
	if err != nil {
		return nil, err
	}

	acc.IsActive = isActive != 0
	if subEnd.Valid {
		t := subEnd.Time
		acc.SubscriptionEnd = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		acc.LastLoginAt = &t
	}
	return &acc, nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// modernc.org/sqlite surfaces these as plain errors carrying the SQLite
// message, so string matching is the portable check.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
