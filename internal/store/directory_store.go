package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nhle/reminders/internal/model"
)

// notFound maps sql.ErrNoRows onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// AccountEmail returns the account holder's address.
func (s *SQLStore) AccountEmail(ctx context.Context, accountID string) (string, error) {
	var email string
	err := s.db.GetContext(ctx, &email,
		s.db.Rebind("SELECT email FROM accounts WHERE id = ?"), accountID)
	if err != nil {
		return "", fmt.Errorf("getting account %s: %w", accountID, notFound(err))
	}
	return email, nil
}

// DelegateByID looks up a delegate scoped to its owning account.
func (s *SQLStore) DelegateByID(
	ctx context.Context,
	accountID, delegateID string,
) (*model.Delegate, error) {
	var d model.Delegate
	err := s.db.GetContext(ctx, &d, s.db.Rebind(`
		SELECT id, account_id, email, display_name
		FROM delegates WHERE account_id = ? AND id = ?`),
		accountID, delegateID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting delegate %s: %w", delegateID, notFound(err))
	}
	return &d, nil
}

// DelegateByEmail looks up a delegate by normalized email within an account.
func (s *SQLStore) DelegateByEmail(
	ctx context.Context,
	accountID, email string,
) (*model.Delegate, error) {
	var d model.Delegate
	err := s.db.GetContext(ctx, &d, s.db.Rebind(`
		SELECT id, account_id, email, display_name
		FROM delegates WHERE account_id = ? AND LOWER(TRIM(email)) = ?`),
		accountID, model.NormalizeEmail(email),
	)
	if err != nil {
		return nil, fmt.Errorf("getting delegate %s: %w", email, notFound(err))
	}
	return &d, nil
}

// CreateAccount inserts an account. Generates a UUID if ID is empty.
func (s *SQLStore) CreateAccount(ctx context.Context, a model.Account) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO accounts (id, email, display_name) VALUES (?, ?, ?)"),
		a.ID, strings.TrimSpace(a.Email), a.DisplayName,
	)
	if err != nil {
		return "", fmt.Errorf("creating account: %w", err)
	}
	return a.ID, nil
}

// CreateDelegate inserts a delegate under its account. The email is stored
// normalized. Generates a UUID if ID is empty.
func (s *SQLStore) CreateDelegate(ctx context.Context, d model.Delegate) (string, error) {
	if model.NormalizeEmail(d.Email) == "" {
		return "", fmt.Errorf("delegate email must not be empty")
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO delegates (id, account_id, email, display_name) VALUES (?, ?, ?, ?)"),
		d.ID, d.AccountID, model.NormalizeEmail(d.Email), d.DisplayName,
	)
	if err != nil {
		return "", fmt.Errorf("creating delegate: %w", err)
	}
	return d.ID, nil
}
