package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"listing_hunter/internal/domain"
)

type RecipientStore struct {
	db        *sqlx.DB
	txManager *TransactionManager
}

func NewRecipientStore(db *sqlx.DB, txManager *TransactionManager) *RecipientStore {
	return &RecipientStore{db: db, txManager: txManager}
}

// Upsert registers a recipient or updates its display name.
func (s *RecipientStore) Upsert(ctx context.Context, recipient *domain.Recipient) error {
	query := `
		INSERT INTO recipients (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, recipient.ID, recipient.DisplayName)
	if err != nil {
		return fmt.Errorf("upsert recipient %s: %w", recipient.ID, err)
	}
	return nil
}

func (s *RecipientStore) Get(ctx context.Context, id string) (*domain.Recipient, error) {
	var recipient domain.Recipient
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &recipient,
		"SELECT id, display_name, created_at FROM recipients WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "recipient", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &recipient, nil
}

func (s *RecipientStore) ListAll(ctx context.Context) ([]domain.Recipient, error) {
	var recipients []domain.Recipient
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &recipients,
		"SELECT id, display_name, created_at FROM recipients ORDER BY created_at, id")
	return recipients, err
}

func (s *RecipientStore) Count(ctx context.Context) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &count, "SELECT COUNT(*) FROM recipients")
	return count, err
}

// Delete removes a recipient together with its filters.
func (s *RecipientStore) Delete(ctx context.Context, id string) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		exec := GetExecutor(txCtx, s.db)

		if _, err := exec.ExecContext(txCtx, "DELETE FROM recipient_filters WHERE recipient_id = $1", id); err != nil {
			return fmt.Errorf("delete filters: %w", err)
		}

		res, err := exec.ExecContext(txCtx, "DELETE FROM recipients WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("delete recipient: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &domain.NotFoundError{Entity: "recipient", ID: id}
		}
		return nil
	})
}
