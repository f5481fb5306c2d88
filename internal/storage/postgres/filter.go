package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"listing_hunter/internal/domain"
)

const filterColumns = "id, recipient_id, min_price, max_price, location, category, created_at"

type FilterStore struct {
	db *sqlx.DB
}

func NewFilterStore(db *sqlx.DB) *FilterStore {
	return &FilterStore{db: db}
}

// Create stores a filter and fills in its id and creation time.
func (s *FilterStore) Create(ctx context.Context, filter *domain.Filter) error {
	query := `
		INSERT INTO recipient_filters (recipient_id, min_price, max_price, location, category)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		filter.RecipientID,
		filter.MinPrice,
		filter.MaxPrice,
		filter.Location,
		filter.Category,
	).Scan(&filter.ID, &filter.CreatedAt)
	if isForeignKeyViolation(err) {
		return &domain.NotFoundError{Entity: "recipient", ID: filter.RecipientID}
	}
	if err != nil {
		return fmt.Errorf("create filter for %s: %w", filter.RecipientID, err)
	}
	return nil
}

func (s *FilterStore) ListByRecipient(ctx context.Context, recipientID string) ([]domain.Filter, error) {
	var filters []domain.Filter
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &filters,
		"SELECT "+filterColumns+" FROM recipient_filters WHERE recipient_id = $1 ORDER BY created_at DESC, id DESC",
		recipientID,
	)
	return filters, err
}

// GroupedByRecipient returns every filter keyed by recipient id.
func (s *FilterStore) GroupedByRecipient(ctx context.Context) (map[string][]domain.Filter, error) {
	var filters []domain.Filter
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &filters,
		"SELECT "+filterColumns+" FROM recipient_filters ORDER BY recipient_id, id")
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]domain.Filter)
	for _, f := range filters {
		grouped[f.RecipientID] = append(grouped[f.RecipientID], f)
	}
	return grouped, nil
}

func (s *FilterStore) Delete(ctx context.Context, id int64) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, "DELETE FROM recipient_filters WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete filter %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.NotFoundError{Entity: "filter", ID: strconv.FormatInt(id, 10)}
	}
	return nil
}

func (s *FilterStore) Count(ctx context.Context) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &count, "SELECT COUNT(*) FROM recipient_filters")
	return count, err
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
