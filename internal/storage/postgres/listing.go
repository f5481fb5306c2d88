package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"listing_hunter/internal/domain"
)

type listingRow struct {
	ID                  string          `db:"id"`
	Title               string          `db:"title"`
	Price               float64         `db:"price"`
	URL                 string          `db:"url"`
	Location            sql.NullString  `db:"location"`
	Images              pq.StringArray  `db:"images"`
	Category            sql.NullString  `db:"category"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
	LastSeen            time.Time       `db:"last_seen"`
	NotifiedAt          sql.NullTime    `db:"notified_at"`
	PriceAtNotification sql.NullFloat64 `db:"price_at_notification"`
}

func (r *listingRow) toDomain() domain.Listing {
	l := domain.Listing{
		ID:        r.ID,
		Title:     r.Title,
		Price:     r.Price,
		URL:       r.URL,
		Images:    []string(r.Images),
		Category:  domain.Category(r.Category.String),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		LastSeen:  r.LastSeen,
	}
	if r.Location.Valid {
		loc := r.Location.String
		l.Location = &loc
	}
	if r.NotifiedAt.Valid && r.PriceAtNotification.Valid {
		at := r.NotifiedAt.Time
		price := r.PriceAtNotification.Float64
		l.NotifiedAt = &at
		l.PriceAtNotification = &price
	}
	return l
}

const listingColumns = `id, title, price, url, location, images, category,
	created_at, updated_at, last_seen, notified_at, price_at_notification`

type ListingStore struct {
	db *sqlx.DB
}

func NewListingStore(db *sqlx.DB) *ListingStore {
	return &ListingStore{db: db}
}

// Upsert inserts a listing or refreshes its observed fields. Notification
// state is never written here.
func (s *ListingStore) Upsert(ctx context.Context, listing *domain.Listing) error {
	query := `
		INSERT INTO listings (id, title, price, url, location, images, category, created_at, updated_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			url = EXCLUDED.url,
			location = EXCLUDED.location,
			images = EXCLUDED.images,
			category = COALESCE(EXCLUDED.category, listings.category),
			updated_at = NOW(),
			last_seen = NOW()`

	images := listing.Images
	if images == nil {
		images = []string{}
	}

	var category sql.NullString
	if listing.Category.Valid() {
		category = sql.NullString{String: string(listing.Category), Valid: true}
	}

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		listing.ID,
		listing.Title,
		listing.Price,
		listing.URL,
		listing.Location,
		pq.StringArray(images),
		category,
	)
	if err != nil {
		return fmt.Errorf("upsert listing %s: %w", listing.ID, err)
	}
	return nil
}

func (s *ListingStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &exists,
		"SELECT EXISTS(SELECT 1 FROM listings WHERE id = $1)", id)
	return exists, err
}

func (s *ListingStore) Get(ctx context.Context, id string) (*domain.Listing, error) {
	var row listingRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row,
		"SELECT "+listingColumns+" FROM listings WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "listing", ID: id}
	}
	if err != nil {
		return nil, err
	}

	listing := row.toDomain()
	return &listing, nil
}

// MarkNotified records a delivered notification. Both fields are always written together.
func (s *ListingStore) MarkNotified(ctx context.Context, id string, price float64, notifiedAt time.Time) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"UPDATE listings SET notified_at = $2, price_at_notification = $3 WHERE id = $1",
		id, notifiedAt, price,
	)
	if err != nil {
		return fmt.Errorf("mark listing %s notified: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.NotFoundError{Entity: "listing", ID: id}
	}
	return nil
}

func (s *ListingStore) CountAll(ctx context.Context) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &count, "SELECT COUNT(*) FROM listings")
	return count, err
}

// PurgeOlderThan deletes listings created before createdBefore that have
// also not been updated since updatedBefore.
func (s *ListingStore) PurgeOlderThan(ctx context.Context, createdBefore, updatedBefore time.Time) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM listings WHERE created_at < $1 AND updated_at < $2",
		createdBefore, updatedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("purge listings: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAll removes every listing and returns how many were deleted.
func (s *ListingStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, "DELETE FROM listings")
	if err != nil {
		return 0, fmt.Errorf("delete listings: %w", err)
	}
	return res.RowsAffected()
}

// List returns listings newest first.
func (s *ListingStore) List(ctx context.Context, limit, offset int) ([]domain.Listing, error) {
	var rows []listingRow
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows,
		"SELECT "+listingColumns+" FROM listings ORDER BY created_at DESC, id LIMIT $1 OFFSET $2",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}

	listings := make([]domain.Listing, len(rows))
	for i := range rows {
		listings[i] = rows[i].toDomain()
	}
	return listings, nil
}
