package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"listing_hunter/internal/activity"
	"listing_hunter/internal/domain"
)

type ListingStore interface {
	Upsert(ctx context.Context, listing *domain.Listing) error
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*domain.Listing, error)
	MarkNotified(ctx context.Context, id string, price float64, notifiedAt time.Time) error
	CountAll(ctx context.Context) (int, error)
}

type RecipientStore interface {
	ListAll(ctx context.Context) ([]domain.Recipient, error)
}

type FilterStore interface {
	GroupedByRecipient(ctx context.Context) (map[string][]domain.Filter, error)
}

type Source interface {
	FetchPage(ctx context.Context, category domain.Category, page, pageSize int) (*domain.Page, error)
}

type Messenger interface {
	Send(ctx context.Context, chatID, message string) domain.SendResult
}

type ActivityRecorder interface {
	Record(kind activity.Kind, message string, details map[string]any)
}

type Notifier interface {
	Dispatch(ctx context.Context, listings []domain.Listing) (*domain.DispatchStats, error)
}
