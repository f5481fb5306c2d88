package service

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"listing_hunter/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memoryListingStore mirrors the upsert semantics of the Postgres store:
// observed fields are refreshed, notification state is only touched by
// MarkNotified.
type memoryListingStore struct {
	mu   sync.Mutex
	rows map[string]domain.Listing
}

func newMemoryListingStore() *memoryListingStore {
	return &memoryListingStore{rows: make(map[string]domain.Listing)}
}

func (m *memoryListingStore) Upsert(_ context.Context, listing *domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	row, ok := m.rows[listing.ID]
	if !ok {
		row = domain.Listing{ID: listing.ID, CreatedAt: now}
	}
	row.Title = listing.Title
	row.Price = listing.Price
	row.URL = listing.URL
	row.Location = listing.Location
	row.Images = listing.Images
	if listing.Category != "" {
		row.Category = listing.Category
	}
	row.LastSeen = now
	row.UpdatedAt = now
	m.rows[listing.ID] = row
	return nil
}

func (m *memoryListingStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	return ok, nil
}

func (m *memoryListingStore) Get(_ context.Context, id string) (*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "listing", ID: id}
	}
	return &row, nil
}

func (m *memoryListingStore) MarkNotified(_ context.Context, id string, price float64, notifiedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return &domain.NotFoundError{Entity: "listing", ID: id}
	}
	row.NotifiedAt = &notifiedAt
	row.PriceAtNotification = &price
	m.rows[id] = row
	return nil
}

func (m *memoryListingStore) CountAll(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows), nil
}

func (m *memoryListingStore) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type sentMessage struct {
	chatID  string
	message string
}

// recordingMessenger records every send. A non-zero delay widens race windows.
type recordingMessenger struct {
	mu    sync.Mutex
	sent  []sentMessage
	delay time.Duration
	fail  map[string]bool
}

func (r *recordingMessenger) Send(_ context.Context, chatID, message string) domain.SendResult {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[chatID] {
		return domain.SendResult{Error: "blocked by user"}
	}
	r.sent = append(r.sent, sentMessage{chatID: chatID, message: message})
	return domain.SendResult{Success: true}
}

func (r *recordingMessenger) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

type staticRecipients []domain.Recipient

func (s staticRecipients) ListAll(context.Context) ([]domain.Recipient, error) {
	return s, nil
}

type staticFilters map[string][]domain.Filter

func (s staticFilters) GroupedByRecipient(context.Context) (map[string][]domain.Filter, error) {
	return s, nil
}

// pagedSource serves fixed pages per category, keyed by page number.
type pagedSource struct {
	mu    sync.Mutex
	pages map[domain.Category]map[int]*domain.Page
	calls int
}

func (p *pagedSource) FetchPage(_ context.Context, category domain.Category, page, _ int) (*domain.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if result, ok := p.pages[category][page]; ok {
		copied := *result
		copied.Listings = append([]domain.Listing(nil), result.Listings...)
		return &copied, nil
	}
	return &domain.Page{CurrentPage: page + 1, LastPage: page}, nil
}

func (p *pagedSource) set(category domain.Category, page int, result *domain.Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pages == nil {
		p.pages = make(map[domain.Category]map[int]*domain.Page)
	}
	if p.pages[category] == nil {
		p.pages[category] = make(map[int]*domain.Page)
	}
	p.pages[category][page] = result
}

func apartment(id string, price float64) domain.Listing {
	return domain.Listing{
		ID:       id,
		Title:    "Stan " + id,
		Price:    price,
		URL:      "https://olx.ba/artikal/" + id,
		Category: domain.CategoryApartment,
	}
}
