package domain

import (
	"fmt"
	"strings"
	"time"
)

// Category is the closed set of listing kinds the service tracks.
type Category string

const (
	CategoryApartment Category = "apartment"
	CategoryHouse     Category = "house"
)

// Categories lists every known category in processing order.
var Categories = []Category{CategoryApartment, CategoryHouse}

func (c Category) Valid() bool {
	return c == CategoryApartment || c == CategoryHouse
}

func (c Category) String() string {
	return string(c)
}

// Plural is used in human-readable activity messages.
func (c Category) Plural() string {
	switch c {
	case CategoryApartment:
		return "apartments"
	case CategoryHouse:
		return "houses"
	default:
		return "listings"
	}
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

type Listing struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Price     float64   `json:"price"`
	URL       string    `json:"url"`
	Location  *string   `json:"location"`
	Images    []string  `json:"images"`
	Category  Category  `json:"category"` // empty for legacy rows stored before categories were tracked
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
	UpdatedAt time.Time `json:"updated_at"`

	// Set together by the dispatcher, never by an upsert.
	NotifiedAt          *time.Time `json:"notified_at"`
	PriceAtNotification *float64   `json:"price_at_notification"`
}

func (l *Listing) Notified() bool {
	return l.NotifiedAt != nil && l.PriceAtNotification != nil
}

// CategoryOrGuess returns the stored category, falling back to title
// matching for legacy rows without one.
func (l *Listing) CategoryOrGuess() Category {
	if l.Category.Valid() {
		return l.Category
	}

	title := strings.ToLower(l.Title)
	switch {
	case strings.Contains(title, "kuća"), strings.Contains(title, "kuca"), strings.Contains(title, "house"):
		return CategoryHouse
	case strings.Contains(title, "stan"), strings.Contains(title, "apartment"):
		return CategoryApartment
	}
	return ""
}

// Page is one page of results from the listing source.
type Page struct {
	Listings    []Listing `json:"listings"`
	TotalCount  int       `json:"total_count"`
	CurrentPage int       `json:"current_page"` // 1-based, as reported upstream
	LastPage    int       `json:"last_page"`    // 1-based, 0 when unknown
}

// IsLast reports whether the upstream says there is nothing after this page.
func (p *Page) IsLast() bool {
	return p.LastPage > 0 && p.CurrentPage >= p.LastPage
}
