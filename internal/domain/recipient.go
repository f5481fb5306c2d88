package domain

import (
	"strings"
	"time"
)

// Recipient is a messaging target identified by its provider id (a Telegram chat id).
type Recipient struct {
	ID          string    `db:"id" json:"id"`
	DisplayName *string   `db:"display_name" json:"display_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Filter is an allow-list rule. Unset fields are wildcards.
type Filter struct {
	ID          int64     `db:"id" json:"id"`
	RecipientID string    `db:"recipient_id" json:"recipient_id"`
	MinPrice    *float64  `db:"min_price" json:"min_price"`
	MaxPrice    *float64  `db:"max_price" json:"max_price"`
	Location    *string   `db:"location" json:"location"`
	Category    *Category `db:"category" json:"category"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Matches reports whether every set field of the filter accepts the listing.
func (f *Filter) Matches(l *Listing) bool {
	if f.MinPrice != nil && l.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && l.Price > *f.MaxPrice {
		return false
	}

	// A listing without a location is not excluded by a location filter.
	if f.Location != nil && *f.Location != "" && l.Location != nil && *l.Location != "" {
		if !strings.Contains(strings.ToLower(*l.Location), strings.ToLower(*f.Location)) {
			return false
		}
	}

	if f.Category != nil && *f.Category != "" {
		if l.CategoryOrGuess() != *f.Category {
			return false
		}
	}

	return true
}

// Eligible reports whether a recipient with the given filters should get a
// new-listing notification. No filters means the recipient wants everything.
func Eligible(filters []Filter, l *Listing) bool {
	if len(filters) == 0 {
		return true
	}
	for i := range filters {
		if filters[i].Matches(l) {
			return true
		}
	}
	return false
}

// SendResult is the outcome of one message delivery attempt.
type SendResult struct {
	Success bool
	Error   string
}
