package olx

import (
	"bytes"
	"encoding/json"
	"fmt"

	"listing_hunter/internal/domain"
)

// SearchResponse is the body of GET /search. Items are kept raw so one
// malformed item does not fail the whole page.
type SearchResponse struct {
	Data []json.RawMessage `json:"data"`
	Meta Meta              `json:"meta"`
}

type Meta struct {
	Total       int `json:"total"`
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
}

type Item struct {
	ID                   ItemID    `json:"id"`
	Title                string    `json:"title"`
	Price                *float64  `json:"price"`
	DiscountedPriceFloat *float64  `json:"discounted_price_float"`
	URL                  string    `json:"url"`
	Location             *Location `json:"location"`
	Images               []string  `json:"images"`
}

// ItemID accepts both numeric and string ids.
type ItemID string

func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ItemID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("id must be a string or number: %w", err)
		}
		*id = ItemID(n.String())
	}
	return nil
}

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// categoryQuery holds the fixed search parameters for one category.
type categoryQuery struct {
	CategoryID int
	Attr       string
}

var categoryQueries = map[domain.Category]categoryQuery{
	// 60-100 sqm, three rooms, flat
	domain.CategoryApartment: {CategoryID: 23, Attr: "3130322836302d313030293a3130372854726f736f62616e20283329293a37343032285374616e29"},
	// 61-100 sqm
	domain.CategoryHouse: {CategoryID: 24, Attr: "37322836312d31303029"},
}
