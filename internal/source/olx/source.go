package olx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"listing_hunter/internal/domain"
)

const (
	SourceID   = "olx"
	SourceName = "OLX.ba"

	listingURLPrefix = "https://olx.ba/artikal/"
)

// Config holds OLX source configuration.
type Config struct {
	BaseURL        string
	AccessToken    string
	Timeout        time.Duration
	Canton         int
	PriceFrom      int
	PriceTo        int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Source fetches listing pages from the OLX search API.
type Source struct {
	httpClient     *http.Client
	baseURL        string
	accessToken    string
	canton         int
	priceFrom      int
	priceTo        int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// New creates a new OLX source.
func New(cfg Config, logger *slog.Logger) *Source {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		accessToken:    cfg.AccessToken,
		canton:         cfg.Canton,
		priceFrom:      cfg.PriceFrom,
		priceTo:        cfg.PriceTo,
		maxAttempts:    maxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("source", SourceID),
	}
}

// ID returns the source identifier.
func (s *Source) ID() string {
	return SourceID
}

// Name returns human-readable name.
func (s *Source) Name() string {
	return SourceName
}

// FetchPage fetches one page (0-based) of the newest listings in a category.
func (s *Source) FetchPage(ctx context.Context, category domain.Category, page, pageSize int) (*domain.Page, error) {
	query, ok := categoryQueries[category]
	if !ok {
		return nil, fmt.Errorf("unsupported category %q", category)
	}

	resp, err := s.fetch(ctx, s.searchURL(query, page, pageSize))
	if err != nil {
		return nil, fmt.Errorf("fetch %s page %d: %w", category, page, err)
	}

	listings := s.transform(resp.Data, category)

	currentPage := resp.Meta.CurrentPage
	if currentPage == 0 {
		currentPage = page + 1
	}
	total := resp.Meta.Total
	if total == 0 {
		total = len(listings)
	}

	s.logger.Debug("fetched page",
		"category", category,
		"page", page,
		"listings", len(listings),
		"last_page", resp.Meta.LastPage,
	)

	return &domain.Page{
		Listings:    listings,
		TotalCount:  total,
		CurrentPage: currentPage,
		LastPage:    resp.Meta.LastPage,
	}, nil
}

func (s *Source) searchURL(q categoryQuery, page, pageSize int) string {
	params := url.Values{}
	params.Set("category_id", strconv.Itoa(q.CategoryID))
	params.Set("page", strconv.Itoa(page+1))
	params.Set("per_page", strconv.Itoa(pageSize))
	params.Set("attr", q.Attr)
	params.Set("attr_encoded", "1")
	params.Set("canton", strconv.Itoa(s.canton))
	params.Set("cities", "")
	params.Set("price_from", strconv.Itoa(s.priceFrom))
	params.Set("price_to", strconv.Itoa(s.priceTo))
	params.Set("sort_by", "date")
	params.Set("sort_order", "desc")

	return s.baseURL + "/search?" + params.Encode()
}

func (s *Source) fetch(ctx context.Context, url string) (*SearchResponse, error) {
	var resp *SearchResponse
	var err error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		resp, err = s.doRequest(ctx, url)
		if err == nil {
			return resp, nil
		}

		if attempt == s.maxAttempts {
			break
		}

		backoff := s.calculateBackoff(attempt)
		s.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", s.maxAttempts, err)
}

func (s *Source) doRequest(ctx context.Context, url string) (*SearchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ListingHunter/1.0")
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var apiResp SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &apiResp, nil
}

func (s *Source) calculateBackoff(attempt int) time.Duration {
	backoff := s.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	return backoff
}

func (s *Source) transform(raw []json.RawMessage, category domain.Category) []domain.Listing {
	listings := make([]domain.Listing, 0, len(raw))

	for i, data := range raw {
		var item Item
		if err := json.Unmarshal(data, &item); err != nil {
			s.logger.Warn("skipping malformed item", "category", category, "index", i, "error", err)
			continue
		}

		id := strings.TrimSpace(string(item.ID))
		if id == "" {
			s.logger.Warn("skipping item without id", "title", item.Title)
			continue
		}

		listing := domain.Listing{
			ID:       id,
			Title:    item.Title,
			URL:      item.URL,
			Images:   item.Images,
			Category: category,
		}

		if listing.Title == "" {
			listing.Title = "No title"
		}
		if listing.URL == "" {
			listing.URL = listingURLPrefix + id
		}

		switch {
		case item.Price != nil && *item.Price > 0:
			listing.Price = *item.Price
		case item.DiscountedPriceFloat != nil:
			listing.Price = *item.DiscountedPriceFloat
		}

		if item.Location != nil && item.Location.Lat != 0 && item.Location.Lon != 0 {
			loc := fmt.Sprintf("%.6f,%.6f", item.Location.Lat, item.Location.Lon)
			listing.Location = &loc
		}

		listings = append(listings, listing)
	}

	return listings
}
