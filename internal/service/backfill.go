package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"listing_hunter/internal/activity"
	"listing_hunter/internal/config"
	"listing_hunter/internal/domain"
	"listing_hunter/internal/metrics"
)

// BackfillService walks older result pages one page per category per run so
// the local catalog eventually covers everything the source lists. It never
// notifies.
type BackfillService struct {
	source   Source
	listings ListingStore
	activity ActivityRecorder
	state    *State
	logger   *slog.Logger
	config   config.SyncConfig
	now      func() time.Time
}

func NewBackfillService(
	source Source,
	listings ListingStore,
	activity ActivityRecorder,
	state *State,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *BackfillService {
	return &BackfillService{
		source:   source,
		listings: listings,
		activity: activity,
		state:    state,
		logger:   logger.With("component", "backfill"),
		config:   cfg,
		now:      time.Now,
	}
}

// Run processes one page for every configured category in order. A failing
// category does not stop the others; the joined error is returned for logging.
func (s *BackfillService) Run(ctx context.Context) error {
	startTime := time.Now()

	var errs []error
	for _, category := range s.config.Categories {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		stats, err := s.RunCategory(ctx, category)
		if err != nil {
			s.logger.Error("backfill failed", "category", category, "error", err)
			errs = append(errs, err)
			continue
		}

		s.logger.Info("backfill page processed",
			"category", category,
			"page", stats.Page,
			"fetched", stats.Fetched,
			"new", stats.New,
			"updated", stats.Updated,
			"offset", stats.Offset,
			"wrapped", stats.Wrapped,
		)
	}

	s.state.MarkBackfill(s.now())

	err := errors.Join(errs...)
	metrics.RecordCycle("backfill", err, time.Since(startTime).Seconds())
	return err
}

// RunCategory fetches the page at the current cursor, upserts it and advances
// the cursor by the number of listings stored. The cursor is left untouched on
// any failure so the same page is retried next run.
func (s *BackfillService) RunCategory(ctx context.Context, category domain.Category) (*domain.BackfillStats, error) {
	offset := s.state.Offset(category)
	pageNum := offset / s.config.PageSize

	stats := &domain.BackfillStats{
		Category: category,
		Page:     pageNum,
		Offset:   offset,
	}

	page, err := s.source.FetchPage(ctx, category, pageNum, s.config.PageSize)
	if err != nil {
		metrics.RecordFetchError("backfill", category.String())
		s.activity.Record(activity.KindError,
			fmt.Sprintf("Backfill fetch failed for %s", category.Plural()),
			map[string]any{"category": category, "page": pageNum, "error": err.Error()},
		)
		return stats, fmt.Errorf("fetch %s page %d: %w", category, pageNum, err)
	}

	stats.Fetched = len(page.Listings)

	if len(page.Listings) == 0 {
		if page.IsLast() {
			s.state.Reset(category)
			stats.Offset = 0
			stats.Wrapped = true
			s.logger.Info("backfill reached the end, starting over", "category", category)
		}
		return stats, nil
	}

	for i := range page.Listings {
		listing := &page.Listings[i]

		exists, err := s.listings.Exists(ctx, listing.ID)
		if err != nil {
			return stats, fmt.Errorf("check listing %s: %w", listing.ID, err)
		}

		if err := s.listings.Upsert(ctx, listing); err != nil {
			return stats, fmt.Errorf("upsert listing %s: %w", listing.ID, err)
		}

		if exists {
			stats.Updated++
		} else {
			stats.New++
		}
	}

	stats.Offset = s.state.Advance(category, len(page.Listings))

	if stats.New > 0 {
		s.activity.Record(activity.KindFetch,
			fmt.Sprintf("Backfill added %d new %s", stats.New, category.Plural()),
			map[string]any{
				"category": category,
				"page":     pageNum,
				"new":      stats.New,
				"updated":  stats.Updated,
				"offset":   stats.Offset,
			},
		)
	}

	return stats, nil
}
