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

type outcome string

const (
	outcomeNew       outcome = "new"
	outcomeLegacy    outcome = "legacy"
	outcomePriceDrop outcome = "price_drop"
	outcomeUnchanged outcome = "unchanged"
)

func (o outcome) notifyWorthy() bool {
	return o != outcomeUnchanged
}

// DetectionService re-reads the first result page of every category, keeps
// the stored listings fresh and hands new listings and price drops to the
// notifier once notifications are enabled.
type DetectionService struct {
	source   Source
	listings ListingStore
	notifier Notifier
	activity ActivityRecorder
	state    *State
	logger   *slog.Logger
	config   config.SyncConfig
	now      func() time.Time
}

func NewDetectionService(
	source Source,
	listings ListingStore,
	notifier Notifier,
	activity ActivityRecorder,
	state *State,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *DetectionService {
	return &DetectionService{
		source:   source,
		listings: listings,
		notifier: notifier,
		activity: activity,
		state:    state,
		logger:   logger.With("component", "detection"),
		config:   cfg,
		now:      time.Now,
	}
}

func (s *DetectionService) Run(ctx context.Context) error {
	startTime := time.Now()

	var errs []error
	for _, category := range s.config.Categories {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		stats, err := s.RunCategory(ctx, category)
		if err != nil {
			s.logger.Error("detection failed", "category", category, "error", err)
			errs = append(errs, err)
			continue
		}

		s.logger.Info("detection completed",
			"category", category,
			"total", stats.Total,
			"new", stats.New,
			"price_dropped", stats.PriceDropped,
			"unchanged", stats.Unchanged,
			"errors", stats.Errors,
			"dispatched", stats.Dispatched,
		)
	}

	s.state.MarkCheck(s.now())

	err := errors.Join(errs...)
	metrics.RecordCycle("detection", err, time.Since(startTime).Seconds())
	return err
}

// RunCategory classifies every listing on the first page against its stored
// state, upserts all of them and dispatches the notify-worthy ones.
func (s *DetectionService) RunCategory(ctx context.Context, category domain.Category) (*domain.DetectionStats, error) {
	stats := &domain.DetectionStats{Category: category}

	page, err := s.source.FetchPage(ctx, category, 0, s.config.PageSize)
	if err != nil {
		metrics.RecordFetchError("detection", category.String())
		s.activity.Record(activity.KindError,
			fmt.Sprintf("Failed to check %s", category.Plural()),
			map[string]any{"category": category, "error": err.Error()},
		)
		s.recordSummary(ctx, stats, map[string]any{"fetch_error": err.Error()})
		return stats, fmt.Errorf("fetch %s first page: %w", category, err)
	}

	stats.Total = len(page.Listings)
	legacy := 0

	var notifyWorthy []domain.Listing
	for i := range page.Listings {
		listing := &page.Listings[i]

		result, err := s.classify(ctx, listing)
		if err != nil {
			// Still refresh the row; the listing is reconsidered next cycle.
			s.logger.Warn("failed to classify listing", "id", listing.ID, "error", err)
			stats.Errors++
		}

		if err := s.listings.Upsert(ctx, listing); err != nil {
			s.logger.Warn("failed to upsert listing", "id", listing.ID, "error", err)
			stats.Errors++
			continue
		}

		if result == "" {
			continue
		}

		switch result {
		case outcomeNew:
			stats.New++
		case outcomeLegacy:
			stats.New++
			legacy++
		case outcomePriceDrop:
			stats.PriceDropped++
		case outcomeUnchanged:
			stats.Unchanged++
		}

		if result.notifyWorthy() {
			notifyWorthy = append(notifyWorthy, *listing)
		}
	}

	s.recordClassified(stats, legacy)

	s.recordSummary(ctx, stats, nil)

	if len(notifyWorthy) == 0 {
		return stats, nil
	}

	if !s.state.NotificationsEnabled() {
		s.logger.Info("notifications not enabled yet, skipping dispatch",
			"category", category,
			"notify_worthy", len(notifyWorthy),
		)
		return stats, nil
	}

	if _, err := s.notifier.Dispatch(ctx, notifyWorthy); err != nil {
		s.activity.Record(activity.KindError,
			fmt.Sprintf("Failed to dispatch notifications for %s", category.Plural()),
			map[string]any{"category": category, "error": err.Error()},
		)
		return stats, fmt.Errorf("dispatch %s: %w", category, err)
	}
	stats.Dispatched = true

	return stats, nil
}

// recordSummary emits the per-category fetch entry. It is recorded for every
// check, including one whose fetch failed.
func (s *DetectionService) recordSummary(ctx context.Context, stats *domain.DetectionStats, extra map[string]any) {
	details := map[string]any{
		"category":      stats.Category,
		"total":         stats.Total,
		"new":           stats.New,
		"price_dropped": stats.PriceDropped,
		"unchanged":     stats.Unchanged,
	}
	for k, v := range extra {
		details[k] = v
	}
	if count, err := s.listings.CountAll(ctx); err == nil {
		details["total_in_db"] = count
	} else {
		s.logger.Warn("failed to count listings", "error", err)
	}

	s.activity.Record(activity.KindFetch,
		fmt.Sprintf("Checked %d %s: %d new, %d price drops",
			stats.Total, stats.Category.Plural(), stats.New, stats.PriceDropped),
		details,
	)
}

// classify compares a fetched listing with what is stored. It must run before
// the upsert of the same listing.
func (s *DetectionService) classify(ctx context.Context, fetched *domain.Listing) (outcome, error) {
	stored, err := s.listings.Get(ctx, fetched.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return outcomeNew, nil
	}
	if err != nil {
		return "", fmt.Errorf("load listing %s: %w", fetched.ID, err)
	}

	switch {
	case stored.NotifiedAt == nil || stored.PriceAtNotification == nil:
		return outcomeLegacy, nil
	case fetched.Price < *stored.PriceAtNotification:
		return outcomePriceDrop, nil
	default:
		return outcomeUnchanged, nil
	}
}

func (s *DetectionService) recordClassified(stats *domain.DetectionStats, legacy int) {
	category := stats.Category.String()
	metrics.RecordClassified(category, string(outcomeNew), stats.New-legacy)
	metrics.RecordClassified(category, string(outcomeLegacy), legacy)
	metrics.RecordClassified(category, string(outcomePriceDrop), stats.PriceDropped)
	metrics.RecordClassified(category, string(outcomeUnchanged), stats.Unchanged)
}
