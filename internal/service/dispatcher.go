package service

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"listing_hunter/internal/activity"
	"listing_hunter/internal/domain"
	"listing_hunter/internal/metrics"
)

// markTimeout bounds the notification write, which outlives cancellation of
// the dispatch once any message has gone out.
const markTimeout = 5 * time.Second

type notificationKind string

const (
	kindNewListing notificationKind = "new_listing"
	kindPriceDrop  notificationKind = "price_drop"
	kindSkipped    notificationKind = "skipped"
)

type dispatchResult struct {
	kind   notificationKind
	sent   int
	failed int
}

// Dispatcher turns notify-worthy listings into messages. The notification
// read-send-write for one listing id runs at most once at a time; callers that
// arrive while it is in flight share its result instead of sending again.
type Dispatcher struct {
	listings   ListingStore
	recipients RecipientStore
	filters    FilterStore
	messenger  Messenger
	activity   ActivityRecorder
	state      *State
	logger     *slog.Logger
	now        func() time.Time

	inflight singleflight.Group
}

func NewDispatcher(
	listings ListingStore,
	recipients RecipientStore,
	filters FilterStore,
	messenger Messenger,
	activity ActivityRecorder,
	state *State,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		listings:   listings,
		recipients: recipients,
		filters:    filters,
		messenger:  messenger,
		activity:   activity,
		state:      state,
		logger:     logger.With("component", "dispatcher"),
		now:        time.Now,
	}
}

// Dispatch notifies recipients about the given listings. Per-listing and
// per-recipient failures are logged and counted; only a failure to resolve
// recipients is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, listings []domain.Listing) (*domain.DispatchStats, error) {
	stats := &domain.DispatchStats{}

	if !d.state.NotificationsEnabled() {
		stats.Skipped = len(listings)
		d.logger.Debug("notifications disabled, dropping batch", "listings", len(listings))
		return stats, nil
	}
	if len(listings) == 0 {
		return stats, nil
	}

	recipients, err := d.recipients.ListAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("list recipients: %w", err)
	}

	filters, err := d.filters.GroupedByRecipient(ctx)
	if err != nil {
		return stats, fmt.Errorf("load filters: %w", err)
	}

	for i := range listings {
		if ctx.Err() != nil {
			stats.Skipped += len(listings) - i
			d.logger.Warn("dispatch interrupted", "remaining", len(listings)-i, "error", ctx.Err())
			break
		}
		id := listings[i].ID

		executed := false
		v, err, _ := d.inflight.Do(id, func() (any, error) {
			executed = true
			return d.dispatchOne(ctx, id, recipients, filters)
		})
		if err != nil {
			stats.Failed++
			d.logger.Error("dispatch failed", "id", id, "error", err)
			d.activity.Record(activity.KindError,
				fmt.Sprintf("Failed to notify about listing %s", id),
				map[string]any{"listing_id": id, "error": err.Error()},
			)
			continue
		}

		// A concurrent caller already handled this listing.
		if !executed {
			stats.Skipped++
			continue
		}

		result := v.(dispatchResult)
		switch result.kind {
		case kindNewListing:
			stats.NewListings++
		case kindPriceDrop:
			stats.PriceDrops++
		default:
			stats.Skipped++
		}
		stats.Sent += result.sent
		stats.SendFailures += result.failed
	}

	if stats.NewListings+stats.PriceDrops > 0 {
		d.activity.Record(activity.KindNotification,
			fmt.Sprintf("Sent %d notifications for %d new listings and %d price drops",
				stats.Sent, stats.NewListings, stats.PriceDrops),
			map[string]any{
				"new_listings":  stats.NewListings,
				"price_drops":   stats.PriceDrops,
				"sent":          stats.Sent,
				"send_failures": stats.SendFailures,
				"recipients":    len(recipients),
			},
		)
	}

	d.logger.Info("dispatch completed",
		"new_listings", stats.NewListings,
		"price_drops", stats.PriceDrops,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"sent", stats.Sent,
		"send_failures", stats.SendFailures,
	)

	return stats, nil
}

// dispatchOne decides against the stored state, not the caller's snapshot,
// so a listing another run already notified is skipped.
func (d *Dispatcher) dispatchOne(
	ctx context.Context,
	id string,
	recipients []domain.Recipient,
	filters map[string][]domain.Filter,
) (dispatchResult, error) {
	current, err := d.listings.Get(ctx, id)
	if err != nil {
		return dispatchResult{}, fmt.Errorf("reload listing %s: %w", id, err)
	}

	var (
		kind    notificationKind
		targets []domain.Recipient
		message string
	)

	switch {
	case current.NotifiedAt == nil || current.PriceAtNotification == nil:
		kind = kindNewListing
		message = FormatNewListing(current)
		for _, r := range recipients {
			if domain.Eligible(filters[r.ID], current) {
				targets = append(targets, r)
			}
		}
	case current.Price < *current.PriceAtNotification:
		// Price drops go to everyone regardless of filters.
		kind = kindPriceDrop
		message = FormatPriceDrop(current, *current.PriceAtNotification)
		targets = recipients
	default:
		return dispatchResult{kind: kindSkipped}, nil
	}

	result := dispatchResult{kind: kind}
	attempted := 0
	for _, r := range targets {
		if ctx.Err() != nil {
			break
		}
		attempted++
		res := d.messenger.Send(ctx, r.ID, message)
		metrics.RecordNotification(string(kind), res.Success)
		if !res.Success {
			result.failed++
			d.logger.Warn("failed to deliver notification",
				"id", id,
				"recipient", r.ID,
				"kind", kind,
				"error", res.Error,
			)
			continue
		}
		result.sent++
	}

	if attempted == 0 && ctx.Err() != nil {
		return result, fmt.Errorf("notify listing %s: %w", id, ctx.Err())
	}
	if attempted < len(targets) {
		d.logger.Warn("dispatch cancelled mid-listing, marking notified anyway",
			"id", id,
			"attempted", attempted,
			"recipients", len(targets),
		)
	}

	// Once a message may have been delivered the listing must be marked, even
	// if the dispatch context is gone.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	if err := d.listings.MarkNotified(markCtx, id, current.Price, d.now()); err != nil {
		return result, fmt.Errorf("mark listing %s notified: %w", id, err)
	}

	d.logger.Debug("listing notified",
		"id", id,
		"kind", kind,
		"price", current.Price,
		"recipients", len(targets),
	)

	return result, nil
}

// FormatNewListing renders the HTML message announcing a listing.
func FormatNewListing(l *domain.Listing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>New %s</b> - %s KM\n", categoryLabel(l), formatPrice(l.Price))
	writeListingBody(&b, l)
	return b.String()
}

// FormatPriceDrop renders the HTML message announcing a lower price.
func FormatPriceDrop(l *domain.Listing, previous float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Price reduced</b> (%s) - from %s to %s KM\n",
		categoryLabel(l), formatPrice(previous), formatPrice(l.Price))
	writeListingBody(&b, l)
	return b.String()
}

func writeListingBody(b *strings.Builder, l *domain.Listing) {
	b.WriteString(html.EscapeString(l.Title))
	b.WriteString("\n")
	if l.Location != nil && *l.Location != "" {
		b.WriteString(html.EscapeString(*l.Location))
		b.WriteString("\n")
	}
	url := html.EscapeString(l.URL)
	fmt.Fprintf(b, `<a href="%s">%s</a>`, url, url)
}

func categoryLabel(l *domain.Listing) string {
	if c := l.CategoryOrGuess(); c != "" {
		return c.String()
	}
	return "listing"
}

var pricePrinter = message.NewPrinter(language.English)

// formatPrice renders a whole-unit price with thousands separators.
func formatPrice(price float64) string {
	return pricePrinter.Sprintf("%d", int64(math.Round(price)))
}
