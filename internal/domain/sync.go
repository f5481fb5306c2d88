package domain

import "time"

// BackfillStats holds the outcome of one backfill pass over a category.
type BackfillStats struct {
	Category Category
	Page     int
	Fetched  int
	New      int
	Updated  int
	Offset   int
	Wrapped  bool
}

// DetectionStats holds the outcome of one change-detection pass over a category.
type DetectionStats struct {
	Category     Category
	Total        int
	New          int
	PriceDropped int
	Unchanged    int
	Errors       int
	Dispatched   bool
}

// DispatchStats summarises one notification batch.
type DispatchStats struct {
	NewListings  int
	PriceDrops   int
	Skipped      int
	Failed       int
	Sent         int
	SendFailures int
}

// SyncStatus is a point-in-time view of the scheduler-owned state.
type SyncStatus struct {
	Offsets                map[Category]int `json:"offsets"`
	LastBackfillAt         *time.Time       `json:"last_backfill_at"`
	LastCheckAt            *time.Time       `json:"last_check_at"`
	NotificationsEnabledAt *time.Time       `json:"notifications_enabled_at"`
	NotificationsEnabled   bool             `json:"notifications_enabled"`
}
