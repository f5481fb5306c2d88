package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"listing_hunter/internal/activity"
	"listing_hunter/internal/config"
	"listing_hunter/internal/domain"
	"listing_hunter/internal/messaging/telegram"
	"listing_hunter/internal/service"
)

const defaultTestMessage = "Test message from Listing Hunter. If you receive this, notifications are working."

type ListingStore interface {
	Get(ctx context.Context, id string) (*domain.Listing, error)
	List(ctx context.Context, limit, offset int) ([]domain.Listing, error)
	CountAll(ctx context.Context) (int, error)
	PurgeOlderThan(ctx context.Context, createdBefore, updatedBefore time.Time) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}

type RecipientStore interface {
	Get(ctx context.Context, id string) (*domain.Recipient, error)
	ListAll(ctx context.Context) ([]domain.Recipient, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
}

type FilterStore interface {
	Create(ctx context.Context, filter *domain.Filter) error
	ListByRecipient(ctx context.Context, recipientID string) ([]domain.Filter, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

type Messenger interface {
	Send(ctx context.Context, chatID, message string) domain.SendResult
	GetMe(ctx context.Context) (*telegram.BotInfo, error)
}

type Source interface {
	FetchPage(ctx context.Context, category domain.Category, page, pageSize int) (*domain.Page, error)
}

type SyncState interface {
	Status() domain.SyncStatus
	EnableNotifications(now time.Time)
}

type ActivityLog interface {
	Record(kind activity.Kind, message string, details map[string]any)
	Entries(limit int) []activity.Entry
	Clear()
	Count() int
}

type Handler struct {
	listings   ListingStore
	recipients RecipientStore
	filters    FilterStore
	messenger  Messenger
	source     Source
	state      SyncState
	activity   ActivityLog
	retention  config.RetentionConfig
	now        func() time.Time
}

func NewHandler(
	listings ListingStore,
	recipients RecipientStore,
	filters FilterStore,
	messenger Messenger,
	source Source,
	state SyncState,
	activityLog ActivityLog,
	retention config.RetentionConfig,
) *Handler {
	return &Handler{
		listings:   listings,
		recipients: recipients,
		filters:    filters,
		messenger:  messenger,
		source:     source,
		state:      state,
		activity:   activityLog,
		retention:  retention,
		now:        time.Now,
	}
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.POST("/status/enable-notifications", h.EnableNotifications)

	g.GET("/logs", h.Logs)
	g.DELETE("/logs", h.ClearLogs)

	g.GET("/listings", h.Listings)
	g.GET("/listings/:id", h.Listing)
	g.POST("/listings/purge", h.Purge)
	g.DELETE("/listings/flush", h.Flush)

	g.GET("/recipients", h.Recipients)
	g.DELETE("/recipients/:id", h.DeleteRecipient)

	g.POST("/filters", h.CreateFilter)
	g.GET("/filters/recipient/:id", h.RecipientFilters)
	g.DELETE("/filters/:id", h.DeleteFilter)

	g.GET("/telegram/bot-info", h.BotInfo)
	g.POST("/telegram/test", h.TestMessage)
	g.POST("/telegram/test-listing", h.TestListing)

	g.POST("/test/source", h.TestSource)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

type botStatus struct {
	Connected bool   `json:"connected"`
	Username  string `json:"username,omitempty"`
	Error     string `json:"error,omitempty"`
}

type statusResponse struct {
	domain.SyncStatus
	Listings   int       `json:"listings"`
	Recipients int       `json:"recipients"`
	Filters    int       `json:"filters"`
	LogEntries int       `json:"log_entries"`
	Bot        botStatus `json:"bot"`
}

func (h *Handler) Status(c echo.Context) error {
	ctx := c.Request().Context()

	listings, err := h.listings.CountAll(ctx)
	if err != nil {
		return mapError(err)
	}
	recipients, err := h.recipients.Count(ctx)
	if err != nil {
		return mapError(err)
	}
	filters, err := h.filters.Count(ctx)
	if err != nil {
		return mapError(err)
	}

	bot := botStatus{}
	if info, err := h.messenger.GetMe(ctx); err != nil {
		bot.Error = err.Error()
	} else {
		bot.Connected = true
		bot.Username = info.Username
	}

	return c.JSON(http.StatusOK, statusResponse{
		SyncStatus: h.state.Status(),
		Listings:   listings,
		Recipients: recipients,
		Filters:    filters,
		LogEntries: h.activity.Count(),
		Bot:        bot,
	})
}

func (h *Handler) EnableNotifications(c echo.Context) error {
	now := h.now().UTC()
	h.state.EnableNotifications(now)
	h.activity.Record(activity.KindInfo, "Real-time notifications enabled", map[string]any{"at": now})
	return c.JSON(http.StatusOK, h.state.Status())
}

func (h *Handler) Logs(c echo.Context) error {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.activity.Entries(limit))
}

func (h *Handler) ClearLogs(c echo.Context) error {
	h.activity.Clear()
	return c.NoContent(http.StatusNoContent)
}

type listingsResponse struct {
	Listings []domain.Listing `json:"listings"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
	Total    int              `json:"total"`
}

func (h *Handler) Listings(c echo.Context) error {
	ctx := c.Request().Context()

	page, err := queryInt(c, "page", 1)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return err
	}
	if page < 1 || limit < 1 || limit > 500 {
		return echo.NewHTTPError(http.StatusBadRequest, "page must be >= 1 and limit between 1 and 500")
	}

	listings, err := h.listings.List(ctx, limit, (page-1)*limit)
	if err != nil {
		return mapError(err)
	}
	total, err := h.listings.CountAll(ctx)
	if err != nil {
		return mapError(err)
	}
	if listings == nil {
		listings = []domain.Listing{}
	}

	return c.JSON(http.StatusOK, listingsResponse{Listings: listings, Page: page, Limit: limit, Total: total})
}

func (h *Handler) Listing(c echo.Context) error {
	listing, err := h.listings.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, listing)
}

// Purge removes rows created before the configured cutoff that have not been
// seen within the configured window.
func (h *Handler) Purge(c echo.Context) error {
	if h.retention.CreatedBefore.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "retention.created_before is not configured")
	}

	updatedBefore := h.now().Add(-h.retention.UpdatedWithin)
	removed, err := h.listings.PurgeOlderThan(c.Request().Context(), h.retention.CreatedBefore, updatedBefore)
	if err != nil {
		return mapError(err)
	}

	h.activity.Record(activity.KindInfo, "Purged old listings", map[string]any{
		"removed":        removed,
		"created_before": h.retention.CreatedBefore,
		"updated_before": updatedBefore,
	})
	return c.JSON(http.StatusOK, map[string]int64{"removed": removed})
}

// Flush deletes every stored listing. Notification state goes with the rows,
// so listings seen again afterwards count as new.
func (h *Handler) Flush(c echo.Context) error {
	removed, err := h.listings.DeleteAll(c.Request().Context())
	if err != nil {
		return mapError(err)
	}

	h.activity.Record(activity.KindInfo, fmt.Sprintf("Flushed %d listings", removed), map[string]any{"removed": removed})
	return c.JSON(http.StatusOK, map[string]int64{"removed": removed})
}

func (h *Handler) Recipients(c echo.Context) error {
	recipients, err := h.recipients.ListAll(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	if recipients == nil {
		recipients = []domain.Recipient{}
	}
	return c.JSON(http.StatusOK, recipients)
}

func (h *Handler) DeleteRecipient(c echo.Context) error {
	if err := h.recipients.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type createFilterRequest struct {
	RecipientID string   `json:"recipient_id"`
	MinPrice    *float64 `json:"min_price"`
	MaxPrice    *float64 `json:"max_price"`
	Location    *string  `json:"location"`
	Category    *string  `json:"category"`
}

func (h *Handler) CreateFilter(c echo.Context) error {
	var req createFilterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RecipientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient_id is required")
	}
	if req.MinPrice != nil && req.MaxPrice != nil && *req.MinPrice > *req.MaxPrice {
		return echo.NewHTTPError(http.StatusBadRequest, "min_price must not exceed max_price")
	}

	filter := &domain.Filter{
		RecipientID: req.RecipientID,
		MinPrice:    req.MinPrice,
		MaxPrice:    req.MaxPrice,
		Location:    req.Location,
	}
	if req.Category != nil && *req.Category != "" {
		category, err := domain.ParseCategory(*req.Category)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filter.Category = &category
	}

	if err := h.filters.Create(c.Request().Context(), filter); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, filter)
}

func (h *Handler) RecipientFilters(c echo.Context) error {
	filters, err := h.filters.ListByRecipient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	if filters == nil {
		filters = []domain.Filter{}
	}
	return c.JSON(http.StatusOK, filters)
}

func (h *Handler) DeleteFilter(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid filter id")
	}
	if err := h.filters.Delete(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) BotInfo(c echo.Context) error {
	info, err := h.messenger.GetMe(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, info)
}

type testMessageRequest struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

// TestMessage sends a plain message to one chat to check delivery.
func (h *Handler) TestMessage(c echo.Context) error {
	var req testMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ChatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}
	if req.Message == "" {
		req.Message = defaultTestMessage
	}

	return h.sendTest(c, req.ChatID, req.Message, nil)
}

// TestListing sends the newest stored listing, formatted as a real alert, to a
// registered recipient. Notification state is not touched.
func (h *Handler) TestListing(c echo.Context) error {
	ctx := c.Request().Context()

	var req testMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ChatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}

	if _, err := h.recipients.Get(ctx, req.ChatID); err != nil {
		return mapError(err)
	}

	newest, err := h.listings.List(ctx, 1, 0)
	if err != nil {
		return mapError(err)
	}
	if len(newest) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no listings stored yet")
	}

	listing := newest[0]
	return h.sendTest(c, req.ChatID, service.FormatNewListing(&listing), map[string]any{"listing_id": listing.ID})
}

func (h *Handler) sendTest(c echo.Context, chatID, message string, extra map[string]any) error {
	result := h.messenger.Send(c.Request().Context(), chatID, message)
	if !result.Success {
		return echo.NewHTTPError(http.StatusBadGateway, result.Error)
	}

	resp := map[string]any{"sent": true, "chat_id": chatID}
	for k, v := range extra {
		resp[k] = v
	}
	return c.JSON(http.StatusOK, resp)
}

type testSourceRequest struct {
	Category string `json:"category"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// TestSource fetches one page from the listing source without storing it.
func (h *Handler) TestSource(c echo.Context) error {
	req := testSourceRequest{Category: string(domain.CategoryApartment), PageSize: 10}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	category, err := domain.ParseCategory(req.Category)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Page < 0 || req.PageSize < 1 || req.PageSize > 100 {
		return echo.NewHTTPError(http.StatusBadRequest, "page must be >= 0 and page_size between 1 and 100")
	}

	page, err := h.source.FetchPage(c.Request().Context(), category, req.Page, req.PageSize)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusOK, page)
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}

// mapError converts a store error into an echo.HTTPError.
func mapError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
