package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-slot-reservation/internal/repository"
	"github.com/iliyamo/event-slot-reservation/internal/stock"
)

// BrowseHandler serves the public read-only views: event details and
// slot listings with live remaining stock.  These numbers come from the
// display read path and may lag concurrent writers; they are never used
// for admission decisions.
type BrowseHandler struct {
	Events *repository.EventRepo
	Slots  *repository.SlotRepo
	Stock  *stock.Store
}

// NewBrowseHandler constructs a BrowseHandler.
func NewBrowseHandler(events *repository.EventRepo, slots *repository.SlotRepo, st *stock.Store) *BrowseHandler {
	if events == nil || slots == nil || st == nil {
		panic("nil dependency passed to NewBrowseHandler")
	}
	return &BrowseHandler{Events: events, Slots: slots, Stock: st}
}

// GetEvent handles GET /v1/events/:id.
func (h *BrowseHandler) GetEvent(c echo.Context) error {
	eventID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	e, err := h.Events.GetByID(c.Request().Context(), eventID)
	if err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load event"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":        e.ID,
		"name":      e.Name,
		"opens_at":  e.OpensAt.UTC().Format(time.RFC3339),
		"closes_at": e.ClosesAt.UTC().Format(time.RFC3339),
		"open":      e.WindowOpen(time.Now().UTC()),
	})
}

// ListSlots handles GET /v1/events/:id/slots.  Remaining stock is read
// from Redis; when the counter is unavailable the response falls back
// to the durable mirror and marks the number stale so clients can
// render it accordingly.
func (h *BrowseHandler) ListSlots(c echo.Context) error {
	eventID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	ctx := c.Request().Context()
	if _, err := h.Events.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load event"})
	}
	slots, err := h.Slots.ListByEvent(ctx, eventID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load slots"})
	}
	items := make([]echo.Map, 0, len(slots))
	for _, s := range slots {
		remaining, live, rerr := h.Stock.Remaining(ctx, s.ID)
		if rerr != nil || !live {
			remaining = int64(s.MaxCapacity) - int64(s.CurrentCount)
			live = false
		}
		items = append(items, echo.Map{
			"id":           s.ID,
			"name":         s.Name,
			"max_capacity": s.MaxCapacity,
			"remaining":    remaining,
			"stale":        !live,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
