package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-slot-reservation/internal/model"
	"github.com/iliyamo/event-slot-reservation/internal/queue"
	"github.com/iliyamo/event-slot-reservation/internal/repository"
	"github.com/iliyamo/event-slot-reservation/internal/service"
)

// ReservationHandler exposes reserve, cancel and listing endpoints on
// top of the coordinator.  Broker notifications are published after the
// response-relevant work committed and are strictly best effort.
type ReservationHandler struct {
	Coordinator  *service.Coordinator
	Reservations *repository.ReservationRepo
	Slots        *repository.SlotRepo
	Events       *repository.EventRepo
}

// NewReservationHandler constructs a ReservationHandler.  All
// dependencies must be non-nil.
func NewReservationHandler(coordinator *service.Coordinator, reservations *repository.ReservationRepo, slots *repository.SlotRepo, events *repository.EventRepo) *ReservationHandler {
	if coordinator == nil || reservations == nil || slots == nil || events == nil {
		panic("nil dependency passed to NewReservationHandler")
	}
	return &ReservationHandler{Coordinator: coordinator, Reservations: reservations, Slots: slots, Events: events}
}

// reservationResponse is the JSON shape of a reservation row.
type reservationResponse struct {
	ID         uint64 `json:"id"`
	UserID     uint64 `json:"user_id"`
	EventID    uint64 `json:"event_id"`
	SlotID     uint64 `json:"slot_id"`
	Status     string `json:"status"`
	ReservedAt string `json:"reserved_at"`
}

func toReservationResponse(r *model.Reservation) reservationResponse {
	return reservationResponse{
		ID:         r.ID,
		UserID:     r.UserID,
		EventID:    r.EventID,
		SlotID:     r.SlotID,
		Status:     r.Status,
		ReservedAt: r.ReservedAt.UTC().Format(time.RFC3339),
	}
}

// Reserve handles POST /v1/slots/:id/reservations.  The body must
// contain a positive "user_id".  Business-rule failures map to
// distinguishable error codes so the client can tell "sold out" from
// "rejoin the queue".
func (h *ReservationHandler) Reserve(c echo.Context) error {
	slotID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	var body struct {
		UserID uint64 `json:"user_id"`
	}
	if err := c.Bind(&body); err != nil || body.UserID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id is required"})
	}

	res, err := h.Coordinator.Reserve(c.Request().Context(), body.UserID, slotID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCapacityFull):
			return c.JSON(http.StatusConflict, echo.Map{"error": "capacity_full"})
		case errors.Is(err, service.ErrNoToken):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "no_token"})
		case errors.Is(err, service.ErrAlreadyReserved):
			return c.JSON(http.StatusConflict, echo.Map{"error": "already_reserved"})
		case errors.Is(err, service.ErrNotInWindow):
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "not_in_window"})
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "slot not found"})
		case errors.Is(err, service.ErrStoreUnavailable):
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store_unavailable", "retryable": true})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reservation failed"})
		}
	}

	go h.publishConfirmed(res)
	return c.JSON(http.StatusCreated, toReservationResponse(res))
}

// Cancel handles DELETE /v1/reservations/:id.  The body (or the
// user_id query parameter) identifies the caller; only the reservation
// owner may cancel.  Cancellation is idempotent with respect to stock:
// a repeat cancel yields 409 without releasing another seat.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	reservationID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	var body struct {
		UserID uint64 `json:"user_id"`
	}
	if err := c.Bind(&body); err != nil || body.UserID == 0 {
		if uid, qerr := parseID(c.QueryParam("user_id")); qerr == nil {
			body.UserID = uid
		} else {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id is required"})
		}
	}

	res, err := h.Coordinator.Cancel(c.Request().Context(), reservationID, body.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
		case errors.Is(err, service.ErrNotOwner):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		case errors.Is(err, service.ErrAlreadyCancelled):
			return c.JSON(http.StatusConflict, echo.Map{"error": "already_cancelled"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cancellation failed"})
		}
	}

	go h.publishCancelled(res)
	return c.JSON(http.StatusOK, toReservationResponse(res))
}

// ListByUser handles GET /v1/users/:id/reservations.  It returns all
// reservations made by the user, newest first; an empty list when none
// exist.
func (h *ReservationHandler) ListByUser(c echo.Context) error {
	userID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	items, err := h.Reservations.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load reservations"})
	}
	out := make([]reservationResponse, 0, len(items))
	for i := range items {
		out = append(out, toReservationResponse(&items[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// publishConfirmed sends the confirmation event to the broker.  The
// reservation is already durable; a broker outage is logged inside the
// publisher and otherwise ignored.
func (h *ReservationHandler) publishConfirmed(res *model.Reservation) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev := queue.ReservationConfirmedEvent{
		ReservationID: res.ID,
		UserID:        res.UserID,
		EventID:       res.EventID,
		SlotID:        res.SlotID,
		ReservedAt:    res.ReservedAt.UTC().Format(time.RFC3339),
	}
	if e, err := h.Events.GetByID(ctx, res.EventID); err == nil {
		ev.EventName = e.Name
	}
	if s, err := h.Slots.GetByID(ctx, res.SlotID); err == nil {
		ev.SlotName = s.Name
	}
	_ = queue.PublishReservationConfirmed(ctx, ev)
}

func (h *ReservationHandler) publishCancelled(res *model.Reservation) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = queue.PublishReservationCancelled(ctx, queue.ReservationCancelledEvent{
		ReservationID: res.ID,
		UserID:        res.UserID,
		EventID:       res.EventID,
		SlotID:        res.SlotID,
		CancelledAt:   time.Now().UTC().Format(time.RFC3339),
	})
}
