package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-slot-reservation/internal/admission"
)

// AdmissionHandler exposes the waiting-line operations.  User identity
// is supplied by the caller: authentication is owned by the surrounding
// CRUD application, the core only needs a stable user ID.
type AdmissionHandler struct {
	Queue *admission.Queue
}

// NewAdmissionHandler constructs an AdmissionHandler.
func NewAdmissionHandler(queue *admission.Queue) *AdmissionHandler {
	if queue == nil {
		panic("nil queue passed to NewAdmissionHandler")
	}
	return &AdmissionHandler{Queue: queue}
}

// Enter handles POST /v1/events/:id/queue.  The body must contain a
// JSON object with a positive "user_id".  Re-entry is idempotent and
// returns the existing position with is_new=false.  Queue store outages
// surface as 503 so the client retries with backoff.
func (h *AdmissionHandler) Enter(c echo.Context) error {
	eventID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body struct {
		UserID uint64 `json:"user_id"`
	}
	if err := c.Bind(&body); err != nil || body.UserID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id is required"})
	}
	res, err := h.Queue.Enter(c.Request().Context(), eventID, body.UserID)
	if err != nil {
		c.Logger().Errorf("queue enter failed: %v", err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "queue_unavailable", "retryable": true})
	}
	status := http.StatusOK
	if res.IsNew {
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}

// Status handles GET /v1/events/:id/queue/status?user_id=N.  Polling
// this endpoint doubles as the client heartbeat; it never mutates queue
// order.  A user who is neither waiting nor holding a token gets 404.
func (h *AdmissionHandler) Status(c echo.Context) error {
	eventID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	userID, err := parseID(c.QueryParam("user_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id is required"})
	}
	st, err := h.Queue.GetStatus(c.Request().Context(), eventID, userID)
	if err != nil {
		if errors.Is(err, admission.ErrNotQueued) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not_in_queue"})
		}
		c.Logger().Errorf("queue status failed: %v", err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "queue_unavailable", "retryable": true})
	}
	return c.JSON(http.StatusOK, st)
}

// parseID parses a positive uint64 path or query parameter.
func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
