package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/notifysync/notifysync/internal/api/models"
	"github.com/notifysync/notifysync/internal/api/response"
	"github.com/notifysync/notifysync/internal/inbox"
	"github.com/notifysync/notifysync/internal/notification"
)

// NotificationsHandler handles the in-app notification inbox.
type NotificationsHandler struct {
	inbox  *inbox.Service
	logger zerolog.Logger
}

// NewNotificationsHandler creates a new NotificationsHandler.
func NewNotificationsHandler(svc *inbox.Service, logger zerolog.Logger) *NotificationsHandler {
	return &NotificationsHandler{inbox: svc, logger: logger}
}

// List handles GET /v1/notifications.
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := inbox.ListOptions{Category: categoryParam(r)}

	var fieldErrors []models.FieldError
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			fieldErrors = append(fieldErrors, models.FieldError{Field: p.name, Message: "must be an integer", Code: "INVALID"})
			continue
		}
		*p.dst = n
	}
	if raw := q.Get("unread_only"); raw != "" {
		unreadOnly, err := strconv.ParseBool(raw)
		if err != nil {
			fieldErrors = append(fieldErrors, models.FieldError{Field: "unread_only", Message: "must be a boolean", Code: "INVALID"})
		}
		opts.UnreadOnly = unreadOnly
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid query parameters", fieldErrors)
		return
	}

	result, err := h.inbox.List(r.Context(), caller(r), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	limit := opts.Limit
	if limit == 0 {
		limit = inbox.DefaultLimit
	}
	if limit > inbox.MaxLimit {
		limit = inbox.MaxLimit
	}

	response.JSON(w, r, http.StatusOK, models.NotificationPage{
		Notifications: result.Items,
		TotalCount:    result.Total,
		UnreadCount:   result.Unread,
		Limit:         limit,
		Offset:        opts.Offset,
	})
}

// Publish handles POST /v1/notifications. It delivers a notification to the
// caller's own inbox and exists for demos and end-to-end tests.
func (h *NotificationsHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Title    string                `json:"title"`
		Body     string                `json:"body"`
		Category notification.Category `json:"category"`
		Priority notification.Priority `json:"priority"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	rec, err := h.inbox.Publish(r.Context(), caller(r), inbox.PublishInput{
		Title:    input.Title,
		Body:     input.Body,
		Category: input.Category,
		Priority: input.Priority,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusCreated, rec)
}

// UnreadCount handles GET /v1/notifications/unread-count.
func (h *NotificationsHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.inbox.UnreadCount(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.UnreadCountResponse{UnreadCount: count})
}

// MarkAsRead handles POST /v1/notifications/{id}/read.
func (h *NotificationsHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	if err := h.inbox.MarkRead(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.SuccessResponse{Success: true})
}

// MarkAllAsRead handles POST /v1/notifications/read-all[?category=].
func (h *NotificationsHandler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	count, err := h.inbox.MarkAllRead(r.Context(), caller(r), categoryParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.CountResponse{Count: count})
}

// Delete handles DELETE /v1/notifications/{id}.
func (h *NotificationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.inbox.Delete(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.SuccessResponse{Success: true})
}

// DeleteAll handles DELETE /v1/notifications[?category=].
func (h *NotificationsHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	count, err := h.inbox.DeleteAll(r.Context(), caller(r), categoryParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.CountResponse{Count: count})
}

// GetPreferences handles GET /v1/notifications/preferences.
func (h *NotificationsHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.inbox.GetPreferences(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.PreferencesEnvelope{Preferences: *prefs})
}

// UpdatePreferences handles POST /v1/notifications/preferences.
func (h *NotificationsHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var input models.PreferencesEnvelope
	if !decodeJSON(w, r, &input) {
		return
	}

	prefs, err := h.inbox.UpdatePreferences(r.Context(), caller(r), input.Preferences)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.PreferencesEnvelope{Preferences: *prefs})
}

func (h *NotificationsHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, inbox.ErrNotificationNotFound):
		response.Problem(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, inbox.ErrInvalidCategory),
		errors.Is(err, inbox.ErrInvalidPaging),
		errors.Is(err, inbox.ErrInvalidQuietHours):
		response.BadRequest(w, r, err.Error(), nil)
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("inbox operation failed")
		response.Problem(w, r, http.StatusInternalServerError, "an unexpected error occurred")
	}
}

func categoryParam(r *http.Request) *notification.Category {
	raw := r.URL.Query().Get("category")
	if raw == "" {
		return nil
	}
	c := notification.Category(raw)
	return &c
}
