package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/notifysync/notifysync/internal/api/models"
	"github.com/notifysync/notifysync/internal/api/response"
	"github.com/notifysync/notifysync/internal/device"
)

// PushHandler handles push endpoint registration.
type PushHandler struct {
	devices *device.Service
	logger  zerolog.Logger
}

// NewPushHandler creates a new PushHandler.
func NewPushHandler(devices *device.Service, logger zerolog.Logger) *PushHandler {
	return &PushHandler{devices: devices, logger: logger}
}

// RegisterDevice handles POST /v1/push/register-device.
func (h *PushHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var input models.RegisterDeviceRequest
	if !decodeJSON(w, r, &input) {
		return
	}

	endpoint, _, err := h.devices.Register(r.Context(), caller(r), device.RegisterInput{
		Platform:   input.Platform,
		Token:      input.DeviceToken,
		DeviceName: input.DeviceName,
		AppVersion: input.AppVersion,
	})
	switch {
	case errors.Is(err, device.ErrTokenRequired):
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "device_token", Message: "required", Code: "REQUIRED"},
		})
		return
	case errors.Is(err, device.ErrInvalidPlatform):
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "platform", Message: err.Error(), Code: "INVALID"},
		})
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("registering push endpoint")
		response.Problem(w, r, http.StatusInternalServerError, "could not register device")
		return
	}

	response.JSON(w, r, http.StatusOK, models.RegisterDeviceResponse{
		Success:    true,
		EndpointID: endpoint.ID,
	})
}

// UnregisterDevice handles POST /v1/push/unregister-device. Unknown endpoints
// succeed so that a client can always clear its local registration.
func (h *PushHandler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	var input models.UnregisterDeviceRequest
	if !decodeJSON(w, r, &input) {
		return
	}
	if input.EndpointID == "" {
		response.BadRequest(w, r, "endpoint_id is required", []models.FieldError{
			{Field: "endpoint_id", Message: "required", Code: "REQUIRED"},
		})
		return
	}

	err := h.devices.Unregister(r.Context(), caller(r), input.EndpointID)
	if err != nil && !errors.Is(err, device.ErrEndpointNotFound) {
		h.logger.Error().Err(err).Str("endpoint_id", input.EndpointID).Msg("removing push endpoint")
		response.Problem(w, r, http.StatusInternalServerError, "could not unregister device")
		return
	}

	response.JSON(w, r, http.StatusOK, models.SuccessResponse{Success: true})
}
