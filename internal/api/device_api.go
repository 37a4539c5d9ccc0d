package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// StatusNoRecipients is returned by SendMessage when the user has no registered devices.
const StatusNoRecipients = 430

type DeviceAPI struct {
	Registry dispatch.Registry
	Sender   dispatch.Sender
	Logger   *slog.Logger
}

func NewDeviceAPI(registry dispatch.Registry, sender dispatch.Sender, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Registry: registry,
		Sender:   sender,
		Logger:   logger,
	}
}

type AddDeviceRequest struct {
	Token string `json:"token"`
}

// BaseResponse reports whether the operation changed the stored record.
type BaseResponse struct {
	Result bool `json:"result"`
}

// RegisterDevice handles POST /users/{id}/devices.
func (api *DeviceAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing user id")
		return
	}

	var req AddDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	changed, err := api.Registry.Register(r.Context(), userID, req.Token)
	if err != nil {
		if errors.Is(err, dispatch.ErrTooManyDevices) {
			response.WriteJSONError(w, http.StatusConflict, "too many registered devices")
			return
		}
		api.Logger.Error("failed to register device", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	writeJSON(w, http.StatusOK, BaseResponse{Result: changed})
}

// UnregisterDevice handles DELETE /users/{id}/devices/{token}.
func (api *DeviceAPI) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	token := r.PathValue("token")
	if userID == "" || token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing user id or token")
		return
	}

	changed, err := api.Registry.Unregister(r.Context(), userID, token)
	if err != nil {
		api.Logger.Error("failed to unregister device", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	writeJSON(w, http.StatusOK, BaseResponse{Result: changed})
}

// ListDevices handles GET /users/{id}/devices.
func (api *DeviceAPI) ListDevices(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	tokens, err := api.Registry.ListTokens(r.Context(), userID)
	if err != nil {
		api.Logger.Error("failed to list devices", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// SendMessage handles POST /users/{id}/messages and responds with the targeted tokens.
func (api *DeviceAPI) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	var msg dispatch.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	outcome, err := api.Sender.Send(r.Context(), userID, msg)
	switch {
	case errors.Is(err, dispatch.ErrNoRecipients):
		response.WriteJSONError(w, StatusNoRecipients, "No registered devices")
		return
	case err != nil:
		api.Logger.Error("failed to send message", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	writeJSON(w, http.StatusOK, outcome.Tokens())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
