// Package api contains the HTTP handlers for device registration.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-native-push/pkg/dispatch"
	"github.com/tinywideclouds/go-native-push/pkg/push"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

type TokenAPI struct {
	Store  dispatch.TokenStore
	Logger *slog.Logger
}

func NewTokenAPI(store dispatch.TokenStore, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger.With("component", "TokenAPI"),
	}
}

// TokenRequest is the body of both the register and the unregister calls.
type TokenRequest struct {
	Token string `json:"token"`
}

// Register returns the handler that registers a device of the given backend
// for the authenticated user.
func (api *TokenAPI) Register(backend push.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := api.Logger.With("request_id", uuid.NewString(), "backend", backend)

		userURN, token, ok := api.decode(w, r, logger)
		if !ok {
			return
		}

		if err := api.Store.Register(ctx, userURN, dispatch.Device{Backend: backend, Token: token}); err != nil {
			logger.Error("Failed to register device", "user", userURN.String(), "err", err)
			response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
			return
		}
		logger.Info("Device registered", "user", userURN.String())

		w.WriteHeader(http.StatusNoContent)
	}
}

// Unregister returns the handler that removes a device of the given backend.
// Store failures are logged but not reported; unregistering is idempotent.
func (api *TokenAPI) Unregister(backend push.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := api.Logger.With("request_id", uuid.NewString(), "backend", backend)

		userURN, token, ok := api.decode(w, r, logger)
		if !ok {
			return
		}

		if err := api.Store.Unregister(ctx, userURN, backend, token); err != nil {
			logger.Warn("Failed to unregister device", "user", userURN.String(), "err", err)
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// decode resolves the caller and the token, writing the error response itself
// when either is missing.
func (api *TokenAPI) decode(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (user urn.URN, token string, ok bool) {
	userID, found := middleware.GetUserHandleFromContext(r.Context())
	if !found {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return user, "", false
	}
	parsed, err := urn.Parse(userID)
	if err == nil && parsed.IsZero() {
		err = urn.ErrInvalidFormat
	}
	if err != nil {
		logger.Warn("Rejecting caller with invalid user id", "user_id", userID, "err", err)
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return user, "", false
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return user, "", false
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return user, "", false
	}
	return parsed, req.Token, true
}
