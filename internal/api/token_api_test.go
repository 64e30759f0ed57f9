package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-native-push/internal/api"
	"github.com/tinywideclouds/go-native-push/pkg/dispatch"
	"github.com/tinywideclouds/go-native-push/pkg/push"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// --- Mocks ---
type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) Register(ctx context.Context, u urn.URN, device dispatch.Device) error {
	return m.Called(ctx, u, device).Error(0)
}
func (m *MockTokenStore) Unregister(ctx context.Context, u urn.URN, backend push.Backend, token string) error {
	return m.Called(ctx, u, backend, token).Error(0)
}
func (m *MockTokenStore) Fetch(ctx context.Context, u urn.URN) ([]dispatch.Device, error) {
	args := m.Called(ctx, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dispatch.Device), args.Error(1)
}

// --- Setup ---
func setupAPI(t *testing.T) (*api.TokenAPI, *MockTokenStore) {
	t.Helper()
	mockStore := new(MockTokenStore)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return api.NewTokenAPI(mockStore, logger), mockStore
}

// withUser injects the caller the way the JWKS middleware does: the handle is
// the URN the handlers look users up by.
func withUser(req *http.Request, handle string) *http.Request {
	ctx := middleware.ContextWithUser(req.Context(), handle, handle, "")
	return req.WithContext(ctx)
}

func tokenBody(token string) *bytes.Reader {
	body, _ := json.Marshal(api.TokenRequest{Token: token})
	return bytes.NewReader(body)
}

// --- Tests ---

func TestRegister(t *testing.T) {
	targetURN, _ := urn.Parse("urn:test:user:123")

	for _, backend := range []push.Backend{push.BackendAPNs, push.BackendFCM} {
		t.Run(string(backend)+" Success", func(t *testing.T) {
			apiHandler, mockStore := setupAPI(t)
			req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/register/"+string(backend), tokenBody("device-abc")), targetURN.String())
			w := httptest.NewRecorder()

			mockStore.On("Register", mock.Anything, targetURN, dispatch.Device{Backend: backend, Token: "device-abc"}).Return(nil)

			apiHandler.Register(backend)(w, req)

			assert.Equal(t, http.StatusNoContent, w.Code)
			mockStore.AssertExpectations(t)
		})
	}

	t.Run("Rejects Empty Token", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/register/fcm", tokenBody("")), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.Register(push.BackendFCM)(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockStore.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Rejects Invalid JSON", func(t *testing.T) {
		apiHandler, _ := setupAPI(t)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/register/apns", bytes.NewReader([]byte("{"))), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.Register(push.BackendAPNs)(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects Caller Without A Handle", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		ctx := middleware.ContextWithUserID(context.Background(), "user-id-only")
		req := httptest.NewRequest(http.MethodPost, "/api/v1/register/apns", tokenBody("device-abc")).WithContext(ctx)
		w := httptest.NewRecorder()

		apiHandler.Register(push.BackendAPNs)(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockStore.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Rejects Anonymous Caller", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/register/apns", tokenBody("device-abc"))
		w := httptest.NewRecorder()

		apiHandler.Register(push.BackendAPNs)(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockStore.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Rejects Caller With Invalid URN", func(t *testing.T) {
		apiHandler, _ := setupAPI(t)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/register/apns", tokenBody("device-abc")), "urn:sm:user")
		w := httptest.NewRecorder()

		apiHandler.Register(push.BackendAPNs)(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Store Failure Is Reported", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/register/fcm", tokenBody("device-abc")), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("Register", mock.Anything, targetURN, mock.Anything).Return(errors.New("firestore down"))

		apiHandler.Register(push.BackendFCM)(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestUnregister(t *testing.T) {
	targetURN, _ := urn.Parse("urn:test:user:123")

	t.Run("Success", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/unregister/apns", tokenBody("device-abc")), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("Unregister", mock.Anything, targetURN, push.BackendAPNs, "device-abc").Return(nil)

		apiHandler.Unregister(push.BackendAPNs)(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Store Failure Is Idempotent", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/unregister/fcm", tokenBody("device-abc")), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("Unregister", mock.Anything, targetURN, push.BackendFCM, "device-abc").Return(errors.New("firestore down"))

		apiHandler.Unregister(push.BackendFCM)(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("Rejects Empty Token", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/unregister/fcm", tokenBody("")), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.Unregister(push.BackendFCM)(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockStore.AssertNotCalled(t, "Unregister", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
