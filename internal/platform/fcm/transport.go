// Package fcm delivers push notifications through the Firebase Cloud Messaging
// HTTP v1 API, authenticating with a service-account derived access token.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-native-push/internal/credential"
	"github.com/tinywideclouds/go-native-push/internal/platform/response"
	"github.com/tinywideclouds/go-native-push/pkg/push"
)

const (
	// Backend is the transport name used in errors and receipts.
	Backend = string(push.BackendFCM)
	// DefaultHost is the production FCM endpoint.
	DefaultHost = "fcm.googleapis.com"
	// CacheKey is the credential cache entry holding the access token.
	CacheKey = "fcm.access_token"

	errorCodeUnregistered = "UNREGISTERED"
)

// HTTPClient is the subset of *http.Client the transport needs.
// This allows mocking for unit tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource produces a fresh access token on every call.
// *Exchanger satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config holds the routing of one FCM transport.
type Config struct {
	ProjectID string
	// Host defaults to DefaultHost.
	Host string
	// Port is omitted from the endpoint when zero.
	Port int
}

// Transport sends one notification per call to FCM.
type Transport struct {
	tokens    TokenSource
	client    HTTPClient
	cache     credential.Cache
	projectID string
	host      string
	port      int
	logger    *slog.Logger
}

// NewTransport creates a configured FCM transport. A nil cache gets a private
// in-memory cache.
func NewTransport(cfg Config, tokens TokenSource, client HTTPClient, cache credential.Cache, logger *slog.Logger) *Transport {
	if cache == nil {
		cache = credential.NewMemoryCache()
	}
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	return &Transport{
		tokens:    tokens,
		client:    client,
		cache:     cache,
		projectID: cfg.ProjectID,
		host:      host,
		port:      cfg.Port,
		logger:    logger.With("component", "FCMTransport"),
	}
}

// String returns the logical address of the transport.
func (t *Transport) String() string {
	return fmt.Sprintf("fcm://%s?projectId=%s", t.endpoint(), url.QueryEscape(t.projectID))
}

// Supports reports whether msg is a native push message.
func (t *Transport) Supports(msg push.Message) bool {
	pm, ok := msg.(*push.PushMessage)
	return ok && pm != nil
}

// Send delivers msg to the registration token carried by its options.
func (t *Transport) Send(ctx context.Context, msg push.Message) (*push.SentMessage, error) {
	// 1. Validate before any I/O.
	pm, ok := msg.(*push.PushMessage)
	if !ok || pm == nil {
		return nil, push.NewUsageError(Backend, "unsupported message of type %T", msg)
	}
	registrationToken := pm.RecipientID()
	if registrationToken == "" {
		return nil, push.NewUsageError(Backend, "the push message has no recipient token")
	}
	if t.client == nil {
		return nil, push.NewUsageError(Backend, "no HTTP client is configured")
	}

	// 2. FCM data is string to string.
	data, err := stringData(pm.Options.Data)
	if err != nil {
		return nil, err
	}

	// 3. Access token.
	cred, err := t.cache.GetOrCompute(ctx, CacheKey, credential.DefaultTTL, t.tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain FCM access token: %w", err)
	}

	// 4. Build request.
	endpoint := fmt.Sprintf("https://%s/v1/projects/%s/messages:send", t.endpoint(), url.PathEscape(t.projectID))
	body, err := json.Marshal(envelope{Message: buildMessage(pm, registrationToken, data)})
	if err != nil {
		return nil, push.NewUsageError(Backend, "the notification payload cannot be encoded: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, push.NewUsageError(Backend, "invalid request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Content-Type", "application/json")

	// 5. Send.
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("FCM transport failed", "token", shortToken(registrationToken), "err", err)
		return nil, push.NewUnreachableError(Backend, "could not reach the remote FCM server", err)
	}
	r, err := response.Read(resp)
	if err != nil {
		return nil, push.NewUnreachableError(Backend, "could not read the FCM response", err)
	}

	// 6. Classify.
	c := classify(r)
	if c.Outcome != response.Delivered {
		t.logger.Info("FCM rejected notification", "token", shortToken(registrationToken), "status", r.StatusCode, "outcome", c.Outcome.String())
	}
	return response.Resolve(response.Target{
		Backend:  Backend,
		Address:  t.String(),
		Endpoint: endpoint,
		Message:  pm,
	}, r, c)
}

func (t *Transport) endpoint() string {
	if t.port == 0 {
		return t.host
	}
	return t.host + ":" + strconv.Itoa(t.port)
}

// envelope is the messages:send request body.
type envelope struct {
	Message *messaging.Message `json:"message"`
}

func buildMessage(pm *push.PushMessage, token string, data map[string]string) *messaging.Message {
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: pm.Subject,
			Body:  pm.Content,
		},
		Data: data,
	}
	if key := pm.Options.CollapseKey; key != "" {
		msg.Android = &messaging.AndroidConfig{CollapseKey: key}
	}
	return msg
}

// stringData rejects any non-string value, naming the first offending key in
// sorted order.
func stringData(data map[string]any) (map[string]string, error) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(data))
	for _, k := range keys {
		s, ok := data[k].(string)
		if !ok {
			return nil, push.NewUsageError(Backend, "data value for key %q must be a string, got %T", k, data[k])
		}
		out[k] = s
	}
	return out, nil
}

// errorBody is the google.rpc.Status wrapper FCM returns on failure.
type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

type successBody struct {
	Name string `json:"name"`
}

func classify(r *response.Response) response.Classification {
	if r.StatusCode == http.StatusOK {
		var body successBody
		r.Decode(&body)
		_, id, found := strings.Cut(body.Name, "/messages/")
		if !found || id == "" {
			return response.Classification{Outcome: response.Malformed, Message: "unexpected FCM response: missing message name"}
		}
		return response.Classification{Outcome: response.Delivered, MessageID: id}
	}

	var body errorBody
	r.Decode(&body)
	if r.StatusCode == http.StatusNotFound && len(body.Error.Details) > 0 &&
		body.Error.Details[0].ErrorCode == errorCodeUnregistered {
		return response.Classification{Outcome: response.Unregistered}
	}

	msg := fmt.Sprintf("unable to send the FCM notification (status %d)", r.StatusCode)
	if body.Error.Message != "" {
		msg = fmt.Sprintf("unable to send the FCM notification: %s (status %d)", body.Error.Message, r.StatusCode)
	}
	return response.Classification{Outcome: response.Failed, Message: msg}
}

func shortToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}

var _ push.Transport = (*Transport)(nil)
