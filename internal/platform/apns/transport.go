// Package apns delivers push notifications through the Apple Push Notification
// service HTTP/2 API using token based (.p8) authentication.
package apns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/tinywideclouds/go-native-push/internal/credential"
	"github.com/tinywideclouds/go-native-push/internal/platform/response"
	"github.com/tinywideclouds/go-native-push/pkg/push"
)

const (
	// Backend is the transport name used in errors and receipts.
	Backend = string(push.BackendAPNs)
	// DefaultHost is the production APNs endpoint.
	DefaultHost = "api.push.apple.com"
	// CacheKey is the credential cache entry holding the provider token.
	CacheKey = "apns.jwt"
)

// HTTPClient is the subset of *http.Client the transport needs.
// This allows mocking for unit tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the credentials and routing of one APNs transport.
type Config struct {
	KeyID  string
	TeamID string
	// Topic is the app bundle id (e.g. com.tinywide.messenger).
	Topic string
	// PrivateKey is the raw content of the .p8 file.
	PrivateKey []byte
	// Host defaults to DefaultHost.
	Host string
	// Port is omitted from the endpoint when zero.
	Port int
}

// Transport sends one notification per call to APNs.
type Transport struct {
	signer *Signer
	client HTTPClient
	cache  credential.Cache
	teamID string
	topic  string
	host   string
	port   int
	logger *slog.Logger
}

// NewTransport creates a configured APNs transport.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
// A nil cache gets a private in-memory cache.
func NewTransport(cfg Config, client HTTPClient, cache credential.Cache, logger *slog.Logger) (*Transport, error) {
	signer, err := NewSigner(cfg.KeyID, cfg.TeamID, cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	if cache == nil {
		cache = credential.NewMemoryCache()
	}
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}

	return &Transport{
		signer: signer,
		client: client,
		cache:  cache,
		teamID: cfg.TeamID,
		topic:  cfg.Topic,
		host:   host,
		port:   cfg.Port,
		logger: logger.With("component", "APNsTransport"),
	}, nil
}

// String returns the logical address of the transport.
func (t *Transport) String() string {
	q := url.Values{}
	q.Set("team_id", t.teamID)
	q.Set("topic", t.topic)
	return fmt.Sprintf("apns://%s?%s", t.endpoint(), q.Encode())
}

// Supports reports whether msg is a native push message.
func (t *Transport) Supports(msg push.Message) bool {
	pm, ok := msg.(*push.PushMessage)
	return ok && pm != nil
}

// Send delivers msg to the device token carried by its options.
func (t *Transport) Send(ctx context.Context, msg push.Message) (*push.SentMessage, error) {
	// 1. Validate before any I/O.
	pm, ok := msg.(*push.PushMessage)
	if !ok || pm == nil {
		return nil, push.NewUsageError(Backend, "unsupported message of type %T", msg)
	}
	deviceToken := pm.RecipientID()
	if deviceToken == "" {
		return nil, push.NewUsageError(Backend, "the push message has no recipient token")
	}
	if t.client == nil {
		return nil, push.NewUsageError(Backend, "no HTTP client is configured")
	}

	// 2. Provider token.
	cred, err := t.cache.GetOrCompute(ctx, CacheKey, credential.DefaultTTL, t.signer.Sign)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain APNs provider token: %w", err)
	}

	// 3. Build request.
	endpoint := fmt.Sprintf("https://%s/3/device/%s", t.endpoint(), url.PathEscape(deviceToken))
	body, err := json.Marshal(buildPayload(pm))
	if err != nil {
		return nil, push.NewUsageError(Backend, "the notification payload cannot be encoded: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, push.NewUsageError(Backend, "invalid request: %v", err)
	}
	req.Header.Set("apns-topic", t.topic)
	req.Header.Set("authorization", "bearer "+cred.Token)
	req.Header.Set("content-type", "application/json")
	if key := pm.Options.CollapseKey; key != "" {
		req.Header.Set("apns-collapse-id", key)
	}

	// 4. Send.
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("APNs transport failed", "token", shortToken(deviceToken), "err", err)
		return nil, push.NewUnreachableError(Backend, "could not reach the remote APNs server", err)
	}
	r, err := response.Read(resp)
	if err != nil {
		return nil, push.NewUnreachableError(Backend, "could not read the APNs response", err)
	}

	// 5. Classify.
	c := classify(r)
	if c.Outcome != response.Delivered {
		t.logger.Info("APNs rejected notification", "token", shortToken(deviceToken), "status", r.StatusCode, "outcome", c.Outcome.String())
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

// buildPayload produces {"aps":{"alert":{"title","body"}},"data":{...}}.
func buildPayload(pm *push.PushMessage) *payload.Payload {
	data := pm.Options.Data
	if data == nil {
		data = map[string]any{}
	}
	return payload.NewPayload().
		AlertTitle(pm.Subject).
		AlertBody(pm.Content).
		Custom("data", data)
}

// errorBody is the JSON APNs returns with a non-200 status.
type errorBody struct {
	Reason string `json:"reason"`
	// Timestamp is in milliseconds since the epoch. It is decoded loosely so an
	// odd timestamp never hides the reason.
	Timestamp any `json:"timestamp"`
}

// unregisteredAt converts the millisecond timestamp to a whole-second UTC
// instant. Anything that is not a number yields nil.
func (b errorBody) unregisteredAt() *time.Time {
	var ms float64
	switch v := b.Timestamp.(type) {
	case float64:
		ms = v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		ms = f
	default:
		return nil
	}
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return nil
	}
	at := time.Unix(int64(math.Floor(ms/1000)), 0).UTC()
	return &at
}

func classify(r *response.Response) response.Classification {
	if r.StatusCode == http.StatusOK {
		return response.Classification{Outcome: response.Delivered}
	}

	var body errorBody
	r.Decode(&body)
	if r.StatusCode > 299 && body.Reason == apns2.ReasonUnregistered {
		return response.Classification{Outcome: response.Unregistered, UnregisteredAt: body.unregisteredAt()}
	}

	msg := fmt.Sprintf("unable to send the APNs notification (status %d)", r.StatusCode)
	if body.Reason != "" {
		msg = fmt.Sprintf("unable to send the APNs notification: %s (status %d)", body.Reason, r.StatusCode)
	}
	return response.Classification{Outcome: response.Failed, Message: msg}
}

// shortToken keeps device tokens out of the logs.
func shortToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}

var _ push.Transport = (*Transport)(nil)
