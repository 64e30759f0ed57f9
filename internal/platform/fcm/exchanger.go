package fcm

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tinywideclouds/go-native-push/internal/platform/response"
	"github.com/tinywideclouds/go-native-push/pkg/push"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// Scope is the OAuth2 scope required by the FCM HTTP v1 API.
	Scope = "https://www.googleapis.com/auth/firebase.messaging"

	grantType         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime = time.Hour
)

// Exchanger trades a service-account key for a short-lived access token using
// the OAuth2 JWT-bearer grant.
type Exchanger struct {
	clientEmail string
	key         *rsa.PrivateKey
	tokenURL    string
	client      HTTPClient
	now         func() time.Time
}

// ExchangerOption configures an Exchanger.
type ExchangerOption func(*Exchanger)

// WithTokenURL overrides the Google token endpoint.
func WithTokenURL(tokenURL string) ExchangerOption {
	return func(e *Exchanger) {
		if tokenURL != "" {
			e.tokenURL = tokenURL
		}
	}
}

// WithExchangeClient sets the HTTP client used for the token request.
func WithExchangeClient(client HTTPClient) ExchangerOption {
	return func(e *Exchanger) {
		if client != nil {
			e.client = client
		}
	}
}

// NewExchanger parses the PEM private key so a bad key fails at startup.
func NewExchanger(clientEmail string, privateKeyPEM []byte, opts ...ExchangerOption) (*Exchanger, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FCM service account key: %w", err)
	}
	e := &Exchanger{
		clientEmail: clientEmail,
		key:         key,
		tokenURL:    google.JWTTokenURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Token performs the exchange. It always hits the network; callers cache the result.
func (e *Exchanger) Token(ctx context.Context) (*oauth2.Token, error) {
	// 1. Sign the assertion.
	iat := e.now()
	claims := jwt.MapClaims{
		"iss":   e.clientEmail,
		"scope": Scope,
		"aud":   e.tokenURL,
		"iat":   iat.Unix(),
		"exp":   iat.Add(assertionLifetime).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign FCM token assertion: %w", err)
	}

	// 2. Exchange it.
	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("assertion", assertion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, push.NewUnreachableError(Backend, "could not reach the OAuth2 token endpoint", err)
	}
	r, err := response.Read(resp)
	if err != nil {
		return nil, push.NewUnreachableError(Backend, "could not read the OAuth2 token response", err)
	}
	if r.StatusCode < 200 || r.StatusCode > 299 {
		return nil, push.NewTransportError(Backend, r.StatusCode, r.Body,
			fmt.Sprintf("token exchange failed (status %d)", r.StatusCode))
	}

	// 3. The provider must hand back a string access token.
	var body map[string]any
	r.Decode(&body)
	accessToken, ok := body["access_token"].(string)
	if !ok || accessToken == "" {
		return nil, push.NewInternalError("the OAuth2 token response has no string access_token", nil)
	}

	tok := &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	if tokenType, ok := body["token_type"].(string); ok && tokenType != "" {
		tok.TokenType = tokenType
	}
	if expiresIn, ok := body["expires_in"].(float64); ok && expiresIn > 0 {
		tok.Expiry = iat.Add(time.Duration(expiresIn) * time.Second)
	}
	return tok, nil
}

// AccessToken is a credential.ComputeFunc returning only the bearer string.
func (e *Exchanger) AccessToken(ctx context.Context) (string, error) {
	tok, err := e.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
