// Package dispatch contains the contracts and payloads shared by the push
// service's pipeline, API and storage layers.
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-native-push/pkg/push"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Device is a push endpoint registered for a user.
type Device struct {
	Backend push.Backend `json:"backend"`
	Token   string       `json:"token"`
}

// Request is the payload of a delivery request read from Pub/Sub.
// Recipient is the parsed RecipientID, set once the request is validated.
type Request struct {
	RecipientID string         `json:"recipientId"`
	Recipient   urn.URN        `json:"-"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Data        map[string]any `json:"data,omitempty"`
	Priority    push.Priority  `json:"priority,omitempty"`
	CollapseKey string         `json:"collapseKey,omitempty"`
}

// TokenStore defines the contract for managing user device tokens.
// It allows the service to remember "where" to send notifications for a user.
type TokenStore interface {
	// Register adds or refreshes a device. Registering the same device twice is an upsert.
	Register(ctx context.Context, user urn.URN, device Device) error

	// Unregister removes a device. Removing an unknown device is not an error.
	Unregister(ctx context.Context, user urn.URN, backend push.Backend, token string) error

	// Fetch returns every device registered for the user.
	Fetch(ctx context.Context, user urn.URN) ([]Device, error)
}
