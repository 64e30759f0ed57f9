// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-native-push/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// DeliveryRequestTransformer is a dataflow Transformer that unmarshals and
// validates a raw message payload into a dispatch.Request.
//
// Malformed payloads are skipped so the StreamingService can hand them to the
// dead-letter policy instead of redelivering them forever.
func DeliveryRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.Request, bool, error) {
	var req dispatch.Request

	// 1. JSON Parsing
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal delivery request from message %s: %w", msg.ID, err)
	}

	// 2. Recipient Validation. urn.Parse accepts "" and upgrades bare ids, so
	// the full urn form is required here.
	if req.RecipientID == "" {
		return nil, true, fmt.Errorf("missing recipient in message %s", msg.ID)
	}
	if !strings.HasPrefix(req.RecipientID, urn.Scheme+":") {
		return nil, true, fmt.Errorf("invalid recipient %q in message %s: %w", req.RecipientID, msg.ID, urn.ErrInvalidFormat)
	}
	recipient, err := urn.Parse(req.RecipientID)
	if err != nil {
		return nil, true, fmt.Errorf("invalid recipient %q in message %s: %w", req.RecipientID, msg.ID, err)
	}
	req.Recipient = recipient

	return &req, false, nil
}
