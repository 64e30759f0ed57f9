package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-native-push/pkg/dispatch"
	"github.com/tinywideclouds/go-native-push/pkg/push"
)

// NewProcessor creates the logic that handles the "Fan-Out": one push per
// registered device, through the transport of the device's backend.
//
// Devices reported as unregistered are pruned from the store. Transport
// failures and context cancellation make the processor return an error so
// Pub/Sub redelivers the request; every other failure is logged and dropped.
func NewProcessor(
	transports map[push.Backend]push.Transport,
	tokenStore dispatch.TokenStore,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[dispatch.Request] {

	return func(ctx context.Context, original messagepipeline.Message, request *dispatch.Request) error {
		procLogger := logger.With(
			"recipient_id", request.Recipient.String(),
			"pubsub_msg_id", original.ID,
			"delivery_id", uuid.NewString(),
		)

		// 1. Fetch (The Lookup)
		devices, err := tokenStore.Fetch(ctx, request.Recipient)
		if err != nil {
			procLogger.Error("Failed to fetch devices", "err", err)
			return err
		}
		if len(devices) == 0 {
			procLogger.Info("No devices registered for user; dropping notification.")
			return nil
		}

		// 2. Fan-Out
		var failures []error
		delivered, pruned := 0, 0
		for _, device := range devices {
			transport, ok := transports[device.Backend]
			if !ok {
				procLogger.Warn("No transport configured for device backend; skipping", "backend", device.Backend)
				continue
			}

			sent, err := transport.Send(ctx, buildMessage(request, device))
			if err == nil {
				delivered++
				procLogger.Debug("Push delivered", "backend", device.Backend, "message_id", sent.MessageID)
				continue
			}

			// 3. Self-Healing
			if unregistered, ok := push.IsTokenUnregistered(err); ok {
				pruned++
				procLogger.Info("Pruning unregistered device", "backend", device.Backend, "unregistered_at", unregistered.UnregisteredAt)
				if err := tokenStore.Unregister(ctx, request.Recipient, device.Backend, device.Token); err != nil {
					procLogger.Warn("Failed to prune device", "backend", device.Backend, "err", err)
				}
				continue
			}

			if retryable(err) {
				procLogger.Warn("Push transport failed", "backend", device.Backend, "err", err)
				failures = append(failures, fmt.Errorf("%s: %w", device.Backend, err))
				continue
			}

			procLogger.Error("Push rejected; dropping for this device", "backend", device.Backend, "err", err)
		}

		procLogger.Info("Fan-out complete", "devices", len(devices), "delivered", delivered, "pruned", pruned, "retryable", len(failures))
		if len(failures) > 0 {
			return errors.Join(failures...)
		}
		return nil
	}
}

// retryable reports whether a failed push should be redelivered.
// Context errors count wherever they surface, including the credential wait.
func retryable(err error) bool {
	return errors.Is(err, push.ErrTransport) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func buildMessage(request *dispatch.Request, device dispatch.Device) *push.PushMessage {
	data := maps.Clone(request.Data)
	if data == nil {
		data = map[string]any{}
	}
	opts := push.NewOptions().
		WithToken(device.Token).
		WithData(data).
		WithCollapseKey(request.CollapseKey)
	if request.Priority != "" {
		opts.WithPriority(request.Priority)
	}
	return push.NewPushMessage(request.Title, request.Body, opts)
}
