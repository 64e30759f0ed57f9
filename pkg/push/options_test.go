package push_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-native-push/pkg/push"
)

func TestOptions(t *testing.T) {
	t.Run("Fluent setters populate every field", func(t *testing.T) {
		opts := push.NewOptions().
			WithData(map[string]any{"foo": "bar"}).
			WithPriority(push.PriorityHigh).
			WithToken("abc123").
			WithCollapseKey("new_message")

		assert.Equal(t, map[string]any{"foo": "bar"}, opts.Data)
		require.NotNil(t, opts.Priority)
		assert.Equal(t, push.PriorityHigh, *opts.Priority)
		assert.Equal(t, "abc123", opts.RecipientID())
		assert.Equal(t, "new_message", opts.CollapseKey)

		assert.Equal(t, map[string]any{
			"data":        map[string]any{"foo": "bar"},
			"priority":    push.PriorityHigh,
			"token":       "abc123",
			"collapseKey": "new_message",
		}, opts.ToMap())
	})

	t.Run("Empty options export nil values", func(t *testing.T) {
		m := push.NewOptions().ToMap()
		assert.Equal(t, map[string]any{}, m["data"])
		assert.Nil(t, m["priority"])
		assert.Nil(t, m["token"])
	})

	t.Run("Message recipient comes from options", func(t *testing.T) {
		msg := push.NewPushMessage("Hi", "There", push.NewOptions().WithToken("device-1"))
		assert.Equal(t, "device-1", msg.RecipientID())

		noOptions := &push.PushMessage{Subject: "Hi"}
		assert.Empty(t, noOptions.RecipientID())
	})
}

func TestErrors(t *testing.T) {
	t.Run("Usage and transport errors match their kinds", func(t *testing.T) {
		usage := push.NewUsageError("apns", "missing %s", "token")
		assert.ErrorIs(t, usage, push.ErrUsage)
		assert.NotErrorIs(t, usage, push.ErrTransport)
		assert.Equal(t, "apns: missing token", usage.Error())

		cause := errors.New("connection refused")
		transport := push.NewUnreachableError("fcm", "could not reach the remote FCM server", cause)
		wrapped := fmt.Errorf("sending: %w", transport)
		assert.ErrorIs(t, wrapped, push.ErrTransport)
		assert.ErrorIs(t, wrapped, cause)
	})

	t.Run("Unregistered error is detectable through wrapping", func(t *testing.T) {
		at := time.Unix(1700000000, 0).UTC()
		err := fmt.Errorf("delivery: %w", push.NewTokenUnregisteredError("tok", "apns", &at))

		unregistered, ok := push.IsTokenUnregistered(err)
		require.True(t, ok)
		assert.Equal(t, "tok", unregistered.Token)
		assert.Equal(t, at, *unregistered.UnregisteredAt)
		assert.Equal(t, "Token is not registered with apns: tok", unregistered.Error())

		_, ok = push.IsTokenUnregistered(errors.New("other"))
		assert.False(t, ok)
	})
}
