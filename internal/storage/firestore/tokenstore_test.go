//go:build integration

package firestore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-native-push/internal/storage/firestore"
	"github.com/tinywideclouds/go-native-push/pkg/dispatch"
	"github.com/tinywideclouds/go-native-push/pkg/push"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupSuite(t *testing.T) (context.Context, *firestore.Client, *fs.FirestoreStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-device-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := fs.NewFirestoreStore(client, newTestLogger())
	return ctx, client, store
}

func TestTokenStore_Integration(t *testing.T) {
	ctx, client, store := setupSuite(t)

	t.Run("APNs Registration Lifecycle", func(t *testing.T) {
		userURN, _ := urn.Parse("urn:contacts:user:ios-user")
		device := dispatch.Device{Backend: push.BackendAPNs, Token: "apns-token-1"}

		// 1. Register
		require.NoError(t, store.Register(ctx, userURN, device))

		// 2. Fetch and Verify
		devices, err := store.Fetch(ctx, userURN)
		require.NoError(t, err)
		assert.Equal(t, []dispatch.Device{device}, devices)

		// 3. Unregister
		require.NoError(t, store.Unregister(ctx, userURN, push.BackendAPNs, device.Token))

		// 4. Verify Gone
		devices, err = store.Fetch(ctx, userURN)
		require.NoError(t, err)
		assert.Empty(t, devices)
	})

	t.Run("Re-registering is an upsert", func(t *testing.T) {
		userURN, _ := urn.Parse("urn:contacts:user:repeat-user")
		device := dispatch.Device{Backend: push.BackendFCM, Token: "fcm-token-1"}

		require.NoError(t, store.Register(ctx, userURN, device))
		require.NoError(t, store.Register(ctx, userURN, device))

		devices, err := store.Fetch(ctx, userURN)
		require.NoError(t, err)
		assert.Len(t, devices, 1)

		docs, err := client.Collection("users").Doc(userURN.String()).Collection("devices").Documents(ctx).GetAll()
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "fcm", docs[0].Data()["backend"])
		assert.Equal(t, "fcm-token-1", docs[0].Data()["token"])
		assert.Len(t, docs[0].Ref.ID, 64, "document id is a sha256 hex digest")
	})

	t.Run("Same token on two backends is two devices", func(t *testing.T) {
		userURN, _ := urn.Parse("urn:contacts:user:mixed-user")

		require.NoError(t, store.Register(ctx, userURN, dispatch.Device{Backend: push.BackendAPNs, Token: "shared"}))
		require.NoError(t, store.Register(ctx, userURN, dispatch.Device{Backend: push.BackendFCM, Token: "shared"}))

		devices, err := store.Fetch(ctx, userURN)
		require.NoError(t, err)
		assert.ElementsMatch(t, []dispatch.Device{
			{Backend: push.BackendAPNs, Token: "shared"},
			{Backend: push.BackendFCM, Token: "shared"},
		}, devices)

		// Pruning one backend leaves the other.
		require.NoError(t, store.Unregister(ctx, userURN, push.BackendAPNs, "shared"))
		devices, err = store.Fetch(ctx, userURN)
		require.NoError(t, err)
		assert.Equal(t, []dispatch.Device{{Backend: push.BackendFCM, Token: "shared"}}, devices)
	})

	t.Run("Unregistering an unknown device is not an error", func(t *testing.T) {
		userURN, _ := urn.Parse("urn:contacts:user:nobody")
		assert.NoError(t, store.Unregister(ctx, userURN, push.BackendFCM, "never-registered"))
	})
}
