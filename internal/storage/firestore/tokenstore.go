// Package firestore persists registered devices in Google Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-native-push/pkg/dispatch"
	"github.com/tinywideclouds/go-native-push/pkg/push"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// FirestoreStore implements dispatch.TokenStore using Google Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewFirestoreStore(client *firestore.Client, logger *slog.Logger) *FirestoreStore {
	return &FirestoreStore{
		client: client,
		logger: logger.With("component", "FirestoreTokenStore"),
		now:    time.Now,
	}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	Backend   string    `firestore:"backend"`
	Token     string    `firestore:"token"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func (s *FirestoreStore) Register(ctx context.Context, user urn.URN, device dispatch.Device) error {
	record := deviceRecord{
		Backend:   string(device.Backend),
		Token:     device.Token,
		UpdatedAt: s.now().UTC(),
	}

	// Set overwrites, so re-registering only refreshes updated_at.
	if _, err := s.deviceRef(user, device.Backend, device.Token).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Unregister(ctx context.Context, user urn.URN, backend push.Backend, token string) error {
	_, err := s.deviceRef(user, backend, token).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to unregister device: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Fetch(ctx context.Context, user urn.URN) ([]dispatch.Device, error) {
	iter := s.devicesCollection(user).Documents(ctx)
	defer iter.Stop()

	devices := make([]dispatch.Device, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			s.logger.Warn("Skipping corrupt device record", "doc_id", doc.Ref.ID, "err", err)
			continue
		}
		if record.Token == "" {
			continue
		}
		devices = append(devices, dispatch.Device{
			Backend: push.Backend(record.Backend),
			Token:   record.Token,
		})
	}
	return devices, nil
}

// deviceRef: users/{userURN}/devices/{sha256(backend:token)}
func (s *FirestoreStore) deviceRef(user urn.URN, backend push.Backend, token string) *firestore.DocumentRef {
	return s.devicesCollection(user).Doc(deviceID(backend, token))
}

func (s *FirestoreStore) devicesCollection(user urn.URN) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(user.String()).Collection("devices")
}

// deviceID hashes the device so ids are fixed length and evenly spread.
func deviceID(backend push.Backend, token string) string {
	sum := sha256.Sum256([]byte(string(backend) + ":" + token))
	return hex.EncodeToString(sum[:])
}
