// Package platform wires the vendor transports from their DSNs.
package platform

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-native-push/internal/credential"
	"github.com/tinywideclouds/go-native-push/internal/platform/apns"
	"github.com/tinywideclouds/go-native-push/internal/platform/fcm"
	"github.com/tinywideclouds/go-native-push/pkg/dsn"
	"github.com/tinywideclouds/go-native-push/pkg/push"
)

// Factory turns a DSN into a transport.
type Factory interface {
	Supports(d *dsn.DSN) bool
	Create(d *dsn.DSN) (push.Transport, error)
}

// Transports maps each backend to the transport that serves it.
type Transports map[push.Backend]push.Transport

// NewTransports builds one transport per DSN. All transports share cache and
// client. Empty DSNs are skipped so optional backends can stay unconfigured.
func NewTransports(dsns []string, cache credential.Cache, client *http.Client, logger *slog.Logger) (Transports, error) {
	if cache == nil {
		cache = credential.NewMemoryCache()
	}
	apnsFactory := &apns.Factory{Cache: cache, Logger: logger}
	fcmFactory := &fcm.Factory{Cache: cache, Logger: logger}
	// A typed nil *http.Client must not reach the transports as a non-nil interface.
	if client != nil {
		apnsFactory.Client = client
		fcmFactory.Client = client
	}
	factories := map[push.Backend]Factory{
		push.BackendAPNs: apnsFactory,
		push.BackendFCM:  fcmFactory,
	}

	transports := make(Transports)
	for _, raw := range dsns {
		if raw == "" {
			continue
		}
		d, err := dsn.Parse(raw)
		if err != nil {
			return nil, err
		}

		backend, factory, ok := findFactory(factories, d)
		if !ok {
			return nil, dsn.NewUnsupportedSchemeError(d, apns.Scheme, fcm.Scheme)
		}
		if _, dup := transports[backend]; dup {
			return nil, fmt.Errorf("more than one %s transport is configured", backend)
		}

		transport, err := factory.Create(d)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s transport: %w", backend, err)
		}
		logger.Info("Push transport configured", "backend", backend, "transport", transport.String())
		transports[backend] = transport
	}
	return transports, nil
}

func findFactory(factories map[push.Backend]Factory, d *dsn.DSN) (push.Backend, Factory, bool) {
	for backend, factory := range factories {
		if factory.Supports(d) {
			return backend, factory, true
		}
	}
	return "", nil, false
}
