// Package pushservice assembles the native push service: the Pub/Sub delivery
// pipeline and the device registration API on one base server.
package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-native-push/internal/api"
	"github.com/tinywideclouds/go-native-push/internal/pipeline"
	"github.com/tinywideclouds/go-native-push/pkg/dispatch"
	"github.com/tinywideclouds/go-native-push/pkg/push"
	"github.com/tinywideclouds/go-native-push/pushservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[dispatch.Request]
	logger          *slog.Logger
}

// New wires the delivery pipeline and the registration routes onto one base
// server. Every route except the CORS preflight goes through authMiddleware.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	transports map[push.Backend]push.Transport,
	tokenStore dispatch.TokenStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.DeliveryRequestTransformer,
		pipeline.NewProcessor(transports, tokenStore, logger.With("component", "Processor")),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)
	registerRoutes(baseServer.Mux(), api.NewTokenAPI(tokenStore, logger),
		middleware.NewCorsMiddleware(cfg.CorsConfig, logger), authMiddleware)

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

// registerRoutes mounts POST /api/v1/{register,unregister}/{backend} for each
// native backend, plus the namespace-wide preflight.
func registerRoutes(mux *http.ServeMux, tokenAPI *api.TokenAPI, cors, auth func(http.Handler) http.Handler) {
	for _, backend := range []push.Backend{push.BackendAPNs, push.BackendFCM} {
		mux.Handle("POST /api/v1/register/"+string(backend), cors(auth(tokenAPI.Register(backend))))
		mux.Handle("POST /api/v1/unregister/"+string(backend), cors(auth(tokenAPI.Unregister(backend))))
	}
	mux.Handle("OPTIONS /api/v1/", cors(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})))
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
