/*
Package main is the entry point for the real-time gateway.

It loads configuration, initializes the global logger, builds the backend
client for the configured transport, wires the room hub, upload reassembler
and WebSocket gateway into the HTTP router, and shuts everything down in
order when the process receives SIGINT or SIGTERM.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"rtgateway/internal/app/backend"
	"rtgateway/internal/app/chat"
	"rtgateway/internal/app/upload"
	"rtgateway/internal/configs"
	"rtgateway/internal/handler"
	"rtgateway/internal/pkg/limiter"
	"rtgateway/internal/pkg/logx"
	"rtgateway/internal/pkg/metrics"
	"rtgateway/internal/pkg/pow"
)

const (
	shutdownTimeout     = 5 * time.Second
	limiterCleanup      = time.Minute
	uploadSweepInterval = time.Minute
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(logx.Options{
		Development: cfg.IsDevelopment(),
		Level:       cfg.LogLevel,
	})
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("backend_transport", cfg.BackendTransport).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("pow_difficulty", cfg.PowDifficulty).
		Int64("upload_max_bytes", cfg.UploadMaxBytes).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	client, err := backend.New(backend.Config{
		Transport:     backend.Transport(cfg.BackendTransport),
		ServiceAAddr:  cfg.ServiceAGRPCAddr,
		ServiceBAddr:  cfg.ServiceBGRPCAddr,
		ServiceAURL:   cfg.ServiceARESTURL,
		ServiceBURL:   cfg.ServiceBRESTURL,
		UnaryTimeout:  cfg.BackendUnaryTimeout,
		StreamTimeout: cfg.BackendStreamTimeout,
	})
	if err != nil {
		logx.Fatal(err, "Failed to build backend client")
	}
	client = backend.Instrument(client, m)

	uploads := upload.NewReassembler(client, cfg.UploadMaxBytes)
	hub := chat.NewHub(cfg.WSSendTimeout, m)
	gateway := chat.NewGateway(chat.GatewayConfig{
		Hub:            hub,
		Processor:      client,
		Uploads:        uploads,
		Observer:       m,
		Operation:      cfg.MessageOperation,
		MaxFrameBytes:  cfg.WSMaxFrameBytes,
		MaxUploadBytes: cfg.UploadMaxBytes,
		SendTimeout:    cfg.WSSendTimeout,
	})

	powManager := pow.NewPoWManager(cfg.PowDifficulty)
	ipLimiter := limiter.NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, limiterCleanup)

	router := handler.Router(&handler.AppDeps{
		Config:  cfg,
		Hub:     hub,
		Gateway: gateway,
		Backend: client,
		Uploads: uploads,
		PoW:     powManager,
		Limiter: ipLimiter,
		Metrics: m.Handler(),
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logx.Info(fmt.Sprintf("Gateway starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return uploads.RunJanitor(gctx, uploadSweepInterval, cfg.UploadSessionTTL)
	})

	g.Go(func() error {
		<-gctx.Done()
		logx.Info("Received shutdown signal. Starting graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by the server, so
		// the hub closes them before the listener drains.
		hub.Shutdown()
		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	if err := client.Close(); err != nil {
		logx.Warn("Closing backend client failed", "error", err.Error())
	}
	ipLimiter.Close()
	powManager.Close()

	if runErr != nil {
		logx.Fatal(runErr, "Server stopped with error")
	}
	logx.Info("Server gracefully stopped.")
}
