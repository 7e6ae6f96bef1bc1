package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/abdhe/llm-mediator/pkg/chunk"
	"github.com/abdhe/llm-mediator/pkg/proxy"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC mediator and the metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	slog.Info("starting mediator", "version", version)

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	if reg.Len() == 0 {
		slog.Warn("no provider has credentials, every request will fail until one is configured")
	}

	tiers, err := buildCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer tiers.Close()

	orch := buildOrchestrator(reg, tiers, cfg)
	handler := proxy.NewHandler(proxy.Config{
		Orchestrator:   orch,
		Chunks:         chunk.New(orch, chunk.Config{Concurrency: cfg.ChunkConcurrency}),
		RequestTimeout: cfg.RequestTimeout * 3,
	})

	// -------------------------------------------------------------------------
	// gRPC server
	// -------------------------------------------------------------------------
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(32*1024*1024), // images travel inline
		grpc.MaxSendMsgSize(16*1024*1024),
		grpc.UnaryInterceptor(proxy.LoggingInterceptor(slog.Default())),
	)
	proxy.RegisterMediatorServer(grpcServer, handler)
	reflection.Register(grpcServer)

	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen on gRPC port %s: %w", cfg.GRPCPort, err)
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("gRPC server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Metrics server
	// -------------------------------------------------------------------------
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("metrics server listening", "port", cfg.MetricsPort, "path", "/metrics")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Graceful shutdown
	// -------------------------------------------------------------------------
	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case runErr = <-errCh:
		slog.Error("server failed, shutting down", "error", runErr)
	}

	grpcServer.GracefulStop()
	slog.Info("gRPC server stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown", "error", err)
	}
	slog.Info("mediator shut down")
	return runErr
}
