package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mercato/cmd/server/config"
	grpcadapter "mercato/internal/adapters/grpc"
	httpadapter "mercato/internal/adapters/http"
	"mercato/internal/logging"
	"mercato/internal/observability"
	"mercato/internal/realtime"
	"mercato/internal/transfers"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const transferServiceName = "mercato.transfers.v1.TransferService"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	obsCfg, err := config.LoadObservability()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.WithLevel(logging.New("mercato", os.Stdout), obsCfg.LogLevel)

	if err := run(ctx, obsCfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func run(ctx context.Context, obsCfg config.ObservabilityConfig, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	busCfg, err := config.LoadBus()
	if err != nil {
		return err
	}
	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}
	grpcCfg, err := config.LoadGRPC()
	if err != nil {
		return err
	}
	watchdogCfg, err := config.LoadWatchdog()
	if err != nil {
		return err
	}
	reliabilityCfg, err := transfers.LoadReliabilityConfig()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()

	store, cleanupStore, err := transfers.BuildStore(ctx, os.Getenv("DATABASE_URL"), logger)
	if err != nil {
		return fmt.Errorf("saga store: %w", err)
	}
	defer cleanupStore()

	handles, err := buildBus(ctx, busCfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	defer handles.cleanup()

	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	coordinator := transfers.NewCoordinator(store, reliabilityCfg.Wrap(handles.publisher), logger,
		transfers.WithNotifier(hub),
		transfers.WithMetrics(metrics),
		transfers.WithTracer(otel.Tracer("mercato/transfers")),
	)
	service := transfers.NewService(store, coordinator, logger)

	errCh := make(chan error, 4)
	go func() {
		if err := handles.consumer.Run(ctx, coordinator.Handle); err != nil {
			errCh <- fmt.Errorf("reply consumer: %w", err)
		}
	}()

	if watchdogCfg.Enabled() {
		watchdog := transfers.NewWatchdog(store, coordinator, transfers.WatchdogConfig{
			Schedule:   watchdogCfg.Schedule,
			StallAfter: watchdogCfg.StallAfter,
			BatchSize:  watchdogCfg.BatchSize,
		}, logger)
		go func() {
			if err := watchdog.Run(ctx); err != nil {
				errCh <- fmt.Errorf("watchdog: %w", err)
			}
		}()
	}

	if os.Getenv("APP_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpSrv := &http.Server{
		Addr: httpCfg.Addr,
		Handler: httpadapter.NewRouter(service, httpadapter.RouterOptions{
			Feed:    hub,
			Metrics: metrics,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", httpCfg.Addr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	lis, err := net.Listen("tcp", grpcCfg.Addr)
	if err != nil {
		return err
	}
	var limiter rateLimiter
	if grpcCfg.RateLimitInterval > 0 && grpcCfg.RateLimitBurst > 0 {
		limiter = transfers.NewRateLimiter(grpcCfg.RateLimitInterval, grpcCfg.RateLimitBurst)
	}
	server := grpcpkg.NewServer(
		grpcpkg.UnaryInterceptor(rateLimitUnaryInterceptor(limiter, metrics, logger)),
		grpcpkg.StreamInterceptor(rateLimitStreamInterceptor(limiter, metrics, logger)),
	)
	grpcadapter.RegisterTransferServiceServer(server, grpcadapter.NewTransferServer(service))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus(transferServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if env := os.Getenv("APP_ENV"); env != "production" {
		reflection.Register(server)
		logger.Info().Str("app_env", env).Msg("gRPC reflection enabled")
	}

	go func() {
		logger.Info().Str("addr", grpcCfg.Addr).Msg("grpc server listening")
		if err := server.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	obsSrv := startObservabilityServer(obsCfg, metrics, logger)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	healthServer.SetServingStatus(transferServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	metrics.MarkShutdown(0)
	cancel()

	server.GracefulStop()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if obsSrv != nil {
		_ = obsSrv.Shutdown(shutdownCtx)
	}
	logger.Info().Msg("server stopped")
	return runErr
}

func startObservabilityServer(cfg config.ObservabilityConfig, metrics *observability.Metrics, logger zerolog.Logger) *http.Server {
	if cfg.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("observability server error")
		}
	}()
	return srv
}
