// Command authd serves the auth routes over HTTP and an authenticated gRPC
// health service. Configuration comes from AUTHCORE_* variables.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/mux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	ac "github.com/panyam/authcore"
	authgrpc "github.com/panyam/authcore/grpc"
	"github.com/panyam/authcore/oauth2"
)

// serverEnv holds the process level settings. Auth settings are read by
// authcore.LoadConfigFromEnv.
type serverEnv struct {
	Store              string `env:"AUTHCORE_STORE"               envDefault:"fs"`
	StorePath          string `env:"AUTHCORE_STORE_PATH"          envDefault:"./data"`
	DatabaseDriver     string `env:"AUTHCORE_DATABASE_DRIVER"     envDefault:"sqlite"`
	DatabaseDSN        string `env:"AUTHCORE_DATABASE_DSN"`
	DatastoreProject   string `env:"AUTHCORE_DATASTORE_PROJECT"`
	DatastoreNamespace string `env:"AUTHCORE_DATASTORE_NAMESPACE"`
	RedisURL           string `env:"AUTHCORE_REDIS_URL"`
	ListenAddr         string `env:"AUTHCORE_LISTEN_ADDR"         envDefault:":8080"`
	GRPCAddr           string `env:"AUTHCORE_GRPC_ADDR"`
	LogLevel           string `env:"AUTHCORE_LOG_LEVEL"           envDefault:"info"`
}

func main() {
	var senv serverEnv
	if err := env.Parse(&senv); err != nil {
		slog.Error("parsing server config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(senv.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, senv, logger); err != nil {
		logger.Error("authd stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, senv serverEnv, logger *slog.Logger) error {
	cfg, err := ac.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, senv, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	core := ac.New(cfg, store, &ac.ConsoleNotifier{Logger: logger}).WithLogger(logger)
	if cfg.GoogleClientID != "" {
		verifier, err := oauth2.NewGoogleVerifier(ctx, cfg.GoogleClientID)
		if err != nil {
			return err
		}
		flow := oauth2.NewGoogleFlow(cfg, store, core.Tokens, core.Cookies, verifier)
		flow.Logger = logger
		core.AddProvider(flow)
	} else {
		logger.Warn("google login disabled, AUTHCORE_GOOGLE_CLIENT_ID is not set")
	}

	router := mux.NewRouter()
	core.Mount(router, "/auth")
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:              senv.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", senv.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcServer *grpc.Server
	if senv.GRPCAddr != "" {
		grpcServer, err = serveGRPC(senv.GRPCAddr, core.Tokens, logger, errCh)
		if err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

// serveGRPC starts a gRPC server whose every call except health checks needs
// a valid session token in the authorization metadata
func serveGRPC(addr string, tokens *ac.TokenManager, logger *slog.Logger, errCh chan<- error) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	interceptors := authgrpc.NewPublicMethodsConfig(tokens,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	)
	interceptors.Logger = logger

	server := grpc.NewServer(
		grpc.UnaryInterceptor(authgrpc.UnaryAuthInterceptor(interceptors)),
		grpc.StreamInterceptor(authgrpc.StreamAuthInterceptor(interceptors)),
	)
	healthpb.RegisterHealthServer(server, health.NewServer())

	go func() {
		logger.Info("grpc listening", "addr", addr)
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	return server, nil
}
