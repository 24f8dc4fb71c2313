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

	"github.com/alexedwards/scs/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	la "github.com/panyam/linkauth"
	lagrpc "github.com/panyam/linkauth/grpc"
	fboauth "github.com/panyam/linkauth/oauth2"
)

func newServeCommand(c *cli) *cobra.Command {
	var (
		httpAddr string
		grpcAddr string
		migrate  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the login endpoints",
		Long:  "Serves the HTTP login and profile endpoints, Prometheus metrics and optionally a gRPC health service behind the account interceptors",
		Example: `  # Serve on the default port with the fs backend
  linkauthctl serve

  # Postgres backend, migrate first, gRPC on :9090
  LINKAUTH_STORAGE_BACKEND=postgres LINKAUTH_DATABASE_URL=postgres://... linkauthctl serve --migrate --grpc-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), c.cfg, httpAddr, grpcAddr, migrate)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (disabled when empty)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Prepare the storage schema before serving")

	return cmd
}

func runServe(ctx context.Context, cfg *la.Config, httpAddr, grpcAddr string, migrate bool) error {
	logger := slog.Default().With("component", "server")
	logger.Info("Starting server initialization", "backend", cfg.Storage.Backend)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()
	if migrate {
		if err := b.migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate storage: %w", err)
		}
	}

	metrics := la.NewMetrics(prometheus.DefaultRegisterer)
	provisioner, err := la.NewProvisionerFromConfig(cfg, b.store, metrics)
	if err != nil {
		return err
	}

	// Facebook stays registered without a client so its logins fail as
	// provider_unavailable instead of unknown provider
	var fbClient la.FacebookClient
	var fb *fboauth.FacebookOAuth2
	if cfg.Facebook.AppID != "" {
		fb = fboauth.NewFacebookOAuth2(cfg.Facebook.AppID, cfg.Facebook.AppSecret, cfg.Facebook.CallbackURL, nil)
		if cfg.Facebook.GraphURL != "" {
			fb.GraphURL = cfg.Facebook.GraphURL
		}
		fbClient = fb
	}
	svc := la.NewServiceFromConfig(cfg, provisioner, fbClient, nil, nil)
	svc.Logger = logger

	session := scs.New()
	session.Lifetime = time.Duration(cfg.Session.TimeoutSeconds) * time.Second
	auth := la.NewFromConfig(cfg, svc, session)
	if fb != nil {
		auth.MountFacebook("/auth/facebook", fb)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/", auth.Handler())
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcServer *grpc.Server
	var grpcListener net.Listener
	if grpcAddr != "" {
		grpcServer = newGRPCServer(svc, auth.Tokens)
		grpcListener, err = net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "address", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	if grpcServer != nil {
		g.Go(func() error {
			logger.Info("gRPC server listening", "address", grpcAddr)
			return grpcServer.Serve(grpcListener)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newGRPCServer serves the health service. Callers identify themselves
// with a session token or an account id in the metadata; health checks
// and reflection are public.
func newGRPCServer(svc *la.Service, tokens *la.SessionTokens) *grpc.Server {
	authConfig := lagrpc.NewPublicMethodsConfig(
		"/grpc.health.v1.Health/Check",
		"/grpc.health.v1.Health/Watch",
		"/grpc.health.v1.Health/List",
		"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo",
		"/grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo",
	)
	authConfig.Lookup = svc
	authConfig.VerifyToken = tokens.VerifyAccountID

	server := grpc.NewServer(
		grpc.UnaryInterceptor(lagrpc.UnaryAuthInterceptor(authConfig)),
		grpc.StreamInterceptor(lagrpc.StreamAuthInterceptor(authConfig)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           10 * time.Second,
		}),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(server)
	return server
}
