package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"time"

	"connectrpc.com/connect"
	grpchealth "connectrpc.com/grpchealth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"marketstats.shikanime.studio/internal/marketplace"
	"marketstats.shikanime.studio/internal/stats"
)

// ServiceName is the name reported to gRPC health checks.
const ServiceName = "marketstats"

// Watcher runs the on-demand operations exposed over HTTP.
type Watcher interface {
	Refresh(ctx context.Context) (stats.CrawlResult, error)
	AddExtension(ctx context.Context, id string) (*stats.Extension, error)
	RefreshExtension(ctx context.Context, id string) (*stats.ExtensionInstall, error)
}

// Documents fetches raw marketplace documents.
type Documents interface {
	ExtensionDocument(ctx context.Context, id string) (*marketplace.Extension, error)
}

// Pinger reports backend availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds handlers and dependencies for the statistics HTTP server.
type Server struct {
	watcher Watcher
	reader  stats.Reader
	docs    Documents
	pinger  Pinger
	token   string
	mux     *stdhttp.ServeMux
}

// ServerOptions configures a Server.
type ServerOptions struct {
	token  string
	pinger Pinger
}

// ServerOption applies a configuration to ServerOptions.
type ServerOption func(*ServerOptions)

// WithAdminToken sets the token expected in the TOKEN header of mutating requests.
func WithAdminToken(token string) ServerOption {
	return func(o *ServerOptions) { o.token = token }
}

// WithPinger sets the dependency probed by health checks.
func WithPinger(p Pinger) ServerOption {
	return func(o *ServerOptions) { o.pinger = p }
}

// NewServer initializes a Server and mounts every route.
func NewServer(w Watcher, r stats.Reader, docs Documents, opts ...ServerOption) *Server {
	var o ServerOptions
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{
		watcher: w,
		reader:  r,
		docs:    docs,
		pinger:  o.pinger,
		token:   o.token,
		mux:     stdhttp.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /index.json", s.handleIndex)
	s.mux.HandleFunc("GET /stats/{extensionId}", s.handleStats)
	s.mux.HandleFunc("GET /{file}", s.handleCSV)
	s.mux.Handle("POST /addextension", requireAdmin(s.handleAddExtension))
	s.mux.HandleFunc("GET /refresh", s.handleRefresh)
	s.mux.Handle("POST /refresh/{extensionId}", requireAdmin(s.handleRefreshExtension))
	s.mux.HandleFunc("GET /api/{extensionId}", s.handleDocument)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	hpath, hhandler := grpchealth.NewHandler(HealthChecker{pinger: s.pinger})
	s.mux.Handle(hpath, hhandler)
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() stdhttp.Handler {
	return otelhttp.NewHandler(s.authenticate(s.mux), "http.server")
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &stdhttp.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		slog.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// HealthChecker reports health based on database connectivity.
type HealthChecker struct{ pinger Pinger }

// Check implements grpchealth.Checker. It returns StatusServing when the database ping succeeds.
func (c HealthChecker) Check(
	ctx context.Context,
	req *grpchealth.CheckRequest,
) (*grpchealth.CheckResponse, error) {
	tracer := otel.Tracer("marketstats/http")
	ctx, span := tracer.Start(ctx, "HealthChecker.Check")
	defer span.End()
	switch req.Service {
	case "", ServiceName:
		if c.pinger != nil {
			if err := c.pinger.Ping(ctx); err != nil {
				slog.WarnContext(ctx, "health check failed", "error", err)
				return &grpchealth.CheckResponse{Status: grpchealth.StatusNotServing}, nil
			}
		}
		return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
	default:
		return nil, connect.NewError(
			connect.CodeNotFound,
			fmt.Errorf("unknown service: %s", req.Service),
		)
	}
}
