package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-pagecheck/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"

	MetricsHost = "0.0.0.0"
	MetricsPort = "7300"

	shutdownTimeout = 5 * time.Second
)

// Config selects the listeners. An empty address disables that server.
type Config struct {
	Log         log.Logger
	HealthzAddr string
	MetricsAddr string
}

// DefaultConfig listens on the standard healthz and metrics ports.
func DefaultConfig() Config {
	return Config{
		HealthzAddr: net.JoinHostPort(HealthzHost, HealthzPort),
		MetricsAddr: net.JoinHostPort(MetricsHost, MetricsPort),
	}
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer

	log    log.Logger
	config Config
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Info("No logger provided, using default")
	}
	return &Service{
		Healthz: &HealthzServer{log: cfg.Log},
		Metrics: &MetricsServer{},
		log:     cfg.Log,
		config:  cfg,
	}
}

// Start binds the configured listeners and serves them in the background.
// Serving errors are logged and counted; bind errors are returned.
func (s *Service) Start(ctx context.Context) error {
	s.log.Info("service starting")

	if s.config.HealthzAddr != "" {
		ln, err := s.Healthz.Listen(s.config.HealthzAddr)
		if err != nil {
			metrics.RecordErrorDetails("error starting healthz server", err)
			return fmt.Errorf("failed to bind healthz server: %w", err)
		}
		s.log.Info("starting healthz server", "addr", ln.Addr().String())
		go s.serve("healthz", func() error { return s.Healthz.Serve(ln) })
	}

	if s.config.MetricsAddr != "" {
		ln, err := s.Metrics.Listen(s.config.MetricsAddr)
		if err != nil {
			metrics.RecordErrorDetails("error starting metrics server", err)
			_ = s.Healthz.Shutdown(ctx)
			return fmt.Errorf("failed to bind metrics server: %w", err)
		}
		s.log.Info("starting metrics server", "addr", ln.Addr().String())
		go s.serve("metrics", func() error { return s.Metrics.Serve(ln) })
	}

	s.log.Info("service started")
	return nil
}

func (s *Service) serve(name string, fn func() error) {
	if err := fn(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("server stopped unexpectedly", "server", name, "err", err)
		metrics.RecordErrorDetails("error serving "+name, err)
	}
}

func (s *Service) Shutdown() {
	s.log.Info("service shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	_ = s.Healthz.Shutdown(ctx)
	s.log.Info("healthz stopped")

	_ = s.Metrics.Shutdown(ctx)
	s.log.Info("metrics stopped")

	s.log.Info("service stopped")
}
