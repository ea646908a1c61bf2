package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/joshuafuller/mdnsd/internal/config"
	"github.com/joshuafuller/mdnsd/internal/metrics"
	"github.com/joshuafuller/mdnsd/responder"
)

// Module wires the daemon: metrics, the responder, the configured services
// and the metrics endpoint.
var Module = fx.Module("mdnsd",
	fx.Provide(
		provideRegistry,
		provideMetrics,
		provideResponder,
	),
	fx.Invoke(
		registerServices,
		registerMetricsServer,
	),
)

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) (*metrics.Metrics, error) {
	return metrics.New(reg)
}

type responderParams struct {
	fx.In

	LC      fx.Lifecycle
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// provideResponder starts the responder from the configuration. Its
// goodbyes go out in OnStop.
func provideResponder(p responderParams) (*responder.Responder, error) {
	cfg := p.Config
	opts := []responder.Option{
		responder.WithTTLs(cfg.TTL),
		responder.WithLogger(p.Logger),
		responder.WithMetrics(p.Metrics),
		responder.WithInterfaces(cfg.Interfaces...),
		responder.WithIPVersions(cfg.IPv4, cfg.IPv6),
	}
	if cfg.Hostname != "" {
		opts = append(opts, responder.WithHostname(cfg.Hostname))
	}
	if cfg.Instance != "" {
		opts = append(opts, responder.WithInstance(cfg.Instance))
	}

	r, err := responder.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("start responder: %w", err)
	}
	p.LC.Append(fx.StopHook(r.Close))
	return r, nil
}

// registerServices adds the configured services once the app starts.
func registerServices(lc fx.Lifecycle, cfg *config.Config, r *responder.Responder, logger *slog.Logger) {
	lc.Append(fx.StartHook(func(ctx context.Context) error {
		for _, sc := range cfg.Services {
			svc, err := sc.Service()
			if err != nil {
				return err
			}
			if err := r.AddService(ctx, svc); err != nil {
				return fmt.Errorf("add service %s.%s: %w", svc.Type, svc.Proto, err)
			}
			logger.Info("service registered", "type", svc.Type, "proto", svc.Proto, "port", svc.Port, "instance", svc.Instance)
		}
		return nil
	}))
}

// metricsServer serves the Prometheus registry over HTTP.
type metricsServer struct {
	srv *http.Server
	ln  net.Listener
	log *slog.Logger
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) *metricsServer {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &metricsServer{
		srv: &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: logger,
	}
}

// Start binds the listener and serves in the background.
func (m *metricsServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", m.srv.Addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	m.ln = ln
	m.log.Info("serving metrics", "addr", ln.Addr().String())
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("metrics server stopped", "err", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (m *metricsServer) Stop(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// Addr is the bound address, valid after Start.
func (m *metricsServer) Addr() string {
	return m.ln.Addr().String()
}

func registerMetricsServer(lc fx.Lifecycle, cfg *config.Config, reg *prometheus.Registry, logger *slog.Logger) {
	if cfg.Metrics.Addr == "" {
		return
	}
	m := newMetricsServer(cfg.Metrics, reg, logger)
	lc.Append(fx.Hook{OnStart: m.Start, OnStop: m.Stop})
}
