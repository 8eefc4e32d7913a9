// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the service is ready to accept connections.
type ReadinessChecker func() bool

// Package-level counters so registry, router, and loader code can record
// events without holding a Server reference.
var (
	pluginsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plughub_plugins_loaded",
		Help: "Number of currently loaded plugins",
	})
	pluginLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plughub_plugin_loads_total",
			Help: "Total plugin load attempts by outcome",
		},
		[]string{"outcome"},
	)
	pluginUnloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plughub_plugin_unloads_total",
			Help: "Total completed plugin unloads by completion mode",
		},
		[]string{"mode"},
	)
	messagesRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plughub_messages_routed_total",
			Help: "Total frames routed to clients by kind and status",
		},
		[]string{"kind", "status"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plughub_dispatch_total",
			Help: "Total plugin message dispatches by result code",
		},
		[]string{"code"},
	)
	enableAcks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plughub_enable_acks_total",
			Help: "Total enable acknowledgements received by success flag",
		},
		[]string{"success"},
	)
)

// SetPluginsLoaded records the current registry size.
func SetPluginsLoaded(n int) {
	pluginsLoaded.Set(float64(n))
}

// RecordLoad increments the load counter for an outcome ("ok", "duplicate",
// "hook_error").
func RecordLoad(outcome string) {
	pluginLoads.WithLabelValues(outcome).Inc()
}

// RecordUnload increments the unload counter for a completion mode
// ("fast", "quorum", "forced").
func RecordUnload(mode string) {
	pluginUnloads.WithLabelValues(mode).Inc()
}

// RecordRouted increments the routed-frame counter.
func RecordRouted(kind, status string) {
	messagesRouted.WithLabelValues(kind, status).Inc()
}

// RecordDispatch increments the dispatch counter for a result code.
func RecordDispatch(code string) {
	dispatches.WithLabelValues(code).Inc()
}

// RecordEnableAck increments the enable acknowledgement counter.
func RecordEnableAck(success bool) {
	enableAcks.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100").
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Create a new registry to avoid polluting the global one
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(pluginsLoaded, pluginLoads, pluginUnloads,
		messagesRouted, dispatches, enableAcks)

	return &Server{
		addr:     addr,
		registry: registry,
		isReady:  readinessChecker,
	}
}

// Start begins serving observability endpoints.
// It returns an error channel that will receive any errors from the HTTP server
// after it starts. The channel is closed when the server stops gracefully.
// Callers should monitor this channel to detect server failures.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	// Kubernetes-style health probes
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Use local httpSrv to avoid race with subsequent Start() calls
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	// Use CompareAndSwap to atomically transition from running to stopped.
	// This prevents a race where a concurrent Start() could succeed between
	// checking the running state and setting it to false.
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state on failure so the server can be stopped again
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness returns 200 if the process is running.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 if the service is ready to accept connections,
// or 503 if not ready.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
