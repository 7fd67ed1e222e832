// HTTP server for the Prometheus metrics endpoint
//
// Serves /metrics for scraping plus /health and /ready probes. /ready
// reflects the printer connection state.
//
//	server := metrics.NewMetricsServer(dm, ":9100")
//	errCh := server.StartAsync()
//	defer server.Shutdown(context.Background())
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tothambrus11/3d-printer-controller/pkg/config"
	"github.com/tothambrus11/3d-printer-controller/pkg/printer"
)

// MetricsServer serves driver metrics over HTTP
type MetricsServer struct {
	dm     *DriverMetrics
	addr   string
	server *http.Server

	username string
	password string

	mu        sync.RWMutex
	running   bool
	listener  net.Listener
	startTime time.Time
}

// MetricsServerConfig holds server configuration
type MetricsServerConfig struct {
	// Address to listen on, e.g. ":9100" or "127.0.0.1:9100"
	Address string

	// Optional basic auth credentials
	Username string
	Password string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultMetricsServerConfig returns default server configuration
func DefaultMetricsServerConfig() MetricsServerConfig {
	return MetricsServerConfig{
		Address:      ":9100",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// ServerConfigFrom maps the [metrics] section onto a server config.
func ServerConfigFrom(c config.MetricsConfig) MetricsServerConfig {
	sc := DefaultMetricsServerConfig()
	sc.Address = c.Address
	sc.Username = c.Username
	sc.Password = c.Password
	return sc
}

// NewMetricsServer creates a metrics server with default timeouts
func NewMetricsServer(dm *DriverMetrics, addr string) *MetricsServer {
	cfg := DefaultMetricsServerConfig()
	cfg.Address = addr
	return NewMetricsServerWithConfig(dm, cfg)
}

// NewMetricsServerWithConfig creates a metrics server
func NewMetricsServerWithConfig(dm *DriverMetrics, cfg MetricsServerConfig) *MetricsServer {
	ms := &MetricsServer{
		dm:       dm,
		addr:     cfg.Address,
		username: cfg.Username,
		password: cfg.Password,
	}
	ms.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      ms.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return ms
}

// Handler returns the server's routes.
func (ms *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", ms.handleMetrics)
	mux.HandleFunc("/health", ms.handleHealth)
	mux.HandleFunc("/ready", ms.handleReady)
	mux.HandleFunc("/", ms.handleRoot)
	return mux
}

// Start listens and serves until Shutdown
func (ms *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", ms.addr)
	if err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	return ms.Serve(ln)
}

// Serve serves on ln until Shutdown
func (ms *MetricsServer) Serve(ln net.Listener) error {
	ms.mu.Lock()
	ms.running = true
	ms.listener = ln
	ms.startTime = time.Now()
	ms.mu.Unlock()

	err := ms.server.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine. The channel yields a serve
// error, if any, and is closed when the server stops.
func (ms *MetricsServer) StartAsync() chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := ms.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the server
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	ms.mu.Lock()
	ms.running = false
	ms.mu.Unlock()
	return ms.server.Shutdown(ctx)
}

// IsRunning returns whether the server is serving
func (ms *MetricsServer) IsRunning() bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.running
}

// GetAddress returns the bound address once serving, else the configured one
func (ms *MetricsServer) GetAddress() string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.listener != nil {
		return ms.listener.Addr().String()
	}
	return ms.addr
}

func (ms *MetricsServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !ms.checkAuth(w, r) {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	output := ms.dm.Gather()
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.Itoa(len(output)))
		return
	}
	_, _ = w.Write([]byte(output))
}

func (ms *MetricsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

// handleReady is 200 only while the printer link is ready.
func (ms *MetricsServer) handleReady(w http.ResponseWriter, r *http.Request) {
	state := ms.dm.CurrentState()
	w.Header().Set("Content-Type", "text/plain")
	if state == printer.Ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready\n"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = fmt.Fprintf(w, "Not Ready (%s)\n", state)
}

func (ms *MetricsServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Printer Metrics</title></head>
<body>
<h1>Printer Host Metrics</h1>
<p><a href="/metrics">/metrics</a> Prometheus metrics</p>
<p><a href="/health">/health</a> liveness</p>
<p><a href="/ready">/ready</a> printer link readiness</p>
</body>
</html>`))
}

func (ms *MetricsServer) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if ms.username == "" && ms.password == "" {
		return true
	}

	username, password, ok := r.BasicAuth()
	if ok {
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(ms.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(ms.password)) == 1
		if userOK && passOK {
			return true
		}
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="Printer Metrics"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

// GetStatus returns server status for diagnostics
func (ms *MetricsServer) GetStatus() map[string]any {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	status := map[string]any{
		"address": ms.addr,
		"running": ms.running,
	}
	if ms.running {
		status["uptime"] = time.Since(ms.startTime).Seconds()
	}
	return status
}
