// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

// Package admin exposes the thin administrative HTTP surface: list and
// inspect plugins, load modules, unload, hot-reload, and trigger enable
// notifications. Responses carry a success flag and a human-readable
// message; detailed diagnostics stay in the logs.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/plughub/plughub/internal/plugin"
)

// defaultUnloadTimeout bounds confirmation waits when a request does not
// specify one.
const defaultUnloadTimeout = 10 * time.Second

// Loader is the module-loading surface the admin server drives.
type Loader interface {
	LoadFromModule(ctx context.Context, path string) []plugin.Descriptor
	LoadFromDirectory(ctx context.Context, dir string) []plugin.Descriptor
	Unload(ctx context.Context, identifier string, timeout time.Duration) error
	HotReload(ctx context.Context, identifier, newPath string, timeout time.Duration) error
}

// RegistryView is the read/notify surface the admin server consumes.
type RegistryView interface {
	Descriptors() []plugin.Descriptor
	Descriptor(identifier string) (plugin.Descriptor, bool)
	NotifyEnable(identifier string) error
	PendingUnloadStatus(identifier string) (map[string]bool, bool)
}

// Server is the administrative HTTP server.
type Server struct {
	addr       string
	loader     Loader
	registry   RegistryView
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates an admin server.
func NewServer(addr string, loader Loader, registry RegistryView) *Server {
	return &Server{
		addr:     addr,
		loader:   loader,
		registry: registry,
	}
}

// result is the uniform admin response body.
type result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// routes builds the gin engine. Exposed for handler tests.
func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())

	v1 := g.Group("/v1")
	{
		v1.GET("/plugins", s.handleList)
		v1.GET("/plugins/:id", s.handleGet)
		v1.POST("/modules/load", s.handleLoad)
		v1.POST("/plugins/:id/unload", s.handleUnload)
		v1.POST("/plugins/:id/reload", s.handleReload)
		v1.POST("/plugins/:id/enable", s.handleEnable)
		v1.GET("/plugins/:id/unload-status", s.handleUnloadStatus)
	}
	return g
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, result{OK: true, Data: s.registry.Descriptors()})
}

func (s *Server) handleGet(c *gin.Context) {
	id := c.Param("id")
	desc, ok := s.registry.Descriptor(id)
	if !ok {
		c.JSON(http.StatusNotFound, result{Message: "plugin not found: " + id})
		return
	}
	c.JSON(http.StatusOK, result{OK: true, Data: desc})
}

type loadRequest struct {
	Path string `json:"path"`
	Dir  string `json:"dir"`
}

func (s *Server) handleLoad(c *gin.Context) {
	var req loadRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Path == "" && req.Dir == "") {
		c.JSON(http.StatusBadRequest, result{Message: "path or dir is required"})
		return
	}

	var loaded []plugin.Descriptor
	if req.Path != "" {
		loaded = s.loader.LoadFromModule(c.Request.Context(), req.Path)
	} else {
		loaded = s.loader.LoadFromDirectory(c.Request.Context(), req.Dir)
	}

	if len(loaded) == 0 {
		c.JSON(http.StatusOK, result{Message: "no plugins loaded, see server logs"})
		return
	}
	c.JSON(http.StatusOK, result{OK: true, Data: loaded})
}

type timeoutRequest struct {
	TimeoutSeconds int    `json:"timeout_seconds"`
	Path           string `json:"path"`
}

func (req *timeoutRequest) timeout() time.Duration {
	if req.TimeoutSeconds <= 0 {
		return defaultUnloadTimeout
	}
	return time.Duration(req.TimeoutSeconds) * time.Second
}

func (s *Server) handleUnload(c *gin.Context) {
	id := c.Param("id")
	var req timeoutRequest
	//nolint:errcheck // empty body means defaults
	c.ShouldBindJSON(&req)

	err := s.loader.Unload(c.Request.Context(), id, req.timeout())
	switch {
	case errors.Is(err, plugin.ErrPluginNotFound):
		c.JSON(http.StatusNotFound, result{Message: err.Error()})
	case errors.Is(err, plugin.ErrUnloadInFlight):
		c.JSON(http.StatusConflict, result{Message: err.Error()})
	case err != nil:
		c.JSON(http.StatusOK, result{Message: "unload completed with errors: " + err.Error()})
	default:
		c.JSON(http.StatusOK, result{OK: true, Message: "unloaded " + id})
	}
}

func (s *Server) handleReload(c *gin.Context) {
	id := c.Param("id")
	var req timeoutRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.JSON(http.StatusBadRequest, result{Message: "path is required"})
		return
	}

	err := s.loader.HotReload(c.Request.Context(), id, req.Path, req.timeout())
	switch {
	case errors.Is(err, plugin.ErrPluginNotFound):
		c.JSON(http.StatusNotFound, result{Message: err.Error()})
	case errors.Is(err, plugin.ErrUnloadInFlight):
		c.JSON(http.StatusConflict, result{Message: err.Error()})
	case err != nil:
		c.JSON(http.StatusOK, result{Message: "reload failed: " + err.Error()})
	default:
		c.JSON(http.StatusOK, result{OK: true, Message: "reloaded " + id})
	}
}

func (s *Server) handleEnable(c *gin.Context) {
	id := c.Param("id")
	if err := s.registry.NotifyEnable(id); err != nil {
		c.JSON(http.StatusNotFound, result{Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result{OK: true, Message: "enable requested for " + id})
}

func (s *Server) handleUnloadStatus(c *gin.Context) {
	id := c.Param("id")
	status, ok := s.registry.PendingUnloadStatus(id)
	if !ok {
		c.JSON(http.StatusNotFound, result{Message: "no unload in flight for " + id})
		return
	}
	c.JSON(http.StatusOK, result{OK: true, Data: status})
}

// Start begins serving the admin API. The returned channel reports serve
// errors and closes on graceful shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("admin server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("admin server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("admin server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_admin_server").Wrap(err)
		}
	}

	slog.Info("admin server stopped")
	return nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
