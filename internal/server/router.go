// Package server exposes the panel's control surface over HTTP: REST
// endpoints for lifecycle and profile operations, a WebSocket event feed,
// and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cubeward/cubeward/internal/lifecycle"
	"github.com/cubeward/cubeward/internal/metrics"
	"github.com/cubeward/cubeward/internal/proc"
	"github.com/cubeward/cubeward/internal/profile"
)

// Router provides embeddable HTTP handlers for the control panel.
type Router struct {
	ctl      *lifecycle.Controller
	store    *profile.Store
	logger   *slog.Logger
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath: "/panel" results in /panel/api/status etc.
func NewRouter(ctl *lifecycle.Controller, store *profile.Store, logger *slog.Logger, basePath string) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{ctl: ctl, store: store, logger: logger, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)

	api := group.Group("/api")
	api.GET("/status", r.handleStatus)
	api.GET("/logs", r.handleLogs)

	api.GET("/server/status", r.handleServerStatus)
	api.POST("/server/start", r.handleServerStart)
	api.POST("/server/stop", r.handleServerStop)
	api.POST("/server/restart", r.handleServerRestart)
	api.POST("/server/command", r.handleServerCommand)

	api.POST("/tunnel/start", r.action(r.ctl.StartTunnel))
	api.POST("/tunnel/stop", r.action(r.ctl.StopTunnel))
	api.POST("/proxy/start", r.action(r.ctl.StartProxy))
	api.POST("/proxy/stop", r.action(r.ctl.StopProxy))
	api.POST("/roles/:role/acknowledge", r.handleAcknowledge)

	api.GET("/profiles", r.handleProfileList)
	api.POST("/profiles", r.handleProfileSave)
	api.GET("/profiles/:name", r.handleProfileGet)
	api.DELETE("/profiles/:name", r.handleProfileDelete)
	api.POST("/profiles/:name/activate", r.handleProfileActivate)

	group.GET("/ws/events", r.handleEvents)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	group.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, okResp{OK: true})
	})
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type okResp struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// writeErr maps lifecycle and spawn failures onto HTTP statuses.
func writeErr(c *gin.Context, err error) {
	var ce *lifecycle.ControlError
	if errors.As(err, &ce) {
		status := http.StatusConflict
		switch ce.Kind {
		case lifecycle.ErrTimeout:
			status = http.StatusGatewayTimeout
		case lifecycle.ErrFatal:
			status = http.StatusInternalServerError
		}
		c.JSON(status, errorResp{Error: ce.Error(), Kind: ce.Kind.String()})
		return
	}
	var se *proc.SpawnError
	if errors.As(err, &se) {
		status := http.StatusBadRequest
		switch se.Kind {
		case proc.SpawnAlreadyRunning:
			status = http.StatusConflict
		case proc.SpawnPermissionDenied:
			status = http.StatusForbidden
		}
		c.JSON(status, errorResp{Error: se.Error(), Kind: se.Kind.String()})
		return
	}
	if errors.Is(err, profile.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
}

// action wraps a no-argument controller operation as a handler.
func (r *Router) action(op func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := op(); err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.ctl.Status())
}

// handleServerStatus keeps the flat shape the original web console polls.
func (r *Router) handleServerStatus(c *gin.Context) {
	st := r.ctl.Status()
	out := gin.H{
		"profile":        st.Profile,
		"server_running": false,
		"state":          string(lifecycle.StateStopped),
		"player_count":   0,
	}
	for _, rs := range st.Roles {
		if rs.Role != lifecycle.RoleServer {
			continue
		}
		out["state"] = string(rs.State)
		out["server_running"] = rs.State == lifecycle.StateRunning
		if rs.PID != 0 {
			out["pid"] = rs.PID
			out["uptime_seconds"] = rs.UptimeSec
		}
	}
	if st.Monitor != nil {
		out["player_count"] = st.Monitor.LastSample.PlayerCount
		out["idle_seconds"] = int64(st.Monitor.IdleFor.Seconds())
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleServerStart(c *gin.Context) {
	if err := r.ctl.StartServer(); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true, Message: "server starting"})
}

func (r *Router) handleServerStop(c *gin.Context) {
	force := c.Query("force") == "1" || c.Query("force") == "true"
	if err := r.ctl.StopServer(force); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true, Message: "server stopped"})
}

func (r *Router) handleServerRestart(c *gin.Context) {
	if err := r.ctl.RestartServer(); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true, Message: "server restarting"})
}

type commandReq struct {
	Command string `json:"command"`
}

func (r *Router) handleServerCommand(c *gin.Context) {
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	out, err := r.ctl.SendCommand(req.Command)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "response": out})
}

func (r *Router) handleAcknowledge(c *gin.Context) {
	role := lifecycle.Role(c.Param("role"))
	if err := r.ctl.Acknowledge(role); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"lines": r.ctl.ConsoleLines()})
}

func (r *Router) handleProfileList(c *gin.Context) {
	ps, err := r.store.List(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	for i := range ps {
		ps[i].RCONPassword = "" // never expose credentials on list
	}
	c.JSON(http.StatusOK, ps)
}

func (r *Router) handleProfileGet(c *gin.Context) {
	p, err := r.store.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (r *Router) handleProfileSave(c *gin.Context) {
	var p profile.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeName(p.Name) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid profile name: allowed [A-Za-z0-9._-]"})
		return
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if err := r.store.Save(c.Request.Context(), p); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleProfileDelete(c *gin.Context) {
	name := c.Param("name")
	if p, ok := r.ctl.ActiveProfile(); ok && p.Name == name {
		c.JSON(http.StatusConflict, errorResp{Error: "cannot delete the active profile"})
		return
	}
	if err := r.store.Delete(c.Request.Context(), name); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleProfileActivate(c *gin.Context) {
	force := c.Query("force") == "1" || c.Query("force") == "true"
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()
	if err := r.ctl.ActivateProfile(ctx, c.Param("name"), force); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true, Message: "profile activated"})
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

func isSafeName(name string) bool {
	if name == "" || strings.Contains(name, "..") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
