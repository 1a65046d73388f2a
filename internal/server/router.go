package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/accelguard/internal/logger"
	"github.com/loykin/accelguard/internal/metrics"
	"github.com/loykin/accelguard/internal/watchdog"
)

// DefaultTailLines bounds the log excerpt returned by the status query.
const DefaultTailLines = 20

// Router provides the embeddable read-only status API.
// Endpoints:
//
//	GET {basePath}/status   — supervisor snapshot plus trailing log lines
//	GET {basePath}/healthz  — liveness of the watchdog process itself
//	GET {basePath}/metrics  — Prometheus exposition
//
// The API is strictly a query surface; control (start/stop) goes through
// the PID-file convention, never through HTTP.
type Router struct {
	sup      *watchdog.Supervisor
	logPath  string
	basePath string
}

func NewRouter(sup *watchdog.Supervisor, logPath, basePath string) *Router {
	return &Router{sup: sup, logPath: logPath, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *watchdog.Supervisor, logPath string) *http.Server {
	r := NewRouter(sup, logPath, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type statusResp struct {
	watchdog.Snapshot
	Log []string `json:"log,omitempty"`
}

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleStatus(c *gin.Context) {
	n := DefaultTailLines
	if raw := c.Query("lines"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 || v > 1000 {
			c.JSON(http.StatusBadRequest, errorResp{Error: "lines must be an integer in [0,1000]"})
			return
		}
		n = v
	}
	resp := statusResp{Snapshot: r.sup.Snapshot()}
	if r.logPath != "" && n > 0 {
		lines, err := logger.Tail(r.logPath, n)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResp{Error: "read log: " + err.Error()})
			return
		}
		resp.Log = lines
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func sanitizeBase(basePath string) string {
	bp := strings.TrimSpace(basePath)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}
