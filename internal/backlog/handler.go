package backlog

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"presale-settler/internal/webhook"
)

// Runner runs one backlog pass.
type Runner interface {
	RunOnce(ctx context.Context) (Summary, error)
}

// Handler exposes the backlog worker over HTTP.
type Handler struct {
	runner Runner
	secret string
	logger *zap.Logger
}

// NewHandler creates a handler. POST requires "Bearer <secret>".
func NewHandler(runner Runner, secret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{runner: runner, secret: secret, logger: logger.Named("backlog_http")}
}

// Register mounts GET (readiness) and POST (run a pass) on path.
func (h *Handler) Register(r gin.IRouter, path string) {
	r.GET(path, h.Ready)
	r.POST(path, h.Run)
}

// Ready answers liveness probes.
func (h *Handler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Run executes one pass synchronously and reports its summary.
func (h *Handler) Run(c *gin.Context) {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") || !webhook.Authorized(auth, h.secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sum, err := h.runner.RunOnce(c.Request.Context())
	if err != nil {
		h.logger.Error("backlog pass", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "backlog pass failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}
