// Package webhook receives transaction notifications and hands them to the
// settlement pipeline asynchronously.
package webhook

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"presale-settler/internal/domain"
	"presale-settler/internal/observability"
)

// MaxBodyBytes bounds an inbound notification body.
const MaxBodyBytes = 5 << 20

// Enqueuer accepts notification batches for background processing.
type Enqueuer interface {
	Submit(batch []domain.Notification) error
}

// Handler serves the notification endpoint.
type Handler struct {
	secret string
	queue  Enqueuer
	logger *zap.Logger
}

// NewHandler creates a handler authenticating with secret.
func NewHandler(secret string, queue Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{secret: secret, queue: queue, logger: logger.Named("webhook")}
}

// Register mounts the handler on POST path.
func (h *Handler) Register(r gin.IRouter, path string) {
	r.POST(path, h.Handle)
}

// Handle authenticates, parses and enqueues. The response acknowledges
// receipt only; settlement outcomes are recorded on the purchase.
func (h *Handler) Handle(c *gin.Context) {
	if !Authorized(c.GetHeader("Authorization"), h.secret) {
		h.logger.Warn("unauthorized notification", zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	notifications, received, skipped, err := Parse(body)
	if err != nil {
		h.logger.Warn("malformed notification body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	observability.RecordNotificationReceived(received)
	for i := 0; i < skipped; i++ {
		observability.RecordNotificationSkipped("invalid")
	}

	if len(notifications) > 0 {
		if err := h.queue.Submit(notifications); err != nil {
			h.logger.Error("notification batch rejected",
				zap.Int("count", len(notifications)), zap.Error(err),
				zap.Bool("closed", errors.Is(err, ErrDispatcherClosed)))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}
	}

	h.logger.Info("notifications accepted",
		zap.Int("received", received),
		zap.Int("queued", len(notifications)),
		zap.Int("skipped", skipped),
	)
	c.JSON(http.StatusOK, gin.H{
		"status":   "accepted",
		"received": received,
		"queued":   len(notifications),
	})
}

// Authorized compares an Authorization header, bare or with a Bearer
// prefix, against secret in constant time. An empty secret never matches.
func Authorized(header, secret string) bool {
	if secret == "" {
		return false
	}
	token := strings.TrimSpace(header)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
