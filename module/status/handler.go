package status

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"statusbridge/middleware"
	"statusbridge/tools/idem"
)

// Webhook is the body of a Zulip outgoing webhook.
type Webhook struct {
	Data    string         `json:"data"`
	Token   string         `json:"token"`
	Trigger string         `json:"trigger"`
	Message WebhookMessage `json:"message"`
}

type WebhookMessage struct {
	ID          int64  `json:"id"`
	SenderID    int64  `json:"sender_id"`
	SenderEmail string `json:"sender_email"`
	Content     string `json:"content"`
}

const triggerMention = "mention"

type Handler struct {
	bot       *Bot
	token     string
	seen      idem.Store
	dedupeTTL time.Duration
	timeout   time.Duration
	log       *zap.Logger
}

type HandlerConfig struct {
	// Token is the outgoing-webhook token Zulip sends; empty skips the check.
	Token     string
	DedupeTTL time.Duration
	// Timeout bounds one command, publishing included.
	Timeout time.Duration
}

func NewHandler(bot *Bot, seen idem.Store, cfg HandlerConfig, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if seen == nil {
		seen = idem.NewMem(cfg.DedupeTTL, nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Handler{
		bot:       bot,
		token:     cfg.Token,
		seen:      seen,
		dedupeTTL: cfg.DedupeTTL,
		timeout:   cfg.Timeout,
		log:       log.Named("webhook"),
	}
}

// Register mounts the heartbeat and the webhook on r.
func (h *Handler) Register(r gin.IRoutes, opt middleware.RouteOpt) {
	middleware.GET(r, "/", h.Heartbeat, middleware.RouteOpt{})
	middleware.POST(r, "/status", h.Status, opt)
}

func (h *Handler) Heartbeat(c *gin.Context) {
	c.String(http.StatusOK, "Status Bot is alive")
}

func (h *Handler) Status(c *gin.Context) {
	var hook Webhook
	if err := c.ShouldBindJSON(&hook); err != nil {
		h.log.Info("bad webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook body"})
		return
	}
	if h.token != "" && subtle.ConstantTimeCompare([]byte(hook.Token), []byte(h.token)) != 1 {
		h.log.Info("webhook token mismatch", zap.Int64("sender_id", hook.Message.SenderID))
	}
	if hook.Trigger == triggerMention {
		c.JSON(http.StatusOK, gin.H{"response_not_required": true})
		return
	}
	if hook.Message.ID != 0 && h.seen.SeenOnce("msg:"+strconv.FormatInt(hook.Message.ID, 10), h.dedupeTTL) {
		h.log.Debug("duplicate webhook delivery", zap.Int64("message_id", hook.Message.ID))
		c.JSON(http.StatusOK, gin.H{"response_not_required": true})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	user := strconv.FormatInt(hook.Message.SenderID, 10)
	reply := h.bot.Respond(ctx, user, hook.Data)
	c.JSON(http.StatusOK, gin.H{"content": reply})
}
