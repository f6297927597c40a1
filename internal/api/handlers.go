package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"laneassist/internal/auth"
	"laneassist/internal/models"
	"laneassist/internal/service/ai"
	"laneassist/internal/service/assistant"
	"laneassist/internal/worker"
)

const (
	ackStatus     = "status update received"
	ackNoMessage  = "no message to process"
	ackDuplicate  = "duplicate message"
	ackQueued     = "message queued"
	ackReceived   = "message received"
	webUserPrefix = "web:"
)

type Deduper interface {
	Accept(ctx context.Context, messageID string) bool
}

type JobQueue interface {
	Submit(job worker.Job) error
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Pipeline interface {
	Process(ctx context.Context, msg models.InboundMessage) (string, error)
}

// Handler wires HTTP routes to the webhook front door and the web chat pipeline.
type Handler struct {
	auth     *auth.Service
	dedup    Deduper
	jobs     JobQueue
	pipeline Pipeline
	cache    Pinger
	limiter  *clientLimiter
}

// NewHandler constructs a Handler. webPerMinute bounds web chat requests per user; 0 disables it.
func NewHandler(authService *auth.Service, dedup Deduper, jobs JobQueue, pipeline Pipeline, cache Pinger, webPerMinute int) *Handler {
	h := &Handler{
		auth:     authService,
		dedup:    dedup,
		jobs:     jobs,
		pipeline: pipeline,
		cache:    cache,
	}
	if webPerMinute > 0 {
		h.limiter = newClientLimiter(webPerMinute)
	}
	return h
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)
	hooks := router.Group("/webhooks")
	hooks.GET("", h.verifyWebhook)
	hooks.POST("", h.auth.Middleware(), h.receiveWebhook)
	api := router.Group("/api")
	api.POST("/generate", h.generate)
}

func (h *Handler) health(c *gin.Context) {
	if h.cache != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.cache.Ping(ctx); err != nil {
			slog.Warn("health check: redis unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) verifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")
	if err := h.auth.VerifyChallenge(mode, token); err != nil {
		slog.Warn("webhook verification failed", "mode", mode, "remote", c.ClientIP())
		c.Status(http.StatusForbidden)
		return
	}
	c.String(http.StatusOK, challenge)
}

// receiveWebhook acknowledges every event with 200 so the platform does not retry.
func (h *Handler) receiveWebhook(c *gin.Context) {
	ack := ackReceived
	defer func() {
		if r := recover(); r != nil {
			slog.Error("webhook handler panicked", "panic", r)
			ack = ackReceived
		}
		c.String(http.StatusOK, ack)
	}()

	body, ok := auth.RawBodyFromContext(c)
	if !ok {
		ack = ackNoMessage
		return
	}
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		slog.Warn("malformed webhook payload", "error", err)
		ack = ackNoMessage
		return
	}

	msg, kind := env.extract()
	switch kind {
	case eventStatus:
		ack = ackStatus
		return
	case eventNone:
		ack = ackNoMessage
		return
	}

	if h.dedup != nil && !h.dedup.Accept(c.Request.Context(), msg.PlatformMessageID) {
		slog.Info("duplicate webhook delivery", "message_id", msg.PlatformMessageID, "user_id", msg.UserID)
		ack = ackDuplicate
		return
	}
	if err := h.jobs.Submit(worker.Job{Message: msg, EnqueuedAt: time.Now()}); err != nil {
		slog.Error("enqueue webhook message", "message_id", msg.PlatformMessageID, "user_id", msg.UserID, "error", err)
		return
	}
	slog.Info("message queued", "message_id", msg.PlatformMessageID, "user_id", msg.UserID, "media", msg.HasMedia())
	ack = ackQueued
}

type generateRequest struct {
	Prompt          string `json:"prompt"`
	PromptTimestamp any    `json:"prompt_timestamp"`
	UserID          string `json:"user_id"`
}

func (h *Handler) generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	// web ids live in their own namespace so a caller cannot claim a WhatsApp number
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = c.ClientIP()
	}
	userID = webUserPrefix + strings.TrimPrefix(userID, webUserPrefix)
	if h.limiter != nil && !h.limiter.allow(userID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests, please slow down"})
		return
	}

	msg := models.InboundMessage{
		Channel:    models.ChannelWeb,
		UserID:     userID,
		Text:       prompt,
		ReceivedAt: parseTimestamp(req.PromptTimestamp),
	}
	reply, err := h.pipeline.Process(c.Request.Context(), msg)
	if err != nil && (assistant.CodeOf(err) != assistant.ErrorDelivery || reply == "") {
		status, text := errorResponse(err, reply)
		c.JSON(status, gin.H{"error": text})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": reply})
}

// errorResponse maps a pipeline error to a status and a user-safe message.
func errorResponse(err error, reply string) (int, string) {
	switch assistant.CodeOf(err) {
	case assistant.ErrorValidation:
		var e *assistant.Error
		if errors.As(err, &e) && e.Reason != "" {
			return http.StatusBadRequest, e.Reason
		}
		return http.StatusBadRequest, "invalid request"
	case assistant.ErrorUpstream:
		if reply == "" {
			reply = ai.Apology
		}
		return http.StatusBadGateway, reply
	}
	return http.StatusInternalServerError, ai.Apology
}

// parseTimestamp accepts RFC 3339 strings or unix seconds or milliseconds.
func parseTimestamp(v any) time.Time {
	switch ts := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t.UTC()
		}
		if n, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return fromUnix(n)
		}
	case float64:
		return fromUnix(int64(ts))
	}
	return time.Now().UTC()
}

func fromUnix(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// clientLimiter keeps one token bucket per web chat user.
type clientLimiter struct {
	every time.Duration
	mu    sync.Mutex
	users map[string]*rate.Limiter
}

func newClientLimiter(perMinute int) *clientLimiter {
	return &clientLimiter{every: time.Minute / time.Duration(perMinute), users: make(map[string]*rate.Limiter)}
}

func (l *clientLimiter) allow(userID string) bool {
	l.mu.Lock()
	lim, ok := l.users[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.every), 3)
		l.users[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
