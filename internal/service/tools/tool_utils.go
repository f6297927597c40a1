package tools

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"laneassist/internal/models"
)

type requestContextKey struct{}

type requestMeta struct {
	UserID  string
	Channel models.Channel
}

// WithRequest tags ctx with the user a tool call is made for.
func WithRequest(ctx context.Context, userID string, channel models.Channel) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestContextKey{}, requestMeta{UserID: userID, Channel: channel})
}

// RequestFromContext returns the user and channel set by WithRequest.
func RequestFromContext(ctx context.Context) (string, models.Channel, bool) {
	meta, ok := ctx.Value(requestContextKey{}).(requestMeta)
	if !ok {
		return "", "", false
	}
	return meta.UserID, meta.Channel, true
}

// userLimiter hands out a token bucket per user.
type userLimiter struct {
	every time.Duration
	burst int
	mu    sync.Mutex
	users map[string]*rate.Limiter
}

func newUserLimiter(perMinute int) *userLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &userLimiter{
		every: time.Minute / time.Duration(perMinute),
		burst: perMinute,
		users: make(map[string]*rate.Limiter),
	}
}

func (l *userLimiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.users[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.every), l.burst)
		l.users[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
