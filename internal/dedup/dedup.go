package dedup

import (
	"context"
	"log/slog"
	"time"

	"laneassist/internal/config"
)

const keyPrefix = "processed:"

// Store is the atomic set-if-absent primitive the ledger is built on.
type Store interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// Ledger remembers platform message ids for a bounded window so webhook retries
// are processed at most once.
type Ledger struct {
	store Store
	ttl   time.Duration
}

func NewLedger(store Store, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = config.DefaultDedupTTL
	}
	return &Ledger{store: store, ttl: ttl}
}

// Accept reports whether messageID is seen for the first time within the window.
// When the store is unreachable the message is accepted.
func (l *Ledger) Accept(ctx context.Context, messageID string) bool {
	if messageID == "" {
		return false
	}
	if l == nil || l.store == nil {
		return true
	}
	ok, err := l.store.SetNX(ctx, keyPrefix+messageID, 1, l.ttl)
	if err != nil {
		slog.Warn("dedup store unavailable, accepting message", "message_id", messageID, "error", err)
		return true
	}
	return ok
}
