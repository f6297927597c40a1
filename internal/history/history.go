package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"laneassist/internal/config"
	"laneassist/internal/models"
)

const keyPrefix = "history:"

// ListStore is a capped list keyed by string.
type ListStore interface {
	PushCapped(ctx context.Context, key string, value interface{}, capacity int, ttl time.Duration) error
	Head(ctx context.Context, key string, n int) ([]string, error)
}

// Store keeps the most recent conversation turns per user.
type Store struct {
	lists    ListStore
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewStore clamps capacity into the supported range. A zero ttl keeps turns until
// they are pushed out by newer ones.
func NewStore(lists ListStore, capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = config.DefaultHistoryCap
	}
	if capacity < config.MinHistoryCap {
		capacity = config.MinHistoryCap
	}
	if capacity > config.MaxHistoryCap {
		capacity = config.MaxHistoryCap
	}
	return &Store{lists: lists, capacity: capacity, ttl: ttl, now: time.Now}
}

func (s *Store) Capacity() int { return s.capacity }

// Append records one completed exchange for userID.
func (s *Store) Append(ctx context.Context, userID, userMessage, assistantResponse string) error {
	if userID == "" {
		return fmt.Errorf("append history: empty user id")
	}
	now := s.now().UTC()
	payload, err := json.Marshal(models.ConversationTurn{
		UserMessage:       userMessage,
		AssistantResponse: assistantResponse,
		UserAt:            now,
		AssistantAt:       now,
	})
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	if err := s.lists.PushCapped(ctx, keyPrefix+userID, payload, s.capacity, s.ttl); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Recent returns up to limit turns for userID, oldest first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	if limit <= 0 || limit > s.capacity {
		limit = s.capacity
	}
	raw, err := s.lists.Head(ctx, keyPrefix+userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := make([]models.ConversationTurn, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var turn models.ConversationTurn
		if err := json.Unmarshal([]byte(raw[i]), &turn); err != nil {
			slog.Warn("skip undecodable history entry", "user_id", userID, "error", err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
