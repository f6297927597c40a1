package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"laneassist/internal/config"
	"laneassist/internal/models"
	"laneassist/internal/storage"
)

type VectorSearcher interface {
	Search(ctx context.Context, query string) ([]models.Snippet, error)
}

type GraphSearcher interface {
	Search(ctx context.Context, partName string) ([]models.GraphFact, error)
}

type ImageDescriber interface {
	Read(ctx context.Context, path string) (string, error)
}

type HistoryStore interface {
	Append(ctx context.Context, userID, userMessage, assistantResponse string) error
	Recent(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error)
}

type OrderLookup interface {
	LastOrder(ctx context.Context, customer string) (*models.Order, error)
}

type CustomerLookup interface {
	CustomerByPhone(ctx context.Context, phone string) (*models.Customer, error)
}

// Sources are the collaborators the aggregator queries. Nil members are skipped.
type Sources struct {
	Vector    VectorSearcher
	Graph     GraphSearcher
	Images    ImageDescriber
	History   HistoryStore
	Orders    OrderLookup
	Customers CustomerLookup
}

// Aggregator gathers the context for one message concurrently.
type Aggregator struct {
	src          Sources
	facetTimeout time.Duration
	historyLimit int
}

func NewAggregator(src Sources, facetTimeout time.Duration, historyLimit int) *Aggregator {
	if facetTimeout <= 0 {
		facetTimeout = config.DefaultFacetTimeout
	}
	if historyLimit <= 0 {
		historyLimit = config.DefaultHistoryCap
	}
	return &Aggregator{src: src, facetTimeout: facetTimeout, historyLimit: historyLimit}
}

type facetResult struct {
	apply func(b *models.ContextBundle)
	err   error
}

type collector struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	bundle  models.ContextBundle
	userID  string
	timeout time.Duration
	parent  context.Context
}

// facet runs fn with its own deadline. The result is applied only if fn finishes
// in time; otherwise the facet stays empty and a warning is recorded.
func (c *collector) facet(name string, fn func(ctx context.Context) (func(b *models.ContextBundle), error)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.parent, c.timeout)
		defer cancel()

		done := make(chan facetResult, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- facetResult{err: fmt.Errorf("panic: %v", r)}
				}
			}()
			apply, err := fn(ctx)
			done <- facetResult{apply: apply, err: err}
		}()

		select {
		case res := <-done:
			if res.err != nil {
				c.warn(name, res.err)
				return
			}
			if res.apply != nil {
				c.mu.Lock()
				res.apply(&c.bundle)
				c.mu.Unlock()
			}
		case <-ctx.Done():
			c.warn(name, ctx.Err())
		}
	}()
}

func (c *collector) warn(name string, err error) {
	slog.Warn("context facet degraded", "facet", name, "user_id", c.userID, "error", err)
	c.mu.Lock()
	c.bundle.Warnings = append(c.bundle.Warnings, name+": "+err.Error())
	c.mu.Unlock()
}

// Aggregate never fails. Facets that error or time out come back empty.
func (a *Aggregator) Aggregate(ctx context.Context, msg models.InboundMessage) models.ContextBundle {
	c := &collector{userID: msg.UserID, timeout: a.facetTimeout, parent: ctx}
	src := a.src

	switch {
	case msg.HasMedia():
		// the vector lookup depends on the image description, so both run in one facet
		c.facet("image", func(ctx context.Context) (func(*models.ContextBundle), error) {
			if src.Images == nil {
				return nil, errors.New("image reader not configured")
			}
			if msg.MediaPath == "" {
				return nil, errors.New("media was not downloaded")
			}
			query, err := src.Images.Read(ctx, msg.MediaPath)
			if err != nil {
				return nil, err
			}
			var snippets []models.Snippet
			if src.Vector != nil {
				snippets, err = src.Vector.Search(ctx, query)
				if err != nil {
					slog.Warn("image vector search failed", "user_id", msg.UserID, "error", err)
				}
			}
			return func(b *models.ContextBundle) {
				b.ImageQuery = query
				b.Snippets = snippets
			}, nil
		})
	case msg.HasText():
		if src.Vector != nil {
			c.facet("vector", func(ctx context.Context) (func(*models.ContextBundle), error) {
				snippets, err := src.Vector.Search(ctx, msg.Text)
				return func(b *models.ContextBundle) { b.Snippets = snippets }, err
			})
		}
		if src.Graph != nil {
			c.facet("graph", func(ctx context.Context) (func(*models.ContextBundle), error) {
				facts, err := src.Graph.Search(ctx, msg.Text)
				return func(b *models.ContextBundle) { b.GraphFacts = facts }, err
			})
		}
	}

	if src.History != nil {
		c.facet("history", func(ctx context.Context) (func(*models.ContextBundle), error) {
			turns, err := src.History.Recent(ctx, msg.UserID, a.historyLimit)
			return func(b *models.ContextBundle) { b.History = turns }, err
		})
	}
	if src.Orders != nil {
		c.facet("last_order", func(ctx context.Context) (func(*models.ContextBundle), error) {
			order, err := src.Orders.LastOrder(ctx, msg.UserID)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil
			}
			return func(b *models.ContextBundle) { b.LastOrder = order }, err
		})
	}
	if src.Customers != nil {
		c.facet("customer", func(ctx context.Context) (func(*models.ContextBundle), error) {
			customer, err := src.Customers.CustomerByPhone(ctx, msg.UserID)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil
			}
			return func(b *models.ContextBundle) { b.Customer = customer }, err
		})
	}

	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bundle
}
