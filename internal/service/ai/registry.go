package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// ToolName enumerates the tools the model may call.
type ToolName string

const (
	ToolFormatQuotation ToolName = "format_quotation"
	ToolPaymentMethods  ToolName = "payment_methods"
	ToolSendInvoice     ToolName = "send_invoice"
	ToolLowSimilarity   ToolName = "low_similarity"
	ToolReadImage       ToolName = "read_image"
)

var knownTools = map[ToolName]struct{}{
	ToolFormatQuotation: {},
	ToolPaymentMethods:  {},
	ToolSendInvoice:     {},
	ToolLowSimilarity:   {},
	ToolReadImage:       {},
}

func (n ToolName) Known() bool {
	_, ok := knownTools[n]
	return ok
}

var (
	ErrUnknownTool       = errors.New("unknown tool name")
	ErrDuplicateTool     = errors.New("tool already registered")
	ErrToolNameMismatch  = errors.New("tool info name does not match registration")
	errToolNotConfigured = errors.New("tool is nil")
)

// Registry maps tool names to implementations. All validation happens in Register,
// so lookups during a conversation never fail on malformed entries.
type Registry struct {
	mu    sync.RWMutex
	tools map[ToolName]tool.InvokableTool
	order []ToolName
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[ToolName]tool.InvokableTool)}
}

func (r *Registry) Register(name ToolName, t tool.InvokableTool) error {
	if !name.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if t == nil {
		return fmt.Errorf("%w: %s", errToolNotConfigured, name)
	}
	info, err := t.Info(context.Background())
	if err != nil {
		return fmt.Errorf("tool %s info: %w", name, err)
	}
	if info == nil || info.Name != string(name) {
		return fmt.Errorf("%w: %s", ErrToolNameMismatch, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Lookup resolves a model-supplied tool name.
func (r *Registry) Lookup(name string) (tool.InvokableTool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[ToolName(name)]
	return t, ok
}

// Infos returns the catalog in registration order.
func (r *Registry) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	if r == nil {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		info, err := r.tools[name].Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool %s info: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (r *Registry) Names() []ToolName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ToolName(nil), r.order...)
}
