package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/tool"

	"laneassist/internal/config"
	"laneassist/internal/dispatch"
	"laneassist/internal/models"
	"laneassist/internal/service/ai"
)

// Deps are the collaborators the business tools need.
type Deps struct {
	Orders    OrderStore
	Customers CustomerLookup
	Invoices  InvoiceRenderer
	Senders   map[models.Channel]dispatch.Sender
	Images    *ImageReader
	Payments  config.PaymentConfig
	Search    config.SearchConfig
}

// RegisterAll builds every tool whose dependencies are available and adds it to reg.
// Tools missing optional collaborators are skipped with a warning.
func RegisterAll(ctx context.Context, reg *ai.Registry, deps Deps) error {
	builders := []struct {
		name  ai.ToolName
		build func() (tool.InvokableTool, error)
	}{
		{ai.ToolFormatQuotation, func() (tool.InvokableTool, error) {
			return NewQuotationTool(deps.Orders, deps.Customers, deps.Invoices)
		}},
		{ai.ToolPaymentMethods, func() (tool.InvokableTool, error) {
			return NewPaymentTool(deps.Orders, deps.Payments)
		}},
		{ai.ToolSendInvoice, func() (tool.InvokableTool, error) {
			return NewInvoiceTool(deps.Orders, deps.Invoices, deps.Senders)
		}},
		{ai.ToolLowSimilarity, func() (tool.InvokableTool, error) {
			return NewSearchTool(ctx, deps.Search)
		}},
		{ai.ToolReadImage, func() (tool.InvokableTool, error) {
			return NewImageTool(deps.Images)
		}},
	}
	for _, b := range builders {
		t, err := b.build()
		if err != nil {
			slog.Warn("tool disabled", "tool", b.name, "error", err)
			continue
		}
		if err := reg.Register(b.name, t); err != nil {
			return fmt.Errorf("register %s: %w", b.name, err)
		}
	}
	return nil
}
