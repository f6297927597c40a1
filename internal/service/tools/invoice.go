package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"

	"laneassist/internal/dispatch"
	"laneassist/internal/models"
	"laneassist/internal/service/ai"
	"laneassist/internal/storage"
)

type InvoiceParams struct {
	QuoteID string `json:"quote_id" jsonschema:"description=Quote id whose invoice should be sent"`
}

type invoiceTool struct {
	orders   OrderStore
	invoices InvoiceRenderer
	senders  map[models.Channel]dispatch.Sender
}

// NewInvoiceTool builds send_invoice. senders maps a channel to the sender used
// to deliver the PDF. Channels without a real sender cannot receive documents.
func NewInvoiceTool(orders OrderStore, invoices InvoiceRenderer, senders map[models.Channel]dispatch.Sender) (tool.InvokableTool, error) {
	if orders == nil || invoices == nil {
		return nil, errors.New("send_invoice needs an order store and an invoice renderer")
	}
	deliverable := make(map[models.Channel]dispatch.Sender, len(senders))
	for ch, s := range senders {
		if _, noop := s.(dispatch.Noop); noop || s == nil {
			continue
		}
		deliverable[ch] = s
	}
	t := &invoiceTool{orders: orders, invoices: invoices, senders: deliverable}
	return utils.InferTool(string(ai.ToolSendInvoice),
		"Render the invoice PDF for a saved quotation and send it to the customer as a document. Call it once per request.",
		t.run)
}

func (t *invoiceTool) run(ctx context.Context, params *InvoiceParams) (string, error) {
	if params == nil || strings.TrimSpace(params.QuoteID) == "" {
		return "", fmt.Errorf("%w: quote_id is required", ErrValidation)
	}
	quoteID := strings.TrimSpace(params.QuoteID)
	order, err := t.orders.Order(ctx, quoteID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("quotation %s not found", quoteID)
	}
	if err != nil {
		return "", fmt.Errorf("load quotation: %w", err)
	}
	path, err := t.invoices.Render(order)
	if err != nil {
		return "", fmt.Errorf("render invoice: %w", err)
	}

	userID, channel, _ := RequestFromContext(ctx)
	sender, ok := t.senders[channel]
	if !ok {
		slog.Info("invoice rendered but not delivered", "quote_id", quoteID, "channel", channel, "path", path)
		return fmt.Sprintf("Invoice for %s was generated but documents cannot be delivered on this channel. Share the quotation summary instead.", quoteID), nil
	}
	to := order.CustomerContact
	if to == "" {
		to = userID
	}
	caption := fmt.Sprintf("Invoice %s, total KES %s", quoteID, order.Total.StringFixed(2))
	if err := sender.SendDocument(ctx, to, path, caption); err != nil {
		return "", fmt.Errorf("send invoice: %w", err)
	}
	return fmt.Sprintf("Invoice for %s sent to %s.", quoteID, to), nil
}
