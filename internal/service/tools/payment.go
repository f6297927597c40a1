package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"

	"laneassist/internal/config"
	"laneassist/internal/service/ai"
	"laneassist/internal/storage"
)

type PaymentParams struct {
	QuoteID string `json:"quote_id" jsonschema:"description=Quote id the customer is paying for"`
	Option  string `json:"option" jsonschema:"description=Payment option,enum=mpesa,enum=airtel,enum=tkash,enum=card"`
}

type paymentTool struct {
	orders   OrderStore
	paybills map[string]string
	cardNote string
}

// NewPaymentTool builds payment_methods.
func NewPaymentTool(orders OrderStore, cfg config.PaymentConfig) (tool.InvokableTool, error) {
	cardNote := cfg.CardLinkNote
	if cardNote == "" {
		cardNote = "A secure card payment link will be sent to you separately. Never share your card number or PIN in this chat."
	}
	p := &paymentTool{
		orders: orders,
		paybills: map[string]string{
			"mpesa":  cfg.MpesaPaybill,
			"airtel": cfg.AirtelPaybill,
			"tkash":  cfg.TkashPaybill,
		},
		cardNote: cardNote,
	}
	return utils.InferTool(string(ai.ToolPaymentMethods),
		"Return payment instructions for a quotation. The account number is always the quote id.",
		p.run)
}

var paymentLabels = map[string]string{"mpesa": "M-Pesa", "airtel": "Airtel Money", "tkash": "T-Kash"}

func (p *paymentTool) run(ctx context.Context, params *PaymentParams) (string, error) {
	if params == nil || strings.TrimSpace(params.QuoteID) == "" {
		return "", fmt.Errorf("%w: quote_id is required", ErrValidation)
	}
	quoteID := strings.TrimSpace(params.QuoteID)
	option := strings.ToLower(strings.TrimSpace(params.Option))
	option = strings.NewReplacer("-", "", " ", "", "_", "").Replace(option)

	if option == "card" {
		return fmt.Sprintf("Card payment for quotation %s: %s", quoteID, p.cardNote), nil
	}
	paybill, ok := p.paybills[option]
	if !ok {
		return "", fmt.Errorf("%w: unsupported payment option %q (use mpesa, airtel, tkash or card)", ErrValidation, params.Option)
	}
	if paybill == "" {
		slog.Warn("payment option has no paybill configured", "option", option)
		return "", fmt.Errorf("%w: %s payments are not available right now", ErrValidation, paymentLabels[option])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pay with %s\nPaybill: %s\nAccount number: %s", paymentLabels[option], paybill, quoteID)
	if p.orders != nil {
		order, err := p.orders.Order(ctx, quoteID)
		switch {
		case err == nil:
			fmt.Fprintf(&b, "\nAmount: KES %s", order.Total.StringFixed(2))
		case errors.Is(err, storage.ErrNotFound):
			b.WriteString("\nNo saved quotation matches this id, confirm the amount with the customer.")
		default:
			slog.Warn("payment order lookup failed", "quote_id", quoteID, "error", err)
		}
	}
	return b.String(), nil
}
