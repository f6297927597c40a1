package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"laneassist/internal/models"
	"laneassist/internal/service/ai"
	"laneassist/internal/storage"
)

// ErrValidation reports tool arguments that violate a business rule.
var ErrValidation = errors.New("invalid quotation")

var (
	bulkThreshold = decimal.NewFromInt(50000)
	bulkRate      = decimal.NewFromFloat(0.05)
	repeatRate    = decimal.NewFromFloat(0.10)
)

// QuotationParams is the argument schema of format_quotation.
type QuotationParams struct {
	QuoteID    string    `json:"quote_id,omitempty" jsonschema:"description=Existing quote id to revise. Leave empty for a new quotation."`
	CustomerID string    `json:"customer_id" jsonschema:"description=Customer id from the customer details"`
	GarageID   string    `json:"garage_id,omitempty" jsonschema:"description=Garage or business id if known"`
	Name       string    `json:"name" jsonschema:"description=Customer or business name printed on the quotation"`
	Location   string    `json:"location" jsonschema:"description=Delivery location"`
	Items      []string  `json:"items" jsonschema:"description=Part names or codes"`
	Quantities []int     `json:"quantities" jsonschema:"description=Quantity for each item in the same order"`
	Prices     []float64 `json:"prices" jsonschema:"description=Unit price in KES for each item in the same order"`
}

// OrderStore persists and loads quotations.
type OrderStore interface {
	SaveOrder(ctx context.Context, o *models.Order) error
	ReviseOrder(ctx context.Context, o *models.Order) error
	Order(ctx context.Context, quoteID string) (*models.Order, error)
}

// CustomerLookup resolves customers for discount eligibility.
type CustomerLookup interface {
	CustomerByID(ctx context.Context, id string) (*models.Customer, error)
	CustomerByPhone(ctx context.Context, phone string) (*models.Customer, error)
}

// InvoiceRenderer renders an order to a file and returns its path.
type InvoiceRenderer interface {
	Render(order *models.Order) (string, error)
}

// BuildQuote validates params and computes the order totals. The larger of the
// bulk and repeat-customer discounts applies; they never stack.
func BuildQuote(params *QuotationParams, repeatCustomer bool, now time.Time) (*models.Order, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: missing parameters", ErrValidation)
	}
	n := len(params.Items)
	if n == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	if len(params.Quantities) != n || len(params.Prices) != n {
		return nil, fmt.Errorf("%w: items, quantities and prices must have equal length (got %d, %d, %d)",
			ErrValidation, n, len(params.Quantities), len(params.Prices))
	}

	order := &models.Order{
		QuoteID:       strings.TrimSpace(params.QuoteID),
		CustomerID:    strings.TrimSpace(params.CustomerID),
		GarageID:      strings.TrimSpace(params.GarageID),
		Name:          strings.TrimSpace(params.Name),
		Location:      strings.TrimSpace(params.Location),
		Items:         make([]models.LineItem, 0, n),
		Subtotal:      decimal.Zero,
		DiscountRate:  decimal.Zero,
		CreatedAt:     now.UTC(),
		PaymentStatus: models.PaymentPending,
		PaymentDate:   now.UTC().Add(models.PaymentTerm),
	}
	if order.QuoteID == "" {
		order.QuoteID = newQuoteID()
	}

	for i, name := range params.Items {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: item %d has no name", ErrValidation, i+1)
		}
		if params.Quantities[i] <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrValidation, name)
		}
		if params.Prices[i] < 0 {
			return nil, fmt.Errorf("%w: price for %s must not be negative", ErrValidation, name)
		}
		price := decimal.NewFromFloat(params.Prices[i]).Round(2)
		line := price.Mul(decimal.NewFromInt(int64(params.Quantities[i])))
		order.Items = append(order.Items, models.LineItem{
			Name:      name,
			Quantity:  params.Quantities[i],
			UnitPrice: price,
			LineTotal: line,
		})
		order.Subtotal = order.Subtotal.Add(line)
	}

	if order.Subtotal.GreaterThan(bulkThreshold) {
		order.DiscountRate = bulkRate
	}
	if repeatCustomer && repeatRate.GreaterThan(order.DiscountRate) {
		order.DiscountRate = repeatRate
	}
	order.Discount = order.Subtotal.Mul(order.DiscountRate).Round(2)
	order.Total = order.Subtotal.Sub(order.Discount)
	return order, nil
}

func newQuoteID() string {
	return "Q-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

type quotationTool struct {
	orders    OrderStore
	customers CustomerLookup
	invoices  InvoiceRenderer
	now       func() time.Time
}

// NewQuotationTool builds format_quotation.
func NewQuotationTool(orders OrderStore, customers CustomerLookup, invoices InvoiceRenderer) (tool.InvokableTool, error) {
	q := &quotationTool{orders: orders, customers: customers, invoices: invoices, now: time.Now}
	return utils.InferTool(string(ai.ToolFormatQuotation),
		"Create or revise a quotation. Computes line totals and discounts, saves the order as pending and renders the invoice PDF. "+
			"items, quantities and prices must be parallel lists of equal length.",
		q.run)
}

func (q *quotationTool) run(ctx context.Context, params *QuotationParams) (string, error) {
	userID, _, _ := RequestFromContext(ctx)
	customer := q.lookupCustomer(ctx, params, userID)
	repeat := customer != nil && customer.RepeatCustomer

	order, err := BuildQuote(params, repeat, q.now())
	if err != nil {
		return "", err
	}
	order.CustomerContact = userID
	if customer != nil {
		if order.CustomerID == "" {
			order.CustomerID = customer.ID
		}
		if order.CustomerContact == "" {
			order.CustomerContact = customer.PhoneNumber
		}
	}
	if order.CustomerID == "" {
		order.CustomerID = order.CustomerContact
	}

	if q.orders != nil {
		if err := q.store(ctx, order, strings.TrimSpace(params.QuoteID) != ""); err != nil {
			return "", err
		}
	}
	var invoiceNote string
	if q.invoices != nil {
		if _, err := q.invoices.Render(order); err != nil {
			slog.Warn("invoice render failed", "quote_id", order.QuoteID, "error", err)
			invoiceNote = "\nThe invoice PDF could not be generated right now."
		}
	}
	return summarize(order) + invoiceNote, nil
}

// store inserts a new quote or revises an existing one. Only the customer who
// received a quote may revise it, and only while it is pending.
func (q *quotationTool) store(ctx context.Context, order *models.Order, revise bool) error {
	if !revise {
		if err := q.orders.SaveOrder(ctx, order); err != nil {
			return fmt.Errorf("save quotation: %w", err)
		}
		return nil
	}
	existing, err := q.orders.Order(ctx, order.QuoteID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: quote %s does not exist, leave quote_id empty for a new quotation", ErrValidation, order.QuoteID)
	}
	if err != nil {
		return fmt.Errorf("load quotation: %w", err)
	}
	if existing.CustomerContact != order.CustomerContact {
		slog.Warn("quote revision by another customer refused", "quote_id", order.QuoteID, "user_id", order.CustomerContact)
		return fmt.Errorf("%w: quote %s belongs to another customer", ErrValidation, order.QuoteID)
	}
	if existing.PaymentStatus != models.PaymentPending {
		return fmt.Errorf("%w: quote %s is %s and can no longer be changed", ErrValidation, order.QuoteID, existing.PaymentStatus)
	}
	order.CustomerID = existing.CustomerID
	order.CreatedAt = existing.CreatedAt
	if err := q.orders.ReviseOrder(ctx, order); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: quote %s can no longer be changed", ErrValidation, order.QuoteID)
		}
		return fmt.Errorf("revise quotation: %w", err)
	}
	return nil
}

func (q *quotationTool) lookupCustomer(ctx context.Context, params *QuotationParams, userID string) *models.Customer {
	if q.customers == nil {
		return nil
	}
	if params != nil && params.CustomerID != "" {
		if c, err := q.customers.CustomerByID(ctx, params.CustomerID); err == nil {
			return c
		}
	}
	if userID != "" {
		c, err := q.customers.CustomerByPhone(ctx, userID)
		if err == nil {
			return c
		}
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("customer lookup failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

func summarize(o *models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Quotation %s for %s", o.QuoteID, o.Name)
	if o.Location != "" {
		fmt.Fprintf(&b, " (%s)", o.Location)
	}
	b.WriteString("\n")
	for _, it := range o.Items {
		fmt.Fprintf(&b, "- %s x%d @ KES %s = KES %s\n", it.Name, it.Quantity, it.UnitPrice.StringFixed(2), it.LineTotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "Subtotal: KES %s\n", o.Subtotal.StringFixed(2))
	if o.Discount.IsPositive() {
		fmt.Fprintf(&b, "Discount (%s%%): -KES %s\n", o.DiscountRate.Shift(2).StringFixed(0), o.Discount.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: KES %s\n", o.Total.StringFixed(2))
	fmt.Fprintf(&b, "Status: %s, payment due %s", o.PaymentStatus, o.PaymentDate.Format("2006-01-02"))
	return b.String()
}
