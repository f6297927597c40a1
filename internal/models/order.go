package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentProcessing PaymentStatus = "processing"
	PaymentPending    PaymentStatus = "pending"
	PaymentShipped    PaymentStatus = "shipped"
	PaymentDelivered  PaymentStatus = "delivered"
)

// PaymentTerm is the time between quotation and payment due date.
const PaymentTerm = 14 * 24 * time.Hour

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentProcessing, PaymentPending, PaymentShipped, PaymentDelivered:
		return true
	}
	return false
}

type LineItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Order is a quotation. Totals are derived from the line items.
type Order struct {
	QuoteID         string          `json:"quote_id"`
	CustomerID      string          `json:"customer_id"`
	CustomerContact string          `json:"customer_contact"`
	GarageID        string          `json:"garage_id,omitempty"`
	Name            string          `json:"name"`
	Location        string          `json:"location"`
	Items           []LineItem      `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountRate    decimal.Decimal `json:"discount_rate"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	CreatedAt       time.Time       `json:"created_at"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	PaymentDate     time.Time       `json:"payment_date"`
}
