package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"laneassist/internal/models"
)

// ErrNotFound is returned when a customer or order does not exist.
var ErrNotFound = errors.New("not found")

// ErrQuoteExists is returned when a new quotation reuses a stored quote id.
var ErrQuoteExists = errors.New("quote already exists")

// Store serves customer and order records over database/sql.
type Store struct {
	db     *sql.DB
	driver string
}

func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: normalizeDriver(driver)}
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const customerColumns = `id, name, phone_number, business_id, dropoff_location, repeat_customer, segment`

// CustomerByPhone looks up the customer registered with phone.
func (s *Store) CustomerByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	return s.queryCustomer(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone_number = ?`, phone)
}

// CustomerByID looks up a customer by its primary key.
func (s *Store) CustomerByID(ctx context.Context, id string) (*models.Customer, error) {
	return s.queryCustomer(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
}

func (s *Store) queryCustomer(ctx context.Context, query string, arg string) (*models.Customer, error) {
	var (
		c       models.Customer
		segment string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(query), arg).Scan(
		&c.ID, &c.Name, &c.PhoneNumber, &c.BusinessID, &c.DropoffLocation, &c.RepeatCustomer, &segment,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}
	c.Segment = models.Segment(segment)
	if c.Segment != models.SegmentBusiness {
		c.Segment = models.SegmentConsumer
	}
	return &c, nil
}

const orderColumns = `quote_id, customer_id, customer_contact, garage_id, name, location, items, subtotal, discount_rate, discount, total, created_at, payment_status, payment_date`

// SaveOrder inserts a new quotation. Quotes are never overwritten; an
// existing quote id yields ErrQuoteExists.
func (s *Store) SaveOrder(ctx context.Context, o *models.Order) error {
	if o == nil || o.QuoteID == "" {
		return fmt.Errorf("save order: quote id is required")
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	var n int
	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM orders WHERE quote_id = ?`), o.QuoteID).Scan(&n); err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if n > 0 {
		return ErrQuoteExists
	}
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		o.QuoteID, o.CustomerID, o.CustomerContact, o.GarageID, o.Name, o.Location, string(items),
		o.Subtotal.String(), o.DiscountRate.String(), o.Discount.String(), o.Total.String(),
		o.CreatedAt.UTC(), string(o.PaymentStatus), o.PaymentDate.UTC())
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return tx.Commit()
}

// ReviseOrder rewrites the lines and totals of a pending quotation owned by
// o.CustomerContact. Ownership, status and creation time are left untouched.
// It returns ErrNotFound when no such pending quote exists.
func (s *Store) ReviseOrder(ctx context.Context, o *models.Order) error {
	if o == nil || o.QuoteID == "" {
		return fmt.Errorf("revise order: quote id is required")
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	const owned = ` WHERE quote_id = ? AND customer_contact = ? AND payment_status = ?`
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	var n int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM orders`+owned),
		o.QuoteID, o.CustomerContact, string(models.PaymentPending)).Scan(&n)
	if err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE orders SET garage_id = ?, name = ?, location = ?, items = ?,
		subtotal = ?, discount_rate = ?, discount = ?, total = ?, payment_date = ?`+owned),
		o.GarageID, o.Name, o.Location, string(items),
		o.Subtotal.String(), o.DiscountRate.String(), o.Discount.String(), o.Total.String(), o.PaymentDate.UTC(),
		o.QuoteID, o.CustomerContact, string(models.PaymentPending))
	if err != nil {
		return fmt.Errorf("revise order: %w", err)
	}
	return tx.Commit()
}

// Order loads a quotation by id.
func (s *Store) Order(ctx context.Context, quoteID string) (*models.Order, error) {
	return s.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE quote_id = ?`, quoteID)
}

// LastOrder returns the newest order placed by a customer id or contact number.
func (s *Store) LastOrder(ctx context.Context, customer string) (*models.Order, error) {
	return s.queryOrder(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_id = ? OR customer_contact = ? ORDER BY created_at DESC LIMIT 1`,
		customer, customer)
}

func (s *Store) queryOrder(ctx context.Context, query string, args ...any) (*models.Order, error) {
	var (
		o                                   models.Order
		items, sub, rate, disc, total, stat string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(
		&o.QuoteID, &o.CustomerID, &o.CustomerContact, &o.GarageID, &o.Name, &o.Location, &items,
		&sub, &rate, &disc, &total, &o.CreatedAt, &stat, &o.PaymentDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&o.Subtotal, sub}, {&o.DiscountRate, rate}, {&o.Discount, disc}, {&o.Total, total}} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("decode amount %q: %w", f.raw, err)
		}
		*f.dst = v
	}
	o.PaymentStatus = models.PaymentStatus(stat)
	if !o.PaymentStatus.Valid() {
		return nil, fmt.Errorf("unknown payment status %q", stat)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.PaymentDate = o.PaymentDate.UTC()
	return &o, nil
}
