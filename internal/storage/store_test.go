package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"laneassist/internal/config"
	"laneassist/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := Open("sqlite3", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db, "sqlite3"))
	return NewStore(db, "sqlite3")
}

func sampleOrder(id string, created time.Time) *models.Order {
	return &models.Order{
		QuoteID:         id,
		CustomerID:      "C1",
		CustomerContact: "254700000001",
		Name:            "Juma Garage",
		Location:        "Nairobi",
		Items: []models.LineItem{{
			Name: "Brake pads", Quantity: 2,
			UnitPrice: decimal.NewFromInt(125), LineTotal: decimal.NewFromInt(250),
		}},
		Subtotal:      decimal.NewFromInt(250),
		DiscountRate:  decimal.Zero,
		Discount:      decimal.Zero,
		Total:         decimal.NewFromInt(250),
		CreatedAt:     created,
		PaymentStatus: models.PaymentPending,
		PaymentDate:   created.Add(models.PaymentTerm),
	}
}

func TestSaveAndLoadOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveOrder(ctx, sampleOrder("Q1", created)))
	got, err := store.Order(ctx, "Q1")
	require.NoError(t, err)
	require.Equal(t, "Juma Garage", got.Name)
	require.True(t, got.Total.Equal(decimal.NewFromInt(250)))
	require.Len(t, got.Items, 1)
	require.Equal(t, 2, got.Items[0].Quantity)
	require.Equal(t, models.PaymentPending, got.PaymentStatus)
	require.True(t, got.PaymentDate.Equal(created.Add(14*24*time.Hour)))

	_, err = store.Order(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveOrderRefusesExistingQuote(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveOrder(ctx, sampleOrder("Q1", created)))
	other := sampleOrder("Q1", created)
	other.CustomerContact = "254799999999"
	other.Total = decimal.NewFromInt(1)
	require.ErrorIs(t, store.SaveOrder(ctx, other), ErrQuoteExists)

	got, err := store.Order(ctx, "Q1")
	require.NoError(t, err)
	require.Equal(t, "254700000001", got.CustomerContact)
	require.True(t, got.Total.Equal(decimal.NewFromInt(250)))
}

func TestReviseOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveOrder(ctx, sampleOrder("Q1", created)))

	revised := sampleOrder("Q1", created.Add(time.Hour))
	revised.Total = decimal.NewFromInt(225)
	require.NoError(t, store.ReviseOrder(ctx, revised))
	got, err := store.Order(ctx, "Q1")
	require.NoError(t, err)
	require.True(t, got.Total.Equal(decimal.NewFromInt(225)))
	require.True(t, got.CreatedAt.Equal(created))

	stranger := sampleOrder("Q1", created)
	stranger.CustomerContact = "254799999999"
	require.ErrorIs(t, store.ReviseOrder(ctx, stranger), ErrNotFound)

	_, err = store.db.ExecContext(ctx, `UPDATE orders SET payment_status = 'shipped' WHERE quote_id = 'Q1'`)
	require.NoError(t, err)
	require.ErrorIs(t, store.ReviseOrder(ctx, revised), ErrNotFound)
	got, err = store.Order(ctx, "Q1")
	require.NoError(t, err)
	require.Equal(t, models.PaymentShipped, got.PaymentStatus)
}

func TestLastOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveOrder(ctx, sampleOrder("Q1", base)))
	require.NoError(t, store.SaveOrder(ctx, sampleOrder("Q2", base.Add(time.Hour))))

	last, err := store.LastOrder(ctx, "254700000001")
	require.NoError(t, err)
	require.Equal(t, "Q2", last.QuoteID)

	_, err = store.LastOrder(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCustomerLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `INSERT INTO customers (`+customerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"C1", "Juma", "254700000001", "", "", true, "business")
	require.NoError(t, err)
	c, err := store.CustomerByPhone(ctx, "254700000001")
	require.NoError(t, err)
	require.True(t, c.RepeatCustomer)
	require.Equal(t, models.SegmentBusiness, c.Segment)

	byID, err := store.CustomerByID(ctx, "C1")
	require.NoError(t, err)
	require.Equal(t, "Juma", byID.Name)

	_, err = store.CustomerByPhone(ctx, "000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRebindPostgres(t *testing.T) {
	s := &Store{driver: "pgx"}
	require.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	require.Equal(t, "x = ?", (&Store{driver: "sqlite3"}).rebind("x = ?"))
}
