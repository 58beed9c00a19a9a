package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	"github.com/recurforge/commerce-backend/pkg/pagination"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	orders := `
CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  parent_id TEXT,
  order_number INTEGER NOT NULL,
  type TEXT NOT NULL DEFAULT 'payment',
  status TEXT NOT NULL DEFAULT 'pending',
  customer_id TEXT,
  email TEXT NOT NULL,
  gateway TEXT NOT NULL,
  gateway_mode TEXT NOT NULL DEFAULT 'test',
  gateway_order_id TEXT,
  transaction_id TEXT,
  currency TEXT NOT NULL DEFAULT 'USD',
  subtotal NUMERIC NOT NULL,
  discount NUMERIC NOT NULL DEFAULT 0,
  tax NUMERIC NOT NULL DEFAULT 0,
  tax_rate NUMERIC NOT NULL DEFAULT 0,
  fees_total NUMERIC NOT NULL DEFAULT 0,
  total NUMERIC NOT NULL,
  ip_address TEXT,
  completed_at DATETIME,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	orderItems := `
CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  price_id TEXT,
  name TEXT NOT NULL,
  quantity INTEGER NOT NULL DEFAULT 1,
  item_price NUMERIC NOT NULL,
  subtotal NUMERIC NOT NULL,
  discount NUMERIC NOT NULL DEFAULT 0,
  tax NUMERIC NOT NULL DEFAULT 0,
  total NUMERIC NOT NULL,
  recurring INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	orderNotes := `
CREATE TABLE order_notes (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  body TEXT NOT NULL,
  created_at DATETIME
);`
	transactions := `
CREATE TABLE transactions (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  gateway TEXT NOT NULL,
  transaction_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  status TEXT NOT NULL DEFAULT 'complete',
  created_at DATETIME
);`
	for _, stmt := range []string{orders, orderItems, orderNotes, transactions} {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func testOrder(customerID *uuid.UUID, number int64) *models.Order {
	amount := decimal.RequireFromString("20.00")
	return &models.Order{
		ID:          uuid.New(),
		OrderNumber: number,
		Type:        enums.OrderTypePayment,
		Status:      enums.OrderStatusPending,
		CustomerID:  customerID,
		Email:       "buyer@example.com",
		Gateway:     "paypal_commerce",
		GatewayMode: enums.GatewayModeTest,
		Currency:    enums.CurrencyUSD,
		Subtotal:    amount,
		Total:       amount,
	}
}

func TestRepositoryFindByGatewayOrderID(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := testOrder(nil, 1001)
	gatewayOrderID := "PAYPAL-ORDER-9"
	order.GatewayOrderID = &gatewayOrderID
	require.NoError(t, repo.Create(ctx, order))

	found, err := repo.FindByGatewayOrderID(ctx, "paypal_commerce", gatewayOrderID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, order.ID, found.ID)

	missing, err := repo.FindByGatewayOrderID(ctx, "square", gatewayOrderID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositoryListByCustomerPagination(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	customerID := uuid.New()

	base := time.Now().UTC().Add(-time.Hour)
	var newest *models.Order
	for i := 0; i < 3; i++ {
		order := testOrder(&customerID, int64(2000+i))
		order.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(ctx, order))
		newest = order
	}
	// Another customer's order must not leak into the page.
	other := uuid.New()
	require.NoError(t, repo.Create(ctx, testOrder(&other, 2999)))

	first, err := repo.ListByCustomer(ctx, customerID, nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, newest.ID, first[0].ID)

	cursor := &pagination.Cursor{CreatedAt: first[1].CreatedAt, ID: first[1].ID}
	rest, err := repo.ListByCustomer(ctx, customerID, cursor, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.True(t, rest[0].CreatedAt.Before(first[1].CreatedAt))
}

func TestRepositoryRefundsAndTransactions(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	parent := testOrder(nil, 3001)
	parent.Status = enums.OrderStatusComplete
	require.NoError(t, repo.Create(ctx, parent))

	refund := testOrder(nil, 3002)
	refund.Type = enums.OrderTypeRefund
	refund.ParentID = &parent.ID
	refund.Total = decimal.RequireFromString("-5.00")
	require.NoError(t, repo.Create(ctx, refund))

	refunds, err := repo.ListRefunds(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.True(t, refunds[0].Total.IsNegative())

	txn := &models.Transaction{
		ID:            uuid.New(),
		OrderID:       refund.ID,
		Gateway:       "paypal_commerce",
		TransactionID: "REF-77",
		Kind:          enums.TransactionKindRefund,
		Amount:        decimal.RequireFromString("-5.00"),
		Currency:      enums.CurrencyUSD,
	}
	require.NoError(t, repo.CreateTransaction(ctx, txn))

	txns, err := repo.ListTransactions(ctx, refund.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, enums.TransactionKindRefund, txns[0].Kind)

	require.NoError(t, repo.AddNote(ctx, refund.ID, "refunded 5.00 via REF-77"))
	loaded, err := repo.FindByID(ctx, refund.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Notes, 1)
}
