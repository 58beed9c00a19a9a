package customers

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
)

func setupCustomersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	customers := `
CREATE TABLE customers (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  user_id TEXT,
  purchase_count INTEGER NOT NULL DEFAULT 0,
  purchase_value NUMERIC NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	subscriptions := `
CREATE TABLE subscriptions (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  parent_order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  price_id TEXT,
  gateway TEXT NOT NULL,
  profile_id TEXT NOT NULL DEFAULT '',
  transaction_id TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'pending',
  period TEXT NOT NULL,
  bill_times INTEGER NOT NULL DEFAULT 0,
  times_billed INTEGER NOT NULL DEFAULT 0,
  initial_amount NUMERIC NOT NULL,
  initial_tax NUMERIC NOT NULL DEFAULT 0,
  initial_tax_rate NUMERIC NOT NULL DEFAULT 0,
  recurring_amount NUMERIC NOT NULL,
  recurring_tax NUMERIC NOT NULL DEFAULT 0,
  recurring_tax_rate NUMERIC NOT NULL DEFAULT 0,
  trial_quantity INTEGER NOT NULL DEFAULT 0,
  trial_unit TEXT,
  expiration DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`
	for _, stmt := range []string{customers, subscriptions} {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func trialSubscription(customerID, productID uuid.UUID, status enums.SubscriptionStatus) *models.Subscription {
	unit := enums.TrialUnitDay
	return &models.Subscription{
		ID:              uuid.New(),
		CustomerID:      customerID,
		ParentOrderID:   uuid.New(),
		ProductID:       productID,
		Gateway:         "paypal_commerce",
		Status:          status,
		Period:          enums.BillingPeriodMonth,
		InitialAmount:   decimal.Zero,
		RecurringAmount: decimal.RequireFromString("20.00"),
		TrialQuantity:   14,
		TrialUnit:       &unit,
		Expiration:      time.Now().UTC().AddDate(0, 0, 14),
	}
}

func TestRepositoryHasUsedTrial(t *testing.T) {
	db := setupCustomersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customerID := uuid.New()
	productID := uuid.New()

	used, err := repo.HasUsedTrial(ctx, customerID, productID)
	require.NoError(t, err)
	assert.False(t, used)

	// A pending row is an unconsummated checkout, not a consumed trial.
	require.NoError(t, db.Create(trialSubscription(customerID, productID, enums.SubscriptionStatusPending)).Error)
	used, err = repo.HasUsedTrial(ctx, customerID, productID)
	require.NoError(t, err)
	assert.False(t, used)

	require.NoError(t, db.Create(trialSubscription(customerID, productID, enums.SubscriptionStatusTrialling)).Error)
	used, err = repo.HasUsedTrial(ctx, customerID, productID)
	require.NoError(t, err)
	assert.True(t, used)

	// The trial is scoped per product and per customer.
	used, err = repo.HasUsedTrial(ctx, customerID, uuid.New())
	require.NoError(t, err)
	assert.False(t, used)

	used, err = repo.HasUsedTrial(ctx, uuid.New(), productID)
	require.NoError(t, err)
	assert.False(t, used)
}
