package customers

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/recurforge/commerce-backend/pkg/db/models"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
)

type stubRepo struct {
	byEmail   map[string]*models.Customer
	byID      map[uuid.UUID]*models.Customer
	created   []*models.Customer
	trialUsed bool
	purchases int
}

func (r *stubRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *stubRepo) Create(_ context.Context, customer *models.Customer) error {
	customer.ID = uuid.New()
	r.created = append(r.created, customer)
	return nil
}

func (r *stubRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Customer, error) {
	return r.byID[id], nil
}

func (r *stubRepo) FindByEmail(_ context.Context, email string) (*models.Customer, error) {
	return r.byEmail[email], nil
}

func (r *stubRepo) RecordPurchase(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	r.purchases++
	return nil
}

func (r *stubRepo) ListSubscriptions(_ context.Context, customerID uuid.UUID) ([]models.Subscription, error) {
	return []models.Subscription{{CustomerID: customerID}}, nil
}

func (r *stubRepo) HasUsedTrial(_ context.Context, _, _ uuid.UUID) (bool, error) {
	return r.trialUsed, nil
}

func testService(t *testing.T, repo Repository) *Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel, Output: io.Discard})
	svc, err := NewService(ServiceParams{Repo: repo, Logger: logg})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestEnsureByEmailCreatesOnce(t *testing.T) {
	repo := &stubRepo{byEmail: map[string]*models.Customer{}, byID: map[uuid.UUID]*models.Customer{}}
	svc := testService(t, repo)
	ctx := context.Background()

	customer, err := svc.EnsureByEmail(ctx, nil, "  Buyer@Example.COM ", "Buyer One")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if customer.Email != "buyer@example.com" {
		t.Fatalf("email not normalized: %q", customer.Email)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one create, got %d", len(repo.created))
	}

	repo.byEmail["buyer@example.com"] = customer
	again, err := svc.EnsureByEmail(ctx, nil, "buyer@example.com", "ignored")
	if err != nil {
		t.Fatalf("ensure existing: %v", err)
	}
	if again.ID != customer.ID {
		t.Fatal("expected the existing customer back")
	}
	if len(repo.created) != 1 {
		t.Fatal("existing customer must not be recreated")
	}
}

func TestEnsureByEmailRejectsBlank(t *testing.T) {
	svc := testService(t, &stubRepo{byEmail: map[string]*models.Customer{}})

	_, err := svc.EnsureByEmail(context.Background(), nil, "   ", "")
	domainErr := pkgerrors.As(err)
	if domainErr == nil || domainErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubscriptionsUnknownCustomer(t *testing.T) {
	svc := testService(t, &stubRepo{byID: map[uuid.UUID]*models.Customer{}})

	_, err := svc.Subscriptions(context.Background(), uuid.New())
	domainErr := pkgerrors.As(err)
	if domainErr == nil || domainErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTrialEligible(t *testing.T) {
	repo := &stubRepo{}
	svc := testService(t, repo)

	eligible, err := svc.TrialEligible(context.Background(), uuid.New(), uuid.New())
	if err != nil || !eligible {
		t.Fatalf("fresh customer should be eligible: %v %v", eligible, err)
	}

	repo.trialUsed = true
	eligible, err = svc.TrialEligible(context.Background(), uuid.New(), uuid.New())
	if err != nil || eligible {
		t.Fatalf("used trial should bar eligibility: %v %v", eligible, err)
	}
}

func TestRecordPurchaseSkipsGuestOrders(t *testing.T) {
	repo := &stubRepo{}
	svc := testService(t, repo)

	if err := svc.RecordPurchase(context.Background(), nil, &models.Order{}); err != nil {
		t.Fatalf("guest order: %v", err)
	}
	if repo.purchases != 0 {
		t.Fatal("guest order must not record a purchase")
	}

	id := uuid.New()
	order := &models.Order{CustomerID: &id, Total: decimal.NewFromInt(42)}
	if err := svc.RecordPurchase(context.Background(), nil, order); err != nil {
		t.Fatalf("record: %v", err)
	}
	if repo.purchases != 1 {
		t.Fatal("expected purchase recorded")
	}
}
