package customers

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/recurforge/commerce-backend/pkg/db/models"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
)

// ServiceParams wires the customer service dependencies.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

// Service exposes the subscriber aggregation: a customer plus their
// subscription history.
type Service struct {
	repo Repository
	logg *logger.Logger
}

// NewService validates dependencies and returns the customer service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("customer repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{repo: params.Repo, logg: params.Logger}, nil
}

// EnsureByEmail finds the customer record for email or creates one inside
// the supplied transaction.
func (s *Service) EnsureByEmail(ctx context.Context, tx *gorm.DB, email, name string) (*models.Customer, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}

	repo := s.repo.WithTx(tx)
	customer, err := repo.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		return customer, nil
	}

	customer = &models.Customer{
		Email: normalized,
		Name:  strings.TrimSpace(name),
	}
	if err := repo.Create(ctx, customer); err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithCustomerID(ctx, customer.ID.String()), "customer created")
	return customer, nil
}

// Get returns the customer or a not-found error.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	customer, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	return customer, nil
}

// Subscriptions lists the customer's subscription history, newest first.
func (s *Service) Subscriptions(ctx context.Context, customerID uuid.UUID) ([]models.Subscription, error) {
	if _, err := s.Get(ctx, customerID); err != nil {
		return nil, err
	}
	return s.repo.ListSubscriptions(ctx, customerID)
}

// TrialEligible reports whether the customer may still use the product's
// free trial. A customer gets one trial per product, ever.
func (s *Service) TrialEligible(ctx context.Context, customerID, productID uuid.UUID) (bool, error) {
	used, err := s.repo.HasUsedTrial(ctx, customerID, productID)
	if err != nil {
		return false, err
	}
	return !used, nil
}

// RecordPurchase bumps the customer's lifetime purchase stats inside the
// supplied transaction.
func (s *Service) RecordPurchase(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order == nil || order.CustomerID == nil {
		return nil
	}
	return s.repo.WithTx(tx).RecordPurchase(ctx, *order.CustomerID, order.Total)
}
