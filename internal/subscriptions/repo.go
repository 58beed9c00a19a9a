package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
)

// Repository handles subscription persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	Save(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByProfileID(ctx context.Context, gateway, profileID string) (*models.Subscription, error)
	ListByParentOrder(ctx context.Context, parentOrderID uuid.UUID) ([]models.Subscription, error)
	DeletePendingByParentOrder(ctx context.Context, parentOrderID uuid.UUID) error
	ListActivePastExpiration(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error)
	ListForReconciliation(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Subscription, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) Save(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByProfileID(ctx context.Context, gateway, profileID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		First(&sub, "gateway = ? AND profile_id = ?", gateway, profileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListByParentOrder(ctx context.Context, parentOrderID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("parent_order_id = ?", parentOrderID).
		Order("created_at ASC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// DeletePendingByParentOrder clears rows a previous submission of the same
// order left behind. Only pending rows are eligible; anything the gateway
// already accepted stays.
func (r *repository) DeletePendingByParentOrder(ctx context.Context, parentOrderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("parent_order_id = ? AND status = ?", parentOrderID, enums.SubscriptionStatusPending).
		Delete(&models.Subscription{}).Error
}

func (r *repository) ListActivePastExpiration(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	query := r.db.WithContext(ctx).
		Where("status = ? AND expiration < ?", enums.SubscriptionStatusActive, asOf).
		Order("expiration ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListForReconciliation(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Subscription, error) {
	statuses := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrialling,
		enums.SubscriptionStatusFailing,
	}
	var subs []models.Subscription
	query := r.db.WithContext(ctx).
		Where("status IN ? AND profile_id <> '' AND updated_at < ?", statuses, updatedBefore).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
