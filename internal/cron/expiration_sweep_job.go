package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/recurforge/commerce-backend/internal/subscriptions"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/metrics"
)

const defaultSweepLimit = 500

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type subscriptionExpirer interface {
	Expire(ctx context.Context, tx *gorm.DB, sub *models.Subscription) error
}

// ExpirationSweepJobParams configure the expiration sweep.
type ExpirationSweepJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Repo          subscriptions.Repository
	Subscriptions subscriptionExpirer
	Metrics       *metrics.CronJobMetrics
	Limit         int
	Now           func() time.Time
}

// NewExpirationSweepJob retires active subscriptions whose paid-through
// window has lapsed. Reads already see these rows as expired; the sweep
// makes it durable and emits the expiration event.
func NewExpirationSweepJob(params ExpirationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	return &expirationSweepJob{
		logg:    params.Logger,
		db:      params.DB,
		repo:    params.Repo,
		subs:    params.Subscriptions,
		metrics: params.Metrics,
		limit:   limit,
		now:     now,
	}, nil
}

type expirationSweepJob struct {
	logg    *logger.Logger
	db      txRunner
	repo    subscriptions.Repository
	subs    subscriptionExpirer
	metrics *metrics.CronJobMetrics
	limit   int
	now     func() time.Time
}

func (j *expirationSweepJob) Name() string { return "expiration-sweep" }

func (j *expirationSweepJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	lapsed, err := j.repo.ListActivePastExpiration(ctx, asOf, j.limit)
	if err != nil {
		return fmt.Errorf("list lapsed subscriptions: %w", err)
	}

	var errs error
	expired := 0
	for i := range lapsed {
		sub := &lapsed[i]
		subCtx := j.logg.WithField(ctx, "subscription_id", sub.ID.String())
		err := j.db.WithTx(subCtx, func(tx *gorm.DB) error {
			return j.subs.Expire(subCtx, tx, sub)
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", sub.ID, err))
			continue
		}
		expired++
	}

	j.metrics.AddProcessed(j.Name(), expired)
	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(lapsed),
		"expired":    expired,
	})
	j.logg.Info(reportCtx, "expiration sweep complete")
	return errs
}
