package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/recurforge/commerce-backend/internal/gateways"
	"github.com/recurforge/commerce-backend/internal/subscriptions"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/metrics"
)

const (
	defaultReconcileLimit    = 250
	defaultReconcileLookback = 24 * time.Hour
)

type subscriptionLifecycle interface {
	MarkFailing(ctx context.Context, sub *models.Subscription) error
	MarkCancelled(ctx context.Context, sub *models.Subscription) error
}

// GatewayReconcileJobParams configure the processor drift sync.
type GatewayReconcileJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Repo          subscriptions.Repository
	Subscriptions subscriptionLifecycle
	Registry      *gateways.Registry
	Metrics       *metrics.CronJobMetrics
	Limit         int
	Lookback      time.Duration
	Now           func() time.Time
}

// NewGatewayReconcileJob builds the job that pulls processor-side profile
// state for rows webhooks may have missed and corrects local drift.
func NewGatewayReconcileJob(params GatewayReconcileJobParams) (Job, error) {
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
	if params.Registry == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &gatewayReconcileJob{
		logg:     params.Logger,
		db:       params.DB,
		repo:     params.Repo,
		subs:     params.Subscriptions,
		registry: params.Registry,
		metrics:  params.Metrics,
		limit:    limit,
		lookback: lookback,
		now:      now,
	}, nil
}

type gatewayReconcileJob struct {
	logg     *logger.Logger
	db       txRunner
	repo     subscriptions.Repository
	subs     subscriptionLifecycle
	registry *gateways.Registry
	metrics  *metrics.CronJobMetrics
	limit    int
	lookback time.Duration
	now      func() time.Time
}

func (j *gatewayReconcileJob) Name() string { return "gateway-reconcile" }

func (j *gatewayReconcileJob) Run(ctx context.Context) error {
	updatedBefore := j.now().UTC().Add(-j.lookback)
	stale, err := j.repo.ListForReconciliation(ctx, updatedBefore, j.limit)
	if err != nil {
		return fmt.Errorf("list stale subscriptions: %w", err)
	}

	var errs error
	synced := 0
	for i := range stale {
		if err := j.reconcile(ctx, &stale[i]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		synced++
	}

	j.metrics.AddProcessed(j.Name(), synced)
	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(stale),
		"synced":     synced,
	})
	j.logg.Info(reportCtx, "gateway reconcile loop complete")
	return errs
}

func (j *gatewayReconcileJob) reconcile(ctx context.Context, sub *models.Subscription) error {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"subscription_id": sub.ID.String(),
		"gateway":         sub.Gateway,
		"profile_id":      sub.ProfileID,
	})

	adapter, err := j.registry.Get(sub.Gateway)
	if err != nil {
		j.logg.Warn(logCtx, "no adapter registered for gateway; skipping")
		return nil
	}
	remote, err := adapter.SubscriptionDetails(logCtx, sub)
	if err != nil {
		return fmt.Errorf("fetch %s profile %s: %w", sub.Gateway, sub.ProfileID, err)
	}

	remoteStatus := enums.SubscriptionStatus(remote.Status)
	switch {
	case remoteStatus == sub.Status:
		// In sync; bump updated_at so the row leaves the stale window.
		return j.touch(logCtx, sub)
	case remoteStatus == enums.SubscriptionStatusCancelled,
		remoteStatus == enums.SubscriptionStatusExpired:
		j.logg.Info(logCtx, "processor reports terminal profile; cancelling locally")
		return j.subs.MarkCancelled(logCtx, sub)
	case remoteStatus == enums.SubscriptionStatusFailing:
		j.logg.Info(logCtx, "processor reports collection failures; marking failing")
		return j.subs.MarkFailing(logCtx, sub)
	case remoteStatus == enums.SubscriptionStatusActive &&
		sub.Status == enums.SubscriptionStatusFailing:
		j.logg.Info(logCtx, "processor recovered the profile; restoring active")
		sub.Status = enums.SubscriptionStatusActive
		return j.touch(logCtx, sub)
	default:
		return j.touch(logCtx, sub)
	}
}

func (j *gatewayReconcileJob) touch(ctx context.Context, sub *models.Subscription) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		return j.repo.WithTx(tx).Save(ctx, sub)
	})
}
