// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package billing

import (
	"context"
	"time"

	"parlo/platform/cache"
	"parlo/platform/settings"
	"parlo/platform/shared/logger"
)

// Guard answers, on every gated request, whether a user may proceed.
// Reads go cache-first with a durable fallback; total uncertainty denies.
// A cache miss is never treated as zero usage.
type Guard struct {
	settings *settings.Cache
	cache    *cache.Client
	repo     Repository
	limits   Limits
	logger   *logger.Logger

	defaultTimezone string
	now             func() time.Time
}

// NewGuard creates a quota guard.
func NewGuard(set *settings.Cache, c *cache.Client, repo Repository, limits Limits, defaultTZ string, log *logger.Logger) *Guard {
	if limits.SubscriptionMicro <= 0 || limits.FreeDailyMicro <= 0 {
		limits = DefaultLimits()
	}
	if log == nil {
		log = logger.New("quota")
	}
	return &Guard{
		settings:        set,
		cache:           c,
		repo:            repo,
		limits:          limits,
		logger:          log,
		defaultTimezone: defaultTZ,
		now:             time.Now,
	}
}

// Check returns whether the user may proceed. Any unexpected failure
// denies: a metering outage must not be exploitable as unlimited usage.
func (g *Guard) Check(ctx context.Context, userID string) bool {
	decision, err := g.Status(ctx, userID)
	if err != nil {
		g.logger.Error(userID, "quota check failed closed", err, nil)
		return false
	}
	return decision.Allowed
}

// Status computes the full quota decision for a user: accounting mode,
// period key, accumulated cost and the applicable cap. Usage equal to
// the cap denies; the comparison is strict less-than.
func (g *Guard) Status(ctx context.Context, userID string) (Decision, error) {
	if userID == "" {
		return Decision{}, ErrInvalidUser
	}

	// A failed settings read classifies the user as free tier in the
	// default timezone; only the usage amount itself fails closed.
	blob := g.settings.Get(ctx, userID)
	loc := Location(blob.Timezone, g.defaultTimezone)
	mode, periodKey := ResolvePeriod(blob.Subscription, g.now(), loc)

	used, err := g.usedMicro(ctx, userID, mode, periodKey)
	if err != nil {
		return Decision{}, err
	}

	limit := g.limits.ForMode(mode)
	decision := Decision{
		Allowed:    used < limit,
		Mode:       mode,
		PeriodKey:  periodKey,
		UsedMicro:  used,
		LimitMicro: limit,
	}
	if !decision.Allowed {
		metricQuotaDenials.WithLabelValues(string(mode)).Inc()
		g.logger.Info(userID, "quota limit reached", map[string]interface{}{
			"mode":        string(mode),
			"period_key":  periodKey,
			"used_micro":  int64(used),
			"limit_micro": int64(limit),
		})
	}
	return decision, nil
}

// usedMicro reads the accumulated cost for the window: cache counter
// first, then the durable row. A durable-store failure propagates so the
// caller denies; absence of any record is genuinely zero usage.
func (g *Guard) usedMicro(ctx context.Context, userID string, mode Mode, periodKey string) (MicroUSD, error) {
	val, found, err := g.cache.GetInt64(ctx, CostKey(userID, mode, periodKey))
	if err == nil && found {
		return MicroUSD(val), nil
	}
	if err != nil {
		g.logger.Warn(userID, "cache quota read failed, falling back to store", map[string]interface{}{
			"error": err.Error(),
		})
	}
	metricCacheFallbacks.Inc()

	totals, err := g.repo.GetTotals(ctx, userID, periodKey)
	if err != nil {
		return 0, ErrStoreUnavailable
	}
	if totals == nil {
		return 0, nil
	}
	return totals.CostTotal, nil
}
