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

// subscriptionKeyTTL bounds the lifetime of a subscription-cycle cache
// counter. Renewal clears the keys explicitly; the TTL only prevents an
// orphaned cycle key from living forever.
const subscriptionKeyTTL = 35 * 24 * time.Hour

// Tracker ingests consumption events and records their cost into both
// stores. It holds no mutable state of its own: all accumulation happens
// as commutative increments inside the cache and the durable store, so
// any number of stateless replicas can run concurrently.
type Tracker struct {
	settings *settings.Cache
	cache    *cache.Client
	repo     Repository
	pricing  *Pricing
	logger   *logger.Logger

	defaultTimezone string
	now             func() time.Time
}

// NewTracker creates a tracker. A nil pricing falls back to the built-in
// table.
func NewTracker(set *settings.Cache, c *cache.Client, repo Repository, pricing *Pricing, defaultTZ string, log *logger.Logger) *Tracker {
	if pricing == nil {
		pricing = NewPricing()
	}
	if log == nil {
		log = logger.New("billing")
	}
	return &Tracker{
		settings:        set,
		cache:           c,
		repo:            repo,
		pricing:         pricing,
		logger:          log,
		defaultTimezone: defaultTZ,
		now:             time.Now,
	}
}

// BuildDelta aggregates a batch of events into one delta using the
// price table. Exposed for the guard's sibling read path and for tests.
func (t *Tracker) BuildDelta(events []Event) Delta {
	delta := Delta{}
	for _, ev := range events {
		if ev.Quantity <= 0 {
			continue
		}
		cost := t.pricing.Cost(ev)
		delta.Events++
		delta.CostTotal += cost
		if cost != 0 {
			if delta.CostByProvider == nil {
				delta.CostByProvider = make(map[Provider]MicroUSD)
			}
			delta.CostByProvider[ev.Provider] += cost
		}

		if ev.Provider == ProviderTextModel {
			if ev.Direction == DirectionOutput {
				delta.OutputTokens += ev.Quantity
			} else {
				delta.InputTokens += ev.Quantity
			}
			if ev.Model != "" {
				if delta.ModelTokens == nil {
					delta.ModelTokens = make(map[string]int64)
				}
				delta.ModelTokens[ev.Model] += ev.Quantity
			}
		}
	}
	return delta
}

// Record converts events to cost and applies the delta to the cache and
// the durable store. Designed to be called after the user-facing
// response has been sent (fire-and-forget): a cache failure is logged
// and skipped, a durable failure is logged and not retried. Consumption
// already happened, so an under-count beats blocking the user.
func (t *Tracker) Record(ctx context.Context, userID string, events []Event) error {
	if userID == "" {
		return ErrInvalidUser
	}

	delta := t.BuildDelta(events)
	if delta.IsZero() {
		return nil
	}

	blob := t.settings.Get(ctx, userID)
	loc := Location(blob.Timezone, t.defaultTimezone)
	now := t.now()
	mode, periodKey := ResolvePeriod(blob.Subscription, now, loc)

	t.applyCacheDelta(ctx, userID, mode, periodKey, delta, now, loc)

	for provider, cost := range delta.CostByProvider {
		metricCostRecorded.WithLabelValues(string(provider)).Add(float64(cost))
	}
	for _, ev := range events {
		if ev.Quantity > 0 {
			metricEventsRecorded.WithLabelValues(string(ev.Provider)).Inc()
		}
	}

	// The durable write is the source of truth and is attempted
	// regardless of the cache outcome.
	if err := t.repo.ApplyDelta(ctx, userID, periodKey, mode, delta); err != nil {
		metricRecordFailures.WithLabelValues("durable").Inc()
		t.logger.Error(userID, "durable usage write failed", err, map[string]interface{}{
			"period_key": periodKey,
			"cost_micro": int64(delta.CostTotal),
		})
		return err
	}

	t.logger.Info(userID, "recorded usage", map[string]interface{}{
		"mode":       string(mode),
		"period_key": periodKey,
		"cost_micro": int64(delta.CostTotal),
		"events":     delta.Events,
	})
	return nil
}

// applyCacheDelta increments every touched counter in one transactional
// pipeline, then sets the window TTL on just-created keys only. A key
// incremented many times within its window keeps the TTL set at first
// write.
func (t *Tracker) applyCacheDelta(ctx context.Context, userID string, mode Mode, periodKey string, delta Delta, now time.Time, loc *time.Location) {
	increments := map[string]int64{
		CostKey(userID, mode, periodKey): int64(delta.CostTotal),
	}
	for provider, cost := range delta.CostByProvider {
		increments[ProviderCostKey(userID, mode, periodKey, provider)] = int64(cost)
	}
	if delta.InputTokens != 0 {
		increments[UsageKey(userID, mode, periodKey, MetricTokensIn)] = delta.InputTokens
	}
	if delta.OutputTokens != 0 {
		increments[UsageKey(userID, mode, periodKey, MetricTokensOut)] = delta.OutputTokens
	}
	for model, tokens := range delta.ModelTokens {
		increments[ModelTokensKey(userID, mode, periodKey, model)] = tokens
	}

	values, err := t.cache.IncrAll(ctx, increments)
	if err != nil {
		metricRecordFailures.WithLabelValues("cache").Inc()
		t.logger.Warn(userID, "cache usage write skipped", map[string]interface{}{
			"error":      err.Error(),
			"period_key": periodKey,
		})
		return
	}

	ttl := subscriptionKeyTTL
	if mode == ModeFree {
		ttl = freeKeyTTL(now, loc)
	}
	for key, value := range values {
		// Post-increment value equal to the delta means this call created
		// the key; only then is the TTL set, so it is never shortened.
		if value == increments[key] {
			if err := t.cache.Expire(ctx, key, ttl); err != nil {
				t.logger.Warn(userID, "failed to set counter TTL", map[string]interface{}{
					"key":   key,
					"error": err.Error(),
				})
			}
		}
	}
}
