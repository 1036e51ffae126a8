// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package billing

import "fmt"

// Cache key layout for usage counters:
//
//	usage:{mode}:{userID}:{periodKey}:{metric}
//
// The user id is always a full path segment, never a substring, so
// per-user wildcard patterns cannot match another user's keys.
const keyPrefix = "usage"

// Metric names under one (user, period) namespace.
const (
	MetricCost      = "cost"
	MetricTokensIn  = "tokens:in"
	MetricTokensOut = "tokens:out"
)

// UsageKey derives the cache key for one metric of one user's current
// accounting window. Pure: identical arguments always yield the
// identical string.
func UsageKey(userID string, mode Mode, periodKey, metric string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", keyPrefix, mode, userID, periodKey, metric)
}

// CostKey is the grand-total counter the quota guard reads.
func CostKey(userID string, mode Mode, periodKey string) string {
	return UsageKey(userID, mode, periodKey, MetricCost)
}

// ProviderCostKey is the per-provider cost sub-total.
func ProviderCostKey(userID string, mode Mode, periodKey string, provider Provider) string {
	return UsageKey(userID, mode, periodKey, MetricCost+":"+string(provider))
}

// ModelTokensKey is the per-model token total.
func ModelTokensKey(userID string, mode Mode, periodKey, model string) string {
	return UsageKey(userID, mode, periodKey, "tokens:model:"+model)
}

// UserPrefixes returns the wildcard patterns covering every usage key of
// one user across both accounting modes, used by account deletion.
func UserPrefixes(userID string) []string {
	return []string{
		fmt.Sprintf("%s:%s:%s:*", keyPrefix, ModeSubscription, userID),
		fmt.Sprintf("%s:%s:%s:*", keyPrefix, ModeFree, userID),
	}
}
