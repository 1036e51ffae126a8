// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

// Package settings stores the per-user business-state blob in the cache
// store: subscription state, timezone, locale and achievement counters.
// The blob is rebuildable cache, not a ledger; it has no durable
// counterpart, and a lost blob reconstructs lazily to safe defaults on
// the next read.
package settings

import (
	"context"
	"encoding/json"
	"time"

	"parlo/platform/cache"
	"parlo/platform/shared/logger"
)

// Subscription is an opaque snapshot written by the payment-webhook
// collaborator. Active status is derived at read time from ExpireTime,
// never stored: cancellation is modeled as not renewing ExpireTime.
type Subscription struct {
	Type       string     `json:"type,omitempty"` // "subscription" or "oneTime"
	ID         string     `json:"id,omitempty"`
	ExpireTime *time.Time `json:"expire_time,omitempty"`
}

// ActiveAt reports whether the subscription is active at the given
// instant.
func (s Subscription) ActiveAt(now time.Time) bool {
	return s.ExpireTime != nil && s.ExpireTime.After(now)
}

// Blob is the whole per-user settings record.
type Blob struct {
	Subscription      Subscription `json:"subscription"`
	Timezone          string       `json:"timezone,omitempty"`
	Locale            string       `json:"locale,omitempty"`
	AchievementPoints int64        `json:"achievement_points"`
	AnswerCount       int64        `json:"answer_count"`
}

// Patch holds the fields of one partial update. Nil means "leave as is".
type Patch struct {
	Subscription      *Subscription `json:"subscription,omitempty"`
	Timezone          *string       `json:"timezone,omitempty"`
	Locale            *string       `json:"locale,omitempty"`
	AchievementPoints *int64        `json:"achievement_points,omitempty"`
	AnswerCount       *int64        `json:"answer_count,omitempty"`
}

// merge applies a patch to a blob. Explicit and typed so the
// read-modify-write in Update stays auditable; this is a last-writer-wins
// whole-blob merge, not a field-level atomic update.
func merge(blob Blob, patch Patch) Blob {
	if patch.Subscription != nil {
		blob.Subscription = *patch.Subscription
	}
	if patch.Timezone != nil {
		blob.Timezone = *patch.Timezone
	}
	if patch.Locale != nil {
		blob.Locale = *patch.Locale
	}
	if patch.AchievementPoints != nil {
		blob.AchievementPoints = *patch.AchievementPoints
	}
	if patch.AnswerCount != nil {
		blob.AnswerCount = *patch.AnswerCount
	}
	return blob
}

// Key returns the cache key of a user's blob. The user id is a full
// path segment, matching the usage-key namespacing rule.
func Key(userID string) string {
	return "settings:" + userID
}

// Cache reads and writes settings blobs in the cache store.
type Cache struct {
	store  *cache.Client
	logger *logger.Logger
}

// NewCache creates a settings cache over the given store.
func NewCache(store *cache.Client, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.New("settings")
	}
	return &Cache{store: store, logger: log}
}

// Get returns the user's blob. It never errors: absence, a malformed
// record or an unreachable store all yield zero-value defaults, which
// downstream classify as a free-tier user in the default timezone.
func (c *Cache) Get(ctx context.Context, userID string) Blob {
	var blob Blob
	if userID == "" {
		return blob
	}

	raw, found, err := c.store.Get(ctx, Key(userID))
	if err != nil {
		c.logger.Warn(userID, "settings read failed, using defaults", map[string]interface{}{"error": err.Error()})
		return blob
	}
	if !found {
		return blob
	}
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		c.logger.Warn(userID, "settings blob malformed, using defaults", map[string]interface{}{"error": err.Error()})
		return Blob{}
	}
	return blob
}

// Update loads the current blob, merges the patch and writes the whole
// record back. Callers racing on structured fields such as subscription
// state need external synchronization; counters written through here are
// last-writer-wins, unlike usage counters.
func (c *Cache) Update(ctx context.Context, userID string, patch Patch) error {
	if userID == "" {
		return nil
	}

	blob := merge(c.Get(ctx, userID), patch)
	raw, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	// No TTL: the blob lives for the life of the account.
	return c.store.Set(ctx, Key(userID), string(raw), 0)
}

// Delete removes the blob, used by account deletion.
func (c *Cache) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return c.store.Del(ctx, Key(userID))
}
