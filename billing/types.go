// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

// Package billing converts consumption events (LLM tokens, TTS
// characters, object-storage bytes) into integer micro-USD costs,
// accumulates them per user and accounting window in the cache and the
// durable store, and answers on every request whether the user may
// proceed.
package billing

import "time"

// MicroUSD is an integer amount of one-millionth of a US dollar. All
// cost arithmetic stays in this unit to avoid floating-point drift.
type MicroUSD int64

// Mode selects the accounting policy for a user.
type Mode string

const (
	// ModeSubscription accumulates over the whole subscription cycle,
	// keyed by the subscription id.
	ModeSubscription Mode = "sub"
	// ModeFree accumulates per calendar day in the user's own timezone.
	ModeFree Mode = "free"
)

// Provider tags the origin of a consumption event.
type Provider string

const (
	ProviderTextModel Provider = "text-model"
	ProviderTTS       Provider = "tts"
	ProviderStorage   Provider = "object-storage"
)

// Direction distinguishes input from output tokens for text models,
// which are priced independently.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Event is a single unit of consumption produced by an AI, TTS or
// storage collaborator. Quantity is tokens for text models, characters
// for TTS and bytes for object storage.
type Event struct {
	Provider  Provider  `json:"provider"`
	Direction Direction `json:"direction,omitempty"`
	Model     string    `json:"model,omitempty"`
	Quantity  int64     `json:"quantity"`
}

// Delta is the aggregated effect of one batch of events. It is applied
// as commutative increments to both stores, never as an overwrite.
type Delta struct {
	InputTokens    int64
	OutputTokens   int64
	ModelTokens    map[string]int64
	CostByProvider map[Provider]MicroUSD
	CostTotal      MicroUSD
	Events         int64
}

// IsZero reports whether the delta would change nothing.
func (d Delta) IsZero() bool {
	return d.InputTokens == 0 && d.OutputTokens == 0 && d.CostTotal == 0 &&
		d.Events == 0 && len(d.ModelTokens) == 0 && len(d.CostByProvider) == 0
}

// Totals is the durable usage row for one (user, period) window. All
// counters are monotonically non-decreasing.
type Totals struct {
	UserID         string                `json:"user_id"`
	PeriodKey      string                `json:"period_key"`
	Mode           Mode                  `json:"mode"`
	InputTokens    int64                 `json:"input_tokens"`
	OutputTokens   int64                 `json:"output_tokens"`
	ModelTokens    map[string]int64      `json:"model_tokens,omitempty"`
	CostByProvider map[Provider]MicroUSD `json:"cost_by_provider,omitempty"`
	CostTotal      MicroUSD              `json:"cost_total_micro"`
	Events         int64                 `json:"events"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Limits holds the quota caps per accounting mode, in micro-USD.
// Equality to a cap denies; the comparison is strict less-than.
type Limits struct {
	SubscriptionMicro MicroUSD
	FreeDailyMicro    MicroUSD
}

// DefaultLimits returns the built-in caps used when no configuration is
// present.
func DefaultLimits() Limits {
	return Limits{
		SubscriptionMicro: 4_000_000,
		FreeDailyMicro:    100_000,
	}
}

// ForMode returns the cap for a mode.
func (l Limits) ForMode(mode Mode) MicroUSD {
	if mode == ModeSubscription {
		return l.SubscriptionMicro
	}
	return l.FreeDailyMicro
}

// Decision is the outcome of a quota check, consumed by request
// handlers. A false Allowed maps to a user-visible "limit reached"
// response, never a generic server error.
type Decision struct {
	Allowed    bool     `json:"allowed"`
	Mode       Mode     `json:"mode"`
	PeriodKey  string   `json:"period_key"`
	UsedMicro  MicroUSD `json:"used_micro"`
	LimitMicro MicroUSD `json:"limit_micro"`
}
