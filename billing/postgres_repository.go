// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresRepository implements Repository on a single usage_records
// table. Fixed-enum counters live in columns; the open-ended per-model
// token totals live in a JSONB column merged key-wise inside the same
// upsert statement, so the whole delta lands atomically.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository over an open database
// handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// mergedModelTokens sums the existing and incoming per-model JSONB maps
// key by key inside the UPDATE, keeping the upsert a single atomic
// statement.
const mergedModelTokens = `(
			SELECT COALESCE(jsonb_object_agg(k, v), '{}'::jsonb)
			FROM (
				SELECT kv.key AS k, SUM(kv.value::bigint) AS v
				FROM (
					SELECT key, value FROM jsonb_each_text(usage_records.model_tokens)
					UNION ALL
					SELECT key, value FROM jsonb_each_text(EXCLUDED.model_tokens)
				) kv
				GROUP BY kv.key
			) merged
		)`

var applyDeltaQuery = fmt.Sprintf(`
		INSERT INTO usage_records (
			user_id, period_key, mode,
			input_tokens, output_tokens, event_count,
			cost_text_micro, cost_tts_micro, cost_storage_micro, cost_total_micro,
			model_tokens, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (user_id, period_key) DO UPDATE SET
			input_tokens = usage_records.input_tokens + EXCLUDED.input_tokens,
			output_tokens = usage_records.output_tokens + EXCLUDED.output_tokens,
			event_count = usage_records.event_count + EXCLUDED.event_count,
			cost_text_micro = usage_records.cost_text_micro + EXCLUDED.cost_text_micro,
			cost_tts_micro = usage_records.cost_tts_micro + EXCLUDED.cost_tts_micro,
			cost_storage_micro = usage_records.cost_storage_micro + EXCLUDED.cost_storage_micro,
			cost_total_micro = usage_records.cost_total_micro + EXCLUDED.cost_total_micro,
			model_tokens = %s,
			updated_at = NOW()
	`, mergedModelTokens)

// ApplyDelta upserts the usage row with relative increments.
func (r *PostgresRepository) ApplyDelta(ctx context.Context, userID, periodKey string, mode Mode, delta Delta) error {
	if userID == "" {
		return ErrInvalidUser
	}
	if delta.IsZero() {
		return nil
	}

	modelTokens, err := json.Marshal(nonNilTokens(delta.ModelTokens))
	if err != nil {
		return fmt.Errorf("failed to marshal model tokens: %w", err)
	}

	_, err = r.db.ExecContext(ctx, applyDeltaQuery,
		userID, periodKey, string(mode),
		delta.InputTokens, delta.OutputTokens, delta.Events,
		int64(delta.CostByProvider[ProviderTextModel]),
		int64(delta.CostByProvider[ProviderTTS]),
		int64(delta.CostByProvider[ProviderStorage]),
		int64(delta.CostTotal),
		modelTokens,
	)
	if err != nil {
		return fmt.Errorf("failed to apply usage delta: %w", err)
	}
	return nil
}

// GetTotals reads the usage row for one window. Absence is (nil, nil).
func (r *PostgresRepository) GetTotals(ctx context.Context, userID, periodKey string) (*Totals, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}

	query := `
		SELECT user_id, period_key, mode,
		       input_tokens, output_tokens, event_count,
		       cost_text_micro, cost_tts_micro, cost_storage_micro, cost_total_micro,
		       model_tokens, created_at, updated_at
		FROM usage_records
		WHERE user_id = $1 AND period_key = $2
	`

	var (
		totals      Totals
		mode        string
		costText    int64
		costTTS     int64
		costStorage int64
		costTotal   int64
		modelTokens []byte
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := r.db.QueryRowContext(ctx, query, userID, periodKey).Scan(
		&totals.UserID, &totals.PeriodKey, &mode,
		&totals.InputTokens, &totals.OutputTokens, &totals.Events,
		&costText, &costTTS, &costStorage, &costTotal,
		&modelTokens, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read usage totals: %w", err)
	}

	totals.Mode = Mode(mode)
	totals.CostTotal = MicroUSD(costTotal)
	totals.CostByProvider = map[Provider]MicroUSD{}
	if costText != 0 {
		totals.CostByProvider[ProviderTextModel] = MicroUSD(costText)
	}
	if costTTS != 0 {
		totals.CostByProvider[ProviderTTS] = MicroUSD(costTTS)
	}
	if costStorage != 0 {
		totals.CostByProvider[ProviderStorage] = MicroUSD(costStorage)
	}
	totals.CreatedAt = createdAt
	totals.UpdatedAt = updatedAt

	if len(modelTokens) > 0 {
		if err := json.Unmarshal(modelTokens, &totals.ModelTokens); err != nil {
			return nil, fmt.Errorf("failed to unmarshal model tokens: %w", err)
		}
	}
	return &totals, nil
}

// Ping verifies database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func nonNilTokens(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}
