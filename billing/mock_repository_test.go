// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package billing

import (
	"context"
	"sync"
	"time"
)

// MockRepository implements Repository in memory with error injection.
type MockRepository struct {
	mu   sync.Mutex
	rows map[string]*Totals

	applyErr error
	readErr  error
	pingErr  error

	applyCalls int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{rows: make(map[string]*Totals)}
}

func rowKey(userID, periodKey string) string {
	return userID + "|" + periodKey
}

func (m *MockRepository) ApplyDelta(ctx context.Context, userID, periodKey string, mode Mode, delta Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.applyCalls++
	if m.applyErr != nil {
		return m.applyErr
	}

	key := rowKey(userID, periodKey)
	row, ok := m.rows[key]
	if !ok {
		row = &Totals{
			UserID:         userID,
			PeriodKey:      periodKey,
			Mode:           mode,
			ModelTokens:    make(map[string]int64),
			CostByProvider: make(map[Provider]MicroUSD),
			CreatedAt:      time.Now().UTC(),
		}
		m.rows[key] = row
	}
	row.InputTokens += delta.InputTokens
	row.OutputTokens += delta.OutputTokens
	row.Events += delta.Events
	row.CostTotal += delta.CostTotal
	for model, tokens := range delta.ModelTokens {
		row.ModelTokens[model] += tokens
	}
	for provider, cost := range delta.CostByProvider {
		row.CostByProvider[provider] += cost
	}
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockRepository) GetTotals(ctx context.Context, userID, periodKey string) (*Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readErr != nil {
		return nil, m.readErr
	}
	row, ok := m.rows[rowKey(userID, periodKey)]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (m *MockRepository) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *MockRepository) totals(userID, periodKey string) *Totals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[rowKey(userID, periodKey)]
}
