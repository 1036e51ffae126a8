// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package billing

import "context"

// Repository is the durable, authoritative store of usage totals, one
// row per (user, period key). Mutation is expressed only as relative
// deltas applied inside the store, so concurrent writers can never lose
// updates to a read-modify-write race. Rows are never deleted here;
// account deletion keeps them for audit and a separate compliance flow
// owns their removal.
type Repository interface {
	// ApplyDelta atomically upserts the row, adding every counter in the
	// delta. Idempotent in shape: both stores expose the same operation.
	ApplyDelta(ctx context.Context, userID, periodKey string, mode Mode, delta Delta) error

	// GetTotals returns the row, or nil when no usage was ever recorded
	// for the window.
	GetTotals(ctx context.Context, userID, periodKey string) (*Totals, error)

	Ping(ctx context.Context) error
}
