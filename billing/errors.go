// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package billing

import "errors"

var (
	// ErrInvalidUser is returned when an operation is called with an
	// empty user id.
	ErrInvalidUser = errors.New("invalid user id")

	// ErrStoreUnavailable is returned when the durable store cannot be
	// reached. During a quota check this error means deny, never
	// "usage is zero".
	ErrStoreUnavailable = errors.New("usage store unavailable")
)
