// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package billing

import (
	"time"

	"parlo/platform/settings"
)

// dayKeyLayout is the free-tier period key format, computed in the
// user's own timezone.
const dayKeyLayout = "2006-01-02"

// freeKeySlack keeps a free-tier cache key alive slightly past the
// user's local midnight so a write racing the day boundary still lands
// on a live key.
const freeKeySlack = 5 * time.Minute

// Location resolves a stored timezone name, falling back to the given
// default and finally to UTC. Timezones arrive from the client and may
// be arbitrary strings.
func Location(tz, fallback string) *time.Location {
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if fallback != "" {
		if loc, err := time.LoadLocation(fallback); err == nil {
			return loc
		}
	}
	return time.UTC
}

// ResolvePeriod derives the accounting mode and period key for a user.
// This is the single implementation shared by the Tracker and the Guard:
// an active subscription accounts against the subscription id for the
// whole cycle, anything else against the local calendar day. Pure given
// (subscription state, instant, location).
func ResolvePeriod(sub settings.Subscription, now time.Time, loc *time.Location) (Mode, string) {
	if sub.ActiveAt(now) && sub.ID != "" {
		return ModeSubscription, sub.ID
	}
	return ModeFree, now.In(loc).Format(dayKeyLayout)
}

// UntilMidnight returns the duration from now to the next local
// midnight.
func UntilMidnight(now time.Time, loc *time.Location) time.Duration {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return next.Sub(local)
}

// freeKeyTTL is the TTL for a free-tier counter created now: the rest of
// the user's day plus slack.
func freeKeyTTL(now time.Time, loc *time.Location) time.Duration {
	return UntilMidnight(now, loc) + freeKeySlack
}
