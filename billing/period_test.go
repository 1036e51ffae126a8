// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package billing

import (
	"testing"
	"time"

	"parlo/platform/settings"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%s): %v", name, err)
	}
	return loc
}

func TestResolvePeriodSubscriber(t *testing.T) {
	expire := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	sub := settings.Subscription{Type: "subscription", ID: "sub_abc", ExpireTime: &expire}
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	mode, key := ResolvePeriod(sub, now, time.UTC)
	if mode != ModeSubscription || key != "sub_abc" {
		t.Errorf("ResolvePeriod = (%s, %s), want (sub, sub_abc)", mode, key)
	}
}

func TestResolvePeriodExpiredSubscriberIsFree(t *testing.T) {
	expire := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	sub := settings.Subscription{Type: "subscription", ID: "sub_abc", ExpireTime: &expire}
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	mode, key := ResolvePeriod(sub, now, time.UTC)
	if mode != ModeFree || key != "2026-08-28" {
		t.Errorf("ResolvePeriod = (%s, %s), want (free, 2026-08-28)", mode, key)
	}
}

func TestResolvePeriodUsesUserTimezone(t *testing.T) {
	tokyo := mustLoc(t, "Asia/Tokyo")
	// 23:30 UTC on the 27th is already the 28th in Tokyo.
	now := time.Date(2026, 8, 27, 23, 30, 0, 0, time.UTC)

	_, key := ResolvePeriod(settings.Subscription{}, now, tokyo)
	if key != "2026-08-28" {
		t.Errorf("period key = %s, want 2026-08-28 (Tokyo local date)", key)
	}

	_, key = ResolvePeriod(settings.Subscription{}, now, time.UTC)
	if key != "2026-08-27" {
		t.Errorf("period key = %s, want 2026-08-27 (UTC date)", key)
	}
}

func TestPeriodKeyChangesAtLocalMidnight(t *testing.T) {
	berlin := mustLoc(t, "Europe/Berlin")

	before := time.Date(2026, 8, 27, 23, 59, 59, 0, berlin)
	after := time.Date(2026, 8, 28, 0, 0, 1, 0, berlin)

	_, keyBefore := ResolvePeriod(settings.Subscription{}, before, berlin)
	_, keyAfter := ResolvePeriod(settings.Subscription{}, after, berlin)

	if keyBefore == keyAfter {
		t.Errorf("events two seconds apart across midnight share key %s", keyBefore)
	}
	if keyBefore != "2026-08-27" || keyAfter != "2026-08-28" {
		t.Errorf("keys = %s / %s", keyBefore, keyAfter)
	}
}

func TestLocationFallbacks(t *testing.T) {
	if Location("Not/AZone", "UTC") != time.UTC {
		t.Error("invalid timezone should fall back")
	}
	if Location("", "Not/AZone") != time.UTC {
		t.Error("invalid fallback should end at UTC")
	}
	if Location("Asia/Tokyo", "UTC").String() != "Asia/Tokyo" {
		t.Error("valid timezone should win")
	}
}

func TestUntilMidnight(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 8, 28, 23, 0, 0, 0, loc)

	d := UntilMidnight(now, loc)
	if d != time.Hour {
		t.Errorf("UntilMidnight = %v, want 1h", d)
	}

	ttl := freeKeyTTL(now, loc)
	if ttl != time.Hour+freeKeySlack {
		t.Errorf("freeKeyTTL = %v, want 1h plus slack", ttl)
	}
}
