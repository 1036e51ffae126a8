// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"parlo/platform/cache"
	"parlo/platform/settings"
)

type fixture struct {
	mr       *miniredis.Miniredis
	store    *cache.Client
	settings *settings.Cache
	repo     *MockRepository
	tracker  *Tracker
	guard    *Guard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.New(rdb, time.Second)
	t.Cleanup(func() { _ = store.Close() })

	set := settings.NewCache(store, nil)
	repo := NewMockRepository()
	return &fixture{
		mr:       mr,
		store:    store,
		settings: set,
		repo:     repo,
		tracker:  NewTracker(set, store, repo, NewPricing(), "UTC", nil),
		guard:    NewGuard(set, store, repo, DefaultLimits(), "UTC", nil),
	}
}

// brokenFixture builds a tracker/guard whose cache client is nil-backed,
// simulating an unreachable cache store.
func newBrokenCacheFixture(t *testing.T) *fixture {
	t.Helper()
	var store *cache.Client
	set := settings.NewCache(store, nil)
	repo := NewMockRepository()
	return &fixture{
		store:    store,
		settings: set,
		repo:     repo,
		tracker:  NewTracker(set, store, repo, NewPricing(), "UTC", nil),
		guard:    NewGuard(set, store, repo, DefaultLimits(), "UTC", nil),
	}
}

func (f *fixture) freezeTime(now time.Time) {
	f.tracker.now = func() time.Time { return now }
	f.guard.now = func() time.Time { return now }
}

func (f *fixture) subscribe(t *testing.T, userID, subID string, expire time.Time) {
	t.Helper()
	sub := settings.Subscription{Type: "subscription", ID: subID, ExpireTime: &expire}
	if err := f.settings.Update(context.Background(), userID, settings.Patch{Subscription: &sub}); err != nil {
		t.Fatalf("failed to store subscription: %v", err)
	}
}

func textEvent(direction Direction, model string, tokens int64) Event {
	return Event{Provider: ProviderTextModel, Direction: direction, Model: model, Quantity: tokens}
}

func TestBuildDelta(t *testing.T) {
	f := newFixture(t)

	delta := f.tracker.BuildDelta([]Event{
		textEvent(DirectionInput, "gpt-4o", 1000),
		textEvent(DirectionOutput, "gpt-4o", 500),
		{Provider: ProviderTTS, Quantity: 2000},
		{Provider: ProviderStorage, Quantity: 0}, // ignored
	})

	if delta.InputTokens != 1000 || delta.OutputTokens != 500 {
		t.Errorf("tokens = %d/%d, want 1000/500", delta.InputTokens, delta.OutputTokens)
	}
	if delta.ModelTokens["gpt-4o"] != 1500 {
		t.Errorf("model tokens = %d, want 1500", delta.ModelTokens["gpt-4o"])
	}
	// gpt-4o: 1000*2500/1000 + 500*10000/1000 = 2500 + 5000; tts: 2000*15000/1000 = 30000.
	if delta.CostByProvider[ProviderTextModel] != 7500 {
		t.Errorf("text cost = %d, want 7500", delta.CostByProvider[ProviderTextModel])
	}
	if delta.CostByProvider[ProviderTTS] != 30000 {
		t.Errorf("tts cost = %d, want 30000", delta.CostByProvider[ProviderTTS])
	}
	if delta.CostTotal != 37500 {
		t.Errorf("total = %d, want 37500", delta.CostTotal)
	}
	if delta.Events != 3 {
		t.Errorf("events = %d, want 3", delta.Events)
	}
}

func TestRecordWritesBothStores(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	f.freezeTime(now)
	ctx := context.Background()

	err := f.tracker.Record(ctx, "u1", []Event{textEvent(DirectionOutput, "gpt-4o", 1000)})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// Durable row.
	row := f.repo.totals("u1", "2026-08-28")
	if row == nil {
		t.Fatal("no durable row written")
	}
	if row.CostTotal != 10000 || row.OutputTokens != 1000 {
		t.Errorf("durable totals = %+v", row)
	}

	// Cache counters.
	val, found, err := f.store.GetInt64(ctx, CostKey("u1", ModeFree, "2026-08-28"))
	if err != nil || !found {
		t.Fatalf("cost counter read = (%v, %v)", err, found)
	}
	if val != 10000 {
		t.Errorf("cache cost = %d, want 10000", val)
	}
	val, found, _ = f.store.GetInt64(ctx, ModelTokensKey("u1", ModeFree, "2026-08-28", "gpt-4o"))
	if !found || val != 1000 {
		t.Errorf("model counter = (%d, %v)", val, found)
	}
}

func TestRecordFreeKeyTTLSetOnFirstWriteOnly(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 8, 28, 23, 0, 0, 0, time.UTC) // one hour to midnight
	f.freezeTime(now)
	ctx := context.Background()

	if err := f.tracker.Record(ctx, "u1", []Event{{Provider: ProviderTTS, Quantity: 1000}}); err != nil {
		t.Fatal(err)
	}

	key := CostKey("u1", ModeFree, "2026-08-28")
	first := f.mr.TTL(key)
	if first <= 0 || first > time.Hour+freeKeySlack {
		t.Fatalf("first-write TTL = %v, want about 1h", first)
	}

	// Age the key, then record again: the TTL must not be refreshed.
	f.mr.FastForward(30 * time.Minute)
	if err := f.tracker.Record(ctx, "u1", []Event{{Provider: ProviderTTS, Quantity: 1000}}); err != nil {
		t.Fatal(err)
	}
	second := f.mr.TTL(key)
	if second > first {
		t.Errorf("TTL grew on second write: %v -> %v", first, second)
	}
}

func TestRecordSubscriberUsesSubscriptionKey(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	f.freezeTime(now)
	f.subscribe(t, "u1", "sub_9", now.Add(20*24*time.Hour))
	ctx := context.Background()

	if err := f.tracker.Record(ctx, "u1", []Event{textEvent(DirectionInput, "gpt-4o", 1000)}); err != nil {
		t.Fatal(err)
	}

	if f.repo.totals("u1", "sub_9") == nil {
		t.Error("durable row should be keyed by subscription id")
	}
	if f.repo.totals("u1", "2026-08-28") != nil {
		t.Error("subscriber usage must not land in a calendar-day row")
	}
	if !f.mr.Exists(CostKey("u1", ModeSubscription, "sub_9")) {
		t.Error("cache counter should live under the subscription namespace")
	}
}

func TestRecordCacheFailureStillWritesDurable(t *testing.T) {
	f := newBrokenCacheFixture(t)

	err := f.tracker.Record(context.Background(), "u1", []Event{{Provider: ProviderTTS, Quantity: 1000}})
	if err != nil {
		t.Fatalf("cache failure must not fail the record: %v", err)
	}
	if f.repo.applyCalls != 1 {
		t.Errorf("durable write attempted %d times, want 1", f.repo.applyCalls)
	}
}

func TestRecordDurableFailureReturnsError(t *testing.T) {
	f := newFixture(t)
	f.repo.applyErr = errors.New("connection refused")

	err := f.tracker.Record(context.Background(), "u1", []Event{{Provider: ProviderTTS, Quantity: 1000}})
	if err == nil {
		t.Error("expected error from durable write failure")
	}
}

func TestRecordEmptyAndZeroEventsAreNoops(t *testing.T) {
	f := newFixture(t)

	if err := f.tracker.Record(context.Background(), "u1", nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}
	if err := f.tracker.Record(context.Background(), "u1", []Event{{Provider: ProviderTTS, Quantity: 0}}); err != nil {
		t.Errorf("zero-quantity batch: %v", err)
	}
	if f.repo.applyCalls != 0 {
		t.Errorf("no-op batches reached the store %d times", f.repo.applyCalls)
	}
}

func TestRecordRejectsEmptyUser(t *testing.T) {
	f := newFixture(t)

	err := f.tracker.Record(context.Background(), "", []Event{{Provider: ProviderTTS, Quantity: 10}})
	if !errors.Is(err, ErrInvalidUser) {
		t.Errorf("error = %v, want ErrInvalidUser", err)
	}
}

func TestConcurrentRecordsNoLostUpdates(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	f.freezeTime(now)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.tracker.Record(ctx, "u1", []Event{{Provider: ProviderTTS, Quantity: 100}})
		}()
	}
	wg.Wait()

	row := f.repo.totals("u1", "2026-08-28")
	if row == nil {
		t.Fatal("no durable row")
	}
	want := MicroUSD(workers * 1500) // 100 chars at 15000/1K each
	if row.CostTotal != want {
		t.Errorf("durable cost = %d, want %d (lost update)", row.CostTotal, want)
	}

	val, _, err := f.store.GetInt64(ctx, CostKey("u1", ModeFree, "2026-08-28"))
	if err != nil {
		t.Fatal(err)
	}
	if MicroUSD(val) != want {
		t.Errorf("cache cost = %d, want %d (lost update)", val, want)
	}
}
