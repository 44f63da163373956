package primary_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"BattleArena/internal/battle"
	"BattleArena/internal/chain/stub"
	"BattleArena/internal/event"
	"BattleArena/internal/primary"
	"BattleArena/internal/testutil"
)

type fixedPrice struct {
	price float64
	ok    bool
}

func (p fixedPrice) LastPrice() (float64, bool) { return p.price, p.ok }

func newSupervisor(t *testing.T) (*primary.Supervisor, *battle.Store, *stub.Adapter, *testutil.FakeClock) {
	t.Helper()

	clock := testutil.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bus := event.NewBus()
	store := battle.NewStore(bus, zerolog.Nop())
	store.SetClock(clock.Now)
	adapter := stub.New(clock.Now)

	cfg := primary.Config{
		LongWallet:   "0xhouse-long",
		ShortWallet:  "0xhouse-short",
		Collateral:   100_000,
		PollInterval: time.Millisecond,
		PollTimeout:  time.Second,
	}
	sup := primary.NewSupervisor(store, adapter, bus, fixedPrice{2000, true}, cfg, nil, zerolog.Nop())
	return sup, store, adapter, clock
}

// ============================================================================
// Test: bootstrap creation
// ============================================================================

func TestEnsurePrimary_CreatesWhenNoneLive(t *testing.T) {
	sup, store, _, _ := newSupervisor(t)

	if err := sup.EnsurePrimary(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	b, ok := store.LivePrimary()
	if !ok {
		t.Fatal("no live primary after ensure")
	}
	if b.Tier != battle.TierPrimary {
		t.Errorf("tier: got %s, want PRIMARY", b.Tier)
	}
	if b.EntryPrice != 2000 {
		t.Errorf("entry price: got %v, want feed price 2000", b.EntryPrice)
	}
	if b.Agents[0].Wallet != "0xhouse-long" || b.Agents[1].Wallet != "0xhouse-short" {
		t.Errorf("wallets: got %q/%q", b.Agents[0].Wallet, b.Agents[1].Wallet)
	}
}

func TestEnsurePrimary_NoopWhenOneAlreadyLive(t *testing.T) {
	sup, store, _, _ := newSupervisor(t)

	if err := sup.EnsurePrimary(context.Background()); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	first, _ := store.LivePrimary()

	if err := sup.EnsurePrimary(context.Background()); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	second, _ := store.LivePrimary()

	if first.ID != second.ID {
		t.Errorf("primary replaced: %s then %s", first.ID, second.ID)
	}
}

// ============================================================================
// Test: successor after the current primary leaves LIVE
// ============================================================================

func TestEnsurePrimary_CreatesSuccessorAfterSettlement(t *testing.T) {
	sup, store, _, clock := newSupervisor(t)

	if err := sup.EnsurePrimary(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	first, _ := store.LivePrimary()

	settled := battle.StatusSettled
	end := clock.Now()
	if err := store.Update(first.ID, battle.Patch{Status: &settled, EndTime: &end}); err != nil {
		t.Fatalf("settle primary: %v", err)
	}
	if _, ok := store.LivePrimary(); ok {
		t.Fatal("settled primary still listed live")
	}

	if err := sup.EnsurePrimary(context.Background()); err != nil {
		t.Fatalf("successor ensure: %v", err)
	}
	successor, ok := store.LivePrimary()
	if !ok {
		t.Fatal("no successor primary")
	}
	if successor.ID == first.ID {
		t.Error("successor must be a new battle")
	}
}

// ============================================================================
// Test: creation failure modes
// ============================================================================

func TestEnsurePrimary_FailsWithoutPriceFeed(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bus := event.NewBus()
	store := battle.NewStore(bus, zerolog.Nop())
	store.SetClock(clock.Now)

	cfg := primary.Config{
		LongWallet:  "0xl",
		ShortWallet: "0xs",
		Collateral:  100_000,
		PriceWait:   time.Millisecond, // give up on the first poll
	}
	sup := primary.NewSupervisor(store, stub.New(clock.Now), bus, fixedPrice{0, false}, cfg, nil, zerolog.Nop())

	if err := sup.EnsurePrimary(context.Background()); err == nil {
		t.Fatal("ensure must fail without a price")
	}
	if _, ok := store.LivePrimary(); ok {
		t.Error("no primary may exist after failed creation")
	}
}

func TestEnsurePrimary_LedgerRejectionLeavesStoreEmpty(t *testing.T) {
	sup, store, adapter, _ := newSupervisor(t)
	adapter.CreateErr = context.DeadlineExceeded

	if err := sup.EnsurePrimary(context.Background()); err == nil {
		t.Fatal("ensure must surface the ledger error")
	}
	if _, ok := store.LivePrimary(); ok {
		t.Error("no primary may exist after ledger rejection")
	}
}
