package battle_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BattleArena/internal/battle"
	"BattleArena/internal/event"
)

func newStore() (*battle.Store, *event.Bus) {
	bus := event.NewBus()
	return battle.NewStore(bus, zerolog.Nop()), bus
}

func liveBattle(tier battle.Tier) *battle.Battle {
	return battle.New(uuid.New(), tier, 2000, "0xlong", "0xshort", 100_000, time.Now())
}

// ============================================================================
// Test: create
// ============================================================================

func TestCreate_RejectsDuplicate(t *testing.T) {
	s, _ := newStore()
	b := liveBattle(battle.TierSecondary)

	if err := s.Create(b); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := *b
	if err := s.Create(&dup); !errors.Is(err, battle.ErrDuplicate) {
		t.Errorf("got %v, want ErrDuplicate", err)
	}
}

func TestCreate_RejectsLiveWithoutEntryPrice(t *testing.T) {
	s, _ := newStore()
	b := liveBattle(battle.TierSecondary)
	b.EntryPrice = 0

	if err := s.Create(b); !errors.Is(err, battle.ErrInvalidBattle) {
		t.Errorf("got %v, want ErrInvalidBattle", err)
	}
}

func TestCreate_EmitsNotification(t *testing.T) {
	s, bus := newStore()
	sub := bus.Subscribe(4)

	b := liveBattle(battle.TierPrimary)
	if err := s.Create(b); err != nil {
		t.Fatalf("create: %v", err)
	}

	select {
	case n := <-sub:
		created, ok := n.(*event.BattleCreated)
		if !ok {
			t.Fatalf("got %T, want *event.BattleCreated", n)
		}
		if created.Tier != "PRIMARY" {
			t.Errorf("tier: got %q, want PRIMARY", created.Tier)
		}
	default:
		t.Fatal("no notification published")
	}
}

// ============================================================================
// Test: merge policy
// ============================================================================

func TestUpdate_PrimaryTierNeverDowngrades(t *testing.T) {
	s, _ := newStore()
	b := liveBattle(battle.TierPrimary)
	s.Create(b)

	secondary := battle.TierSecondary
	if err := s.Update(b.ID, battle.Patch{Tier: &secondary}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get(b.ID)
	if got.Tier != battle.TierPrimary {
		t.Errorf("tier: got %s, want PRIMARY", got.Tier)
	}
}

func TestUpdate_EndTimeImmutableOnceSet(t *testing.T) {
	s, _ := newStore()
	b := liveBattle(battle.TierSecondary)
	s.Create(b)

	first := time.Now().Add(time.Minute)
	if err := s.Update(b.ID, battle.Patch{EndTime: &first}); err != nil {
		t.Fatalf("update: %v", err)
	}
	later := first.Add(time.Hour)
	if err := s.Update(b.ID, battle.Patch{EndTime: &later}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get(b.ID)
	if !got.EndTime.Equal(first) {
		t.Errorf("end time moved: got %v, want %v", got.EndTime, first)
	}
}

func TestUpdate_EscalationLevelMonotonic(t *testing.T) {
	s, _ := newStore()
	b := liveBattle(battle.TierSecondary)
	s.Create(b)

	two := int32(2)
	if err := s.Update(b.ID, battle.Patch{EscalationLevel: &two}); err != nil {
		t.Fatalf("update: %v", err)
	}
	one := int32(1)
	if err := s.Update(b.ID, battle.Patch{EscalationLevel: &one}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get(b.ID)
	if got.EscalationLevel != 2 {
		t.Errorf("level: got %d, want 2", got.EscalationLevel)
	}
	if got.Leverage != battle.Ladder[2] {
		t.Errorf("leverage: got %d, want %d", got.Leverage, battle.Ladder[2])
	}
}

func TestUpdate_EscalationLevelClampedToLadder(t *testing.T) {
	s, _ := newStore()
	b := liveBattle(battle.TierSecondary)
	s.Create(b)

	nine := int32(9)
	if err := s.Update(b.ID, battle.Patch{EscalationLevel: &nine}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get(b.ID)
	if got.EscalationLevel != battle.MaxEscalationLevel {
		t.Errorf("level: got %d, want %d", got.EscalationLevel, battle.MaxEscalationLevel)
	}
	if got.Leverage != battle.Ladder[battle.MaxEscalationLevel] {
		t.Errorf("leverage: got %d, want %d", got.Leverage, battle.Ladder[battle.MaxEscalationLevel])
	}
}

func TestUpdate_SettlementTxKeptOnEmptyPatch(t *testing.T) {
	s, _ := newStore()
	b := liveBattle(battle.TierSecondary)
	s.Create(b)

	tx := "0xdeadbeef"
	s.Update(b.ID, battle.Patch{SettlementTx: &tx})
	empty := ""
	s.Update(b.ID, battle.Patch{SettlementTx: &empty})

	got, _ := s.Get(b.ID)
	if got.SettlementTx != "0xdeadbeef" {
		t.Errorf("settlement tx erased: got %q", got.SettlementTx)
	}
}

// ============================================================================
// Test: listings and copies
// ============================================================================

func TestListActive_ExcludesTerminalStatuses(t *testing.T) {
	s, _ := newStore()

	live := liveBattle(battle.TierSecondary)
	s.Create(live)

	for _, status := range []battle.Status{
		battle.StatusSettled, battle.StatusCancelled, battle.StatusStuck, battle.StatusExpired,
	} {
		b := liveBattle(battle.TierSecondary)
		s.Create(b)
		st := status
		if err := s.Update(b.ID, battle.Patch{Status: &st}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	active := s.ListActive()
	if len(active) != 1 {
		t.Fatalf("active: got %d battles, want 1", len(active))
	}
	if active[0].ID != live.ID {
		t.Errorf("active: got %s, want %s", active[0].ID, live.ID)
	}
}

func TestGet_ReturnsDeepCopy(t *testing.T) {
	s, _ := newStore()
	b := liveBattle(battle.TierSecondary)
	s.Create(b)

	got, _ := s.Get(b.ID)
	got.Agents[0].Health = 1
	got.Status = battle.StatusCancelled

	again, _ := s.Get(b.ID)
	if again.Agents[0].Health != 100 {
		t.Error("mutating a copy leaked into the store")
	}
	if again.Status != battle.StatusLive {
		t.Error("mutating a copy leaked into the store")
	}
}

func TestWithBattle_VersionsOnSuccess(t *testing.T) {
	s, _ := newStore()
	b := liveBattle(battle.TierSecondary)
	s.Create(b)

	err := s.WithBattle(b.ID, func(cur *battle.Battle) error {
		cur.Agents[0].Health = 42
		return nil
	})
	if err != nil {
		t.Fatalf("with battle: %v", err)
	}

	got, _ := s.Get(b.ID)
	if got.Version != 2 {
		t.Errorf("version: got %d, want 2", got.Version)
	}
	if got.Agents[0].Health != 42 {
		t.Errorf("health: got %f, want 42", got.Agents[0].Health)
	}
}

func TestMarkReady_LatchesOnce(t *testing.T) {
	b := liveBattle(battle.TierSecondary)
	now := time.Now()

	if !b.MarkReady(now, 1999) {
		t.Fatal("first mark should latch")
	}
	if b.MarkReady(now.Add(time.Second), 1) {
		t.Error("second mark must be a no-op")
	}
	if b.FinalPrice != 1999 {
		t.Errorf("final price: got %f, want 1999", b.FinalPrice)
	}
}

func TestLivePrimary(t *testing.T) {
	s, _ := newStore()

	if _, ok := s.LivePrimary(); ok {
		t.Fatal("empty store has no primary")
	}

	sec := liveBattle(battle.TierSecondary)
	s.Create(sec)
	if _, ok := s.LivePrimary(); ok {
		t.Fatal("secondary battle must not count as primary")
	}

	pri := liveBattle(battle.TierPrimary)
	s.Create(pri)
	got, ok := s.LivePrimary()
	if !ok || got.ID != pri.ID {
		t.Errorf("live primary: got %v, want %s", got, pri.ID)
	}
}

// ============================================================================
// Test: reader/writer interleaving
// ============================================================================

// Run with -race: readers must copy aggregates under the same per-battle
// mutex the writers mutate under.
func TestStore_ConcurrentReadersAndWriters(t *testing.T) {
	s, _ := newStore()
	b := liveBattle(battle.TierPrimary)
	if err := s.Create(b); err != nil {
		t.Fatalf("create: %v", err)
	}

	const iterations = 200
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			s.WithBattle(b.ID, func(cur *battle.Battle) error {
				cur.Agents[0].Health -= 0.1
				cur.Agents[1].PnL += 3
				cur.FinalPrice = 2000 + float64(i)
				return nil
			})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			if got, err := s.Get(b.ID); err != nil || got.Agents[0] == nil {
				t.Errorf("get: %v", err)
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			for _, got := range s.ListActive() {
				_ = got.Agents[0].Health
			}
			s.ActiveIDs()
			s.LivePrimary()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations/10; i++ {
			s.Create(liveBattle(battle.TierSecondary))
		}
	}()

	wg.Wait()

	got, err := s.Get(b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != iterations+1 {
		t.Errorf("version: got %d, want %d", got.Version, iterations+1)
	}
	if got.Agents[1].PnL != 3*iterations {
		t.Errorf("pnl: got %d, want %d", got.Agents[1].PnL, 3*iterations)
	}
}
