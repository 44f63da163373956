package betting_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BattleArena/internal/battle"
	"BattleArena/internal/betting"
)

func newLedger() *betting.Ledger {
	return betting.NewLedger(zerolog.Nop())
}

// ============================================================================
// Test: placing bets
// ============================================================================

func TestPlace_TracksPools(t *testing.T) {
	l := newLedger()
	id := uuid.New()

	if _, err := l.Place(id, "0xaaa", battle.SideLong, 10_000); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := l.Place(id, "0xbbb", battle.SideShort, 5_000); err != nil {
		t.Fatalf("place: %v", err)
	}

	long, short, total := l.Totals(id)
	if long != 10_000 || short != 5_000 || total != 15_000 {
		t.Errorf("totals: got (%d, %d, %d), want (10000, 5000, 15000)", long, short, total)
	}
}

func TestPlace_RejectsNonPositiveAmount(t *testing.T) {
	l := newLedger()
	if _, err := l.Place(uuid.New(), "0xaaa", battle.SideLong, 0); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := l.Place(uuid.New(), "0xaaa", battle.SideLong, -5); err == nil {
		t.Error("expected error for negative amount")
	}
}

// ============================================================================
// Test: settlement and payouts
// ============================================================================

func TestSettle_ProRataAfterHouseFee(t *testing.T) {
	l := newLedger()
	id := uuid.New()

	l.Place(id, "0xwin1", battle.SideLong, 10_000)
	l.Place(id, "0xwin2", battle.SideLong, 30_000)
	l.Place(id, "0xlose", battle.SideShort, 60_000)

	res, err := l.Settle(id, battle.SideLong, 500)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	// total=100_000, distributable=95_000, winning pool=40_000
	if res.Distributable != 95_000 {
		t.Errorf("distributable: got %d, want 95000", res.Distributable)
	}

	payouts := map[string]int64{}
	for _, b := range l.Bets(id) {
		if !b.Settled {
			t.Errorf("bet %s not settled", b.ID)
		}
		payouts[b.Wallet] = b.Payout
		if b.Wallet == "0xlose" && (b.Won || b.Payout != 0) {
			t.Error("losing bet must settle with no payout")
		}
	}

	// 10000/40000 and 30000/40000 of 95_000
	if payouts["0xwin1"] != 23_750 {
		t.Errorf("win1 payout: got %d, want 23750", payouts["0xwin1"])
	}
	if payouts["0xwin2"] != 71_250 {
		t.Errorf("win2 payout: got %d, want 71250", payouts["0xwin2"])
	}
	if res.TotalPaid != 95_000 {
		t.Errorf("total paid: got %d, want 95000", res.TotalPaid)
	}
}

func TestSettle_NeverOverpaysDistributable(t *testing.T) {
	l := newLedger()
	id := uuid.New()

	// Amounts chosen so pro-rata shares do not divide evenly.
	l.Place(id, "0xa", battle.SideLong, 3_333)
	l.Place(id, "0xb", battle.SideLong, 3_334)
	l.Place(id, "0xc", battle.SideLong, 3_335)
	l.Place(id, "0xd", battle.SideShort, 7_777)

	res, err := l.Settle(id, battle.SideLong, 500)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	if res.TotalPaid > res.Distributable {
		t.Errorf("paid %d exceeds distributable %d", res.TotalPaid, res.Distributable)
	}
}

func TestSettle_EmptyWinningPoolPaysNothing(t *testing.T) {
	l := newLedger()
	id := uuid.New()

	// Everyone bet short; long wins.
	l.Place(id, "0xa", battle.SideShort, 10_000)
	l.Place(id, "0xb", battle.SideShort, 20_000)

	res, err := l.Settle(id, battle.SideLong, 500)
	if err != nil {
		t.Fatalf("settle must not error on empty winning pool: %v", err)
	}

	if res.TotalPaid != 0 {
		t.Errorf("total paid: got %d, want 0", res.TotalPaid)
	}
	for _, b := range l.Bets(id) {
		if !b.Settled {
			t.Error("losing bets must still settle")
		}
		if b.Won || b.Payout != 0 {
			t.Error("no bet may win against an empty winning pool")
		}
	}
}

func TestSettle_IdempotentPerBet(t *testing.T) {
	l := newLedger()
	id := uuid.New()

	l.Place(id, "0xwin", battle.SideLong, 10_000)
	l.Place(id, "0xlose", battle.SideShort, 10_000)

	first, err := l.Settle(id, battle.SideLong, 500)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	// A bet placed after settlement picks up on the next settle call;
	// already-settled bets are skipped per bet, not per battle.
	l.Place(id, "0xlate", battle.SideLong, 1_000)

	second, err := l.Settle(id, battle.SideLong, 500)
	if err != nil {
		t.Fatalf("re-settle: %v", err)
	}

	if second.BetsSettled != 1 {
		t.Errorf("re-settle touched %d bets, want 1 (the late one)", second.BetsSettled)
	}

	for _, b := range l.Bets(id) {
		if b.Wallet == "0xwin" && b.Payout != first.TotalPaid {
			t.Errorf("original winner payout changed on re-settle: %d", b.Payout)
		}
	}

	third, err := l.Settle(id, battle.SideLong, 500)
	if err != nil {
		t.Fatalf("third settle: %v", err)
	}
	if third.BetsSettled != 0 {
		t.Errorf("third settle touched %d bets, want 0", third.BetsSettled)
	}
}

func TestSettle_UnknownBattle(t *testing.T) {
	l := newLedger()
	if _, err := l.Settle(uuid.New(), battle.SideLong, 500); err == nil {
		t.Error("expected error for unknown battle")
	}
}
