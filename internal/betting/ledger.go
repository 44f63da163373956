// Package betting holds per-battle wager pools and the payout calculator.
package betting

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BattleArena/internal/battle"
	"BattleArena/internal/fixed"
)

var (
	ErrNoPool        = errors.New("no betting pool for battle")
	ErrInvalidAmount = errors.New("bet amount must be positive")
)

// DefaultHouseFeeBps is the house cut applied to the total pool.
const DefaultHouseFeeBps = 500

// Bet is a single user wager on one side of a battle. A bet transitions
// unsettled → settled exactly once.
type Bet struct {
	ID       uuid.UUID
	BattleID uuid.UUID
	Wallet   string
	Side     battle.Side
	Amount   int64 // quote cents
	Settled  bool
	Won      bool
	Payout   int64 // quote cents
	PlacedAt time.Time
}

type pool struct {
	bets       []*Bet
	longTotal  int64
	shortTotal int64
}

// SettleResult summarizes one payout distribution.
type SettleResult struct {
	WinningSide   battle.Side
	TotalPool     int64
	WinningPool   int64
	Distributable int64
	TotalPaid     int64
	BetsSettled   int
}

// Ledger owns all betting pools. It is invoked within the same serialized
// context as the store mutation that finalizes a winner, so settlement and
// payout cannot race.
type Ledger struct {
	mu     sync.Mutex
	pools  map[uuid.UUID]*pool
	clock  func() time.Time
	mirror func(Bet)
	log    zerolog.Logger
}

func NewLedger(logger zerolog.Logger) *Ledger {
	return &Ledger{
		pools: make(map[uuid.UUID]*pool),
		clock: time.Now,
		log:   logger,
	}
}

// SetClock overrides the time source (tests).
func (l *Ledger) SetClock(clock func() time.Time) {
	l.clock = clock
}

// SetMirror installs a hook invoked with a copy of every bet on placement
// and on settlement. The hook must not block; the durable bet log wires a
// non-blocking channel send here.
func (l *Ledger) SetMirror(fn func(Bet)) {
	l.mu.Lock()
	l.mirror = fn
	l.mu.Unlock()
}

// Place records a wager and returns the stored bet.
func (l *Ledger) Place(battleID uuid.UUID, wallet string, side battle.Side, amount int64) (*Bet, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.pools[battleID]
	if p == nil {
		p = &pool{}
		l.pools[battleID] = p
	}

	b := &Bet{
		ID:       uuid.New(),
		BattleID: battleID,
		Wallet:   wallet,
		Side:     side,
		Amount:   amount,
		PlacedAt: l.clock(),
	}
	p.bets = append(p.bets, b)
	if side == battle.SideLong {
		p.longTotal += amount
	} else {
		p.shortTotal += amount
	}

	if l.mirror != nil {
		l.mirror(*b)
	}

	return b, nil
}

// Totals returns (longPool, shortPool, totalPool) for a battle.
func (l *Ledger) Totals(battleID uuid.UUID) (int64, int64, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.pools[battleID]
	if p == nil {
		return 0, 0, 0
	}
	return p.longTotal, p.shortTotal, p.longTotal + p.shortTotal
}

// Bets returns copies of all bets on a battle.
func (l *Ledger) Bets(battleID uuid.UUID) []Bet {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.pools[battleID]
	if p == nil {
		return nil
	}
	out := make([]Bet, 0, len(p.bets))
	for _, b := range p.bets {
		out = append(out, *b)
	}
	return out
}

// Settle distributes the pool to the winning side pro rata after the house
// fee. Each payout is floored, so the sum of winning payouts never exceeds
// totalPool*(1-fee). Settlement is idempotent per bet: already-settled bets
// are skipped, tolerating duplicate settlement events. An empty winning
// pool yields a zero ratio and no payouts, not an error.
func (l *Ledger) Settle(battleID uuid.UUID, winner battle.Side, houseFeeBps int64) (*SettleResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.pools[battleID]
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPool, battleID)
	}

	totalPool := p.longTotal + p.shortTotal
	winningPool := p.longTotal
	if winner == battle.SideShort {
		winningPool = p.shortTotal
	}
	distributable := fixed.ApplyFeeBps(totalPool, houseFeeBps)

	res := &SettleResult{
		WinningSide:   winner,
		TotalPool:     totalPool,
		WinningPool:   winningPool,
		Distributable: distributable,
	}

	for _, b := range p.bets {
		if b.Settled {
			continue
		}
		b.Settled = true
		if b.Side == winner && winningPool > 0 {
			b.Won = true
			b.Payout = fixed.MulDiv(b.Amount, distributable, winningPool)
			res.TotalPaid += b.Payout
		}
		res.BetsSettled++
		if l.mirror != nil {
			l.mirror(*b)
		}
	}

	l.log.Info().
		Stringer("battle", battleID).
		Stringer("winner", winner).
		Int64("total_pool", totalPool).
		Int64("total_paid", res.TotalPaid).
		Int("bets_settled", res.BetsSettled).
		Msg("betting pool settled")

	return res, nil
}
