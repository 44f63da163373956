// Package arena owns the live battle state and fans price updates out to
// every active aggregate. There is one orchestrator per process; all
// collaborators receive it or its store by reference, never through a
// global.
package arena

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BattleArena/internal/battle"
	"BattleArena/internal/betting"
	"BattleArena/internal/event"
	"BattleArena/internal/health"
	"BattleArena/internal/observability"
)

// Kicker requests an immediate reconciler scan.
type Kicker interface {
	Kick()
}

// errSkip aborts a WithBattle closure without versioning the aggregate.
var errSkip = errors.New("skip")

// Orchestrator applies each price update to every active battle, tracks
// the last seen price for the rest of the engine, and forwards settlement
// triggers to the reconciler.
type Orchestrator struct {
	store      *battle.Store
	bus        *event.Bus
	bets       *betting.Ledger
	reconciler Kicker
	metrics    *observability.Metrics
	log        zerolog.Logger

	clock func() time.Time

	mu        sync.RWMutex
	lastPrice float64
	havePrice bool
}

func NewOrchestrator(
	store *battle.Store,
	bus *event.Bus,
	bets *betting.Ledger,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:   store,
		bus:     bus,
		bets:    bets,
		metrics: metrics,
		log:     logger,
		clock:   time.Now,
	}
}

// SetReconciler wires the settlement kicker after construction, breaking
// the construction-order knot between orchestrator and reconciler.
func (o *Orchestrator) SetReconciler(k Kicker) {
	o.reconciler = k
}

// SetClock overrides the time source (tests).
func (o *Orchestrator) SetClock(clock func() time.Time) {
	o.clock = clock
}

// LastPrice returns the most recent feed price. ok is false before the
// first update.
func (o *Orchestrator) LastPrice() (float64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastPrice, o.havePrice
}

// Run forwards ready-for-settlement notifications to the reconciler until
// ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	sub := o.bus.Subscribe(256)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-sub:
			if !ok {
				return nil
			}
			if n.Type() == event.TypeReadyForSettlement && o.reconciler != nil {
				o.reconciler.Kick()
			}
		}
	}
}

// OnPrice applies one feed update to every active battle. Absence of a
// usable price skips silently; the feed owns validation upstream.
func (o *Orchestrator) OnPrice(price float64, ts time.Time) {
	if price <= 0 {
		return
	}

	o.mu.Lock()
	o.lastPrice = price
	o.havePrice = true
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.PriceUpdates.Inc()
	}

	var liquidations []*event.AgentLiquidated

	for _, id := range o.store.ActiveIDs() {
		liquidations = append(liquidations, o.applyPrice(id, price, ts)...)
	}

	for _, n := range liquidations {
		o.bus.Publish(n)
		if o.metrics != nil {
			o.metrics.AgentLiquidations.WithLabelValues(n.Side).Inc()
		}
	}

	// The reconciler also reacts to plain price movement: a battle whose
	// computed end has passed settles on the next kick, not the next 30s
	// scan.
	if o.reconciler != nil {
		o.reconciler.Kick()
	}
}

func (o *Orchestrator) applyPrice(id uuid.UUID, price float64, ts time.Time) []*event.AgentLiquidated {
	var out []*event.AgentLiquidated

	err := o.store.WithBattle(id, func(b *battle.Battle) error {
		if b.Status != battle.StatusLive {
			return errSkip
		}

		touched := false
		for i, a := range b.Agents {
			if a == nil || !a.Alive {
				continue
			}
			res := health.Compute(health.Input{
				EntryPrice:   a.EntryPrice,
				CurrentPrice: price,
				Leverage:     a.Leverage,
				Long:         a.Side == battle.SideLong,
				PriorHealth:  a.Health,
				Collateral:   a.Collateral,
			})
			if o.metrics != nil {
				o.metrics.HealthEvals.Inc()
			}
			a.Health = res.Health
			a.PnL = res.PnL
			touched = true

			if res.Liquidated && a.Kill() {
				out = append(out, &event.AgentLiquidated{
					Battle:     b.ID,
					Wallet:     a.Wallet,
					AgentIndex: i,
					Side:       a.Side.String(),
					Price:      price,
					Timestamp:  ts,
				})
			}
		}
		if !touched {
			return errSkip
		}
		return nil
	})
	if err != nil && err != errSkip && !errors.Is(err, battle.ErrNotFound) {
		o.log.Error().Err(err).Stringer("battle", id).Msg("price application failed")
	}

	return out
}

// CreateBattle registers a user-created SECONDARY battle. PRIMARY battles
// are owned by the continuity supervisor and never come through here.
func (o *Orchestrator) CreateBattle(id uuid.UUID, entryPrice float64, longWallet, shortWallet string, collateral int64) (*battle.Battle, error) {
	b := battle.New(id, battle.TierSecondary, entryPrice, longWallet, shortWallet, collateral, o.clock())
	if err := o.store.Create(b); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.BattlesCreated.WithLabelValues(battle.TierSecondary.String()).Inc()
	}
	return b.Copy(), nil
}

// PlaceBet records a wager and keeps the aggregate's pool total current.
func (o *Orchestrator) PlaceBet(battleID uuid.UUID, wallet string, side battle.Side, amount int64) (*betting.Bet, error) {
	b, err := o.store.Get(battleID)
	if err != nil {
		return nil, err
	}
	// Ready means the outcome is already decided and only the ledger
	// write-back is pending; no wagers after that point.
	if b.Ready || (b.Status != battle.StatusLive && b.Status != battle.StatusWaiting) {
		return nil, errors.New("battle is not accepting bets")
	}

	bet, err := o.bets.Place(battleID, wallet, side, amount)
	if err != nil {
		return nil, err
	}

	_, _, total := o.bets.Totals(battleID)
	if err := o.store.Update(battleID, battle.Patch{TotalPool: &total}); err != nil {
		o.log.Warn().Err(err).Stringer("battle", battleID).Msg("pool total update failed")
	}

	if o.metrics != nil {
		o.metrics.BetsPlaced.Inc()
		o.metrics.PoolTotal.Set(float64(activePool(o.store, o.bets)))
	}
	return bet, nil
}

func activePool(store *battle.Store, bets *betting.Ledger) int64 {
	var sum int64
	for _, b := range store.ListActive() {
		_, _, total := bets.Totals(b.ID)
		sum += total
	}
	return sum
}
