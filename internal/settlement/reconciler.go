package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BattleArena/internal/battle"
	"BattleArena/internal/betting"
	"BattleArena/internal/chain"
	"BattleArena/internal/event"
	"BattleArena/internal/observability"
)

// PriceSource exposes the most recent mark price.
type PriceSource interface {
	LastPrice() (price float64, ok bool)
}

// errSkip aborts a WithBattle closure without versioning the aggregate.
var errSkip = errors.New("skip")

// Reconciler keeps the off-chain battle store consistent with the
// authoritative ledger. It scans periodically and on demand, decides
// eligibility from the ledger's block timestamp (local wall-clock time is
// never trusted for the settlement decision), and dispatches each
// submission on its own goroutine with at most one in flight per battle.
type Reconciler struct {
	store   *battle.Store
	bets    *betting.Ledger
	adapter chain.Adapter
	bus     *event.Bus
	prices  PriceSource
	metrics *observability.Metrics
	log     zerolog.Logger

	interval    time.Duration
	houseFeeBps int64
	clock       func() time.Time

	kick chan struct{}

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
	wg       sync.WaitGroup
}

func NewReconciler(
	store *battle.Store,
	bets *betting.Ledger,
	adapter chain.Adapter,
	bus *event.Bus,
	prices PriceSource,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		store:       store,
		bets:        bets,
		adapter:     adapter,
		bus:         bus,
		prices:      prices,
		metrics:     metrics,
		log:         logger,
		interval:    30 * time.Second,
		houseFeeBps: betting.DefaultHouseFeeBps,
		clock:       time.Now,
		kick:        make(chan struct{}, 1),
		inflight:    make(map[uuid.UUID]struct{}),
	}
}

// SetClock overrides the time source (tests).
func (r *Reconciler) SetClock(clock func() time.Time) {
	r.clock = clock
}

// Kick requests an immediate scan. Pending kicks coalesce.
func (r *Reconciler) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run scans until ctx is cancelled, then waits for in-flight attempts.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.interval).Msg("settlement reconciler started")

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.log.Info().Msg("settlement reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Scan(ctx)
		case <-r.kick:
			r.Scan(ctx)
		}
	}
}

// Scan walks all live battles in priority order and dispatches eligible
// work. Stuck and expired battles never appear here; their exclusion is an
// explicit status, not a read-time filter.
func (r *Reconciler) Scan(ctx context.Context) {
	start := r.clock()

	for _, b := range r.store.ListActive() {
		if b.Status != battle.StatusLive {
			continue
		}

		switch {
		case b.Ready:
			r.dispatchSettle(ctx, b.ID)
		case !b.EndTime.IsZero() && !r.clock().Before(b.EndTime):
			r.dispatchSettle(ctx, b.ID)
		case !b.StartTime.IsZero() && r.clock().Sub(b.StartTime) >= battle.MaxDuration:
			r.dispatchSettle(ctx, b.ID)
		default:
			if idx, ok := frailAgent(b); ok {
				r.dispatchLiquidate(ctx, b.ID, idx)
			}
		}
	}

	if r.metrics != nil {
		r.metrics.ScanDuration.Observe(time.Since(start).Seconds())
	}
}

// frailAgent returns the index of a still-alive agent below the
// liquidation health threshold.
func frailAgent(b *battle.Battle) (int, bool) {
	for i, a := range b.Agents {
		if a != nil && a.Alive && a.Health < battle.LiquidationHealthThreshold {
			return i, true
		}
	}
	return 0, false
}

// acquire claims the per-battle in-flight slot. A second trigger for the
// same battle while one attempt is outstanding is coalesced here.
func (r *Reconciler) acquire(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[id]; busy {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Reconciler) release(id uuid.UUID) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

func (r *Reconciler) dispatchSettle(ctx context.Context, id uuid.UUID) {
	if !r.acquire(id) {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(id)
		r.attemptSettlement(ctx, id)
	}()
}

func (r *Reconciler) dispatchLiquidate(ctx context.Context, id uuid.UUID, agentIndex int) {
	if !r.acquire(id) {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(id)
		r.attemptLiquidation(ctx, id, agentIndex)
	}()
}

// attemptSettlement runs the settlement protocol for one battle.
func (r *Reconciler) attemptSettlement(ctx context.Context, id uuid.UUID) {
	b, err := r.store.Get(id)
	if err != nil || b.Status != battle.StatusLive {
		return
	}

	log := r.log.With().Stringer("battle", id).Logger()

	info, err := r.adapter.BattleInfo(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("ledger battle info unavailable")
		r.recordFailure(id, err)
		r.countAttempt("unexpected")
		return
	}

	// The ledger already holds the outcome. Idempotent success: pick up
	// its winner and reconcile any not-yet-settled bets.
	if info.State == chain.StateSettled {
		r.countAttempt("already_settled")
		r.reconcileWinner(ctx, id, b.SettlementTx)
		return
	}
	if info.State == chain.StateCancelled {
		r.cancel(id)
		return
	}

	blockTs, err := r.adapter.BlockTimestamp(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("block timestamp unavailable")
		r.recordFailure(id, err)
		r.countAttempt("unexpected")
		return
	}

	ledgerEnd := info.EndTime
	if ledgerEnd.IsZero() && !info.StartTime.IsZero() {
		ledgerEnd = info.StartTime.Add(battle.MaxDuration)
	}
	if ledgerEnd.IsZero() {
		log.Debug().Msg("ledger has no end time yet, deferring")
		r.countAttempt("deferred")
		return
	}

	// Only chain time authorizes settlement. Local clocks that disagree
	// with the ledger lose, silently.
	if blockTs.Before(ledgerEnd) {
		log.Debug().
			Time("block_ts", blockTs).
			Time("ledger_end", ledgerEnd).
			Msg("ledger end time not reached, deferring")
		r.countAttempt("deferred")
		if r.metrics != nil {
			r.metrics.SettlementDeferred.Inc()
		}
		return
	}

	if blockTs.Sub(ledgerEnd) > battle.SettlementOverdueBound {
		r.markStuck(id, blockTs, ledgerEnd)
		return
	}

	// A prior attempt may have gotten the transaction in but failed to
	// learn the winner. Never submit twice.
	if b.SettlementTx != "" {
		r.reconcileWinner(ctx, id, b.SettlementTx)
		return
	}

	finalPrice := b.FinalPrice
	if finalPrice <= 0 {
		if p, ok := r.prices.LastPrice(); ok && p > 0 {
			finalPrice = p
		} else {
			finalPrice = b.EntryPrice
		}
	}

	result, err := r.adapter.SubmitSettlement(ctx, id, finalPrice)
	if err != nil {
		switch c := Classify(err); c {
		case ClassAlreadySettled:
			r.countAttempt(c.String())
			r.reconcileWinner(ctx, id, b.SettlementTx)
		case ClassTransient:
			log.Debug().Err(err).Msg("settlement reverted on timing, will retry")
			r.countAttempt(c.String())
		default:
			log.Warn().Err(err).Msg("settlement submission failed")
			r.recordFailure(id, err)
			r.countAttempt("unexpected")
		}
		return
	}

	log.Info().Str("tx", result.TxRef).Float64("final_price", finalPrice).Msg("settlement submitted")
	r.countAttempt("settled")

	winner := result.Winner
	if winner == "" {
		w, err := r.adapter.Winner(ctx, id)
		if err != nil {
			// Harvest the tx ref now; the local comparison is a
			// provisional, lower-trust stand-in until the ledger answers.
			log.Warn().Err(err).Msg("ledger winner unavailable, falling back to local health")
			r.finalizeLocal(id, result.TxRef)
			return
		}
		winner = w
	}

	r.finalize(id, winner, battle.WinnerSourceLedger, result.TxRef)
}

// reconcileWinner finishes a battle the ledger has already settled.
func (r *Reconciler) reconcileWinner(ctx context.Context, id uuid.UUID, txRef string) {
	winner, err := r.adapter.Winner(ctx, id)
	if err != nil {
		r.log.Warn().Err(err).Stringer("battle", id).Msg("ledger settled but winner unavailable")
		r.finalizeLocal(id, txRef)
		return
	}
	r.finalize(id, winner, battle.WinnerSourceLedger, txRef)
}

// finalize writes the authoritative winner back and pays out bets inside
// the same per-battle critical section, so settlement and payout cannot
// race.
func (r *Reconciler) finalize(id uuid.UUID, winnerWallet string, source battle.WinnerSource, txRef string) {
	now := r.clock()

	var (
		settled *event.BattleSettled
		paid    *event.WinningsDistributed
	)

	err := r.store.WithBattle(id, func(b *battle.Battle) error {
		if b.Status == battle.StatusSettled {
			return errSkip
		}

		side := battle.SideLong
		if idx := b.AgentByWallet(winnerWallet); idx >= 0 {
			side = b.Agents[idx].Side
		} else if winnerWallet != "" {
			r.log.Warn().
				Stringer("battle", id).
				Str("winner", winnerWallet).
				Msg("ledger winner is not a known agent wallet")
		}

		b.Winner = &battle.Winner{Wallet: winnerWallet, Side: side, Source: source}
		if txRef != "" && b.SettlementTx == "" {
			b.SettlementTx = txRef
		}
		if b.EndTime.IsZero() {
			b.EndTime = now
		}
		b.Status = battle.StatusSettled

		settled = &event.BattleSettled{
			Battle:       b.ID,
			Tier:         b.Tier.String(),
			Winner:       winnerWallet,
			WinnerSource: source.String(),
			SettlementTx: b.SettlementTx,
			Timestamp:    now,
		}

		res, err := r.bets.Settle(id, side, r.houseFeeBps)
		if err != nil {
			if !errors.Is(err, betting.ErrNoPool) {
				return err
			}
			return nil
		}
		paid = &event.WinningsDistributed{
			Battle:      b.ID,
			WinningSide: res.WinningSide.String(),
			TotalPaid:   res.TotalPaid,
			BetsSettled: res.BetsSettled,
			Timestamp:   now,
		}
		if r.metrics != nil {
			r.metrics.BetsSettled.Add(float64(res.BetsSettled))
			r.metrics.PayoutTotal.Add(float64(res.TotalPaid))
		}
		return nil
	})
	if err != nil {
		if err != errSkip {
			r.log.Error().Err(err).Stringer("battle", id).Msg("settlement finalize failed")
		}
		return
	}

	if r.metrics != nil {
		r.metrics.SettlementsSettled.Inc()
	}
	if settled != nil {
		r.bus.Publish(settled)
	}
	if paid != nil {
		r.bus.Publish(paid)
	}
}

// finalizeLocal records a provisional winner from final agent health. The
// battle stays live with its tx ref saved, so later scans keep asking the
// ledger for the real answer, and no bets are paid from the local guess.
func (r *Reconciler) finalizeLocal(id uuid.UUID, txRef string) {
	err := r.store.WithBattle(id, func(b *battle.Battle) error {
		if b.Status != battle.StatusLive {
			return errSkip
		}
		if b.Winner != nil && b.Winner.Source == battle.WinnerSourceLocal {
			return errSkip
		}
		idx := b.HealthierAgent()
		if b.Agents[idx] == nil {
			return errSkip
		}
		b.Winner = &battle.Winner{
			Wallet: b.Agents[idx].Wallet,
			Side:   b.Agents[idx].Side,
			Source: battle.WinnerSourceLocal,
		}
		if txRef != "" && b.SettlementTx == "" {
			b.SettlementTx = txRef
		}
		return nil
	})
	if err != nil && err != errSkip {
		r.log.Error().Err(err).Stringer("battle", id).Msg("provisional winner write failed")
	}
}

// markStuck excludes a battle that has been overdue for more than the
// bound. Logged once; the explicit status keeps it out of every future
// scan and listing.
func (r *Reconciler) markStuck(id uuid.UUID, blockTs, ledgerEnd time.Time) {
	err := r.store.WithBattle(id, func(b *battle.Battle) error {
		if b.Retry.Stuck {
			return errSkip
		}
		b.Retry.Stuck = true
		b.Status = battle.StatusStuck
		return nil
	})
	if err != nil {
		return
	}

	if r.metrics != nil {
		r.metrics.BattlesStuck.Inc()
	}
	r.countAttempt("stuck")
	r.log.Error().
		Stringer("battle", id).
		Time("block_ts", blockTs).
		Time("ledger_end", ledgerEnd).
		Msg("settlement overdue past bound, battle marked stuck")
}

func (r *Reconciler) cancel(id uuid.UUID) {
	err := r.store.WithBattle(id, func(b *battle.Battle) error {
		if b.Status != battle.StatusLive && b.Status != battle.StatusWaiting {
			return errSkip
		}
		b.Status = battle.StatusCancelled
		return nil
	})
	if err == nil {
		r.log.Info().Stringer("battle", id).Msg("battle cancelled on ledger")
	}
}

// recordFailure bumps the bounded retry counter. Only unexpected failures
// land here; timing reverts and deferrals never touch the counter.
func (r *Reconciler) recordFailure(id uuid.UUID, cause error) {
	now := r.clock()
	_ = r.store.WithBattle(id, func(b *battle.Battle) error {
		b.Retry.Attempts++
		if b.Retry.FirstFailureAt.IsZero() {
			b.Retry.FirstFailureAt = now
		}
		return nil
	})
	if r.metrics != nil {
		r.metrics.SettlementRetries.Inc()
	}
}

// attemptLiquidation nudges the contract about an agent the local
// calculator sees near death. The contract enforces its own rule; an
// "already liquidated" revert means it beat us to it.
func (r *Reconciler) attemptLiquidation(ctx context.Context, id uuid.UUID, agentIndex int) {
	price, ok := r.prices.LastPrice()
	if !ok || price <= 0 {
		return
	}

	tx, err := r.adapter.SubmitLiquidation(ctx, id, agentIndex, price)
	if err != nil {
		c := Classify(err)
		if c == ClassUnexpected {
			r.log.Warn().Err(err).Stringer("battle", id).Int("agent", agentIndex).
				Msg("liquidation call failed")
		}
		if r.metrics != nil {
			r.metrics.LiquidationCalls.WithLabelValues(c.String()).Inc()
		}
		return
	}

	if r.metrics != nil {
		r.metrics.LiquidationCalls.WithLabelValues("submitted").Inc()
	}
	r.log.Info().Stringer("battle", id).Int("agent", agentIndex).Str("tx", tx).
		Msg("liquidation submitted")
}

func (r *Reconciler) countAttempt(outcome string) {
	if r.metrics != nil {
		r.metrics.SettlementAttempts.WithLabelValues(outcome).Inc()
	}
}
