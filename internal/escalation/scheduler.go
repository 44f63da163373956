package escalation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BattleArena/internal/battle"
	"BattleArena/internal/event"
	"BattleArena/internal/health"
	"BattleArena/internal/observability"
)

// PriceSource exposes the most recent mark price. ok is false until the
// first feed update arrives.
type PriceSource interface {
	LastPrice() (price float64, ok bool)
}

// Scheduler advances every live battle through the leverage ladder on a
// per-second tick and forces end-of-duration liquidation. All mutations go
// through the store's per-battle lock, so a tick never interleaves with a
// concurrent settlement write on the same aggregate.
type Scheduler struct {
	store   *battle.Store
	bus     *event.Bus
	prices  PriceSource
	metrics *observability.Metrics
	log     zerolog.Logger

	interval time.Duration
	clock    func() time.Time
}

func NewScheduler(
	store *battle.Store,
	bus *event.Bus,
	prices PriceSource,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		store:    store,
		bus:      bus,
		prices:   prices,
		metrics:  metrics,
		log:      logger,
		interval: time.Second,
		clock:    time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *Scheduler) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("escalation scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("escalation scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one scheduling pass over all active battles.
func (s *Scheduler) Tick() {
	start := s.clock()

	active := s.store.ActiveIDs()
	for _, id := range active {
		s.tickBattle(id)
	}
	s.expireDeadBattles()

	if s.metrics != nil {
		s.metrics.BattlesActive.Set(float64(len(active)))
		s.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// errSkip aborts a WithBattle closure without versioning the aggregate.
var errSkip = errors.New("skip")

func (s *Scheduler) tickBattle(id uuid.UUID) {
	now := s.clock()

	var (
		forced       *event.ReadyForSettlement
		escalation   *event.EscalationOccurred
		liquidations []*event.AgentLiquidated
	)

	err := s.store.WithBattle(id, func(b *battle.Battle) error {
		if b.Status != battle.StatusLive {
			return errSkip
		}

		// Backfill a missing escalation anchor rather than escalating off
		// a zero time.
		if b.EscalationStart.IsZero() {
			anchor := b.StartTime
			if anchor.IsZero() {
				anchor = b.CreatedAt
			}
			if anchor.IsZero() {
				anchor = now
			}
			b.EscalationStart = anchor
			b.NextEscalation = anchor.Add(battle.EscalationInterval)
			s.log.Warn().
				Stringer("battle", b.ID).
				Time("anchor", anchor).
				Msg("backfilled missing escalation start")
			return nil
		}

		elapsed := now.Sub(b.EscalationStart)

		if elapsed >= battle.MaxDuration {
			// Forcing applies while someone is still alive. A battle whose
			// agents were both price-killed settles through the
			// reconciler's end-time rule instead, or expires.
			if b.Ready || !b.AnyAlive() {
				return errSkip
			}
			forced = s.forceEnd(b, now)
			return nil
		}

		if now.Before(b.NextEscalation) || b.EscalationLevel >= battle.MaxEscalationLevel {
			return errSkip
		}
		if !b.AnyAlive() {
			return errSkip
		}

		escalation, liquidations = s.escalate(b, now)
		return nil
	})
	if err != nil && err != errSkip {
		s.log.Error().Err(err).Stringer("battle", id).Msg("escalation tick failed")
	}

	// Notifications go out after the battle lock is released.
	if forced != nil {
		s.bus.Publish(forced)
	}
	if escalation != nil {
		s.bus.Publish(escalation)
	}
	for _, n := range liquidations {
		s.bus.Publish(n)
		if s.metrics != nil {
			s.metrics.AgentLiquidations.WithLabelValues(n.Side).Inc()
		}
	}
}

// forceEnd drives both agents to zero health once the maximum duration has
// elapsed. The first tick past the threshold does all the work; later ticks
// find the ready latch already set and no-op.
func (s *Scheduler) forceEnd(b *battle.Battle, now time.Time) *event.ReadyForSettlement {
	for _, a := range b.Agents {
		if a == nil || !a.Alive {
			continue
		}
		a.Health = 0
		a.Kill()
	}
	if b.EndTime.IsZero() {
		b.EndTime = now
	}

	finalPrice, ok := s.prices.LastPrice()
	if !ok || finalPrice <= 0 {
		finalPrice = b.EntryPrice
	}
	if !b.MarkReady(now, finalPrice) {
		return nil
	}

	if s.metrics != nil {
		s.metrics.ForcedEndings.Inc()
	}
	s.log.Info().
		Stringer("battle", b.ID).
		Stringer("tier", b.Tier).
		Float64("final_price", finalPrice).
		Msg("battle force-ended at max duration")

	return &event.ReadyForSettlement{
		Battle:     b.ID,
		FinalPrice: finalPrice,
		Forced:     true,
		Timestamp:  now,
	}
}

// escalate climbs one ladder step and reprices both agents at the new
// leverage, since escalation instantly changes exposure. A reprice that
// kills an agent is a liquidation like any other and is reported the same
// way as the price fan-out path.
func (s *Scheduler) escalate(b *battle.Battle, now time.Time) (*event.EscalationOccurred, []*event.AgentLiquidated) {
	b.EscalationLevel++
	b.Leverage = battle.Ladder[b.EscalationLevel]
	b.NextEscalation = now.Add(battle.EscalationInterval)

	price, havePrice := s.prices.LastPrice()

	var liquidations []*event.AgentLiquidated

	for i, a := range b.Agents {
		if a == nil {
			continue
		}
		a.Leverage = b.Leverage
		if !havePrice || !a.Alive {
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
		a.Health = res.Health
		a.PnL = res.PnL
		if res.Liquidated && a.Kill() {
			liquidations = append(liquidations, &event.AgentLiquidated{
				Battle:     b.ID,
				Wallet:     a.Wallet,
				AgentIndex: i,
				Side:       a.Side.String(),
				Price:      price,
				Timestamp:  now,
			})
		}
	}

	if s.metrics != nil {
		s.metrics.Escalations.WithLabelValues(levelLabel(b.EscalationLevel)).Inc()
	}
	s.log.Info().
		Stringer("battle", b.ID).
		Int32("level", b.EscalationLevel).
		Int64("leverage", b.Leverage).
		Msg("leverage escalated")

	return &event.EscalationOccurred{
		Battle:    b.ID,
		Level:     b.EscalationLevel,
		Leverage:  b.Leverage,
		Timestamp: now,
	}, liquidations
}

// expireDeadBattles retires battles whose agents are both dead, which never
// latched ready for settlement, and which have lingered past the grace
// window. The transition is recorded on the aggregate so active listings
// stay a plain status predicate.
func (s *Scheduler) expireDeadBattles() {
	now := s.clock()

	for _, b := range s.store.ListActive() {
		if !b.BothDead() || b.Ready || b.Status != battle.StatusLive {
			continue
		}
		deadline := b.UpdatedAt.Add(battle.DeadGraceWindow)
		if now.Before(deadline) {
			continue
		}

		id := b.ID
		err := s.store.WithBattle(id, func(cur *battle.Battle) error {
			if !cur.BothDead() || cur.Ready || cur.Status != battle.StatusLive {
				return errSkip
			}
			cur.Status = battle.StatusExpired
			return nil
		})
		if err == nil {
			if s.metrics != nil {
				s.metrics.BattlesExpired.Inc()
			}
			s.log.Info().Stringer("battle", id).Msg("battle expired after grace window")
		}
	}
}

func levelLabel(level int32) string {
	switch level {
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3"
	default:
		return "0"
	}
}
