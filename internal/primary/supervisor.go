// Package primary keeps exactly one system-managed battle live at all
// times. When the current PRIMARY settles, the supervisor creates its
// successor on the ledger and mirrors it into the store.
package primary

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BattleArena/internal/battle"
	"BattleArena/internal/chain"
	"BattleArena/internal/event"
	"BattleArena/internal/observability"
)

// PriceSource exposes the most recent mark price.
type PriceSource interface {
	LastPrice() (price float64, ok bool)
}

// Config fixes the synthetic agents backing every PRIMARY battle.
type Config struct {
	LongWallet  string
	ShortWallet string
	Collateral  int64 // quote cents per agent

	// PriceWait bounds how long creation waits for the first feed update.
	PriceWait time.Duration

	// PollInterval/PollTimeout bound the wait for the ledger to report the
	// new battle active with both wallets attached.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.PriceWait <= 0 {
		c.PriceWait = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Minute
	}
}

// Supervisor watches settlement notifications and recreates the PRIMARY
// battle. A watchdog tick also covers primaries lost to stuck or cancelled
// transitions, where no settlement notification ever fires.
type Supervisor struct {
	store   *battle.Store
	adapter chain.Adapter
	bus     *event.Bus
	prices  PriceSource
	metrics *observability.Metrics
	log     zerolog.Logger

	cfg      Config
	watchdog time.Duration
	clock    func() time.Time

	creating chan struct{} // size 1, at most one creation in flight
}

func NewSupervisor(
	store *battle.Store,
	adapter chain.Adapter,
	bus *event.Bus,
	prices PriceSource,
	cfg Config,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		store:    store,
		adapter:  adapter,
		bus:      bus,
		prices:   prices,
		metrics:  metrics,
		log:      logger,
		cfg:      cfg,
		watchdog: 15 * time.Second,
		clock:    time.Now,
		creating: make(chan struct{}, 1),
	}
}

// Run subscribes to the bus and supervises until ctx is cancelled.
// Subscribe before EnsurePrimary so a settlement landing in the gap is
// not missed.
func (s *Supervisor) Run(ctx context.Context) error {
	sub := s.bus.Subscribe(256)

	if err := s.EnsurePrimary(ctx); err != nil {
		s.log.Error().Err(err).Msg("initial primary creation failed, watchdog will retry")
	}

	ticker := time.NewTicker(s.watchdog)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-sub:
			if !ok {
				return nil
			}
			settled, isSettled := n.(*event.BattleSettled)
			if !isSettled || settled.Tier != battle.TierPrimary.String() {
				continue
			}
			s.log.Info().Stringer("battle", n.BattleID()).Msg("primary battle settled, creating successor")
			if err := s.EnsurePrimary(ctx); err != nil {
				s.log.Error().Err(err).Msg("primary successor creation failed, watchdog will retry")
			}
		case <-ticker.C:
			if err := s.EnsurePrimary(ctx); err != nil {
				s.log.Warn().Err(err).Msg("primary watchdog creation failed")
			}
		}
	}
}

// EnsurePrimary creates a PRIMARY battle if none is live. Concurrent calls
// collapse to one creation.
func (s *Supervisor) EnsurePrimary(ctx context.Context) error {
	if _, ok := s.store.LivePrimary(); ok {
		return nil
	}

	select {
	case s.creating <- struct{}{}:
	default:
		return nil
	}
	defer func() { <-s.creating }()

	// Re-check under the creation slot.
	if _, ok := s.store.LivePrimary(); ok {
		return nil
	}

	return s.create(ctx)
}

func (s *Supervisor) create(ctx context.Context) error {
	entryPrice, err := s.waitForPrice(ctx)
	if err != nil {
		return err
	}

	id := uuid.New()
	wallets := [2]string{s.cfg.LongWallet, s.cfg.ShortWallet}

	tx, err := s.adapter.CreateBattle(ctx, id, entryPrice, wallets)
	if err != nil {
		return fmt.Errorf("ledger battle creation: %w", err)
	}
	s.log.Info().
		Stringer("battle", id).
		Str("tx", tx).
		Float64("entry_price", entryPrice).
		Msg("primary battle created on ledger")

	if err := s.waitForActive(ctx, id, wallets); err != nil {
		return err
	}

	b := battle.New(id, battle.TierPrimary, entryPrice,
		s.cfg.LongWallet, s.cfg.ShortWallet, s.cfg.Collateral, s.clock())
	if err := s.store.Create(b); err != nil {
		return fmt.Errorf("store primary battle: %w", err)
	}

	if s.metrics != nil {
		s.metrics.PrimaryRecreated.Inc()
		s.metrics.BattlesCreated.WithLabelValues(battle.TierPrimary.String()).Inc()
	}
	s.log.Info().Stringer("battle", id).Msg("primary battle live")
	return nil
}

// waitForPrice blocks until the feed has produced at least one price.
func (s *Supervisor) waitForPrice(ctx context.Context) (float64, error) {
	if p, ok := s.prices.LastPrice(); ok && p > 0 {
		return p, nil
	}

	deadline := s.clock().Add(s.cfg.PriceWait)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
			if p, ok := s.prices.LastPrice(); ok && p > 0 {
				return p, nil
			}
			if !s.clock().Before(deadline) {
				return 0, fmt.Errorf("no price feed after %s", s.cfg.PriceWait)
			}
		}
	}
}

// waitForActive polls the ledger until the battle is active with both
// agent wallets attached.
func (s *Supervisor) waitForActive(ctx context.Context, id uuid.UUID, wallets [2]string) error {
	deadline := s.clock().Add(s.cfg.PollTimeout)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := s.adapter.BattleInfo(ctx, id)
			if err == nil && info.State == chain.StateActive && hasWallets(info, wallets) {
				return nil
			}
			if err != nil {
				s.log.Debug().Err(err).Stringer("battle", id).Msg("ledger not ready for new primary")
			}
			if !s.clock().Before(deadline) {
				return fmt.Errorf("battle %s not active on ledger after %s", id, s.cfg.PollTimeout)
			}
		}
	}
}

func hasWallets(info *chain.BattleInfo, wallets [2]string) bool {
	found := 0
	for _, want := range wallets {
		for _, got := range info.AgentWallets {
			if got == want {
				found++
				break
			}
		}
	}
	return found == len(wallets)
}
