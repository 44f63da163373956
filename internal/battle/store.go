package battle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BattleArena/internal/event"
)

var (
	ErrNotFound      = errors.New("battle not found")
	ErrDuplicate     = errors.New("battle already exists")
	ErrInvalidBattle = errors.New("invalid battle")
)

// Patch is a partial battle update. Nil fields leave the current value
// untouched; the merge policy additionally protects established escalation
// fields and a PRIMARY tier from being erased or downgraded.
type Patch struct {
	Tier            *Tier
	Status          *Status
	EntryPrice      *float64
	EndTime         *time.Time
	EscalationLevel *int32
	Leverage        *int64
	EscalationStart *time.Time
	NextEscalation  *time.Time
	TotalPool       *int64
	Winner          *Winner
	SettlementTx    *string
	FinalPrice      *float64
}

// Store is the authoritative in-process map of battle aggregates.
// Mutations go through Create, Update, or WithBattle; each battle carries
// its own mutex so the escalation tick and the reconciler scan never
// interleave writes on the same aggregate. Every successful mutation is
// mirrored asynchronously to the durable log and published on the bus;
// mirror failures are the mirror's problem, never the store's.
type Store struct {
	mu      sync.RWMutex
	battles map[uuid.UUID]*Battle
	locks   map[uuid.UUID]*sync.Mutex

	bus    *event.Bus
	mirror func(*Battle)
	clock  func() time.Time
	log    zerolog.Logger
}

func NewStore(bus *event.Bus, logger zerolog.Logger) *Store {
	return &Store{
		battles: make(map[uuid.UUID]*Battle),
		locks:   make(map[uuid.UUID]*sync.Mutex),
		bus:     bus,
		clock:   time.Now,
		log:     logger,
	}
}

// SetMirror installs the async durable-log hook. It receives a deep copy
// and must not block.
func (s *Store) SetMirror(fn func(*Battle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = fn
}

// SetClock overrides the time source (tests).
func (s *Store) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Create inserts a new battle and emits a creation notification.
func (s *Store) Create(b *Battle) error {
	if b == nil || b.ID == uuid.Nil {
		return ErrInvalidBattle
	}
	if b.Status == StatusLive && b.EntryPrice <= 0 {
		return fmt.Errorf("%w: live battle requires entry price > 0", ErrInvalidBattle)
	}

	now := s.clock()

	s.mu.Lock()
	if _, ok := s.battles[b.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicate, b.ID)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	b.Version = 1
	lock := &sync.Mutex{}
	s.battles[b.ID] = b
	s.locks[b.ID] = lock
	mirror := s.mirror
	s.mu.Unlock()

	// The battle is visible to writers from here on; read it only under
	// its own mutex.
	lock.Lock()
	row := b.Copy()
	created := &event.BattleCreated{
		Battle:     b.ID,
		Tier:       b.Tier.String(),
		Status:     b.Status.String(),
		EntryPrice: b.EntryPrice,
		Timestamp:  now,
	}
	lock.Unlock()

	if mirror != nil {
		mirror(row)
	}
	s.bus.Publish(created)

	return nil
}

// Get returns a deep copy of the battle, taken under the battle's own
// mutex so an in-flight mutation is never observed half-applied.
func (s *Store) Get(id uuid.UUID) (*Battle, error) {
	s.mu.RLock()
	b, ok := s.battles[id]
	lock := s.locks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	lock.Lock()
	defer lock.Unlock()
	return b.Copy(), nil
}

// WithBattle runs fn under the battle's own mutex. If fn returns nil the
// mutation is versioned, mirrored, and a BattleUpdated notification is
// published. fn must not call back into the store.
func (s *Store) WithBattle(id uuid.UUID, fn func(*Battle) error) error {
	s.mu.RLock()
	b, ok := s.battles[id]
	lock := s.locks[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	lock.Lock()
	defer lock.Unlock()

	if err := fn(b); err != nil {
		return err
	}

	b.Version++
	b.UpdatedAt = s.clock()

	s.mu.RLock()
	mirror := s.mirror
	s.mu.RUnlock()
	if mirror != nil {
		mirror(b.Copy())
	}
	s.bus.Publish(&event.BattleUpdated{
		Battle:    b.ID,
		Status:    b.Status.String(),
		Version:   b.Version,
		Timestamp: b.UpdatedAt,
	})

	return nil
}

// Update merges a partial patch into the battle. Protected fields keep
// their old value when the patch would erase or downgrade them:
// an established PRIMARY tier never silently becomes SECONDARY, the
// escalation level never decreases, and an end time, once set, is final.
func (s *Store) Update(id uuid.UUID, p Patch) error {
	return s.WithBattle(id, func(b *Battle) error {
		return s.applyPatch(b, p)
	})
}

func (s *Store) applyPatch(b *Battle, p Patch) error {
	if p.Tier != nil {
		if b.Tier == TierPrimary && *p.Tier != TierPrimary {
			s.log.Debug().Stringer("battle", b.ID).Msg("ignoring tier downgrade on primary battle")
		} else {
			b.Tier = *p.Tier
		}
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.EntryPrice != nil {
		if b.Status == StatusLive && *p.EntryPrice <= 0 {
			return fmt.Errorf("%w: entry price must be > 0 while live", ErrInvalidBattle)
		}
		b.EntryPrice = *p.EntryPrice
	}
	if p.EndTime != nil && b.EndTime.IsZero() {
		b.EndTime = *p.EndTime
	}
	if p.EscalationLevel != nil && *p.EscalationLevel > b.EscalationLevel {
		lvl := *p.EscalationLevel
		if lvl > MaxEscalationLevel {
			lvl = MaxEscalationLevel
		}
		b.EscalationLevel = lvl
		b.Leverage = Ladder[lvl]
	}
	if p.Leverage != nil && *p.Leverage == Ladder[b.EscalationLevel] {
		b.Leverage = *p.Leverage
	}
	if p.EscalationStart != nil && !p.EscalationStart.IsZero() {
		b.EscalationStart = *p.EscalationStart
	}
	if p.NextEscalation != nil && !p.NextEscalation.IsZero() {
		b.NextEscalation = *p.NextEscalation
	}
	if p.TotalPool != nil {
		b.TotalPool = *p.TotalPool
	}
	if p.Winner != nil {
		b.Winner = p.Winner
	}
	if p.SettlementTx != nil && *p.SettlementTx != "" {
		b.SettlementTx = *p.SettlementTx
	}
	if p.FinalPrice != nil {
		b.FinalPrice = *p.FinalPrice
	}
	return nil
}

// entry pairs a battle with its mutex for lock-then-read traversal.
// Snapshotting the pairs first keeps the store lock and the battle locks
// from ever being held together, the same discipline WithBattle follows.
type entry struct {
	b    *Battle
	lock *sync.Mutex
}

func (s *Store) snapshot() []entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entry, 0, len(s.battles))
	for id, b := range s.battles {
		out = append(out, entry{b: b, lock: s.locks[id]})
	}
	return out
}

// ListActive returns copies of all battles in an active status. Stuck and
// expired battles are excluded by their explicit status, not a heuristic.
func (s *Store) ListActive() []*Battle {
	var out []*Battle
	for _, e := range s.snapshot() {
		e.lock.Lock()
		if e.b.Status == StatusWaiting || e.b.Status == StatusLive {
			out = append(out, e.b.Copy())
		}
		e.lock.Unlock()
	}
	return out
}

// ActiveIDs returns the ids of all Waiting/Live battles.
func (s *Store) ActiveIDs() []uuid.UUID {
	var out []uuid.UUID
	for _, e := range s.snapshot() {
		e.lock.Lock()
		if e.b.Status == StatusWaiting || e.b.Status == StatusLive {
			out = append(out, e.b.ID)
		}
		e.lock.Unlock()
	}
	return out
}

// LivePrimary returns a copy of the live PRIMARY battle, if one exists.
func (s *Store) LivePrimary() (*Battle, bool) {
	for _, e := range s.snapshot() {
		e.lock.Lock()
		if e.b.Tier == TierPrimary && (e.b.Status == StatusLive || e.b.Status == StatusWaiting) {
			b := e.b.Copy()
			e.lock.Unlock()
			return b, true
		}
		e.lock.Unlock()
	}
	return nil, false
}

// Len returns the total number of battles held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.battles)
}
