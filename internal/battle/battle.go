package battle

import (
	"time"

	"github.com/google/uuid"
)

// Tier classifies who manages a battle's lifecycle.
type Tier int32

const (
	TierSecondary Tier = iota // user-created
	TierPrimary               // system-managed, always-on
)

// Status is the battle lifecycle state. Stuck and Expired are explicit
// terminal states; active listings are a status predicate, never a
// recomputed heuristic.
type Status int32

const (
	StatusWaiting Status = iota
	StatusLive
	StatusSettled
	StatusCancelled
	StatusStuck
	StatusExpired
)

// Side of a position.
type Side int32

const (
	SideLong Side = iota
	SideShort
)

// WinnerSource records where the winner determination came from. Local
// health comparison is a lower-trust fallback and stays provisional until
// the ledger confirms.
type WinnerSource int32

const (
	WinnerSourceLedger WinnerSource = iota
	WinnerSourceLocal
)

// Ladder is the fixed leverage escalation sequence, indexed by level.
var Ladder = [4]int64{5, 10, 20, 50}

const (
	// MaxEscalationLevel bounds the ladder index.
	MaxEscalationLevel = int32(len(Ladder) - 1)

	// EscalationInterval is the timer between ladder steps.
	EscalationInterval = 60 * time.Second

	// MaxDuration forces liquidation of both agents once elapsed.
	MaxDuration = 240 * time.Second

	// LiquidationHealthThreshold triggers a liquidation-only on-chain call
	// for a still-alive agent.
	LiquidationHealthThreshold = 5.0

	// SettlementOverdueBound marks a battle stuck once this much time has
	// passed beyond the ledger end time without a successful settlement.
	SettlementOverdueBound = time.Hour

	// DeadGraceWindow is how long a battle with two dead agents and no
	// pending settlement lingers before transitioning to Expired.
	DeadGraceWindow = 10 * time.Minute
)

// Winner is the settled outcome of a battle.
type Winner struct {
	Wallet string
	Side   Side
	Source WinnerSource
}

// RetryState tracks settlement attempts for a battle. Owned by the
// reconciler; exhaustion is time-bound (SettlementOverdueBound), not
// count-bound.
type RetryState struct {
	Attempts       int32
	FirstFailureAt time.Time
	Stuck          bool
}

// Battle is one contest between two agents. Agents[0] is the long side,
// Agents[1] the short side.
type Battle struct {
	ID     uuid.UUID
	Tier   Tier
	Status Status

	EntryPrice float64
	StartTime  time.Time
	EndTime    time.Time // immutable once set

	EscalationLevel int32
	Leverage        int64
	EscalationStart time.Time
	NextEscalation  time.Time

	TotalPool    int64
	Winner       *Winner
	SettlementTx string

	// Ready latches exactly once when the battle becomes eligible for
	// settlement; the battle stays Live for reconciler scanning.
	Ready      bool
	ReadyAt    time.Time
	FinalPrice float64

	Retry RetryState

	Agents [2]*Agent

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// New builds a Live battle at ladder level 0 with both agents at full health.
func New(id uuid.UUID, tier Tier, entryPrice float64, longWallet, shortWallet string, collateral int64, now time.Time) *Battle {
	return &Battle{
		ID:              id,
		Tier:            tier,
		Status:          StatusLive,
		EntryPrice:      entryPrice,
		StartTime:       now,
		EscalationLevel: 0,
		Leverage:        Ladder[0],
		EscalationStart: now,
		NextEscalation:  now.Add(EscalationInterval),
		Agents: [2]*Agent{
			NewAgent(longWallet, SideLong, collateral, Ladder[0], entryPrice),
			NewAgent(shortWallet, SideShort, collateral, Ladder[0], entryPrice),
		},
		CreatedAt: now,
	}
}

// BothDead reports whether neither agent is alive.
func (b *Battle) BothDead() bool {
	return b.Agents[0] != nil && b.Agents[1] != nil &&
		!b.Agents[0].Alive && !b.Agents[1].Alive
}

// AnyAlive reports whether at least one agent is alive.
func (b *Battle) AnyAlive() bool {
	return (b.Agents[0] != nil && b.Agents[0].Alive) ||
		(b.Agents[1] != nil && b.Agents[1].Alive)
}

// AgentByWallet returns the agent index for a wallet, or -1.
func (b *Battle) AgentByWallet(wallet string) int {
	for i, a := range b.Agents {
		if a != nil && a.Wallet == wallet {
			return i
		}
	}
	return -1
}

// HealthierAgent compares final agent health for the local winner fallback.
// Ties go to the long side, matching the contract's ordering of agents.
func (b *Battle) HealthierAgent() int {
	if b.Agents[1] != nil && (b.Agents[0] == nil || b.Agents[1].Health > b.Agents[0].Health) {
		return 1
	}
	return 0
}

// MarkReady latches the ready-for-settlement flag. Returns false if the
// battle was already ready; the transition happens at most once.
func (b *Battle) MarkReady(now time.Time, finalPrice float64) bool {
	if b.Ready {
		return false
	}
	b.Ready = true
	b.ReadyAt = now
	b.FinalPrice = finalPrice
	return true
}

// Copy returns a deep copy safe to hand to readers outside the store lock.
func (b *Battle) Copy() *Battle {
	dup := *b
	for i, a := range b.Agents {
		if a != nil {
			ac := *a
			dup.Agents[i] = &ac
		}
	}
	if b.Winner != nil {
		w := *b.Winner
		dup.Winner = &w
	}
	return &dup
}

func (t Tier) String() string {
	if t == TierPrimary {
		return "PRIMARY"
	}
	return "SECONDARY"
}

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusLive:
		return "LIVE"
	case StatusSettled:
		return "SETTLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusStuck:
		return "STUCK"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

func (s Side) String() string {
	if s == SideShort {
		return "short"
	}
	return "long"
}

func (ws WinnerSource) String() string {
	if ws == WinnerSourceLocal {
		return "local"
	}
	return "ledger"
}
