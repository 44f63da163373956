package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminator for notification payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeBattleCreated
	TypeBattleUpdated
	TypeAgentLiquidated
	TypeEscalationOccurred
	TypeReadyForSettlement
	TypeBattleSettled
	TypeWinningsDistributed
)

// Notification is the interface all outbound notifications implement.
// Notifications are produced by the engine and consumed by the transport
// layer (NATS publisher) and in-process subscribers (supervisor).
type Notification interface {
	// Type returns the discriminator
	Type() Type

	// BattleID returns the battle this notification concerns
	BattleID() uuid.UUID
}

// BattleCreated is emitted on every successful store insert.
type BattleCreated struct {
	Battle     uuid.UUID
	Tier       string
	Status     string
	EntryPrice float64
	Timestamp  time.Time
}

func (n *BattleCreated) Type() Type          { return TypeBattleCreated }
func (n *BattleCreated) BattleID() uuid.UUID { return n.Battle }

// BattleUpdated is emitted on every successful store mutation.
type BattleUpdated struct {
	Battle    uuid.UUID
	Status    string
	Version   int64
	Timestamp time.Time
}

func (n *BattleUpdated) Type() Type          { return TypeBattleUpdated }
func (n *BattleUpdated) BattleID() uuid.UUID { return n.Battle }

// AgentLiquidated fires on the first (and only) alive→dead transition.
type AgentLiquidated struct {
	Battle     uuid.UUID
	Wallet     string
	AgentIndex int
	Side       string
	Price      float64
	Timestamp  time.Time
}

func (n *AgentLiquidated) Type() Type          { return TypeAgentLiquidated }
func (n *AgentLiquidated) BattleID() uuid.UUID { return n.Battle }

// EscalationOccurred fires when a battle climbs one leverage-ladder step.
type EscalationOccurred struct {
	Battle    uuid.UUID
	Level     int32
	Leverage  int64
	Timestamp time.Time
}

func (n *EscalationOccurred) Type() Type          { return TypeEscalationOccurred }
func (n *EscalationOccurred) BattleID() uuid.UUID { return n.Battle }

// ReadyForSettlement fires exactly once per battle, carrying the proposed
// final price for the on-chain settlement call.
type ReadyForSettlement struct {
	Battle     uuid.UUID
	FinalPrice float64
	Forced     bool
	Timestamp  time.Time
}

func (n *ReadyForSettlement) Type() Type          { return TypeReadyForSettlement }
func (n *ReadyForSettlement) BattleID() uuid.UUID { return n.Battle }

// BattleSettled fires when the ledger-confirmed winner is written back.
type BattleSettled struct {
	Battle       uuid.UUID
	Tier         string
	Winner       string
	WinnerSource string
	SettlementTx string
	Timestamp    time.Time
}

func (n *BattleSettled) Type() Type          { return TypeBattleSettled }
func (n *BattleSettled) BattleID() uuid.UUID { return n.Battle }

// WinningsDistributed fires after the payout calculator settles a pool.
type WinningsDistributed struct {
	Battle      uuid.UUID
	WinningSide string
	TotalPaid   int64
	BetsSettled int
	Timestamp   time.Time
}

func (n *WinningsDistributed) Type() Type          { return TypeWinningsDistributed }
func (n *WinningsDistributed) BattleID() uuid.UUID { return n.Battle }

func (t Type) String() string {
	switch t {
	case TypeBattleCreated:
		return "BattleCreated"
	case TypeBattleUpdated:
		return "BattleUpdated"
	case TypeAgentLiquidated:
		return "AgentLiquidated"
	case TypeEscalationOccurred:
		return "EscalationOccurred"
	case TypeReadyForSettlement:
		return "ReadyForSettlement"
	case TypeBattleSettled:
		return "BattleSettled"
	case TypeWinningsDistributed:
		return "WinningsDistributed"
	default:
		return "Unknown"
	}
}
