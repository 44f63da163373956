// Package chain defines the adapter surface for the authoritative on-chain
// ledger. The contract's own liquidation/settlement logic is ground truth;
// the engine only ever reaches it through this interface.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BattleState is the ledger-reported lifecycle state.
type BattleState int32

const (
	StateUnknown BattleState = iota
	StateActive
	StateSettled
	StateCancelled
)

// BattleInfo is the ledger's view of a battle. EndTime and the block
// timestamp, not local wall-clock time, authorize settlement.
type BattleInfo struct {
	State        BattleState
	StartTime    time.Time
	EndTime      time.Time
	AgentWallets []string
}

// SettlementResult is returned from a successful settlement submission.
type SettlementResult struct {
	TxRef  string
	Winner string // winner wallet; may be empty if the contract defers it
}

// Adapter is the on-chain collaborator consumed by the reconciler and the
// primary-continuity supervisor. Implementations own their network timeouts.
type Adapter interface {
	// BattleInfo reads the ledger's status and timestamps for a battle.
	BattleInfo(ctx context.Context, id uuid.UUID) (*BattleInfo, error)

	// BlockTimestamp returns the current chain time.
	BlockTimestamp(ctx context.Context) (time.Time, error)

	// SubmitLiquidation liquidates a single agent at the given price.
	SubmitLiquidation(ctx context.Context, id uuid.UUID, agentIndex int, price float64) (string, error)

	// SubmitSettlement settles the battle at the final price.
	SubmitSettlement(ctx context.Context, id uuid.UUID, finalPrice float64) (*SettlementResult, error)

	// Winner returns the ledger-recorded winner wallet, or an error if the
	// ledger has not recorded one.
	Winner(ctx context.Context, id uuid.UUID) (string, error)

	// CreateBattle registers a new battle on the ledger.
	CreateBattle(ctx context.Context, id uuid.UUID, entryPrice float64, wallets [2]string) (string, error)
}

// RevertError is a contract revert surfaced by an adapter. Reason carries
// the revert string for classification by the caller.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("contract revert: %s", e.Reason)
}

// AsRevert unwraps a RevertError from an adapter error chain.
func AsRevert(err error) (*RevertError, bool) {
	var rev *RevertError
	if errors.As(err, &rev) {
		return rev, true
	}
	return nil, false
}
