package settlement

import (
	"strings"

	"BattleArena/internal/chain"
)

// Class buckets adapter errors for the attempt protocol. Timing-related
// reverts are expected traffic and never count against a battle's retry
// budget; only unexpected failures do.
type Class int

const (
	// ClassUnexpected is an unclassified failure. Logged at warning level
	// and counted against the retry state.
	ClassUnexpected Class = iota

	// ClassTransient is a timing-related revert. The next scan retries
	// with no counter increment.
	ClassTransient

	// ClassAlreadySettled means the ledger got there first. Treated as
	// success; the caller proceeds to reconcile the recorded winner.
	ClassAlreadySettled

	// ClassAlreadyLiquidated is the liquidation analogue of already
	// settled. The agent is gone on-chain; nothing to do.
	ClassAlreadyLiquidated
)

// Classify inspects a contract revert reason. Non-revert errors (network,
// adapter internals) are always unexpected.
func Classify(err error) Class {
	rev, ok := chain.AsRevert(err)
	if !ok {
		return ClassUnexpected
	}

	reason := strings.ToLower(rev.Reason)
	switch {
	case strings.Contains(reason, "already settled"):
		return ClassAlreadySettled
	case strings.Contains(reason, "already liquidated"):
		return ClassAlreadyLiquidated
	case strings.Contains(reason, "not yet ended"),
		strings.Contains(reason, "not ended"),
		strings.Contains(reason, "too early"):
		return ClassTransient
	default:
		return ClassUnexpected
	}
}

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassAlreadySettled:
		return "already_settled"
	case ClassAlreadyLiquidated:
		return "already_liquidated"
	default:
		return "unexpected"
	}
}
