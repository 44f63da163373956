// Package stub provides an in-memory chain adapter for tests and local
// simulation runs. It applies the same end-time rule the contract enforces:
// settlement submissions before the ledger end time revert.
package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"BattleArena/internal/chain"
)

type battleRecord struct {
	info       chain.BattleInfo
	entryPrice float64
	winner     string
	settled    bool
	txSeq      int
}

var _ chain.Adapter = (*Adapter)(nil)

// Adapter is a scripted fake ledger. Zero value is not usable; use New.
type Adapter struct {
	mu      sync.Mutex
	now     func() time.Time
	battles map[uuid.UUID]*battleRecord

	// Fault injection knobs for tests.
	InfoErr      error
	TimestampErr error
	SubmitErr    error
	WinnerErr    error
	CreateErr    error
	LiquidateErr error

	SubmitCalls    int
	LiquidateCalls int
}

func New(clock func() time.Time) *Adapter {
	if clock == nil {
		clock = time.Now
	}
	return &Adapter{
		now:     clock,
		battles: make(map[uuid.UUID]*battleRecord),
	}
}

// Seed installs a ledger record for a battle.
func (a *Adapter) Seed(id uuid.UUID, info chain.BattleInfo, winner string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.battles[id] = &battleRecord{info: info, winner: winner, settled: info.State == chain.StateSettled}
}

func (a *Adapter) BattleInfo(_ context.Context, id uuid.UUID) (*chain.BattleInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.InfoErr != nil {
		return nil, a.InfoErr
	}
	rec, ok := a.battles[id]
	if !ok {
		return nil, fmt.Errorf("stub: unknown battle %s", id)
	}
	info := rec.info
	if rec.settled {
		info.State = chain.StateSettled
	}
	return &info, nil
}

func (a *Adapter) BlockTimestamp(_ context.Context) (time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.TimestampErr != nil {
		return time.Time{}, a.TimestampErr
	}
	return a.now(), nil
}

func (a *Adapter) SubmitLiquidation(_ context.Context, id uuid.UUID, agentIndex int, _ float64) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.LiquidateCalls++
	if a.LiquidateErr != nil {
		return "", a.LiquidateErr
	}
	rec, ok := a.battles[id]
	if !ok {
		return "", fmt.Errorf("stub: unknown battle %s", id)
	}
	if agentIndex < 0 || agentIndex >= len(rec.info.AgentWallets) {
		return "", &chain.RevertError{Reason: "invalid agent index"}
	}
	rec.txSeq++
	return fmt.Sprintf("stub-liq-%s-%d", id, rec.txSeq), nil
}

func (a *Adapter) SubmitSettlement(_ context.Context, id uuid.UUID, finalPrice float64) (*chain.SettlementResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SubmitCalls++
	if a.SubmitErr != nil {
		return nil, a.SubmitErr
	}
	rec, ok := a.battles[id]
	if !ok {
		return nil, fmt.Errorf("stub: unknown battle %s", id)
	}
	if rec.settled {
		return nil, &chain.RevertError{Reason: "already settled"}
	}
	if a.now().Before(rec.info.EndTime) {
		return nil, &chain.RevertError{Reason: "battle not yet ended"}
	}
	rec.settled = true
	rec.txSeq++
	// Self-created battles decide the winner the way the contract does:
	// the long side wins on a non-negative move from entry.
	if rec.winner == "" && rec.entryPrice > 0 && len(rec.info.AgentWallets) == 2 {
		if finalPrice >= rec.entryPrice {
			rec.winner = rec.info.AgentWallets[0]
		} else {
			rec.winner = rec.info.AgentWallets[1]
		}
	}
	return &chain.SettlementResult{
		TxRef:  fmt.Sprintf("stub-settle-%s-%d", id, rec.txSeq),
		Winner: rec.winner,
	}, nil
}

func (a *Adapter) Winner(_ context.Context, id uuid.UUID) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.WinnerErr != nil {
		return "", a.WinnerErr
	}
	rec, ok := a.battles[id]
	if !ok {
		return "", fmt.Errorf("stub: unknown battle %s", id)
	}
	if !rec.settled || rec.winner == "" {
		return "", fmt.Errorf("stub: no winner recorded for %s", id)
	}
	return rec.winner, nil
}

func (a *Adapter) CreateBattle(_ context.Context, id uuid.UUID, entryPrice float64, wallets [2]string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.CreateErr != nil {
		return "", a.CreateErr
	}
	if _, ok := a.battles[id]; ok {
		return "", &chain.RevertError{Reason: "battle exists"}
	}
	now := a.now()
	a.battles[id] = &battleRecord{
		info: chain.BattleInfo{
			State:        chain.StateActive,
			StartTime:    now,
			EndTime:      now.Add(4 * time.Minute),
			AgentWallets: []string{wallets[0], wallets[1]},
		},
		entryPrice: entryPrice,
	}
	return fmt.Sprintf("stub-create-%s", id), nil
}
