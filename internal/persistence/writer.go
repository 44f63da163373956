package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"BattleArena/internal/battle"
)

// BattleLogWriter upserts battle snapshots into Postgres using multi-row
// INSERT. The durable log is a mirror, not the source of truth: the
// in-process store stays authoritative for live operation, and a stale row
// here only means a restart replays from further back.
type BattleLogWriter struct {
	db *sql.DB
}

// BattleRow is one snapshot of a battle aggregate in arena.battle_log.
// The version column makes the upsert monotonic: an out-of-order batch can
// never overwrite a newer snapshot with an older one.
type BattleRow struct {
	BattleID        string
	Tier            string
	Status          string
	EntryPrice      float64
	StartTime       time.Time
	EndTime         *time.Time
	EscalationLevel int32
	Leverage        int64
	TotalPool       int64
	WinnerWallet    *string
	WinnerSource    *string
	SettlementTx    *string
	Ready           bool
	FinalPrice      float64
	RetryAttempts   int32
	Stuck           bool
	Agents          []byte // JSON snapshot of both agents
	Version         int64
	UpdatedAt       time.Time
}

// agentJSON is the stored per-agent snapshot.
type agentJSON struct {
	Wallet     string  `json:"wallet"`
	Side       string  `json:"side"`
	Collateral int64   `json:"collateral"`
	Leverage   int64   `json:"leverage"`
	EntryPrice float64 `json:"entry_price"`
	Health     float64 `json:"health"`
	Alive      bool    `json:"alive"`
	PnL        int64   `json:"pnl"`
}

// FromBattle flattens a battle aggregate into its log row.
func FromBattle(b *battle.Battle) (BattleRow, error) {
	agents := make([]agentJSON, 0, 2)
	for _, a := range b.Agents {
		if a == nil {
			continue
		}
		agents = append(agents, agentJSON{
			Wallet:     a.Wallet,
			Side:       a.Side.String(),
			Collateral: a.Collateral,
			Leverage:   a.Leverage,
			EntryPrice: a.EntryPrice,
			Health:     a.Health,
			Alive:      a.Alive,
			PnL:        a.PnL,
		})
	}
	payload, err := json.Marshal(agents)
	if err != nil {
		return BattleRow{}, fmt.Errorf("marshal agents: %w", err)
	}

	row := BattleRow{
		BattleID:        b.ID.String(),
		Tier:            b.Tier.String(),
		Status:          b.Status.String(),
		EntryPrice:      b.EntryPrice,
		StartTime:       b.StartTime,
		EscalationLevel: b.EscalationLevel,
		Leverage:        b.Leverage,
		TotalPool:       b.TotalPool,
		Ready:           b.Ready,
		FinalPrice:      b.FinalPrice,
		RetryAttempts:   b.Retry.Attempts,
		Stuck:           b.Retry.Stuck,
		Agents:          payload,
		Version:         b.Version,
		UpdatedAt:       b.UpdatedAt,
	}
	if !b.EndTime.IsZero() {
		t := b.EndTime
		row.EndTime = &t
	}
	if b.Winner != nil {
		w := b.Winner.Wallet
		src := b.Winner.Source.String()
		row.WinnerWallet = &w
		row.WinnerSource = &src
	}
	if b.SettlementTx != "" {
		tx := b.SettlementTx
		row.SettlementTx = &tx
	}
	return row, nil
}

func NewBattleLogWriter(db *sql.DB) *BattleLogWriter {
	return &BattleLogWriter{db: db}
}

const battleRowColumns = 19

// WriteBatch upserts a batch of battle snapshots. The WHERE clause on the
// conflict update keeps the log monotonic in version.
func (w *BattleLogWriter) WriteBatch(ctx context.Context, rows []BattleRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO arena.battle_log
		(battle_id, tier, status, entry_price, start_time, end_time,
		 escalation_level, leverage, total_pool, winner_wallet, winner_source,
		 settlement_tx, ready, final_price, retry_attempts, stuck, agents,
		 version, updated_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*battleRowColumns)

	for i, r := range rows {
		base := i * battleRowColumns
		ph := make([]string, battleRowColumns)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			r.BattleID, r.Tier, r.Status, r.EntryPrice, r.StartTime, r.EndTime,
			r.EscalationLevel, r.Leverage, r.TotalPool, r.WinnerWallet, r.WinnerSource,
			r.SettlementTx, r.Ready, r.FinalPrice, r.RetryAttempts, r.Stuck, r.Agents,
			r.Version, r.UpdatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (battle_id) DO UPDATE SET
		tier = EXCLUDED.tier,
		status = EXCLUDED.status,
		entry_price = EXCLUDED.entry_price,
		start_time = EXCLUDED.start_time,
		end_time = EXCLUDED.end_time,
		escalation_level = EXCLUDED.escalation_level,
		leverage = EXCLUDED.leverage,
		total_pool = EXCLUDED.total_pool,
		winner_wallet = EXCLUDED.winner_wallet,
		winner_source = EXCLUDED.winner_source,
		settlement_tx = EXCLUDED.settlement_tx,
		ready = EXCLUDED.ready,
		final_price = EXCLUDED.final_price,
		retry_attempts = EXCLUDED.retry_attempts,
		stuck = EXCLUDED.stuck,
		agents = EXCLUDED.agents,
		version = EXCLUDED.version,
		updated_at = EXCLUDED.updated_at
	WHERE EXCLUDED.version > arena.battle_log.version`

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}
