// Package projection maintains the durable bet log. The betting ledger in
// memory is the source of truth for payouts; the bet_log table is a
// queryable projection of it. If the worker falls behind the table can be
// reconciled from settlement notifications, so writes are warn-and-continue,
// never fatal.
package projection

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"

	"BattleArena/internal/betting"
	"BattleArena/internal/observability"
)

// BetRecord is one row of arena.bet_log in insert order.
type BetRecord struct {
	BetID    uuid.UUID
	BattleID uuid.UUID
	Wallet   string
	Side     string
	Amount   int64
	Settled  bool
	Won      bool
	Payout   int64
	PlacedAt time.Time
}

// FromBet converts a ledger bet copy into its projection row.
func FromBet(b betting.Bet) BetRecord {
	return BetRecord{
		BetID:    b.ID,
		BattleID: b.BattleID,
		Wallet:   b.Wallet,
		Side:     b.Side.String(),
		Amount:   b.Amount,
		Settled:  b.Settled,
		Won:      b.Won,
		Payout:   b.Payout,
		PlacedAt: b.PlacedAt,
	}
}

// BetLogWorker consumes mirrored bets and upserts them one row at a time.
// Bet volume is orders of magnitude below price-tick volume, so per-row
// writes are fine here where the battle mirror batches.
type BetLogWorker struct {
	db        *sql.DB
	inputChan <-chan BetRecord
	metrics   *observability.Metrics
}

func NewBetLogWorker(db *sql.DB, inputChan <-chan BetRecord, metrics *observability.Metrics) *BetLogWorker {
	return &BetLogWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run drains the mirror channel until it closes or ctx is cancelled.
func (w *BetLogWorker) Run(ctx context.Context) error {
	log.Println("INFO: bet log worker started")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()

		case rec, ok := <-w.inputChan:
			if !ok {
				log.Println("INFO: bet log worker stopped")
				return nil
			}
			w.write(ctx, rec)
		}
	}
}

// drain gives queued rows one final write on shutdown.
func (w *BetLogWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case rec, ok := <-w.inputChan:
			if !ok {
				return
			}
			w.write(ctx, rec)
		default:
			return
		}
	}
}

func (w *BetLogWorker) write(ctx context.Context, rec BetRecord) {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO arena.bet_log
			(bet_id, battle_id, wallet, side, amount, settled, won, payout, placed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (bet_id) DO UPDATE SET
			settled    = EXCLUDED.settled,
			won        = EXCLUDED.won,
			payout     = EXCLUDED.payout,
			updated_at = NOW()
	`, rec.BetID, rec.BattleID, rec.Wallet, rec.Side, rec.Amount,
		rec.Settled, rec.Won, rec.Payout, rec.PlacedAt)
	if err != nil {
		log.Printf("WARN: bet log write failed for bet=%s: %v", rec.BetID, err)
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("bet_insert").Inc()
		}
		return
	}
	if w.metrics != nil {
		w.metrics.PersistRows.Inc()
	}
}
