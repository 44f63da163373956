package persistence

import (
	"context"
	"database/sql"
	"log"
	"time"

	"BattleArena/internal/observability"
)

// MirrorWorker drains the mirror channel and batch-upserts battle
// snapshots to Postgres. Unlike an event log, the mirror is lossy by
// contract: the store is the source of truth for live operation, so after
// bounded retries a failing batch is dropped and logged rather than
// stalling the engine. Snapshots for the same battle within a batch
// collapse to the highest version.
type MirrorWorker struct {
	writer       *BattleLogWriter
	inputChan    <-chan BattleRow
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

const mirrorMaxRetries = 5

func NewMirrorWorker(
	db *sql.DB,
	inputChan <-chan BattleRow,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *MirrorWorker {
	return &MirrorWorker{
		writer:       NewBattleLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the mirror loop. It batches incoming snapshots and flushes
// either when the batch is full or the flush timeout expires. Blocks until
// ctx is cancelled.
func (mw *MirrorWorker) Run(ctx context.Context) error {
	batch := make(map[string]BattleRow, mw.batchSize)

	timer := time.NewTimer(mw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: one last flush with a background context
			if len(batch) > 0 {
				if err := mw.writer.WriteBatch(context.Background(), collect(batch)); err != nil {
					log.Printf("ERROR: final mirror flush failed: %v", err)
				}
			}
			return ctx.Err()

		case row, ok := <-mw.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := mw.writer.WriteBatch(context.Background(), collect(batch)); err != nil {
						log.Printf("ERROR: final mirror flush failed: %v", err)
					}
				}
				return nil
			}

			if prev, exists := batch[row.BattleID]; !exists || row.Version > prev.Version {
				batch[row.BattleID] = row
			}

			if len(batch) >= mw.batchSize {
				mw.flushWithRetry(ctx, collect(batch))
				clearBatch(batch)
				timer.Reset(mw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				mw.flushWithRetry(ctx, collect(batch))
				clearBatch(batch)
			}
			timer.Reset(mw.flushTimeout)
		}
	}
}

// flushWithRetry attempts the batch with exponential backoff and drops it
// after the retry budget. Dropped snapshots self-heal: the next mutation
// of the same battle carries a higher version and rewrites the full row.
func (mw *MirrorWorker) flushWithRetry(ctx context.Context, rows []BattleRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for attempt := 0; attempt <= mirrorMaxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: mirror retry attempt %d (backoff=%v, rows=%d)",
				attempt, backoff, len(rows))
			select {
			case <-ctx.Done():
				if err := mw.writer.WriteBatch(context.Background(), rows); err != nil {
					log.Printf("ERROR: final mirror flush on shutdown failed: %v", err)
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		start := time.Now()
		err := mw.writer.WriteBatch(ctx, rows)
		if err == nil {
			if mw.metrics != nil {
				mw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
				mw.metrics.PersistRows.Add(float64(len(rows)))
			}
			if attempt > 0 {
				log.Printf("INFO: mirror flush succeeded after %d retries", attempt)
			}
			return
		}

		if mw.metrics != nil {
			mw.metrics.PersistErrors.WithLabelValues("write_batch").Inc()
		}
		log.Printf("WARN: mirror batch write failed: %v", err)
	}

	if mw.metrics != nil {
		mw.metrics.PersistErrors.WithLabelValues("batch_dropped").Inc()
	}
	log.Printf("ERROR: mirror batch dropped after %d retries (rows=%d)", mirrorMaxRetries, len(rows))
}

func collect(batch map[string]BattleRow) []BattleRow {
	rows := make([]BattleRow, 0, len(batch))
	for _, r := range batch {
		rows = append(rows, r)
	}
	return rows
}

func clearBatch(batch map[string]BattleRow) {
	for k := range batch {
		delete(batch, k)
	}
}
