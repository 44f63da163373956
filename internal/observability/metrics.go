package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the battle engine.
type Metrics struct {
	// --- Price feed & health calculation ---
	PriceUpdates      prometheus.Counter
	PriceParseErrors  *prometheus.CounterVec
	HealthEvals       prometheus.Counter
	AgentLiquidations *prometheus.CounterVec

	// --- Battles & escalation ---
	BattlesCreated *prometheus.CounterVec
	BattlesActive  prometheus.Gauge
	Escalations    *prometheus.CounterVec
	ForcedEndings  prometheus.Counter
	BattlesExpired prometheus.Counter
	TickDuration   prometheus.Histogram

	// --- Settlement reconciliation ---
	SettlementAttempts *prometheus.CounterVec
	SettlementsSettled prometheus.Counter
	SettlementDeferred prometheus.Counter
	SettlementRetries  prometheus.Counter
	BattlesStuck       prometheus.Counter
	LiquidationCalls   *prometheus.CounterVec
	ScanDuration       prometheus.Histogram

	// --- Betting ---
	BetsPlaced  prometheus.Counter
	BetsSettled prometheus.Counter
	PayoutTotal prometheus.Counter
	PoolTotal   prometheus.Gauge

	// --- Primary continuity ---
	PrimaryRecreated prometheus.Counter

	// --- Persistence & bus ---
	PersistRows       prometheus.Counter
	PersistErrors     *prometheus.CounterVec
	PersistQueueDrops prometheus.Counter
	PersistBatchDur   prometheus.Histogram
	BusDrops          *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	durBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0}

	return &Metrics{
		PriceUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_price_updates_total",
			Help: "Price updates applied to the store",
		}),

		PriceParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_price_parse_errors_total",
			Help: "Price payloads rejected or repaired at ingestion",
		}, []string{"reason"}),

		HealthEvals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_health_evaluations_total",
			Help: "Health calculator invocations",
		}),

		AgentLiquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_agent_liquidations_total",
			Help: "Agents flipped alive to dead",
		}, []string{"side"}),

		BattlesCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_battles_created_total",
			Help: "Battles inserted into the store",
		}, []string{"tier"}),

		BattlesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "arena_battles_active",
			Help: "Battles in Waiting or Live status",
		}),

		Escalations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_escalations_total",
			Help: "Leverage ladder steps taken",
		}, []string{"level"}),

		ForcedEndings: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_forced_endings_total",
			Help: "Battles force-ended at max duration",
		}),

		BattlesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_battles_expired_total",
			Help: "Battles transitioned to Expired",
		}),

		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_escalation_tick_duration_seconds",
			Help:    "Escalation scheduler tick duration",
			Buckets: durBuckets,
		}),

		SettlementAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_settlement_attempts_total",
			Help: "Settlement attempt outcomes",
		}, []string{"outcome"}),

		SettlementsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_settlements_total",
			Help: "Battles settled against the ledger",
		}),

		SettlementDeferred: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_settlement_deferred_total",
			Help: "Attempts deferred because the ledger end time had not passed",
		}),

		SettlementRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_settlement_retries_total",
			Help: "Retry counter increments on unexpected failures",
		}),

		BattlesStuck: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_battles_stuck_total",
			Help: "Battles excluded after the settlement overdue bound",
		}),

		LiquidationCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_liquidation_calls_total",
			Help: "Liquidation-only submissions to the ledger",
		}, []string{"outcome"}),

		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_reconciler_scan_duration_seconds",
			Help:    "Settlement reconciler scan duration",
			Buckets: durBuckets,
		}),

		BetsPlaced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_bets_placed_total",
			Help: "Bets accepted into pools",
		}),

		BetsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_bets_settled_total",
			Help: "Bets transitioned to settled",
		}),

		PayoutTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_payout_cents_total",
			Help: "Total winnings distributed (quote cents)",
		}),

		PoolTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "arena_pool_cents",
			Help: "Open pool total across active battles (quote cents)",
		}),

		PrimaryRecreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_primary_recreations_total",
			Help: "Successor PRIMARY battles created",
		}),

		PersistRows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_persist_rows_total",
			Help: "Rows written to the durable battle and bet logs",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_persist_errors_total",
			Help: "Durable log write failures by stage",
		}, []string{"stage"}),

		PersistQueueDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_persist_queue_drops_total",
			Help: "Snapshots dropped because the mirror queue was full",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_persist_batch_duration_seconds",
			Help:    "Durable log batch write duration",
			Buckets: durBuckets,
		}),

		BusDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_bus_drops_total",
			Help: "Notifications dropped by slow subscribers",
		}, []string{"type"}),

		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_notifications_published_total",
			Help: "Notifications published to NATS",
		}, []string{"type"}),
	}
}
