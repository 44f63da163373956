package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go/jetstream"

	"BattleArena/internal/event"
	"BattleArena/internal/observability"
)

// NotificationPublisher drains engine notifications and publishes them to
// NATS for downstream consumers (frontends, indexers). Subjects follow the
// pattern arena.events.{type}. Publish failures are non-fatal; consumers
// can always re-read state from the durable battle log.
type NotificationPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Notification
	metrics   *observability.Metrics
}

func NewNotificationPublisher(js jetstream.JetStream, inputChan <-chan event.Notification, metrics *observability.Metrics) *NotificationPublisher {
	return &NotificationPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the outbound publisher loop.
func (np *NotificationPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-np.inputChan:
			if !ok {
				return nil
			}

			if err := np.publish(ctx, n); err != nil {
				log.Printf("WARN: outbound publish failed type=%s battle=%s: %v",
					n.Type(), n.BattleID(), err)
			} else if np.metrics != nil {
				np.metrics.NotificationsSent.WithLabelValues(n.Type().String()).Inc()
			}
		}
	}
}

// envelope is the outbound wire format. Field names use snake_case for
// non-Go consumers.
type envelope struct {
	Type     string      `json:"type"`
	BattleID string      `json:"battle_id"`
	Payload  interface{} `json:"payload"`
}

func (np *NotificationPublisher) publish(ctx context.Context, n event.Notification) error {
	data, err := json.Marshal(envelope{
		Type:     n.Type().String(),
		BattleID: n.BattleID().String(),
		Payload:  wirePayload(n),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := fmt.Sprintf("arena.events.%s", n.Type())
	_, err = np.js.Publish(ctx, subject, data)
	return err
}

// wirePayload maps a notification to its snake_case wire struct.
func wirePayload(n event.Notification) interface{} {
	switch v := n.(type) {
	case *event.BattleCreated:
		return struct {
			Tier        string  `json:"tier"`
			Status      string  `json:"status"`
			EntryPrice  float64 `json:"entry_price"`
			TimestampMs int64   `json:"timestamp_ms"`
		}{v.Tier, v.Status, v.EntryPrice, v.Timestamp.UnixMilli()}
	case *event.BattleUpdated:
		return struct {
			Status      string `json:"status"`
			Version     int64  `json:"version"`
			TimestampMs int64  `json:"timestamp_ms"`
		}{v.Status, v.Version, v.Timestamp.UnixMilli()}
	case *event.AgentLiquidated:
		return struct {
			Wallet      string  `json:"wallet"`
			AgentIndex  int     `json:"agent_index"`
			Side        string  `json:"side"`
			Price       float64 `json:"price"`
			TimestampMs int64   `json:"timestamp_ms"`
		}{v.Wallet, v.AgentIndex, v.Side, v.Price, v.Timestamp.UnixMilli()}
	case *event.EscalationOccurred:
		return struct {
			Level       int32 `json:"level"`
			Leverage    int64 `json:"leverage"`
			TimestampMs int64 `json:"timestamp_ms"`
		}{v.Level, v.Leverage, v.Timestamp.UnixMilli()}
	case *event.ReadyForSettlement:
		return struct {
			FinalPrice  float64 `json:"final_price"`
			Forced      bool    `json:"forced"`
			TimestampMs int64   `json:"timestamp_ms"`
		}{v.FinalPrice, v.Forced, v.Timestamp.UnixMilli()}
	case *event.BattleSettled:
		return struct {
			Tier         string `json:"tier"`
			Winner       string `json:"winner"`
			WinnerSource string `json:"winner_source"`
			SettlementTx string `json:"settlement_tx"`
			TimestampMs  int64  `json:"timestamp_ms"`
		}{v.Tier, v.Winner, v.WinnerSource, v.SettlementTx, v.Timestamp.UnixMilli()}
	case *event.WinningsDistributed:
		return struct {
			WinningSide string `json:"winning_side"`
			TotalPaid   int64  `json:"total_paid"`
			BetsSettled int    `json:"bets_settled"`
			TimestampMs int64  `json:"timestamp_ms"`
		}{v.WinningSide, v.TotalPaid, v.BetsSettled, v.Timestamp.UnixMilli()}
	default:
		return nil
	}
}
