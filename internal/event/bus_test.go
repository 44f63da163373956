package event_test

import (
	"testing"

	"github.com/google/uuid"

	"BattleArena/internal/event"
)

func created(id uuid.UUID) *event.BattleCreated {
	return &event.BattleCreated{Battle: id, Tier: "SECONDARY", Status: "LIVE"}
}

// ============================================================================
// Test: fan-out
// ============================================================================

func TestBus_FansOutToAllSubscribers(t *testing.T) {
	bus := event.NewBus()
	a := bus.Subscribe(4)
	b := bus.Subscribe(4)

	id := uuid.New()
	bus.Publish(created(id))

	for name, ch := range map[string]<-chan event.Notification{"a": a, "b": b} {
		select {
		case n := <-ch:
			if n.BattleID() != id {
				t.Errorf("subscriber %s: got battle %s, want %s", name, n.BattleID(), id)
			}
		default:
			t.Errorf("subscriber %s received nothing", name)
		}
	}
}

func TestBus_PublishPreservesOrderPerSubscriber(t *testing.T) {
	bus := event.NewBus()
	ch := bus.Subscribe(8)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		bus.Publish(created(id))
	}

	for i, want := range ids {
		got := <-ch
		if got.BattleID() != want {
			t.Errorf("position %d: got %s, want %s", i, got.BattleID(), want)
		}
	}
}

// ============================================================================
// Test: non-blocking drop policy
// ============================================================================

func TestBus_DropsWhenSubscriberFull(t *testing.T) {
	bus := event.NewBus()

	var drops []event.Type
	bus.SetDropHandler(func(tp event.Type) { drops = append(drops, tp) })

	slow := bus.Subscribe(1)
	fast := bus.Subscribe(4)

	bus.Publish(created(uuid.New()))
	bus.Publish(created(uuid.New())) // slow subscriber is full now

	if len(drops) != 1 || drops[0] != event.TypeBattleCreated {
		t.Errorf("drops: got %v, want one BattleCreated", drops)
	}
	if len(slow) != 1 {
		t.Errorf("slow subscriber buffer: got %d, want 1", len(slow))
	}
	if len(fast) != 2 {
		t.Errorf("fast subscriber must receive both: got %d", len(fast))
	}
}

// ============================================================================
// Test: close semantics
// ============================================================================

func TestBus_CloseClosesSubscriberChannels(t *testing.T) {
	bus := event.NewBus()
	ch := bus.Subscribe(1)

	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("subscriber channel must be closed and drained")
	}

	// Publishing and closing again are harmless no-ops.
	bus.Publish(created(uuid.New()))
	bus.Close()
}

func TestBus_SubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	bus := event.NewBus()
	bus.Close()

	ch := bus.Subscribe(1)
	if _, ok := <-ch; ok {
		t.Error("late subscriber must get a closed channel")
	}
}
