package notify

import "testing"

func TestPublishReachesSubscriber(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("user-1")
	defer cancel()

	b.Publish("user-1", "calendar:synced", map[string]int{"upserted": 3})

	select {
	case msg := <-ch:
		if msg.Event != "calendar:synced" {
			t.Errorf("event = %q", msg.Event)
		}
	default:
		t.Fatal("no message delivered")
	}
}

func TestPublishIsScopedToUser(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("user-2")
	defer cancel()

	b.Publish("user-1", "calendar:synced", nil)

	select {
	case <-ch:
		t.Fatal("message crossed user boundary")
	default:
	}
}

func TestPublishWithoutSubscribersIsNoOp(t *testing.T) {
	b := NewBroker()
	// Must not panic or block.
	b.Publish("nobody", "calendar:synced", nil)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker()
	_, cancel := b.Subscribe("user-1")
	defer cancel()

	// Overfill the subscriber buffer; publishing must never block.
	for i := 0; i < subscriberBuffer*3; i++ {
		b.Publish("user-1", "calendar:synced", i)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("user-1")
	cancel()

	b.Publish("user-1", "calendar:synced", nil)

	select {
	case <-ch:
		t.Fatal("message delivered after cancel")
	default:
	}
}
