package jobs

import "testing"

func TestEventBusSequence(t *testing.T) {
	bus := NewEventBus(3)
	for i := 0; i < 5; i++ {
		bus.Publish(Event{JobID: "job", Type: EventTypeQueued})
	}

	all := bus.Since(0)
	if len(all) != 3 {
		t.Fatalf("Since(0) len = %d, want 3", len(all))
	}
	if all[0].Seq != 3 || all[2].Seq != 5 {
		t.Errorf("retained seqs = %d..%d, want 3..5", all[0].Seq, all[2].Seq)
	}
	if got := bus.Since(4); len(got) != 1 || got[0].Seq != 5 {
		t.Errorf("Since(4) = %+v", got)
	}
	if all[0].Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
}

func TestEventBusSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	ch, cancel := bus.Subscribe(1)

	bus.Publish(Event{JobID: "a"})
	bus.Publish(Event{JobID: "b"}) // dropped: buffer full

	ev := <-ch
	if ev.JobID != "a" {
		t.Errorf("first event = %q, want a", ev.JobID)
	}

	cancel()
	cancel()
	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
	bus.Publish(Event{JobID: "c"})
}
