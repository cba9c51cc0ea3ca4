package services

import (
	"sync"
	"testing"
)

func TestStreamManagerPublishAndFinish(t *testing.T) {
	m := NewStreamManager()
	ch := m.Open(42)

	m.Publish(42, StreamEvent{Type: StreamEventProgress, Percent: 50, Stage: "transcribe"})
	m.Finish(42, StreamEvent{Type: StreamEventComplete, Message: "done"})

	ev, ok := <-ch
	if !ok || ev.Type != StreamEventProgress || ev.Percent != 50 {
		t.Fatalf("first event = %+v (open=%v), want progress/50", ev, ok)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Publish should stamp events")
	}

	ev, ok = <-ch
	if !ok || ev.Type != StreamEventComplete {
		t.Fatalf("second event = %+v (open=%v), want complete", ev, ok)
	}

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Finish")
	}
	if m.HasListener(42) {
		t.Error("Finish should drop the subscription")
	}
}

func TestStreamManagerPublishWithoutListener(t *testing.T) {
	m := NewStreamManager()

	// Must not panic or block.
	m.Publish(7, StreamEvent{Type: StreamEventLog, Message: "nobody home"})
	m.Finish(7, StreamEvent{Type: StreamEventError, Message: "still nobody"})

	if m.ActiveStreams() != 0 {
		t.Errorf("ActiveStreams = %d, want 0", m.ActiveStreams())
	}
}

func TestStreamManagerDropsWhenBufferFull(t *testing.T) {
	m := NewStreamManager()
	m.Open(1)

	// Nothing reads; publishing past the buffer must not block.
	for i := 0; i < streamBufferSize*2; i++ {
		m.Publish(1, StreamEvent{Type: StreamEventProgress, Percent: i})
	}
}

func TestStreamManagerNewestListenerWins(t *testing.T) {
	m := NewStreamManager()
	first := m.Open(5)
	second := m.Open(5)

	if _, ok := <-first; ok {
		t.Error("first listener should be closed when replaced")
	}

	m.Publish(5, StreamEvent{Type: StreamEventLog, Message: "hello"})
	ev := <-second
	if ev.Message != "hello" {
		t.Errorf("second listener got %q, want hello", ev.Message)
	}

	// Closing with a stale channel must not tear down the active one.
	m.Close(5, first)
	if !m.HasListener(5) {
		t.Error("Close with a replaced channel should be a no-op")
	}
	m.Close(5, second)
	if m.HasListener(5) {
		t.Error("Close with the current channel should remove it")
	}
}

func TestStreamManagerPublishWhileReconnecting(t *testing.T) {
	m := NewStreamManager()
	m.Open(3)

	// A client reattaching closes the replaced channel; a publisher racing
	// that close must never end up sending on it.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				m.Publish(3, StreamEvent{Type: StreamEventProgress, Percent: 1})
			}
		}
	}()

	for i := 0; i < 20000; i++ {
		ch := m.Open(3)
		// Drain whatever landed so the buffer never pins old events.
		for len(ch) > 0 {
			<-ch
		}
	}
	close(stop)
	<-done
}

func TestStreamManagerConcurrentPublish(t *testing.T) {
	m := NewStreamManager()
	ch := m.Open(9)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Publish(9, StreamEvent{Type: StreamEventProgress, Percent: j})
			}
		}()
	}
	wg.Wait()

	m.Finish(9, StreamEvent{Type: StreamEventComplete})
	<-done
}
