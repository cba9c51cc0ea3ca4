package services

import (
	"sync"
	"time"
)

// StreamEventType mirrors the SSE event names pushed to a listening client.
type StreamEventType string

const (
	StreamEventLog      StreamEventType = "log"
	StreamEventProgress StreamEventType = "progress"
	StreamEventComplete StreamEventType = "complete"
	StreamEventError    StreamEventType = "error"
)

// StreamEvent is one message on a content's processing stream.
type StreamEvent struct {
	Type      StreamEventType        `json:"type"`
	Message   string                 `json:"message,omitempty"`
	Percent   int                    `json:"percent,omitempty"`
	Stage     string                 `json:"stage,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// StreamManager fans pipeline events out to at most one SSE listener per
// content. Subscriptions live in process memory only; a listener attached
// to another instance of the server sees nothing. Events published while
// nobody is listening are dropped rather than buffered.
type StreamManager struct {
	mu      sync.Mutex
	streams map[uint]chan StreamEvent
}

const streamBufferSize = 64

func NewStreamManager() *StreamManager {
	return &StreamManager{
		streams: make(map[uint]chan StreamEvent),
	}
}

// Open registers a listener for a content's events and returns the channel
// to read from. A previous listener for the same content is closed out; the
// newest connection wins.
func (m *StreamManager) Open(contentID uint) <-chan StreamEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.streams[contentID]; ok {
		close(prev)
	}
	ch := make(chan StreamEvent, streamBufferSize)
	m.streams[contentID] = ch
	return ch
}

// Close removes the listener for a content if the given channel is still the
// registered one. Safe to call after the stream already ended.
func (m *StreamManager) Close(contentID uint, ch <-chan StreamEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.streams[contentID]
	if !ok || (<-chan StreamEvent)(current) != ch {
		return
	}
	close(current)
	delete(m.streams, contentID)
}

// Publish delivers an event to the content's listener without blocking. If
// no listener exists, or the listener's buffer is full, the event is
// dropped: job execution never waits on a slow client.
func (m *StreamManager) Publish(contentID uint, event StreamEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// The send must happen under the lock: Open closes a replaced channel,
	// and sending on it after that close would panic the publisher.
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.streams[contentID]
	if !ok {
		return
	}
	select {
	case ch <- event:
	default:
	}
}

// Finish publishes a terminal event and tears the stream down so the client
// sees the channel close after the final message.
func (m *StreamManager) Finish(contentID uint, event StreamEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.streams[contentID]
	if !ok {
		return
	}
	select {
	case ch <- event:
	default:
	}
	close(ch)
	delete(m.streams, contentID)
}

// HasListener reports whether someone is currently subscribed to a content.
func (m *StreamManager) HasListener(contentID uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.streams[contentID]
	return ok
}

// ActiveStreams returns the number of open subscriptions, for metrics.
func (m *StreamManager) ActiveStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}
