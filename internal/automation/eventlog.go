package automation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DispatchedEvent is one record in the event log.
type DispatchedEvent struct {
	ID        uuid.UUID      `json:"id"`
	EventType string         `json:"event_type"`
	TicketID  string         `json:"ticket_id"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventLog is an in-memory, append-only record of dispatched events. All
// operations serialize on one mutex. Construct one per process and inject
// it; tests build their own.
type EventLog struct {
	mu     sync.Mutex
	events []DispatchedEvent
	now    func() time.Time
}

// NewEventLog creates an empty log stamped with the wall clock.
func NewEventLog() *EventLog {
	return &EventLog{now: time.Now}
}

// NewEventLogWithClock creates an empty log that stamps records with now.
func NewEventLogWithClock(now func() time.Time) *EventLog {
	if now == nil {
		now = time.Now
	}
	return &EventLog{now: now}
}

// Dispatch appends a record and returns it. The payload is deep-copied.
func (l *EventLog) Dispatch(eventType, ticketID string, payload map[string]any) DispatchedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	event := DispatchedEvent{
		ID:        uuid.New(),
		EventType: eventType,
		TicketID:  ticketID,
		Payload:   copyPayload(payload),
		CreatedAt: l.now().UTC(),
	}
	l.events = append(l.events, event)
	return cloneEvent(event)
}

// ListEvents returns a snapshot of all records in insertion order.
func (l *EventLog) ListEvents() []DispatchedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]DispatchedEvent, len(l.events))
	for i, event := range l.events {
		out[i] = cloneEvent(event)
	}
	return out
}

// Len returns the number of records.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Reset clears all records.
func (l *EventLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

func cloneEvent(event DispatchedEvent) DispatchedEvent {
	event.Payload = copyPayload(event.Payload)
	return event
}

// copyPayload deep-copies the containers a payload can hold so records never
// share state with callers.
func copyPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = copyValue(value)
	}
	return out
}

func copyValue(value any) any {
	switch v := value.(type) {
	case Variables:
		return v.Clone()
	case map[string]string:
		return map[string]string(Variables(v).Clone())
	case []RenderedAction:
		return append([]RenderedAction(nil), v...)
	case map[string]any:
		return copyPayload(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = copyValue(item)
		}
		return out
	default:
		return value
	}
}
