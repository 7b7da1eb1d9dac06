package automation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLog_DispatchAndList(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("X", 7200))
	log := NewEventLogWithClock(func() time.Time { return at })

	payload := map[string]any{"automation_id": uint(3)}
	event := log.Dispatch(EventAutomationTriggered, "TD-5", payload)
	payload["automation_id"] = uint(99)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, time.UTC, event.CreatedAt.Location())
	assert.True(t, event.CreatedAt.Equal(at))

	events := log.ListEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventAutomationTriggered, events[0].EventType)
	assert.Equal(t, "TD-5", events[0].TicketID)
	assert.Equal(t, uint(3), events[0].Payload["automation_id"], "payload is copied on write")

	events[0].Payload["automation_id"] = "mutated"
	assert.Equal(t, uint(3), log.ListEvents()[0].Payload["automation_id"], "snapshots are copies")
}

func TestEventLog_NestedPayloadIsolation(t *testing.T) {
	log := NewEventLog()
	vars := Variables{"ticket.id": "TD-5"}
	actions := []RenderedAction{{Action: "send-ntfy-notification", Value: "hi"}}
	log.Dispatch(EventAutomationTriggered, "TD-5", map[string]any{
		"variables": vars,
		"actions":   actions,
		"nested":    map[string]any{"tags": []any{"a"}},
	})

	// 写入后修改调用方的数据
	vars["ticket.id"] = "changed"
	actions[0].Value = "changed"

	snapshot := log.ListEvents()[0]
	gotVars := snapshot.Payload["variables"].(Variables)
	gotActions := snapshot.Payload["actions"].([]RenderedAction)
	assert.Equal(t, "TD-5", gotVars["ticket.id"])
	assert.Equal(t, "hi", gotActions[0].Value)

	// 修改快照不影响日志
	gotVars["ticket.id"] = "mutated"
	gotActions[0].Value = "mutated"
	snapshot.Payload["nested"].(map[string]any)["tags"].([]any)[0] = "mutated"

	again := log.ListEvents()[0]
	assert.Equal(t, "TD-5", again.Payload["variables"].(Variables)["ticket.id"])
	assert.Equal(t, "hi", again.Payload["actions"].([]RenderedAction)[0].Value)
	assert.Equal(t, "a", again.Payload["nested"].(map[string]any)["tags"].([]any)[0])
}

func TestEventLog_Reset(t *testing.T) {
	log := NewEventLog()
	log.Dispatch("a", "1", nil)
	log.Dispatch("b", "2", nil)
	assert.Equal(t, 2, log.Len())

	log.Reset()
	assert.Equal(t, 0, log.Len())
	assert.Empty(t, log.ListEvents())
}

func TestEventLog_ConcurrentDispatch(t *testing.T) {
	log := NewEventLog()
	const workers, perWorker = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				log.Dispatch(EventAutomationTriggered, fmt.Sprintf("TD-%d-%d", w, i), map[string]any{"i": i})
				_ = log.ListEvents()
			}
		}(w)
	}
	wg.Wait()

	events := log.ListEvents()
	require.Len(t, events, workers*perWorker)
	ids := make(map[uuid.UUID]struct{}, len(events))
	for _, event := range events {
		ids[event.ID] = struct{}{}
	}
	assert.Len(t, ids, workers*perWorker)
}
