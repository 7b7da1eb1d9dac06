package automation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeValue(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	berlin := time.FixedZone("CET", 3600)

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, ""},
		{"string untouched", "  Open ", "  Open "},
		{"utc timestamp", ts, "2025-01-01T00:00:00Z"},
		{"timestamp pointer", &ts, "2025-01-01T00:00:00Z"},
		{"nil timestamp pointer", (*time.Time)(nil), ""},
		{"offset converted to utc", time.Date(2025, 1, 1, 1, 0, 0, 0, berlin), "2025-01-01T00:00:00Z"},
		{"microseconds kept", ts.Add(1500 * time.Microsecond), "2025-01-01T00:00:00.001500Z"},
		{"nanoseconds truncated", ts.Add(999), "2025-01-01T00:00:00Z"},
		{"bool", false, "false"},
		{"int", 7, "7"},
		{"float", 2.5, "2.5"},
		{"json number", json.Number("12.0"), "12.0"},
		{"error", errors.New("boom"), "boom"},
		{"map compact json", map[string]any{"b": 1, "a": "<x>"}, `{"a":"<x>","b":1}`},
		{"slice compact json", []any{"a", true}, `["a",true]`},
		{"nested timestamp", map[string]any{"at": ts}, `{"at":"2025-01-01T00:00:00Z"}`},
		{"nil map", map[string]any(nil), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SerializeValue(tt.value))
		})
	}
}

func TestBuildVariableContext(t *testing.T) {
	triggeredAt := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	before := map[string]any{"id": "TD-1", "status": "Open", "priority": "Low", "queue": "Tier 1", "legacy": "old"}
	after := map[string]any{"id": "TD-1", "status": "Resolved", "priority": nil}
	payload := map[string]any{"priority": "High", "summary": "Reset password"}
	extra := map[string]string{
		"webhook.id":         "evt-1",
		"event.type":         "spoofed",
		"event.triggered_at": "spoofed",
	}

	vars := BuildVariableContext(EventTicketResolved, triggeredAt, before, after, payload, extra)

	assert.Equal(t, "TD-1", vars["ticket.id"])
	assert.Equal(t, "Resolved", vars["ticket.status"])
	assert.Equal(t, "High", vars["ticket.priority"], "nil in after falls through to payload")
	assert.Equal(t, "Reset password", vars["ticket.summary"])
	assert.Equal(t, "old", vars["ticket.legacy"], "before is the last resort")
	assert.Equal(t, "Open", vars["ticket.previous_status"])
	assert.Equal(t, "Low", vars["ticket.previous_priority"])
	assert.Equal(t, "Tier 1", vars["ticket.previous_queue"])
	_, hasPreviousTeam := vars["ticket.previous_team"]
	assert.False(t, hasPreviousTeam)
	assert.Equal(t, "evt-1", vars["webhook.id"])
	assert.Equal(t, EventTicketResolved, vars["event.type"])
	assert.Equal(t, "2025-03-04T05:06:07Z", vars["event.triggered_at"])
}

func TestBuildVariableContext_EmptyInputs(t *testing.T) {
	vars := BuildVariableContext(EventTicketCreated, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), nil, nil, nil, nil)
	assert.Equal(t, []string{"event.triggered_at", "event.type"}, vars.Keys())
}

func TestVariables_Clone(t *testing.T) {
	vars := Variables{"ticket.id": "TD-1"}
	clone := vars.Clone()
	clone["ticket.id"] = "TD-2"
	assert.Equal(t, "TD-1", vars["ticket.id"])
}

func TestTicketIdentifier(t *testing.T) {
	assert.Equal(t, "TD-2", TicketIdentifier(map[string]any{"id": "TD-1"}, map[string]any{"id": "TD-2"}, nil))
	assert.Equal(t, "P-9", TicketIdentifier(map[string]any{"id": "TD-1"}, map[string]any{"id": ""}, map[string]any{"id": "P-9"}))
	assert.Equal(t, "TD-1", TicketIdentifier(map[string]any{"id": "TD-1"}, nil, nil))
	assert.Equal(t, "42", TicketIdentifier(nil, map[string]any{"id": 42}, nil))
	assert.Equal(t, "unknown", TicketIdentifier(nil, nil, nil))
}

func TestRender(t *testing.T) {
	vars := Variables{"ticket.id": "TD-1", "ticket.status": "Open", "webhook.summary": "{{ticket.id}}"}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"round trip", "Ticket {{ticket.id}} is {{ticket.status}}", "Ticket TD-1 is Open"},
		{"unknown token", "x{{nope}}y", "xy"},
		{"whitespace inside braces", "{{  ticket.id }}", "TD-1"},
		{"token keys are case sensitive", "{{TICKET.ID}}", ""},
		{"no tokens", "plain text", "plain text"},
		{"empty", "", ""},
		{"substitution is not rescanned", "{{webhook.summary}}", "{{ticket.id}}"},
		{"malformed token left alone", "{{ ticket id }}", "{{ ticket id }}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, vars))
		})
	}
}

func TestRender_UsesBuiltContext(t *testing.T) {
	vars := BuildVariableContext(EventTicketCreated, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		nil, map[string]any{"id": "TD-3", "subject": "Printer"}, nil, nil)
	got := Render("[{{event.type}}] {{ticket.id}}: {{ticket.subject}} at {{event.triggered_at}}", vars)
	require.Equal(t, "[Ticket Created] TD-3: Printer at 2025-01-01T00:00:00Z", got)
}
