package services

import (
	"context"
	"testing"
	"time"

	"tacticaldesk/internal/automation"
	"tacticaldesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type ticketFixture struct {
	db      *gorm.DB
	engine  *automation.Engine
	tickets *TicketService
	autos   *AutomationService
}

func newTicketFixture(t *testing.T) *ticketFixture {
	t.Helper()
	db := newTestDB(t)
	logger := quietLogger()

	registry := automation.NewRegistry()
	notifications := NewNotificationService(db, testNotificationsConfig(), logger, WithPublisher(&mockPublisher{}))
	RegisterDefaultHandlers(registry, notifications, NewTicketActionService(db, logger))

	now := func() time.Time { return time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC) }
	engine := automation.NewEngine(NewAutomationStore(db, logger), registry, automation.NewEventLogWithClock(now), logger, automation.WithClock(now))

	return &ticketFixture{
		db:      db,
		engine:  engine,
		tickets: NewTicketService(db, engine, time.Second, logger),
		autos:   NewAutomationService(db, logger),
	}
}

func (f *ticketFixture) addAutomation(t *testing.T, req AutomationRequest) *models.Automation {
	t.Helper()
	a, err := f.autos.CreateAutomation(context.Background(), &req)
	require.NoError(t, err)
	return a
}

func TestTicketService_CreateTicketRunsAutomations(t *testing.T) {
	f := newTicketFixture(t)
	created := f.addAutomation(t, AutomationRequest{
		Name:    "triage",
		Trigger: strPtr("Ticket Created"),
		TicketActions: []byte(`[
			{"action":"add-private-comment","value":"Auto triage for {{ ticket.subject }}"},
			{"action":"change-priority","value":"High"}
		]`),
	})
	f.addAutomation(t, AutomationRequest{Name: "resolved only", Trigger: strPtr("Ticket Resolved")})

	res, err := f.tickets.CreateTicket(context.Background(), &TicketCreateRequest{Subject: "VPN down", Customer: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, "TD-1001", res.Ticket.Reference)
	assert.Equal(t, automation.EventTicketCreated, res.Event)
	assert.Equal(t, []string{"triage"}, res.Triggered)
	assert.Equal(t, "High", res.Ticket.Priority, "response reflects automation changes")
	require.Len(t, res.Ticket.Comments, 1)
	assert.Equal(t, "Auto triage for VPN down", res.Ticket.Comments[0].Body)
	assert.False(t, res.Ticket.Comments[0].Public)
	assert.Equal(t, "Automation: triage", res.Ticket.Comments[0].Author)

	var runs []models.AutomationRun
	require.NoError(t, f.db.Where("automation_id = ?", created.ID).Find(&runs).Error)
	require.Len(t, runs, 1)
	assert.Equal(t, automation.RunSuccess, runs[0].Status)
	assert.Equal(t, "TD-1001", runs[0].TicketID)

	events := f.engine.Events().ListEvents()
	require.Len(t, events, 1)
	assert.Equal(t, automation.EventAutomationTriggered, events[0].EventType)
	assert.Equal(t, "TD-1001", events[0].TicketID)
}

func TestTicketService_UpdateDerivesEvent(t *testing.T) {
	f := newTicketFixture(t)
	f.addAutomation(t, AutomationRequest{
		Name: "resolved note",
		TriggerFilters: []byte(`{"match":"all","conditions":[
			{"type":"Ticket Status Changed To","operator":"equals","value":"resolved"}]}`),
		TicketActions: []byte(`[{"action":"add-public-comment","value":"Was {{ ticket.previous_status }}, now {{ ticket.status }}"}]`),
	})
	f.addAutomation(t, AutomationRequest{
		Name:          "customer reply",
		Trigger:       strPtr("Ticket Updated by Customer"),
		TicketActions: []byte(`[{"action":"change-queue","value":"Inbox"}]`),
	})

	ctx := context.Background()
	res, err := f.tickets.CreateTicket(ctx, &TicketCreateRequest{Subject: "Printer jam"})
	require.NoError(t, err)
	ref := res.Ticket.Reference

	res, err = f.tickets.UpdateTicket(ctx, ref, &TicketUpdateRequest{Status: strPtr("Resolved")})
	require.NoError(t, err)
	assert.Equal(t, automation.EventTicketResolved, res.Event)
	assert.Equal(t, []string{"resolved note"}, res.Triggered)
	require.Len(t, res.Ticket.Comments, 1)
	assert.Equal(t, "Was Open, now Resolved", res.Ticket.Comments[0].Body)
	assert.True(t, res.Ticket.Comments[0].Public)

	res, err = f.tickets.UpdateTicket(ctx, ref, &TicketUpdateRequest{Summary: strPtr("paper fixed"), Actor: "Customer"})
	require.NoError(t, err)
	assert.Equal(t, automation.EventTicketUpdatedByCustomer, res.Event)
	assert.Equal(t, []string{"customer reply"}, res.Triggered)
	assert.Equal(t, "Inbox", res.Ticket.Queue)

	res, err = f.tickets.UpdateTicket(ctx, ref, &TicketUpdateRequest{Summary: strPtr("paper fixed")})
	require.NoError(t, err)
	assert.Empty(t, res.Event, "no changes, no dispatch")
	assert.Empty(t, res.Triggered)

	_, err = f.tickets.UpdateTicket(ctx, "TD-9999", &TicketUpdateRequest{Status: strPtr("Closed")})
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestTicketService_HandlerFailureRecordedOnRun(t *testing.T) {
	f := newTicketFixture(t)
	a := f.addAutomation(t, AutomationRequest{
		Name:          "broken",
		Trigger:       strPtr("HTTP POST Webhook Received"),
		TicketActions: []byte(`[{"action":"change-status","value":"Closed"}]`),
	})

	// webhook 事件没有工单编号，动作记录错误但运行记录仍然保存
	triggered, err := f.engine.Dispatch(context.Background(), automation.Event{
		Type:    automation.EventHTTPPostWebhookReceived,
		Payload: map[string]any{"summary": "disk full"},
	})
	require.NoError(t, err)
	require.Len(t, triggered, 1)

	var run models.AutomationRun
	require.NoError(t, f.db.Where("automation_id = ?", a.ID).First(&run).Error)
	assert.Equal(t, automation.RunFailed, run.Status)
	assert.Equal(t, "unknown", run.TicketID)
	assert.Contains(t, run.Message, "ticket not found")
}

func TestTicketService_ListTickets(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	for _, subject := range []string{"VPN down", "Printer jam", "VPN slow"} {
		_, err := f.tickets.CreateTicket(ctx, &TicketCreateRequest{Subject: subject})
		require.NoError(t, err)
	}
	_, err := f.tickets.UpdateTicket(ctx, "td-1002", &TicketUpdateRequest{Status: strPtr("Closed")})
	require.NoError(t, err)

	tickets, total, err := f.tickets.ListTickets(ctx, &TicketListRequest{Search: "vpn"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, "VPN slow", tickets[0].Subject, "newest first")

	tickets, total, err = f.tickets.ListTickets(ctx, &TicketListRequest{Status: "closed", PageSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "TD-1002", tickets[0].Reference)

	_, err = f.tickets.CreateTicket(ctx, &TicketCreateRequest{Subject: "   "})
	assert.Error(t, err)
}

func TestTicketActionService_Handle(t *testing.T) {
	db := newTestDB(t)
	svc := NewTicketActionService(db, quietLogger())
	ctx := context.Background()
	require.NoError(t, db.Create(&models.Ticket{Reference: "TD-1001", Subject: "x"}).Error)

	tests := []struct {
		kind  automation.ActionKind
		field string
		value string
	}{
		{automation.ActionChangeStatus, "status", "Pending"},
		{automation.ActionChangePriority, "priority", "Low"},
		{automation.ActionChangeTeam, "team", "Network"},
		{automation.ActionChangeAssignment, "assignment", "alex"},
		{automation.ActionChangeQueue, "queue", "Tier 2"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := svc.Handle(ctx, automation.ActionRequest{Kind: tt.kind, Value: tt.value, TicketIdentifier: "td-1001"})
			require.NoError(t, err)
			var ticket models.Ticket
			require.NoError(t, db.Where("reference = ?", "TD-1001").First(&ticket).Error)
			assert.Equal(t, tt.value, ticket.Snapshot()[tt.field])
		})
	}

	err := svc.Handle(ctx, automation.ActionRequest{Kind: automation.ActionAddPublicComment, Value: "hi", TicketIdentifier: "unknown"})
	assert.ErrorIs(t, err, ErrTicketNotFound)
	err = svc.Handle(ctx, automation.ActionRequest{Kind: automation.ActionSendNtfy, Value: "hi", TicketIdentifier: "TD-1001"})
	assert.ErrorIs(t, err, automation.ErrUnsupportedAction)
	err = svc.Handle(ctx, automation.ActionRequest{Kind: automation.ActionChangeTeam, Value: " ", TicketIdentifier: "TD-1001"})
	assert.ErrorIs(t, err, automation.ErrActionValueRequired)
}

func TestRegisterDefaultHandlers(t *testing.T) {
	registry := automation.NewRegistry()
	RegisterDefaultHandlers(registry, NewNotificationService(nil, testNotificationsConfig(), quietLogger(), WithPublisher(&mockPublisher{})), NewTicketActionService(nil, quietLogger()))
	assert.Empty(t, registry.Missing())
	assert.Len(t, registry.Kinds(), len(automation.Actions))
}
