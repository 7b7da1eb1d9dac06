package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tacticaldesk/internal/metrics"
	"tacticaldesk/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store is the persistence collaborator of the engine.
type Store interface {
	// ListEventAutomations returns automations of kind "event" in a stable order.
	ListEventAutomations(ctx context.Context) ([]*models.Automation, error)
	// SaveTriggered persists last_trigger_at and the run audit for every
	// record. Each record is committed atomically and its automation's
	// LastTriggerAt is set only once that record is committed.
	SaveTriggered(ctx context.Context, records []TriggeredRecord) error
}

// TriggeredRecord is the outcome of one matched automation in a dispatch.
type TriggeredRecord struct {
	Automation  *models.Automation
	EventType   string
	TicketID    string
	TriggeredAt time.Time
	Actions     []RenderedAction
}

// Run statuses.
const (
	RunSuccess = "success"
	RunPartial = "partial"
	RunFailed  = "failed"
)

// Status summarises the action outcomes.
func (r TriggeredRecord) Status() string {
	failed := 0
	for _, action := range r.Actions {
		if action.Error != "" {
			failed++
		}
	}
	switch {
	case failed == 0:
		return RunSuccess
	case failed == len(r.Actions):
		return RunFailed
	default:
		return RunPartial
	}
}

// Event is one inbound domain event.
type Event struct {
	Type    string
	Before  map[string]any
	After   map[string]any
	Payload map[string]any
	// Variables are merged into the template context, e.g. webhook.* keys.
	Variables map[string]string
}

// Engine matches events against event automations and runs their actions.
type Engine struct {
	store    Store
	registry *Registry
	events   *EventLog
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for triggered_at.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine. A nil registry runs no handlers and a nil
// event log gets a private one.
func NewEngine(store Store, registry *Registry, events *EventLog, logger *logrus.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if events == nil {
		events = NewEventLog()
	}
	e := &Engine{
		store:    store,
		registry: registry,
		events:   events,
		logger:   logger,
		now:      time.Now,
		tracer:   otel.Tracer("tacticaldesk/automation"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events returns the engine's event log.
func (e *Engine) Events() *EventLog { return e.events }

// Registry returns the engine's action registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Dispatch evaluates every event automation against event, runs the actions
// of those that match and returns them. An error is returned when the
// automation list cannot be loaded, or alongside the matched automations
// when persisting the batch fails.
func (e *Engine) Dispatch(ctx context.Context, event Event) ([]*models.Automation, error) {
	ctx, span := e.tracer.Start(ctx, "AutomationEngine.Dispatch",
		trace.WithAttributes(attribute.String("automation.event", event.Type)))
	defer span.End()

	start := time.Now()
	defer e.metrics.ObserveDispatch(event.Type, start)

	if e.store == nil {
		return nil, errors.New("automation store not configured")
	}
	automations, err := e.store.ListEventAutomations(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list automations failed")
		return nil, fmt.Errorf("list event automations: %w", err)
	}

	ec := EventContext{
		EventType: event.Type,
		Before:    orEmpty(event.Before),
		After:     orEmpty(event.After),
		Payload:   orEmpty(event.Payload),
	}
	triggeredAt := e.now().UTC()
	vars := BuildVariableContext(event.Type, triggeredAt, ec.Before, ec.After, ec.Payload, event.Variables)
	ticketID := TicketIdentifier(ec.Before, ec.After, ec.Payload)

	triggered := make([]*models.Automation, 0)
	records := make([]TriggeredRecord, 0)
	for _, automation := range automations {
		record, ok := e.runAutomation(ctx, automation, ec, vars, ticketID, triggeredAt)
		if !ok {
			continue
		}
		triggered = append(triggered, automation)
		records = append(records, record)
	}

	e.metrics.IncrementMatches(event.Type, len(triggered))
	e.metrics.SetEventLogSize(e.events.Len())
	span.SetAttributes(
		attribute.Int("automation.candidates", len(automations)),
		attribute.Int("automation.matched", len(triggered)),
	)

	if len(records) == 0 {
		return triggered, nil
	}
	if err := e.store.SaveTriggered(ctx, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save triggered failed")
		e.logger.WithError(err).WithField("event", event.Type).Error("failed to persist triggered automations")
		return triggered, fmt.Errorf("save triggered automations: %w", err)
	}
	return triggered, nil
}

// runAutomation matches and executes one automation. A panic anywhere in
// matching or action execution is contained to this automation.
func (e *Engine) runAutomation(ctx context.Context, automation *models.Automation, ec EventContext, vars Variables, ticketID string, triggeredAt time.Time) (record TriggeredRecord, matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"automation_id": automation.ID,
				"event":         ec.EventType,
			}).Errorf("automation evaluation panicked: %v", r)
			record, matched = TriggeredRecord{}, false
		}
	}()

	if !AutomationMatches(automation, ec) {
		return TriggeredRecord{}, false
	}

	actions := e.executeActions(ctx, automation, ec.EventType, vars, ticketID)

	e.events.Dispatch(EventAutomationTriggered, ticketID, map[string]any{
		"automation_id":   automation.ID,
		"automation_name": automation.Name,
		"trigger_event":   ec.EventType,
		"triggered_at":    vars["event.triggered_at"],
		"variables":       vars,
		"actions":         actions,
	})

	e.logger.WithFields(logrus.Fields{
		"automation_id": automation.ID,
		"automation":    automation.Name,
		"event":         ec.EventType,
		"ticket":        ticketID,
		"actions":       len(actions),
	}).Info("automation triggered")

	return TriggeredRecord{
		Automation:  automation,
		EventType:   ec.EventType,
		TicketID:    ticketID,
		TriggeredAt: triggeredAt,
		Actions:     actions,
	}, true
}

func (e *Engine) executeActions(ctx context.Context, automation *models.Automation, eventType string, vars Variables, ticketID string) []RenderedAction {
	rendered := make([]RenderedAction, 0)

	entries, err := DecodeActionEntries(automation.TicketActions)
	if err != nil {
		e.logger.WithError(err).WithField("automation_id", automation.ID).Warn("skipping malformed ticket actions")
		return rendered
	}

	for _, entry := range entries {
		action, err := ParseTicketAction(entry)
		if err != nil {
			e.logger.WithError(err).WithField("automation_id", automation.ID).Debug("skipping malformed action entry")
			continue
		}

		record := RenderedAction{
			Action:   string(action.Action),
			Value:    Render(action.Value, vars),
			Template: action.Value,
		}

		handler, ok := e.registry.Lookup(action.Action)
		if !ok || !action.Supported() {
			e.metrics.IncrementAction(string(action.Action), "skipped")
			rendered = append(rendered, record)
			continue
		}

		req := ActionRequest{
			Kind:             action.Action,
			Value:            record.Value,
			Template:         action.Value,
			Extras:           renderExtras(action.Extras, vars),
			AutomationID:     automation.ID,
			AutomationName:   automation.Name,
			EventType:        eventType,
			TicketIdentifier: ticketID,
			Variables:        vars,
		}
		if err := invokeHandler(ctx, handler, req); err != nil {
			record.Error = err.Error()
			e.metrics.IncrementAction(string(action.Action), "failed")
			e.logger.WithError(err).WithFields(logrus.Fields{
				"automation_id": automation.ID,
				"action":        action.Action,
			}).Warn("automation action failed")
		} else {
			e.metrics.IncrementAction(string(action.Action), "success")
		}
		rendered = append(rendered, record)
	}
	return rendered
}

func invokeHandler(ctx context.Context, handler ActionHandler, req ActionRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action handler panicked: %v", r)
		}
	}()
	return handler.Handle(ctx, req)
}

func renderExtras(extras map[string]string, vars Variables) map[string]string {
	if len(extras) == 0 {
		return nil
	}
	out := make(map[string]string, len(extras))
	for key, value := range extras {
		out[key] = Render(value, vars)
	}
	return out
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
