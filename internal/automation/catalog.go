// Package automation implements trigger matching and action dispatch for
// event-driven helpdesk automations.
package automation

import "errors"

// Event trigger names.
const (
	EventTicketCreated             = "Ticket Created"
	EventTicketUpdatedByTechnician = "Ticket Updated by Technician"
	EventTicketUpdatedByCustomer   = "Ticket Updated by Customer"
	EventTicketStatusChanged       = "Ticket Status Changed"
	EventTicketStatusChangedTo     = "Ticket Status Changed To"
	EventTicketStatusChangedFrom   = "Ticket Status Changed From"
	EventTicketResolved            = "Ticket Resolved"
	EventHTTPPostWebhookReceived   = "HTTP POST Webhook Received"
	EventDiscordWebhookReceived    = "Discord Webhook Received"
	EventAutomationTriggered       = "Automation Triggered"
)

// Field-comparison condition types that require an operator and a value.
const (
	ConditionAssignedTo     = "Assigned to"
	ConditionAssignedSLA    = "Assigned SLA"
	ConditionCustomer       = "Customer"
	ConditionTicketPriority = "Ticket Priority"
	ConditionTicketStatus   = "Ticket Status"
	ConditionTicketSubject  = "Ticket Subject"
	ConditionTicketType     = "Ticket Type"
)

// EventTriggers lists the trigger names an event automation may respond to.
var EventTriggers = []string{
	EventTicketCreated,
	EventTicketUpdatedByTechnician,
	EventTicketUpdatedByCustomer,
	EventTicketStatusChanged,
	EventTicketStatusChangedTo,
	EventTicketStatusChangedFrom,
	EventTicketResolved,
	EventHTTPPostWebhookReceived,
	EventDiscordWebhookReceived,
}

// ValueRequiredTriggers lists condition types that compare a ticket field.
var ValueRequiredTriggers = []string{
	ConditionAssignedTo,
	ConditionAssignedSLA,
	ConditionCustomer,
	ConditionTicketPriority,
	ConditionTicketStatus,
	ConditionTicketSubject,
	ConditionTicketType,
	EventTicketStatusChangedTo,
	EventTicketStatusChangedFrom,
}

// PreviousValueFields are copied from the pre-update snapshot as
// ticket.previous_<field> template variables.
var PreviousValueFields = []string{"status", "priority", "assignment", "team", "queue"}

var (
	eventTriggerSet  = toSet(EventTriggers)
	valueRequiredSet = toSet(ValueRequiredTriggers)
	statusChangedSet = toSet([]string{EventTicketStatusChanged, EventTicketStatusChangedTo, EventTicketStatusChangedFrom})
)

// Configuration errors. Match-time code never returns these.
var (
	ErrUnsupportedTrigger  = errors.New("unsupported trigger")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrOperatorRequired    = errors.New("operator is required for this trigger")
	ErrValueRequired       = errors.New("a value is required for this trigger")
	ErrEmptyCondition      = errors.New("condition type cannot be empty")
	ErrEmptyFilter         = errors.New("at least one trigger condition is required")
	ErrInvalidMatch        = errors.New("match must be 'all' or 'any'")
	ErrUnsupportedAction   = errors.New("unsupported automation action")
	ErrActionRequired      = errors.New("action identifier is required")
	ErrActionValueRequired = errors.New("action value is required")
)

// IsEventTrigger reports whether name is a supported event trigger.
func IsEventTrigger(name string) bool {
	_, ok := eventTriggerSet[name]
	return ok
}

// RequiresValue reports whether conditions of this type compare a field value.
func RequiresValue(conditionType string) bool {
	_, ok := valueRequiredSet[conditionType]
	return ok
}

// IsSupportedCondition reports whether conditionType belongs to the catalogue.
func IsSupportedCondition(conditionType string) bool {
	return IsEventTrigger(conditionType) || RequiresValue(conditionType)
}

// TemplateVariable describes one token available to action templates.
type TemplateVariable struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// TicketTemplateVariables documents the variables built for ticket events.
var TicketTemplateVariables = []TemplateVariable{
	{"ticket.id", "Ticket ID", "Unique identifier for the ticket (for example TD-4821)."},
	{"ticket.subject", "Subject", "Latest ticket subject provided by the requester or technician."},
	{"ticket.customer", "Customer", "Customer or organisation name associated with the ticket."},
	{"ticket.customer_email", "Customer email", "Primary contact email stored on the ticket record."},
	{"ticket.status", "Status", "Current workflow status after the most recent update."},
	{"ticket.previous_status", "Previous status", "Ticket status value prior to the triggering update."},
	{"ticket.priority", "Priority", "Current ticket priority label."},
	{"ticket.previous_priority", "Previous priority", "Ticket priority value before the automation executed."},
	{"ticket.team", "Team", "Assigned response team for the ticket after the update."},
	{"ticket.previous_team", "Previous team", "Team assignment prior to the triggering update."},
	{"ticket.assignment", "Assignee", "Technician currently assigned to the ticket."},
	{"ticket.previous_assignment", "Previous assignee", "Technician assignment before the automation fired."},
	{"ticket.queue", "Queue", "Queue or workflow lane associated with the ticket."},
	{"ticket.previous_queue", "Previous queue", "Queue value prior to the triggering change."},
	{"ticket.category", "Category", "Ticket category captured on the most recent update."},
	{"ticket.summary", "Summary", "Latest summary or troubleshooting notes captured on the ticket."},
	{"event.type", "Event type", "Event name that triggered the automation."},
	{"event.triggered_at", "Triggered at (UTC)", "ISO 8601 timestamp (UTC) when the automation executed."},
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
