package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// ActionKind identifies a ticket action.
type ActionKind string

const (
	ActionSendNtfy          ActionKind = "send-ntfy-notification"
	ActionSendSMTPEmail     ActionKind = "send-smtp-email"
	ActionAddPublicComment  ActionKind = "add-public-comment"
	ActionAddPrivateComment ActionKind = "add-private-comment"
	ActionChangeStatus      ActionKind = "change-status"
	ActionChangePriority    ActionKind = "change-priority"
	ActionChangeTeam        ActionKind = "change-team"
	ActionChangeAssignment  ActionKind = "change-assignment"
	ActionChangeQueue       ActionKind = "change-queue"
)

// ActionDefinition is a catalogue entry for an action kind.
type ActionDefinition struct {
	Kind  ActionKind `json:"slug"`
	Label string     `json:"label"`
}

// Actions is the catalogue of supported ticket actions.
var Actions = []ActionDefinition{
	{ActionSendNtfy, "Send ntfy notification"},
	{ActionSendSMTPEmail, "Send email via SMTP"},
	{ActionAddPublicComment, "Add public comment"},
	{ActionAddPrivateComment, "Add private comment"},
	{ActionChangeStatus, "Change status"},
	{ActionChangePriority, "Change priority"},
	{ActionChangeTeam, "Change team"},
	{ActionChangeAssignment, "Change assignment"},
	{ActionChangeQueue, "Change queue"},
}

var actionAliases = map[string]ActionKind{
	"send-notification": ActionSendNtfy,
}

// Supported reports whether k is part of the action catalogue.
func (k ActionKind) Supported() bool {
	for _, def := range Actions {
		if def.Kind == k {
			return true
		}
	}
	return false
}

// ResolveActionKind maps a slug, alias or label to an action kind. The
// second result is false for identifiers outside the catalogue, in which
// case the lower-cased identifier is returned.
func ResolveActionKind(identifier string) (ActionKind, bool) {
	candidate := strings.TrimSpace(identifier)
	slug := strings.ToLower(candidate)
	if kind := ActionKind(slug); kind.Supported() {
		return kind, true
	}
	if kind, ok := actionAliases[slug]; ok {
		return kind, true
	}
	fold := cases.Fold()
	folded := fold.String(candidate)
	for _, def := range Actions {
		if fold.String(def.Label) == folded {
			return def.Kind, true
		}
	}
	return ActionKind(slug), false
}

// TicketAction is one parsed entry of an automation's action list. Extras
// holds additional templated fields such as topic, subject or recipients.
type TicketAction struct {
	Action    ActionKind        `json:"action"`
	Value     string            `json:"value"`
	Extras    map[string]string `json:"-"`
	supported bool
}

// Supported reports whether the action resolved to a catalogue kind.
func (a TicketAction) Supported() bool { return a.supported }

// MarshalJSON flattens extras next to action and value.
func (a TicketAction) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(a.Extras)+2)
	for key, value := range a.Extras {
		out[key] = value
	}
	out["action"] = string(a.Action)
	out["value"] = a.Value
	return json.Marshal(out)
}

var (
	actionKeys   = []string{"action", "slug", "name", "label", "type"}
	valueKeys    = []string{"value", "details", "text", "body"}
	reservedKeys = toSet(append(append([]string{}, actionKeys...), valueKeys...))
)

// ParseTicketAction coerces one stored action entry. Unknown action
// identifiers parse successfully with Supported() == false.
func ParseTicketAction(entry any) (TicketAction, error) {
	obj, ok := entry.(map[string]any)
	if !ok {
		return TicketAction{}, fmt.Errorf("action entry must be an object, got %T", entry)
	}

	var identifier string
	for _, key := range actionKeys {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			identifier = s
			break
		}
	}
	if strings.TrimSpace(identifier) == "" {
		return TicketAction{}, ErrActionRequired
	}

	var value string
	for _, key := range valueKeys {
		raw, present := obj[key]
		if !present || raw == nil {
			continue
		}
		if s := SerializeValue(raw); strings.TrimSpace(s) != "" {
			value = s
			break
		}
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return TicketAction{}, ErrActionValueRequired
	}

	kind, supported := ResolveActionKind(identifier)
	action := TicketAction{Action: kind, Value: value, supported: supported}
	for key, raw := range obj {
		if _, reserved := reservedKeys[key]; reserved || raw == nil {
			continue
		}
		if action.Extras == nil {
			action.Extras = make(map[string]string)
		}
		action.Extras[key] = extraValue(raw)
	}
	return action, nil
}

func extraValue(raw any) string {
	if items, ok := raw.([]any); ok {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if s := strings.TrimSpace(SerializeValue(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return SerializeValue(raw)
}

// DecodeActionEntries decodes a stored action list into raw entries.
func DecodeActionEntries(raw string) ([]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var entries []any
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode ticket actions: %w", err)
	}
	return entries, nil
}

// ValidateTicketActions parses entries at configuration time and rejects
// malformed entries and unsupported actions.
func ValidateTicketActions(entries []any) ([]TicketAction, error) {
	actions := make([]TicketAction, 0, len(entries))
	for i, entry := range entries {
		action, err := ParseTicketAction(entry)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		if !action.Supported() {
			return nil, fmt.Errorf("action %d: %w: %q", i, ErrUnsupportedAction, action.Action)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// ActionRequest carries a rendered action to its handler.
type ActionRequest struct {
	Kind             ActionKind
	Value            string
	Template         string
	Extras           map[string]string
	AutomationID     uint
	AutomationName   string
	EventType        string
	TicketIdentifier string
	Variables        Variables
}

// ActionHandler performs the side effect of one action kind.
type ActionHandler interface {
	Handle(ctx context.Context, req ActionRequest) error
}

// ActionHandlerFunc adapts a function to ActionHandler.
type ActionHandlerFunc func(ctx context.Context, req ActionRequest) error

func (f ActionHandlerFunc) Handle(ctx context.Context, req ActionRequest) error {
	return f(ctx, req)
}

// Registry maps action kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[ActionKind]ActionHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[ActionKind]ActionHandler)}
}

// Register installs handler for kind, replacing any previous handler.
func (r *Registry) Register(kind ActionKind, handler ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
}

// Lookup returns the handler for kind.
func (r *Registry) Lookup(kind ActionKind) (ActionHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[kind]
	return handler, ok
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]ActionKind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Missing returns catalogue kinds without a registered handler.
func (r *Registry) Missing() []ActionKind {
	var missing []ActionKind
	for _, def := range Actions {
		if _, ok := r.Lookup(def.Kind); !ok {
			missing = append(missing, def.Kind)
		}
	}
	return missing
}

// RenderedAction is the audit record of one executed action.
type RenderedAction struct {
	Action   string `json:"action"`
	Value    string `json:"value"`
	Template string `json:"template"`
	Error    string `json:"error,omitempty"`
}
