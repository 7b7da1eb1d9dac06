package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MatchMode combines the results of a filter's conditions.
type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

// TriggerCondition is one clause of a trigger filter.
type TriggerCondition struct {
	Type     string    `json:"type"`
	Operator *Operator `json:"operator,omitempty"`
	Value    *string   `json:"value,omitempty"`
}

// TriggerFilter is a structured replacement for a single trigger name.
type TriggerFilter struct {
	Match      MatchMode          `json:"match"`
	Conditions []TriggerCondition `json:"conditions"`
}

// ParseFilter decodes a stored filter payload. Condition entries may be bare
// strings, and the condition type may be given as "type", "trigger" or
// "label". Unknown condition types are accepted here; ValidateFilter rejects
// them when an automation is configured. An empty condition list parses
// successfully and never matches.
func ParseFilter(raw []byte) (TriggerFilter, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return TriggerFilter{}, fmt.Errorf("decode trigger filter: %w", err)
	}
	return FilterFromValue(doc)
}

// FilterFromValue coerces an already decoded JSON value into a filter.
func FilterFromValue(doc any) (TriggerFilter, error) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return TriggerFilter{}, fmt.Errorf("trigger filter must be an object, got %T", doc)
	}

	match, err := parseMatch(obj["match"])
	if err != nil {
		return TriggerFilter{}, err
	}

	var entries []any
	switch v := obj["conditions"].(type) {
	case nil:
	case string:
		entries = []any{v}
	case []any:
		entries = v
	default:
		return TriggerFilter{}, fmt.Errorf("conditions must be a list, got %T", v)
	}

	filter := TriggerFilter{Match: match, Conditions: make([]TriggerCondition, 0, len(entries))}
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		condition, err := parseCondition(entry)
		if err != nil {
			return TriggerFilter{}, fmt.Errorf("condition %d: %w", i, err)
		}
		key := condition.dedupeKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		filter.Conditions = append(filter.Conditions, condition)
	}
	return filter, nil
}

func parseMatch(value any) (MatchMode, error) {
	if value == nil {
		return MatchAny, nil
	}
	s, ok := value.(string)
	if !ok {
		return "", ErrInvalidMatch
	}
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchAny:
		return MatchAny, nil
	case MatchAll:
		return MatchAll, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMatch, s)
	}
}

func parseCondition(entry any) (TriggerCondition, error) {
	var obj map[string]any
	switch v := entry.(type) {
	case string:
		obj = map[string]any{"type": v}
	case map[string]any:
		obj = v
	case nil:
		obj = map[string]any{}
	default:
		return TriggerCondition{}, fmt.Errorf("unexpected condition %T", entry)
	}

	var condition TriggerCondition
	for _, key := range []string{"type", "trigger", "label"} {
		if s := SerializeValue(obj[key]); s != "" {
			condition.Type = strings.TrimSpace(s)
			break
		}
	}
	if condition.Type == "" {
		return TriggerCondition{}, ErrEmptyCondition
	}
	if !RequiresValue(condition.Type) {
		return condition, nil
	}

	op := Operator(strings.ToLower(strings.TrimSpace(SerializeValue(obj["operator"]))))
	if op == "" {
		return TriggerCondition{}, fmt.Errorf("%s: %w", condition.Type, ErrOperatorRequired)
	}
	if !op.Valid() {
		return TriggerCondition{}, fmt.Errorf("%s: %w %q", condition.Type, ErrUnsupportedOperator, op)
	}
	value := strings.TrimSpace(SerializeValue(obj["value"]))
	if value == "" {
		return TriggerCondition{}, fmt.Errorf("%s: %w", condition.Type, ErrValueRequired)
	}
	condition.Operator = &op
	condition.Value = &value
	return condition, nil
}

// ValidateFilter checks a filter at configuration time: it must have at
// least one condition and every condition type must be in the catalogue.
func ValidateFilter(filter TriggerFilter) error {
	if filter.Match != MatchAll && filter.Match != MatchAny {
		return fmt.Errorf("%w: %q", ErrInvalidMatch, filter.Match)
	}
	if len(filter.Conditions) == 0 {
		return ErrEmptyFilter
	}
	for _, condition := range filter.Conditions {
		if !IsSupportedCondition(condition.Type) {
			return fmt.Errorf("%w: %q", ErrUnsupportedTrigger, condition.Type)
		}
	}
	return nil
}

func (c TriggerCondition) dedupeKey() string {
	return c.Type + "|" + string(c.operator()) + "|" + c.value()
}

func (c TriggerCondition) operator() Operator {
	if c.Operator == nil {
		return ""
	}
	return *c.Operator
}

func (c TriggerCondition) value() string {
	if c.Value == nil {
		return ""
	}
	return *c.Value
}

// DisplayText renders the condition for listings, for example
// `Ticket Status Equals "Open"`.
func (c TriggerCondition) DisplayText() string {
	if RequiresValue(c.Type) && c.operator() != "" && c.value() != "" {
		return fmt.Sprintf("%s %s \"%s\"", c.Type, c.operator().Label(), c.value())
	}
	return c.Type
}

// SortKey is a lower-cased key used to order conditions in listings.
func (c TriggerCondition) SortKey() string {
	base := c.Type
	if op := c.operator(); op != "" {
		base += " " + string(op)
	}
	if v := c.value(); v != "" {
		base += " " + v
	}
	return strings.ToLower(base)
}

// DisplayText summarises the filter: a single condition shows its own text,
// several are prefixed with ALL: or ANY:.
func (f TriggerFilter) DisplayText() string {
	switch len(f.Conditions) {
	case 0:
		return ""
	case 1:
		return f.Conditions[0].DisplayText()
	}
	parts := make([]string, 0, len(f.Conditions))
	for _, condition := range f.Conditions {
		parts = append(parts, condition.DisplayText())
	}
	prefix := "ANY"
	if f.Match == MatchAll {
		prefix = "ALL"
	}
	return prefix + ": " + strings.Join(parts, ", ")
}

// DerivedTrigger returns the legacy trigger name implied by the filter: the
// type of its only condition when that condition carries no operator.
func (f TriggerFilter) DerivedTrigger() (string, bool) {
	if len(f.Conditions) != 1 || f.Conditions[0].Operator != nil {
		return "", false
	}
	return f.Conditions[0].Type, true
}
