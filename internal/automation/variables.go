package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Variables is the flattened template context for one dispatch. Keys are
// namespaced, e.g. ticket.status or event.type.
type Variables map[string]string

// Clone returns an independent copy of v.
func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for key, value := range v {
		out[key] = value
	}
	return out
}

// Keys returns the variable names in sorted order.
func (v Variables) Keys() []string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

const (
	timestampLayout       = "2006-01-02T15:04:05Z"
	timestampLayoutMicros = "2006-01-02T15:04:05.000000Z"
)

// SerializeValue converts a value into the text used in templates and
// comparisons. Every component that stringifies event data goes through it.
func SerializeValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return formatTimestamp(v)
	case *time.Time:
		if v == nil {
			return ""
		}
		return formatTimestamp(*v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return ""
		}
		return SerializeValue(rv.Elem().Interface())
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if (rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice) && rv.IsNil() {
			return ""
		}
		if encoded, err := compactJSON(value); err == nil {
			return encoded
		}
	}
	return fmt.Sprint(value)
}

func formatTimestamp(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 != 0 {
		return t.Truncate(time.Microsecond).Format(timestampLayoutMicros)
	}
	return t.Format(timestampLayout)
}

func compactJSON(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalizeStructure(value)); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// normalizeStructure rewrites timestamps nested in maps and slices so JSON
// output uses the same UTC form as scalar serialization.
func normalizeStructure(value any) any {
	switch v := value.(type) {
	case time.Time:
		return formatTimestamp(v)
	case *time.Time:
		if v == nil {
			return nil
		}
		return formatTimestamp(*v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = normalizeStructure(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeStructure(item)
		}
		return out
	default:
		return value
	}
}

// BuildVariableContext flattens the ticket snapshots of one event into
// template variables. Values are taken from after, then payload, then
// before. Extra variables (for example webhook.*) are merged before the
// event.* keys, which always win.
func BuildVariableContext(eventType string, triggeredAt time.Time, before, after, payload map[string]any, extra map[string]string) Variables {
	vars := make(Variables)

	keys := make(map[string]struct{})
	for _, source := range []map[string]any{before, after, payload} {
		for key := range source {
			keys[key] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(keys))
	for key := range keys {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		vars["ticket."+key] = SerializeValue(firstPresent(key, after, payload, before))
	}

	for _, field := range PreviousValueFields {
		if value, ok := before[field]; ok {
			vars["ticket.previous_"+field] = SerializeValue(value)
		}
	}

	for key, value := range extra {
		vars[key] = value
	}

	vars["event.type"] = eventType
	vars["event.triggered_at"] = SerializeValue(triggeredAt)
	return vars
}

func firstPresent(key string, sources ...map[string]any) any {
	for _, source := range sources {
		if value, ok := source[key]; ok && value != nil {
			return value
		}
	}
	return nil
}

// TicketIdentifier returns the first non-empty id across after, payload and
// before, or "unknown".
func TicketIdentifier(before, after, payload map[string]any) string {
	for _, source := range []map[string]any{after, payload, before} {
		if id := SerializeValue(source["id"]); id != "" {
			return id
		}
	}
	return "unknown"
}
