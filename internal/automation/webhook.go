package automation

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// webhookFieldCandidates lists, per variable, the payload keys or dotted
// paths searched in order. A candidate also matches any nested path that
// ends with it at a "." or "[" boundary.
var webhookFieldCandidates = []struct {
	key        string
	candidates []string
}{
	{"webhook.id", []string{"id", "event_id", "event.id", "payload.id", "message_id", "data.id", "event.uuid"}},
	{"webhook.type", []string{"type", "event_type", "event.type", "detail-type", "headers.x-event-type", "kind", "action"}},
	{"webhook.summary", []string{"summary", "title", "subject", "short_description", "content", "message", "alert"}},
	{"webhook.details", []string{"details", "description", "body", "text", "content", "payload"}},
	{"webhook.source", []string{"source", "origin", "service", "application", "system", "provider", "webhook_id", "integration"}},
	{"webhook.actor", []string{"actor.name", "actor", "user.name", "user", "author.name", "author", "sender", "initiator"}},
	{"webhook.severity", []string{"severity", "priority", "level", "urgency", "impact"}},
	{"webhook.status", []string{"status", "state", "phase", "current_state"}},
	{"webhook.timestamp", []string{"timestamp", "time", "occurred_at", "created_at", "updated_at", "event_time"}},
	{"webhook.reference", []string{"url", "link", "permalink", "html_url", "web_url"}},
	{"webhook.tags", []string{"tags", "labels", "categories", "keywords"}},
	{"webhook.location", []string{"location", "site", "region", "environment"}},
}

var webhookCountCandidates = []string{"attachments", "files", "documents", "items", "records"}

// HTTPPostTemplateVariables documents the variables built for generic
// HTTPS POST webhooks.
var HTTPPostTemplateVariables = []TemplateVariable{
	{"webhook.id", "Event ID", "Identifier supplied by the originating system for this webhook payload."},
	{"webhook.type", "Event type", "Event or notification type reported by the external system."},
	{"webhook.summary", "Summary", "Short headline, title, or subject extracted from the payload."},
	{"webhook.details", "Details", "Full text body or description received with the webhook."},
	{"webhook.source", "Source system", "Name of the service, application, or integration that sent the webhook."},
	{"webhook.actor", "Actor", "User or process reported as triggering the webhook event."},
	{"webhook.severity", "Severity", "Severity, priority, or impact level supplied by the payload."},
	{"webhook.status", "Status", "Current state or lifecycle status communicated by the webhook."},
	{"webhook.timestamp", "Event timestamp", "UTC timestamp indicating when the source recorded the event."},
	{"webhook.reference", "Reference link", "URL linking to the upstream record or detailed view."},
	{"webhook.tags", "Tags", "Labels, categories, or keywords packaged with the payload."},
	{"webhook.location", "Location", "Environment, region, or site associated with the event, when provided."},
	{"webhook.attachments_count", "Attachments count", "Number of attachments, files, or records bundled with the webhook."},
	{"webhook.raw", "Raw payload", "Complete serialized JSON payload received over HTTPS."},
}

// flatPayload is a case-folded view of a nested payload. order keeps the
// first-insertion order of paths so suffix lookups are deterministic.
type flatPayload struct {
	index map[string]any
	order []string
	fold  cases.Caser
}

func (f *flatPayload) set(path string, value any) {
	path = f.fold.String(path)
	if _, ok := f.index[path]; !ok {
		f.order = append(f.order, path)
	}
	f.index[path] = value
}

func (f *flatPayload) setDefault(path string, value any) {
	path = f.fold.String(path)
	if _, ok := f.index[path]; ok {
		return
	}
	f.order = append(f.order, path)
	f.index[path] = value
}

func (f *flatPayload) walk(node any, prefix string) {
	switch v := node.(type) {
	case map[string]any:
		for _, key := range sortedKeys(v) {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			f.set(path, v[key])
			f.setDefault(key, v[key])
			f.walk(v[key], path)
		}
	case []any:
		for i, item := range v {
			path := prefix + "[" + strconv.Itoa(i) + "]"
			f.set(path, item)
			f.walk(item, path)
		}
	}
}

func flattenPayload(payload map[string]any) *flatPayload {
	f := &flatPayload{index: make(map[string]any), fold: cases.Fold()}
	f.walk(payload, "")
	for _, key := range sortedKeys(payload) {
		f.set(key, payload[key])
	}
	return f
}

func (f *flatPayload) firstMatch(candidates []string) (any, bool) {
	for _, candidate := range candidates {
		c := f.fold.String(candidate)
		if value, ok := f.index[c]; ok && !isEmptyValue(value) {
			return value, true
		}
		for _, path := range f.order {
			if !pathMatchesSuffix(path, c) {
				continue
			}
			if value := f.index[path]; !isEmptyValue(value) {
				return value, true
			}
		}
	}
	return nil, false
}

func (f *flatPayload) countItems(candidates []string) (int, bool) {
	for _, candidate := range candidates {
		switch v := f.index[f.fold.String(candidate)].(type) {
		case map[string]any:
			return len(v), true
		case []any:
			return len(v), true
		}
	}
	return 0, false
}

func pathMatchesSuffix(path, suffix string) bool {
	if path == suffix {
		return true
	}
	if !strings.HasSuffix(path, suffix) {
		return false
	}
	start := len(path) - len(suffix)
	if start == 0 {
		return true
	}
	prev := path[start-1]
	return prev == '.' || prev == '['
}

func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

// BuildHTTPPostVariables maps an arbitrary JSON webhook body onto the
// webhook.* template variables.
func BuildHTTPPostVariables(payload map[string]any) Variables {
	if payload == nil {
		payload = map[string]any{}
	}
	flat := flattenPayload(payload)
	vars := make(Variables)

	for _, field := range webhookFieldCandidates {
		if value, ok := flat.firstMatch(field.candidates); ok {
			vars[field.key] = SerializeValue(value)
		}
	}
	if count, ok := flat.countItems(webhookCountCandidates); ok {
		vars["webhook.attachments_count"] = strconv.Itoa(count)
	}

	if vars["webhook.summary"] == "" && vars["webhook.details"] != "" {
		vars["webhook.summary"] = vars["webhook.details"]
	}
	if _, ok := vars["webhook.details"]; !ok && vars["webhook.summary"] != "" {
		vars["webhook.details"] = vars["webhook.summary"]
	}

	vars["webhook.raw"] = SerializeValue(payload)
	return vars
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
