package automation

import (
	"strings"

	"tacticaldesk/internal/models"
)

// FilterMatches combines the filter's conditions with its match mode. A
// filter without conditions never matches.
func FilterMatches(filter TriggerFilter, ec EventContext) bool {
	if len(filter.Conditions) == 0 {
		return false
	}
	if filter.Match == MatchAll {
		for _, condition := range filter.Conditions {
			if !EvaluateCondition(condition, ec) {
				return false
			}
		}
		return true
	}
	for _, condition := range filter.Conditions {
		if EvaluateCondition(condition, ec) {
			return true
		}
	}
	return false
}

// AutomationMatches decides whether automation responds to the event. A
// parseable trigger filter with conditions takes precedence over the legacy
// trigger name; a filter that cannot be parsed or has no conditions is
// ignored.
func AutomationMatches(automation *models.Automation, ec EventContext) bool {
	if automation == nil {
		return false
	}
	if filter, ok := StoredFilter(automation); ok {
		return FilterMatches(filter, ec)
	}
	if automation.Trigger != nil && strings.TrimSpace(*automation.Trigger) != "" {
		return Normalize(*automation.Trigger) == Normalize(ec.EventType)
	}
	return false
}

// StoredFilter parses the automation's stored filter. It reports false when
// no filter is stored, the stored payload is malformed or it holds no
// conditions.
func StoredFilter(automation *models.Automation) (TriggerFilter, bool) {
	raw := strings.TrimSpace(automation.TriggerFilters)
	if raw == "" || raw == "null" {
		return TriggerFilter{}, false
	}
	filter, err := ParseFilter([]byte(raw))
	if err != nil || len(filter.Conditions) == 0 {
		return TriggerFilter{}, false
	}
	return filter, true
}
