package automation

import (
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// Operator is a relational operator used by field-comparison conditions.
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpContains     Operator = "contains"
	OpMatchesRegex Operator = "matches_regex"
)

// Operators lists the supported operators in display order.
var Operators = []Operator{OpEquals, OpNotEquals, OpContains, OpMatchesRegex}

var operatorLabels = map[Operator]string{
	OpEquals:       "Equals",
	OpNotEquals:    "Does not equal",
	OpContains:     "Contains",
	OpMatchesRegex: "Matches regex",
}

// Label returns the human readable operator name.
func (o Operator) Label() string {
	if label, ok := operatorLabels[o]; ok {
		return label
	}
	return string(o)
}

// Valid reports whether o is part of the operator catalogue.
func (o Operator) Valid() bool {
	_, ok := operatorLabels[o]
	return ok
}

// Normalize converts a field value into its comparison form. Absent values
// normalize to the empty string.
func Normalize(value any) string {
	if value == nil {
		return ""
	}
	// cases.Caser keeps state and must not be shared between goroutines.
	return cases.Fold().String(strings.TrimSpace(SerializeValue(value)))
}

// Compare applies op to actual and expected. Either side being absent is
// never a match. A nil or empty operator means equals.
func Compare(op *Operator, actual, expected any) bool {
	if actual == nil || expected == nil {
		return false
	}
	a := Normalize(actual)
	e := Normalize(expected)

	operator := OpEquals
	if op != nil && *op != "" {
		operator = *op
	}

	switch operator {
	case OpEquals:
		return a == e
	case OpNotEquals:
		return a != e
	case OpContains:
		return strings.Contains(a, e)
	case OpMatchesRegex:
		return matchesRegex(actual, expected)
	default:
		return false
	}
}

// regexCache holds compiled patterns keyed by source. Invalid patterns are
// cached as nil so they are not recompiled on every event.
var (
	regexMu    sync.RWMutex
	regexCache = map[string]*regexp.Regexp{}
)

// matchesRegex searches the trimmed actual value for the expected pattern,
// ignoring case. Invalid patterns never match.
func matchesRegex(actual, expected any) bool {
	pattern := strings.TrimSpace(SerializeValue(expected))
	if pattern == "" {
		return false
	}
	re := compilePattern(pattern)
	if re == nil {
		return false
	}
	return re.MatchString(strings.TrimSpace(SerializeValue(actual)))
}

func compilePattern(pattern string) *regexp.Regexp {
	regexMu.RLock()
	re, ok := regexCache[pattern]
	regexMu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = nil
	}
	regexMu.Lock()
	regexCache[pattern] = re
	regexMu.Unlock()
	return re
}
