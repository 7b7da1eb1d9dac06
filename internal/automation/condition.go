package automation

// EventContext is the input for matching a single event. It is built fresh
// for every dispatch.
type EventContext struct {
	EventType string
	Before    map[string]any
	After     map[string]any
	Payload   map[string]any
}

type valueResolver func(ec EventContext) any

// field resolvers for value-required condition types. Types without an entry
// (Assigned SLA) never match.
var valueResolvers = map[string]valueResolver{
	ConditionAssignedTo:          afterField("assignment"),
	ConditionCustomer:            afterField("customer"),
	ConditionTicketPriority:      afterField("priority"),
	ConditionTicketStatus:        afterField("status"),
	ConditionTicketSubject:       afterField("subject"),
	ConditionTicketType:          afterField("category"),
	EventTicketStatusChangedTo:   afterField("status"),
	EventTicketStatusChangedFrom: func(ec EventContext) any { return ec.Before["status"] },
}

func afterField(field string) valueResolver {
	return func(ec EventContext) any {
		return ec.After[field]
	}
}

// EvaluateCondition reports whether condition holds for ec. It has no side
// effects and degrades to false for anything it cannot resolve.
func EvaluateCondition(condition TriggerCondition, ec EventContext) bool {
	if _, ok := statusChangedSet[condition.Type]; ok {
		return evaluateStatusChanged(condition, ec)
	}

	if RequiresValue(condition.Type) {
		resolve, ok := valueResolvers[condition.Type]
		if !ok {
			return false
		}
		return compareCondition(condition, resolve(ec))
	}

	return Normalize(condition.Type) == Normalize(ec.EventType)
}

func evaluateStatusChanged(condition TriggerCondition, ec EventContext) bool {
	before := ec.Before["status"]
	after := ec.After["status"]
	if Normalize(before) == Normalize(after) {
		return false
	}

	switch condition.Type {
	case EventTicketStatusChanged:
		return true
	case EventTicketStatusChangedTo:
		return compareCondition(condition, after)
	case EventTicketStatusChangedFrom:
		return compareCondition(condition, before)
	default:
		return false
	}
}

func compareCondition(condition TriggerCondition, actual any) bool {
	var expected any
	if condition.Value != nil {
		expected = *condition.Value
	}
	return Compare(condition.Operator, actual, expected)
}
