package automation

// DeriveTicketUpdateEventType names the event raised by a ticket update. A
// status change to resolved or closed is "Ticket Resolved", any other status
// change is "Ticket Status Changed", and everything else is an update by a
// technician.
func DeriveTicketUpdateEventType(before, after map[string]any) string {
	previous := Normalize(before["status"])
	current := Normalize(after["status"])
	if previous != "" && current != "" && previous != current {
		if current == "resolved" || current == "closed" {
			return EventTicketResolved
		}
		return EventTicketStatusChanged
	}
	return EventTicketUpdatedByTechnician
}
