package messaging

import "strings"

// Subjects and JetStream names used by the ledger.
const (
	// SubjectEventsPrefix prefixes every domain event subject.
	SubjectEventsPrefix = "ledger.events"

	// SubjectEventsAll matches every domain event subject.
	SubjectEventsAll = SubjectEventsPrefix + ".>"

	// StreamLedgerEvents is the JetStream stream holding domain events.
	StreamLedgerEvents = "LEDGER_EVENTS"

	// ConsumerProjector is the durable pull consumer shared by projector workers.
	ConsumerProjector = "ledger-projector"
)

// EventSubject returns the subject for events of a resource type,
// e.g. ledger.events.payout.
func EventSubject(resourceType string) string {
	rt := strings.ToLower(strings.TrimSpace(resourceType))
	if rt == "" {
		rt = "unknown"
	}
	return SubjectEventsPrefix + "." + rt
}
