package vault

import "time"

// EventKind identifies a vault lifecycle transition.
type EventKind string

const (
	EventExpired   EventKind = "expired"
	EventRefreshed EventKind = "refreshed"
)

// Event is the notification payload. Deliberately minimal (kind + timestamp)
// so no token material can leak through the event channel.
type Event struct {
	Kind EventKind
	At   time.Time
}

// Listener receives expiry/refresh events synchronously.
type Listener func(Event)

// CountdownListener receives the remaining session time once per tick.
type CountdownListener func(remaining time.Duration)
