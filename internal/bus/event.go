package bus

import "time"

// Event is a single notification published on the bus. Kind is a
// dot-namespaced name ("repo.messages_updated", "sync.list_error",
// "message.send_ack", "realtime.status_changed") so subscribers can filter
// by prefix. Payload is kind-specific and may be nil.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
