package notifications

// Payload is one desktop alert.
type Payload struct {
	Title   string
	Content string
}

// Sender delivers alerts. Send must not block the caller for long and
// handles its own failures.
type Sender interface {
	Send(payload Payload)
}
