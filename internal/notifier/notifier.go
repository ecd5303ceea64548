// Package notifier is the capability boundary around "deliver one email".
// Implementations report delivery failure through the Result, never by
// panicking or by propagating transport errors as Go errors; the returned
// error is reserved for programmer mistakes (nil message, empty recipient).
package notifier

import "context"

// Message is a fully rendered email ready for transport.
type Message struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
	TextBody string
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Success   bool
	MessageID string
	Reason    string // populated on failure
}

// Notifier attempts delivery of one message to one address.
type Notifier interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}
