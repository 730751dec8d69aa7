// Package channel abstracts the messaging front-end that delivers agent
// output to the user. The daemon only talks to the Messenger interface;
// the console implementation covers local runs.
package channel

import "context"

// Messenger delivers output to one chat surface.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string) error
	SendPhoto(ctx context.Context, chatID, path, caption string) error
	// SetTyping signals activity while a container is working. Best effort.
	SetTyping(ctx context.Context, chatID string) error
}

// Incoming is one user message received from the front-end.
type Incoming struct {
	ChatID string
	Text   string
	Media  []string
}

// Listener is implemented by front-ends that receive user input.
type Listener interface {
	// Receive blocks until the next user message or ctx is done.
	Receive(ctx context.Context) (*Incoming, error)
}
