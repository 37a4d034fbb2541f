// Package realtime keeps the persistent message-bus connection and routes pushed events to
// subscribed handlers.
package realtime

import (
	"context"
	"errors"
)

var (
	ErrNotConnected   = errors.New("realtime: not connected")
	ErrConnectAborted = errors.New("realtime: disconnected while connecting")
	ErrEmptyTopic     = errors.New("realtime: topic is required")
)

// Credentials are presented once, at connect time.
type Credentials struct {
	Token  string
	UserID string
}

// Message is one payload pushed by the bus.
type Message struct {
	SubscriptionID string
	Topic          string
	Body           []byte
}

// Transport opens bus connections.
type Transport interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}

// Conn is an open bus connection.
type Conn interface {
	// Subscribe registers interest in topic and returns the transport subscription ID carried
	// by its messages.
	Subscribe(topic string) (string, error)
	Unsubscribe(subscriptionID string) error
	// Messages delivers pushed messages in transport order.
	Messages() <-chan Message
	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}
	// Err reports why the connection ended; nil after Close.
	Err() error
	Close() error
}
