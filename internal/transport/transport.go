// Package transport carries webhook events from the webhook server to the
// scraper.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Transport types
const (
	TypeNone      = "none"
	TypeChannel   = "channel"
	TypeWebsocket = "websocket"
)

// ErrTimeout is returned by Receive when no message arrived in time
var ErrTimeout = errors.New("no message received before timeout")

// Message is one webhook event
type Message struct {
	Event    string          `json:"event"`
	Delivery string          `json:"delivery,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Publisher hands messages to subscribers
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// Subscriber receives messages
type Subscriber interface {
	// Receive waits up to timeout for a message. It returns ErrTimeout when
	// nothing arrived and the context error when ctx is done.
	Receive(ctx context.Context, timeout time.Duration) (*Message, error)
}

// Channel is an in-process bounded queue
type Channel struct {
	ch chan *Message
}

// NewChannel creates a queue holding up to size messages
func NewChannel(size int) *Channel {
	if size <= 0 {
		size = 64
	}
	return &Channel{ch: make(chan *Message, size)}
}

// Publish enqueues msg, waiting for room while ctx allows
func (c *Channel) Publish(ctx context.Context, msg *Message) error {
	select {
	case c.ch <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	}
}

// Receive dequeues the next message
func (c *Channel) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-c.ch:
		return msg, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// None drops published messages and never delivers any
type None struct {
	logger *slog.Logger
}

// NewNone creates a transport that discards everything
func NewNone(logger *slog.Logger) *None {
	if logger == nil {
		logger = slog.Default()
	}
	return &None{logger: logger}
}

// Publish drops msg
func (n *None) Publish(_ context.Context, msg *Message) error {
	n.logger.Debug("No transport configured, dropping event", "event", msg.Event)
	return nil
}

// Receive waits for the timeout and returns ErrTimeout
func (n *None) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
