// Package channel provides the secure message channel to the uLogger
// broker.
//
// A Channel is a thin pub/sub surface: connect once with mutual TLS,
// subscribe to the correlation-scoped response topic, publish one
// request, and block on AwaitMessage until a matching message or the
// timeout. Callback delivery from the underlying MQTT library is
// funneled into an internal queue so callers get a plain blocking wait
// instead of a callback registration.
//
// # Usage
//
//	ch := channel.NewMQTT(channel.MQTTOptions{...})
//	if err := ch.Connect(ctx); err != nil { ... }
//	defer ch.Close()
package channel

import (
	"context"
	"errors"
	"time"
)

// ErrAwaitTimeout is returned by AwaitMessage when no matching message
// arrives within the timeout.
var ErrAwaitTimeout = errors.New("channel: await timed out")

// ErrNotConnected is returned for operations attempted before Connect.
var ErrNotConnected = errors.New("channel: not connected")

// Message is a single message received from or published to the broker.
type Message struct {
	Topic   string
	Payload []byte
}

// Channel is the secure pub/sub connection used by the exchange.
//
// Implementations must make Close safe on every exit path, including
// after a failed Connect, and safe to call more than once.
type Channel interface {
	// Connect establishes the mutually authenticated connection.
	Connect(ctx context.Context) error

	// Subscribe registers interest in a topic. Must be called before the
	// request publish so a fast response cannot be lost.
	Subscribe(topic string) error

	// Publish sends one message with at-least-once delivery.
	Publish(topic string, payload []byte) error

	// AwaitMessage blocks until a message satisfying match arrives, the
	// timeout elapses (ErrAwaitTimeout), or ctx is cancelled. Messages
	// rejected by match are discarded, not buffered for later waits.
	AwaitMessage(ctx context.Context, timeout time.Duration, match func(Message) bool) (*Message, error)

	// Close releases the connection and any broker-side subscription state.
	Close()
}

// awaitFromQueue implements the blocking wait shared by the MQTT and
// mock channels: drain the inbox, discard non-matching messages, and
// resolve on the first match rather than at timeout expiry.
func awaitFromQueue(ctx context.Context, timeout time.Duration, inbox <-chan Message, match func(Message) bool, discarded func(Message)) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrAwaitTimeout
		case msg := <-inbox:
			if match == nil || match(msg) {
				return &msg, nil
			}
			if discarded != nil {
				discarded(msg)
			}
		}
	}
}
