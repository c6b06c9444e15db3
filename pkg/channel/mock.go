package channel

import (
	"context"
	"sync"
	"time"
)

// MockChannel provides an in-memory Channel implementation for testing.
// It supports call-order recording, configurable delivery latency, and
// error injection.
type MockChannel struct {
	inbox chan Message

	// Configuration
	connectErr   error
	subscribeErr error
	publishErr   error
	latency      time.Duration

	// State
	connected bool
	closed    bool
	mu        sync.Mutex

	// Recording for test inspection
	calls      []string
	subscribed []string
	published  []Message
	recordMu   sync.Mutex
}

// MockOption configures a MockChannel.
type MockOption func(*MockChannel)

// WithConnectError injects an error returned by Connect.
func WithConnectError(err error) MockOption {
	return func(m *MockChannel) { m.connectErr = err }
}

// WithSubscribeError injects an error returned by Subscribe.
func WithSubscribeError(err error) MockOption {
	return func(m *MockChannel) { m.subscribeErr = err }
}

// WithPublishError injects an error returned by Publish.
func WithPublishError(err error) MockOption {
	return func(m *MockChannel) { m.publishErr = err }
}

// WithDeliveryLatency delays Inject deliveries by d.
func WithDeliveryLatency(d time.Duration) MockOption {
	return func(m *MockChannel) { m.latency = d }
}

// NewMock creates a MockChannel for testing.
func NewMock(opts ...MockOption) *MockChannel {
	m := &MockChannel{
		inbox: make(chan Message, inboxDepth),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect records the call and returns any injected error.
func (m *MockChannel) Connect(_ context.Context) error {
	m.record("connect")
	if m.connectErr != nil {
		return m.connectErr
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// Subscribe records the call and the topic.
func (m *MockChannel) Subscribe(topic string) error {
	m.record("subscribe:" + topic)
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.recordMu.Lock()
	m.subscribed = append(m.subscribed, topic)
	m.recordMu.Unlock()
	return nil
}

// Publish records the call and the message.
func (m *MockChannel) Publish(topic string, payload []byte) error {
	m.record("publish:" + topic)
	if m.publishErr != nil {
		return m.publishErr
	}
	m.recordMu.Lock()
	m.published = append(m.published, Message{Topic: topic, Payload: payload})
	m.recordMu.Unlock()
	return nil
}

// AwaitMessage behaves like the production channel: first matching
// message wins, non-matching messages are discarded.
func (m *MockChannel) AwaitMessage(ctx context.Context, timeout time.Duration, match func(Message) bool) (*Message, error) {
	return awaitFromQueue(ctx, timeout, m.inbox, match, nil)
}

// Close records the call and marks the channel closed.
func (m *MockChannel) Close() {
	m.record("close")
	m.mu.Lock()
	m.connected = false
	m.closed = true
	m.mu.Unlock()
}

// Inject delivers a message to the channel as if it arrived from the
// broker, after any configured latency. Runs asynchronously when a
// latency is set so tests can line up interleavings.
func (m *MockChannel) Inject(msg Message) {
	if m.latency > 0 {
		go func() {
			time.Sleep(m.latency)
			m.inbox <- msg
		}()
		return
	}
	m.inbox <- msg
}

// Calls returns the recorded call order ("connect", "subscribe:<topic>",
// "publish:<topic>", "close").
func (m *MockChannel) Calls() []string {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Subscribed returns the topics subscribed so far.
func (m *MockChannel) Subscribed() []string {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()
	out := make([]string, len(m.subscribed))
	copy(out, m.subscribed)
	return out
}

// Published returns the messages published so far.
func (m *MockChannel) Published() []Message {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()
	out := make([]Message, len(m.published))
	copy(out, m.published)
	return out
}

// Closed reports whether Close has been called.
func (m *MockChannel) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockChannel) record(call string) {
	m.recordMu.Lock()
	m.calls = append(m.calls, call)
	m.recordMu.Unlock()
}
