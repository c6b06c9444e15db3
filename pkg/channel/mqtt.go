package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/ulogger-ai/ulogger-upload/pkg/clierror"
)

// inboxDepth bounds how many undelivered messages the channel holds.
// One invocation expects a single response; the headroom absorbs
// uncorrelated traffic on the subscribed topic.
const inboxDepth = 16

// connectTimeout bounds the TCP+TLS+CONNECT handshake.
const connectTimeout = 10 * time.Second

// MQTTOptions configures an MQTT channel.
type MQTTOptions struct {
	// Broker is the host:port of the TLS listener.
	Broker string

	// CustomerID scopes the generated client id.
	CustomerID int64

	// Certificate is the client keypair presented during the handshake.
	Certificate tls.Certificate

	// Logger receives channel diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// MQTTChannel is the production Channel over eclipse/paho. One channel
// serves one invocation: a single connection, any number of
// subscriptions, and a queue-backed blocking wait.
type MQTTChannel struct {
	broker   string
	clientID string
	tlsConf  *tls.Config
	log      *slog.Logger

	client    mqtt.Client
	inbox     chan Message
	closeOnce sync.Once
}

// NewMQTT creates an unconnected MQTT channel.
func NewMQTT(opts MQTTOptions) *MQTTChannel {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &MQTTChannel{
		broker:   opts.Broker,
		clientID: fmt.Sprintf("cust-%d-uploader-%s", opts.CustomerID, uuid.NewString()),
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{opts.Certificate},
			MinVersion:   tls.VersionTLS12,
		},
		log:   log,
		inbox: make(chan Message, inboxDepth),
	}
}

// Connect dials the broker with mutual TLS. Certificate rejection maps
// to an authentication error, anything else transport-level to a
// connection error.
func (c *MQTTChannel) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker("ssl://" + c.broker).
		SetClientID(c.clientID).
		SetTLSConfig(c.tlsConf).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(connectTimeout)

	c.client = mqtt.NewClient(opts)
	c.log.Debug("connecting to broker", "broker", c.broker, "client_id", c.clientID)

	token := c.client.Connect()
	select {
	case <-ctx.Done():
		c.Close()
		return clierror.ConnectionFailed(c.broker, ctx.Err())
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return classifyConnectError(c.broker, err)
	}
	c.log.Debug("connected to broker", "broker", c.broker)
	return nil
}

// Subscribe registers the topic at QoS 1 and routes its messages into
// the internal queue. The inbox never blocks the paho delivery
// goroutine; overflow messages are dropped with a warning.
func (c *MQTTChannel) Subscribe(topic string) error {
	if c.client == nil {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, 1, func(_ mqtt.Client, m mqtt.Message) {
		select {
		case c.inbox <- Message{Topic: m.Topic(), Payload: m.Payload()}:
		default:
			c.log.Warn("inbox full, dropping message", "topic", m.Topic())
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return clierror.ConnectionFailed(c.broker, fmt.Errorf("subscribe %s: %w", topic, err))
	}
	c.log.Debug("subscribed", "topic", topic)
	return nil
}

// Publish sends one message at QoS 1 and waits for broker acknowledgment.
func (c *MQTTChannel) Publish(topic string, payload []byte) error {
	if c.client == nil {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, 1, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return clierror.ConnectionFailed(c.broker, fmt.Errorf("publish %s: %w", topic, err))
	}
	c.log.Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}

// AwaitMessage blocks until a matching message, the timeout, or ctx
// cancellation.
func (c *MQTTChannel) AwaitMessage(ctx context.Context, timeout time.Duration, match func(Message) bool) (*Message, error) {
	return awaitFromQueue(ctx, timeout, c.inbox, match, func(m Message) {
		c.log.Debug("discarding uncorrelated message", "topic", m.Topic)
	})
}

// Close disconnects from the broker, letting it reap the subscription
// state. Safe to call on every exit path and more than once.
func (c *MQTTChannel) Close() {
	c.closeOnce.Do(func() {
		if c.client != nil && c.client.IsConnectionOpen() {
			c.client.Disconnect(250)
			c.log.Debug("disconnected from broker", "broker", c.broker)
		}
	})
}

// classifyConnectError separates certificate rejection from plain
// transport failure. TLS alerts for client-cert problems surface as
// handshake errors mentioning the certificate or, for MQTT-level
// rejection, as a not-authorized CONNACK.
func classifyConnectError(broker string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "certificate"),
		strings.Contains(msg, "x509"),
		strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "bad user name or password"):
		return clierror.AuthenticationFailed(broker, err)
	default:
		return clierror.ConnectionFailed(broker, err)
	}
}
