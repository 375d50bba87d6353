// Package mqtt reaches a photometer publishing its readings to an MQTT broker.
package mqtt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout   = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// Config holds the broker connection settings
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// WithLogger sets the logger for the transport
func WithLogger(logger *slog.Logger) func(t *Transport) {
	return func(t *Transport) {
		t.logger = logger
	}
}

// Transport subscribes to a photometer topic and exposes the messages as lines
type Transport struct {
	config Config
	logger *slog.Logger
}

// NewTransport creates an MQTT transport with a discard logger
func NewTransport(config Config, options ...func(t *Transport)) *Transport {
	t := Transport{
		config: config,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&t)
	}
	return &t
}

// Name returns the transport name
func (t *Transport) Name() string {
	return "mqtt:" + t.config.Topic
}

// Open connects to the broker and subscribes to the topic. Every message is
// delivered as one line on the returned reader. Closing the reader
// unsubscribes and disconnects.
func (t *Transport) Open(ctx context.Context) (io.ReadCloser, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(t.config.Broker)
	opts.SetClientID(t.config.ClientID)
	opts.SetUsername(t.config.Username)
	opts.SetPassword(t.config.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		t.logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
	})

	client := pahomqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	pr, pw := io.Pipe()
	sub := &subscription{client: client, topic: t.config.Topic, pr: pr, pw: pw}

	handler := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		payload := bytes.ReplaceAll(msg.Payload(), []byte("\n"), nil)
		sub.write(append(payload, '\n'))
	}

	if err := wait(ctx, client.Subscribe(t.config.Topic, t.config.QoS, handler)); err != nil {
		client.Disconnect(disconnectQuiesce)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", t.config.Topic, err)
	}

	t.logger.Info("subscribed to photometer topic", slog.String("topic", t.config.Topic))

	return sub, nil
}

func wait(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		return errors.New("mqtt operation timed out")
	}
}

type subscription struct {
	client pahomqtt.Client
	topic  string

	mu     sync.Mutex
	closed bool
	pr     *io.PipeReader
	pw     *io.PipeWriter
}

// write blocks until the reader consumes the message or the subscription closes
func (s *subscription) write(p []byte) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}
	_, _ = s.pw.Write(p)
}

func (s *subscription) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.pr.Close()
	_ = s.pw.Close()

	s.client.Unsubscribe(s.topic).WaitTimeout(time.Second)
	s.client.Disconnect(disconnectQuiesce)
	return nil
}
