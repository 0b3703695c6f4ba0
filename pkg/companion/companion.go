// Package companion bridges a remote companion (a family member's phone
// or an operator console) to the guidance service over MQTT. Messages on
// the message topic are spoken to the walker; alert events are published
// on the alert topic.
package companion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-pathguide/pkg/alert"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("companion: not connected")

// Messenger speaks companion messages. *narration.Dispatcher satisfies it.
type Messenger interface {
	SendManual(message string) (string, error)
}

// Config configures a Bridge.
type Config struct {
	Broker       string
	ClientID     string
	Username     string
	Password     string
	MessageTopic string
	AlertTopic   string
	QoS          byte

	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns a local-broker configuration.
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		ClientID:       "pathguide",
		MessageTopic:   "pathguide/messages",
		AlertTopic:     "pathguide/alerts",
		QoS:            1,
		ConnectTimeout: 5 * time.Second,
		PublishTimeout: 2 * time.Second,
		Logger:         slog.Default(),
	}
}

// Inbound is the JSON form of a companion message. Plain-text payloads
// are accepted too.
type Inbound struct {
	Message string `json:"message"`
	From    string `json:"from,omitempty"`
}

// AlertMessage is published for every alert event.
type AlertMessage struct {
	EventID     string    `json:"event_id"`
	SessionID   string    `json:"session_id"`
	Direction   string    `json:"direction"`
	Slope       float64   `json:"slope"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Stats counts bridge traffic.
type Stats struct {
	Connected bool   `json:"connected"`
	Received  uint64 `json:"received"`
	Rejected  uint64 `json:"rejected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// Bridge connects a Messenger to an MQTT broker.
type Bridge struct {
	cfg       Config
	client    mqtt.Client
	messenger Messenger
	logger    *slog.Logger

	mu    sync.RWMutex
	stats Stats
}

// New creates a Bridge with a paho client that reconnects on its own.
func New(cfg Config, m Messenger) *Bridge {
	b := newBridge(cfg, m)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// Subscriptions are not persisted across reconnects with a clean session.
	opts.OnConnect = func(c mqtt.Client) {
		b.setConnected(true)
		b.logger.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
		if err := b.subscribe(c); err != nil {
			b.logger.Error("subscribing to companion messages", "error", err)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.setConnected(false)
		b.logger.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	b.client = mqtt.NewClient(opts)
	return b
}

// NewWithClient creates a Bridge over an existing client. The caller is
// responsible for connecting it; Start subscribes.
func NewWithClient(cfg Config, client mqtt.Client, m Messenger) *Bridge {
	b := newBridge(cfg, m)
	b.client = client
	return b
}

func newBridge(cfg Config, m Messenger) *Bridge {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		cfg:       cfg,
		messenger: m,
		logger:    cfg.Logger.With("component", "companion.bridge"),
	}
}

// Connect dials the broker. The subscription is made from the connect
// handler, so it is restored after every reconnect.
func (b *Bridge) Connect(ctx context.Context) error {
	b.logger.Info("connecting to mqtt broker", "broker", b.cfg.Broker)

	token := b.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(b.cfg.ConnectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Start subscribes to the message topic on an already connected client.
func (b *Bridge) Start() error {
	b.setConnected(b.client.IsConnected())
	return b.subscribe(b.client)
}

func (b *Bridge) subscribe(c mqtt.Client) error {
	token := c.Subscribe(b.cfg.MessageTopic, b.cfg.QoS, b.handleMessage)
	if !token.WaitTimeout(b.cfg.ConnectTimeout) {
		return fmt.Errorf("subscription to %s timed out", b.cfg.MessageTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.cfg.MessageTopic, err)
	}
	b.logger.Info("listening for companion messages", "topic", b.cfg.MessageTopic, "qos", b.cfg.QoS)
	return nil
}

func (b *Bridge) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	text := ParsePayload(msg.Payload())

	b.mu.Lock()
	b.stats.Received++
	b.mu.Unlock()

	if _, err := b.messenger.SendManual(text); err != nil {
		b.mu.Lock()
		b.stats.Rejected++
		b.mu.Unlock()
		b.logger.Warn("companion message rejected", "topic", msg.Topic(), "error", err)
		return
	}
	b.logger.Info("companion message delivered", "topic", msg.Topic(), "chars", len(text))
}

// ParsePayload extracts the message text from a JSON Inbound or plain text.
func ParsePayload(payload []byte) string {
	var in Inbound
	if err := json.Unmarshal(payload, &in); err == nil && in.Message != "" {
		return strings.TrimSpace(in.Message)
	}
	return strings.TrimSpace(string(payload))
}

// PublishAlert publishes ev on the alert topic.
func (b *Bridge) PublishAlert(ev alert.Event) error {
	if !b.isConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(AlertMessage{
		EventID:     ev.ID,
		SessionID:   ev.SessionID,
		Direction:   ev.Direction.String(),
		Slope:       ev.Slope,
		TriggeredAt: ev.TriggeredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	token := b.client.Publish(b.cfg.AlertTopic, b.cfg.QoS, false, payload)
	if !token.WaitTimeout(b.cfg.PublishTimeout) {
		b.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		b.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	b.mu.Lock()
	b.stats.Published++
	b.mu.Unlock()
	b.logger.Debug("alert published", "topic", b.cfg.AlertTopic, "event", ev.ID)
	return nil
}

// Close unsubscribes and disconnects.
func (b *Bridge) Close() error {
	if b.client != nil && b.client.IsConnected() {
		b.client.Unsubscribe(b.cfg.MessageTopic).WaitTimeout(time.Second)
		b.client.Disconnect(250)
		b.logger.Info("mqtt disconnected")
	}
	b.setConnected(false)
	return nil
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

func (b *Bridge) setConnected(v bool) {
	b.mu.Lock()
	b.stats.Connected = v
	b.mu.Unlock()
}

func (b *Bridge) isConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats.Connected
}

func (b *Bridge) countError() {
	b.mu.Lock()
	b.stats.Errors++
	b.mu.Unlock()
}
