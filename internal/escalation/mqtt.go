package escalation

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/nugget/switchboard/internal/config"
)

// ErrNotConnected is returned by MQTTNotifier before Start.
var ErrNotConnected = errors.New("mqtt notifier not started")

// MQTTNotifier publishes tickets as JSON to a broker topic. Other
// systems (paging, dashboards) subscribe to that topic.
type MQTTNotifier struct {
	cfg    config.MQTTConfig
	logger *slog.Logger

	mu sync.Mutex
	cm *autopaho.ConnectionManager
}

// NewMQTTNotifier creates a notifier but does not connect. Call
// [MQTTNotifier.Start] to open the connection.
func NewMQTTNotifier(cfg config.MQTTConfig, logger *slog.Logger) *MQTTNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "switchboard-escalations"
	}
	return &MQTTNotifier{cfg: cfg, logger: logger.With("notifier", "mqtt")}
}

// Start connects to the broker. autopaho keeps reconnecting in the
// background until ctx is cancelled, so a slow broker only produces a
// warning here.
func (m *MQTTNotifier) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(m.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: m.cfg.Username,
		ConnectPassword: []byte(m.cfg.Password),
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			m.logger.Info("mqtt connected to broker", "broker", m.cfg.Broker)
		},
		OnConnectError: func(err error) {
			m.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: m.cfg.ClientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.mu.Lock()
	m.cm = cm
	m.mu.Unlock()

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		m.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (m *MQTTNotifier) Stop(ctx context.Context) error {
	m.mu.Lock()
	cm := m.cm
	m.mu.Unlock()
	if cm == nil {
		return nil
	}
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx ends.
func (m *MQTTNotifier) AwaitConnection(ctx context.Context) error {
	m.mu.Lock()
	cm := m.cm
	m.mu.Unlock()
	if cm == nil {
		return ErrNotConnected
	}
	return cm.AwaitConnection(ctx)
}

// Notify implements Notifier.
func (m *MQTTNotifier) Notify(ctx context.Context, t Ticket) error {
	m.mu.Lock()
	cm := m.cm
	m.mu.Unlock()
	if cm == nil {
		return ErrNotConnected
	}

	payload, err := EncodeTicket(t)
	if err != nil {
		return err
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   m.cfg.Topic,
		QoS:     1,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", m.cfg.Topic, err)
	}
	m.logger.Debug("escalation published", "ticket_id", t.ID, "topic", m.cfg.Topic)
	return nil
}

// EncodeTicket returns the JSON payload published for t.
func EncodeTicket(t Ticket) ([]byte, error) {
	data, err := json.Marshal(struct {
		Ticket
		ReasonDescription string `json:"reason_description"`
	}{t, t.Reason.Describe()})
	if err != nil {
		return nil, fmt.Errorf("encode ticket: %w", err)
	}
	return data, nil
}
