// Package mqtt carries agent envelopes over an MQTT broker. Every agent owns
// one inbox topic; envelopes travel as JSON.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/transport"
	"github.com/kilianp07/transitsim/infra/logger"
	"github.com/kilianp07/transitsim/internal/eventbus"
)

var droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "transit_mqtt_dropped_total",
	Help: "Inbound MQTT messages dropped",
}, []string{"reason"})

func init() {
	prometheus.MustRegister(droppedTotal)
}

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker      string      `json:"broker"`
	ClientID    string      `json:"client_id"`
	Username    string      `json:"username"`
	Password    string      `json:"password"`
	UseTLS      bool        `json:"use_tls"`
	ClientCert  string      `json:"client_cert"`
	ClientKey   string      `json:"client_key"`
	CABundle    string      `json:"ca_bundle"`
	TopicPrefix string      `json:"topic_prefix"`
	QoS         byte        `json:"qos"`
	MaxRetries  int         `json:"max_retries"`
	BackoffMS   int         `json:"backoff_ms"`
	TLSConfig   *tls.Config `json:"-"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "transit"
	}
	if c.ClientID == "" {
		c.ClientID = "transitsim-" + uuid.NewString()[:8]
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cli   pahoClient
	cfg   Config
	log   logger.Logger
	boxes *eventbus.Mailboxes[message.Envelope]

	mu     sync.Mutex
	topics map[string]string
}

var _ transport.Transport = (*Transport)(nil)

// New connects to the broker. Inbox subscriptions are restored on every
// reconnect.
func New(cfg Config, log logger.Logger) (*Transport, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.New("mqtt")
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		cfg:    cfg,
		log:    log,
		boxes:  eventbus.NewMailboxes[message.Envelope](),
		topics: make(map[string]string),
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		t.resubscribe(c)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	t.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return t, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// InboxTopic is the topic an agent receives on.
func (t *Transport) InboxTopic(id string) string {
	return t.cfg.TopicPrefix + "/agent/" + id + "/inbox"
}

type inbox struct {
	id string
	ch <-chan message.Envelope
}

func (i inbox) ID() string                        { return i.id }
func (i inbox) Messages() <-chan message.Envelope { return i.ch }

// Register opens a local mailbox for id and subscribes to its topic.
func (t *Transport) Register(id string) (transport.Inbox, error) {
	if id == "" || strings.ContainsAny(id, "+#") {
		return nil, fmt.Errorf("invalid agent id %q", id)
	}
	ch, err := t.boxes.Open(id)
	if err != nil {
		return nil, mapErr(id, err)
	}
	topic := t.InboxTopic(id)
	token := t.cli.Subscribe(topic, t.cfg.QoS, t.handler(id))
	if token.Wait() && token.Error() != nil {
		t.boxes.Remove(id)
		return nil, fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	t.mu.Lock()
	t.topics[id] = topic
	t.mu.Unlock()
	t.log.Debugf("subscribed %s", topic)
	return inbox{id: id, ch: ch}, nil
}

func (t *Transport) resubscribe(c paho.Client) {
	t.mu.Lock()
	topics := make(map[string]string, len(t.topics))
	for id, topic := range t.topics {
		topics[id] = topic
	}
	t.mu.Unlock()
	for id, topic := range topics {
		if token := c.Subscribe(topic, t.cfg.QoS, t.handler(id)); token.Wait() && token.Error() != nil {
			t.log.Errorf("resubscribe %s: %v", topic, token.Error())
		}
	}
}

func (t *Transport) handler(id string) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		env, err := message.Decode(msg.Payload())
		if err != nil {
			droppedTotal.WithLabelValues("decode").Inc()
			t.log.Warnw("dropping undecodable message", map[string]any{"topic": msg.Topic(), "error": err.Error()})
			return
		}
		if err := t.boxes.Deliver(id, env); err != nil {
			droppedTotal.WithLabelValues("closed").Inc()
			t.log.Debugf("dropping message for %s: %v", id, err)
		}
	}
}

// Send publishes env to the recipient's inbox topic, retrying with
// exponential backoff.
func (t *Transport) Send(ctx context.Context, env message.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := message.Encode(env)
	if err != nil {
		return err
	}
	topic := t.InboxTopic(env.Recipient)
	backoff := time.Duration(t.cfg.BackoffMS) * time.Millisecond
	var publishErr error
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		token := t.cli.Publish(topic, t.cfg.QoS, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			t.log.Debugw("publish", map[string]any{"topic": topic, "msg": env.String()})
			return nil
		}
		t.log.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		if attempt == t.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(1<<attempt)):
		}
	}
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// Close unsubscribes every inbox, disconnects and closes the mailboxes.
func (t *Transport) Close() error {
	t.mu.Lock()
	topics := make([]string, 0, len(t.topics))
	for _, topic := range t.topics {
		topics = append(topics, topic)
	}
	t.topics = map[string]string{}
	t.mu.Unlock()
	if t.cli != nil && t.cli.IsConnected() {
		if len(topics) > 0 {
			t.cli.Unsubscribe(topics...).Wait()
		}
		t.cli.Disconnect(250)
	}
	t.boxes.Close()
	return nil
}

func mapErr(id string, err error) error {
	switch {
	case errors.Is(err, eventbus.ErrBusClosed):
		return transport.ErrClosed
	case errors.Is(err, eventbus.ErrMailboxExists):
		return fmt.Errorf("%w: %s", transport.ErrDuplicateID, id)
	default:
		return err
	}
}
