package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/core/transport"
	"github.com/kilianp07/transitsim/infra/logger"
)

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	caFile = dir + "/ca.pem"
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0644); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if err := os.WriteFile(caFile, certPEM, 0644); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	return
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("load tls: %v", err)
	}
	if len(tlsCfg.Certificates) == 0 {
		t.Fatalf("no certs loaded")
	}
	if tlsCfg.RootCAs == nil {
		t.Fatalf("no root CAs")
	}
}

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Fatalf("auth not set")
	}
}

func TestTLSRequiresFiles(t *testing.T) {
	_, err := NewClientOptions(Config{Broker: "ssl://localhost:8883", UseTLS: true})
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	assert.Equal(t, "transit", cfg.TopicPrefix)
	assert.Contains(t, cfg.ClientID, "transitsim-")
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Error(t, cfg.Validate())
}

func withMock(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } })
}

func newTestTransport(t *testing.T, mc *mockClient, cfg Config) *Transport {
	t.Helper()
	withMock(t, mc)
	if cfg.Broker == "" {
		cfg.Broker = "tcp://localhost:1883"
	}
	tr, err := New(cfg, logger.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRegisterSubscribesInboxTopic(t *testing.T) {
	mc := &mockClient{}
	tr := newTestTransport(t, mc, Config{QoS: 1})

	in, err := tr.Register("vehicle/bus_1")
	require.NoError(t, err)
	assert.Equal(t, "vehicle/bus_1", in.ID())
	require.Len(t, mc.subscribed, 1)
	assert.Equal(t, "transit/agent/vehicle/bus_1/inbox", mc.subscribed[0].topic)
	assert.Equal(t, byte(1), mc.subscribed[0].qos)

	_, err = tr.Register("vehicle/bus_1")
	assert.ErrorIs(t, err, transport.ErrDuplicateID)
	_, err = tr.Register("vehicle/#")
	assert.Error(t, err)
}

func TestSendPublishesJSONEnvelope(t *testing.T) {
	mc := &mockClient{}
	tr := newTestTransport(t, mc, Config{QoS: 2})
	env := message.New("station/Central", "vehicle/bus_1", message.CFP,
		message.RideRequest{Origin: "Central", Destination: "North", PassengerCount: 1}).WithConversation("s1")

	require.NoError(t, tr.Send(context.Background(), env))
	require.Len(t, mc.published, 1)
	assert.Equal(t, "transit/agent/vehicle/bus_1/inbox", mc.published[0].topic)
	assert.Equal(t, byte(2), mc.published[0].qos)
	got, err := message.Decode(mc.published[0].payload)
	require.NoError(t, err)
	assert.Equal(t, env.Payload, got.Payload)
	assert.Equal(t, "s1", got.ConversationID)
}

func TestInboundMessageReachesInbox(t *testing.T) {
	mc := &mockClient{}
	tr := newTestTransport(t, mc, Config{})
	in, err := tr.Register("station/Central")
	require.NoError(t, err)

	env := message.New("passenger/p1", "station/Central", message.Request, message.TravelRequest{Destination: "North"})
	data, err := message.Encode(env)
	require.NoError(t, err)

	handler := mc.handler("transit/agent/station/Central/inbox")
	require.NotNil(t, handler)
	handler(nil, mockMessage{p: []byte("not json")})
	handler(nil, mockMessage{p: data})

	select {
	case got := <-in.Messages():
		assert.Equal(t, message.TravelRequest{Destination: "North"}, got.Payload)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestRetryLogic(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("net fail"), nil}}
	tr := newTestTransport(t, mc, Config{MaxRetries: 1, BackoffMS: 1})
	env := message.New(model.RefuelID, "vehicle/bus_1", message.Inform, message.RefuelDone{Status: message.StatusRefueled, FuelLevel: 100})
	require.NoError(t, tr.Send(context.Background(), env))
	assert.Len(t, mc.published, 2)
}

func TestRetryExhausted(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("a"), errors.New("b")}}
	tr := newTestTransport(t, mc, Config{MaxRetries: 1, BackoffMS: 1})
	env := message.New(model.RefuelID, "vehicle/bus_1", message.Inform, message.RefuelDone{Status: message.StatusRefueled, FuelLevel: 100})
	assert.Error(t, tr.Send(context.Background(), env))
}

func TestCloseUnsubscribesAndClosesInboxes(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	tr, err := New(Config{Broker: "tcp://localhost:1883"}, logger.NopLogger{})
	require.NoError(t, err)
	in, err := tr.Register("repair")
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	assert.Equal(t, []string{"transit/agent/repair/inbox"}, mc.unsubscribed)
	_, open := <-in.Messages()
	assert.False(t, open)
	_, err = tr.Register("refuel")
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestReconnectRestoresSubscriptions(t *testing.T) {
	mc := &mockClient{}
	tr := newTestTransport(t, mc, Config{})
	_, err := tr.Register("dashboard")
	require.NoError(t, err)

	mc.opts.OnConnect(mc)
	assert.Len(t, mc.subscribed, 2)
	assert.Equal(t, mc.subscribed[0].topic, mc.subscribed[1].topic)
}

// mockClient implements pahoClient for tests
type mockClient struct {
	mu         sync.Mutex
	opts       *paho.ClientOptions
	subscribed []struct {
		topic   string
		qos     byte
		handler paho.MessageHandler
	}
	published []struct {
		topic   string
		qos     byte
		payload []byte
	}
	unsubscribed []string
	publishErrs  []error
}

func (m *mockClient) handler(topic string) paho.MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subscribed {
		if s.topic == topic {
			return s.handler
		}
	}
	return nil
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := payload.([]byte)
	m.published = append(m.published, struct {
		topic   string
		qos     byte
		payload []byte
	}{topic, qos, b})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, h paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, struct {
		topic   string
		qos     byte
		handler paho.MessageHandler
	}{topic, qos, h})
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(topics ...string) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topics...)
	return &dummyToken{}
}
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type mockMessage struct{ p []byte }

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return "" }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}
