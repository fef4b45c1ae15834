package mqtt

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type TestMessage struct {
	Topic    string
	Qos      byte
	Retained bool
	Payload  []byte
}

// TestClient is an in-memory mqtt.Client that records published messages.
type TestClient struct {
	mu           sync.Mutex
	connected    bool
	ConnectErr   error
	PublishErr   error
	Published    []TestMessage
	Disconnects  int
	ConnectCalls int
}

func NewTestClient() *TestClient {
	return &TestClient{}
}

func (c *TestClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *TestClient) IsConnectionOpen() bool {
	return c.IsConnected()
}

func (c *TestClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConnectCalls++
	if c.ConnectErr == nil {
		c.connected = true
	}
	return &testToken{err: c.ConnectErr}
}

func (c *TestClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.Disconnects++
}

func (c *TestClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishErr != nil {
		return &testToken{err: c.PublishErr}
	}
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}
	c.Published = append(c.Published, TestMessage{Topic: topic, Qos: qos, Retained: retained, Payload: data})
	return &testToken{}
}

func (c *TestClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return &testToken{}
}

func (c *TestClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return &testToken{}
}

func (c *TestClient) Unsubscribe(topics ...string) mqtt.Token {
	return &testToken{}
}

func (c *TestClient) AddRoute(topic string, callback mqtt.MessageHandler) {}

func (c *TestClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

type testToken struct {
	err error
}

func (t *testToken) Wait() bool {
	return true
}

func (t *testToken) WaitTimeout(time.Duration) bool {
	return true
}

func (t *testToken) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

func (t *testToken) Error() error {
	return t.err
}
