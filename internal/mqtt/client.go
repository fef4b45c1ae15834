package mqtt

import (
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	DEFAULT_MQTT_PORT     = 1883
	DEFAULT_MQTT_TLS_PORT = 8883
)

var topicSegmentRegexp = regexp.MustCompile("[^a-zA-Z0-9_-]+")

// BrokerConfig is the broker side of an mqtt collector entry.
type BrokerConfig struct {
	Host           string
	Port           uint
	Username       string
	Password       string
	ClientIdPrefix string
	TLS            *tls.Config
	ConnectTimeout time.Duration
}

func OptsFromConfig(cfg BrokerConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	port := cfg.Port
	if cfg.TLS != nil {
		scheme = "ssl"
		opts.SetTLSConfig(cfg.TLS)
		if port == 0 {
			port = DEFAULT_MQTT_TLS_PORT
		}
	}
	if port == 0 {
		port = DEFAULT_MQTT_PORT
	}
	opts.AddBroker(fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(cfg.Host, strconv.Itoa(int(port)))))
	opts.SetClientID(fmt.Sprintf("%s_%d", cfg.ClientIdPrefix, rand.Intn(1000)))
	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	// one connection per report
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	return opts
}

func CreateMQTTClient(opts *mqtt.ClientOptions) *MQTTClient {
	return NewMQTTClient(mqtt.NewClient(opts))
}

func NewMQTTClient(client mqtt.Client) *MQTTClient {
	return &MQTTClient{client: client}
}

type MQTTClient struct {
	client mqtt.Client
}

func (c *MQTTClient) Connect(timeout time.Duration) error {
	return waitToken(c.client.Connect(), timeout, "connect")
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, timeout time.Duration) error {
	return waitToken(c.client.Publish(topic, qos, retain, payload), timeout, "publish")
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func waitToken(token mqtt.Token, timeout time.Duration, op string) error {
	didTO := token.WaitTimeout(timeout)
	if !didTO {
		return fmt.Errorf("MQTT %s timed out", op)
	}
	return token.Error()
}

// MeasurementTopic is the default topic for reports of one device:
// <baseTopic>/<type>/<serialNumber>, each segment stripped of topic metacharacters.
func MeasurementTopic(baseTopic string, deviceType string, serialNumber string) string {
	return fmt.Sprintf("%s/%s/%s", baseTopic, topicSegment(deviceType), topicSegment(serialNumber))
}

func topicSegment(segment string) string {
	segment = topicSegmentRegexp.ReplaceAllString(segment, "_")
	if segment == "" {
		return "_"
	}
	return segment
}
