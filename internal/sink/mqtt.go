package sink

import (
	"context"
	"strings"
	"time"

	"github.com/berfenger/marshal/internal/config"
	"github.com/berfenger/marshal/internal/mqtt"
	"github.com/berfenger/marshal/internal/payload"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const MQTT_QOS = 1

// MQTTSink publishes the JSON payload to the server path, or to
// <baseTopic>/<type>/<serialNumber> when the path is empty.
type MQTTSink struct {
	baseTopic      string
	clientIdPrefix string
	timeout        time.Duration
	logger         *zap.Logger
	newClient      func(opts *paho.ClientOptions) *mqtt.MQTTClient
}

func NewMQTTSink(baseTopic string, clientIdPrefix string, timeout time.Duration, logger *zap.Logger) *MQTTSink {
	return &MQTTSink{
		baseTopic:      baseTopic,
		clientIdPrefix: clientIdPrefix,
		timeout:        timeout,
		logger:         logger.With(zap.String("sink", "mqtt")),
		newClient:      mqtt.CreateMQTTClient,
	}
}

func (s *MQTTSink) Topic(server config.Server, out payload.Outbound) string {
	if topic := strings.Trim(server.Path, "/"); topic != "" {
		return topic
	}
	return mqtt.MeasurementTopic(s.baseTopic, out.H.Type, out.H.SerialNumber)
}

func (s *MQTTSink) Send(ctx context.Context, server config.Server, out payload.Outbound) (payload.Reply, error) {
	if err := ctx.Err(); err != nil {
		return payload.Reply{}, transportError("server %s: %v", server.Id, err)
	}
	body, err := out.Marshal()
	if err != nil {
		return payload.Reply{}, err
	}

	broker := mqtt.BrokerConfig{
		Host:           server.Hostname,
		Port:           server.Port,
		Username:       server.Username,
		Password:       server.Password,
		ClientIdPrefix: s.clientIdPrefix,
		ConnectTimeout: s.timeout,
	}
	if server.Certificate != "" {
		tlsConfig, err := TLSConfig(server.Certificate)
		if err != nil {
			return payload.Reply{}, transportError("server %s: %v", server.Id, err)
		}
		broker.TLS = tlsConfig
	}

	client := s.newClient(mqtt.OptsFromConfig(broker))
	if err := client.Connect(s.timeout); err != nil {
		return payload.Reply{}, transportError("server %s: %v", server.Id, err)
	}
	defer client.Disconnect(250 * time.Millisecond)

	topic := s.Topic(server, out)
	if err := client.Publish(topic, body, MQTT_QOS, false, s.timeout); err != nil {
		return payload.Reply{}, transportError("server %s: %v", server.Id, err)
	}

	s.logger.Debug("sink@mqtt: published", zap.String("topic", topic), zap.Int("bytes", len(body)))
	return payload.Reply{}, nil
}
