package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/berfenger/marshal/internal/config"
	"github.com/berfenger/marshal/internal/payload"
	"go.uber.org/zap"
)

var (
	ErrTransport           = errors.New("sink: transport error")
	ErrUnsupportedProtocol = errors.New("sink: unsupported protocol")
)

// Sink delivers one payload to one collector. Only HTTP collectors answer
// with a meaningful reply.
type Sink interface {
	Send(ctx context.Context, server config.Server, out payload.Outbound) (payload.Reply, error)
}

type Options struct {
	HTTPTimeout        time.Duration
	SQLTimeout         time.Duration
	MQTTTimeout        time.Duration
	MQTTBaseTopic      string
	MQTTClientIdPrefix string
	Logger             *zap.Logger
}

func OptionsFromConfig(cfg *config.Config, logger *zap.Logger) Options {
	return Options{
		HTTPTimeout:        cfg.Timeouts.HTTP(),
		SQLTimeout:         cfg.Timeouts.SQL(),
		MQTTTimeout:        cfg.Timeouts.MQTT(),
		MQTTBaseTopic:      cfg.MQTT.BaseTopic,
		MQTTClientIdPrefix: cfg.MQTT.ClientIdPrefix,
		Logger:             logger,
	}
}

// Router picks the sink by the protocol of the server entry.
type Router struct {
	sinks map[string]Sink
}

func NewRouter() *Router {
	return &Router{sinks: map[string]Sink{}}
}

// NewDefaultRouter wires every supported protocol.
func NewDefaultRouter(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := NewRouter()

	httpSink := NewHTTPSink(opts.HTTPTimeout, opts.Logger)
	r.Register("http", httpSink)
	r.Register("https", httpSink)

	mysqlSink := NewMySQLSink(opts.SQLTimeout, opts.Logger)
	r.Register("sql", mysqlSink)
	r.Register("mysql", mysqlSink)
	r.Register("sqlite", NewSQLiteSink(opts.SQLTimeout, opts.Logger))

	r.Register("mqtt", NewMQTTSink(opts.MQTTBaseTopic, opts.MQTTClientIdPrefix, opts.MQTTTimeout, opts.Logger))
	r.Register("influxdb", NewInfluxSink(opts.HTTPTimeout, opts.Logger))
	return r
}

func (r *Router) Register(protocol string, sink Sink) {
	r.sinks[strings.ToLower(protocol)] = sink
}

func (r *Router) Supports(protocol string) bool {
	_, ok := r.sinks[strings.ToLower(protocol)]
	return ok
}

func (r *Router) Send(ctx context.Context, server config.Server, out payload.Outbound) (payload.Reply, error) {
	sink, ok := r.sinks[strings.ToLower(server.Protocol)]
	if !ok {
		return payload.Reply{}, fmt.Errorf("%w: %q (server %s)", ErrUnsupportedProtocol, server.Protocol, server.Id)
	}
	return sink.Send(ctx, server, out)
}

func transportError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}
