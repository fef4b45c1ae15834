package energy_device

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	DEFAULT_MODBUS_TCP_PORT = 502
	DEFAULT_TIMEOUT         = 5 * time.Second
)

type options struct {
	clientFactory ClientFactory
	httpClient    *http.Client
	instrument    []ModbusInstrument
	logger        *zap.Logger
	now           func() time.Time
}

type Option func(*options)

// WithClientFactory replaces the Modbus client constructor, mainly for tests.
func WithClientFactory(factory ClientFactory) Option {
	return func(o *options) {
		o.clientFactory = factory
	}
}

// WithHTTPClient sets the client used by HTTP-scrape drivers. The identity
// timeout is not applied to a client passed this way.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

func WithInstrument(instrument ModbusInstrument) Option {
	return func(o *options) {
		o.instrument = append(o.instrument, instrument)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clientFactory: NewModbusClient,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus@io", zap.String("fn", fnName), zap.Int64("millis", readTime.Milliseconds()))
		},
	}
}

func timeoutOrDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DEFAULT_TIMEOUT
	}
	return timeout
}
