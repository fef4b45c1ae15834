package sink

import (
	"context"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/marshal/internal/config"
	"github.com/berfenger/marshal/internal/payload"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

const DEFAULT_INFLUXDB_PORT = 8086

// InfluxSink writes one point per payload. The server entry maps username to
// the organization, password to the API token and databasename to the bucket.
type InfluxSink struct {
	timeout time.Duration
	logger  *zap.Logger
}

func NewInfluxSink(timeout time.Duration, logger *zap.Logger) *InfluxSink {
	return &InfluxSink{
		timeout: timeout,
		logger:  logger.With(zap.String("sink", "influxdb")),
	}
}

func influxURL(server config.Server) string {
	scheme := "http"
	if server.Certificate != "" {
		scheme = "https"
	}
	port := server.Port
	if port == 0 {
		port = DEFAULT_INFLUXDB_PORT
	}
	return scheme + "://" + net.JoinHostPort(server.Hostname, strconv.Itoa(int(port))) + server.Path
}

// Point converts the payload: numeric values become float fields, anything
// else a string field. Unavailable measurements carry no field and are listed
// in the "unavailable" tag instead. Point returns nil when no field remains.
func Point(out payload.Outbound) *write.Point {
	tags := map[string]string{
		"serialNumber": out.H.SerialNumber,
		"manufacturer": out.H.Manufacturer,
		"onDemand":     strconv.FormatBool(out.H.IsOnDemand),
		"sane":         strconv.FormatBool(out.H.IsSane == 0),
	}
	fields := make(map[string]interface{}, len(out.M))
	var unavailable []string
	for _, name := range out.Names() {
		value := out.M[name]
		if value == payload.UNAVAILABLE {
			unavailable = append(unavailable, name)
			continue
		}
		if f, err := cast.ToFloat64E(value); err == nil {
			fields[name] = f
		} else {
			fields[name] = value
		}
	}
	if len(fields) == 0 {
		return nil
	}
	if len(unavailable) > 0 {
		tags["unavailable"] = strings.Join(unavailable, ",")
	}
	at := out.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(out.Table(), tags, fields, at)
}

func (s *InfluxSink) Send(ctx context.Context, server config.Server, out payload.Outbound) (payload.Reply, error) {
	opts := influxdb2.DefaultOptions()
	if s.timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(math.Ceil(s.timeout.Seconds())))
	}
	if server.Certificate != "" {
		tlsConfig, err := TLSConfig(server.Certificate)
		if err != nil {
			return payload.Reply{}, transportError("server %s: %v", server.Id, err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	point := Point(out)
	if point == nil {
		s.logger.Debug("sink@influxdb: nothing to write, every measurement unavailable",
			zap.String("server", server.Id), zap.Strings("measurements", out.Names()))
		return payload.Reply{}, nil
	}

	client := influxdb2.NewClientWithOptions(influxURL(server), server.Password, opts)
	defer client.Close()

	writeAPI := client.WriteAPIBlocking(server.Username, server.DatabaseName)
	if err := writeAPI.WritePoint(ctx, point); err != nil {
		return payload.Reply{}, transportError("server %s: %v", server.Id, err)
	}

	s.logger.Debug("sink@influxdb: point written", zap.String("measurement", out.Table()), zap.Int("fields", len(out.M)))
	return payload.Reply{}, nil
}
