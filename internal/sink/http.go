package sink

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/berfenger/marshal/internal/config"
	"github.com/berfenger/marshal/internal/payload"
	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"
)

const MAX_REPLY_SIZE = 1 << 20

// HTTPSink posts the payload as JSON with basic credentials.
type HTTPSink struct {
	timeout time.Duration
	logger  *zap.Logger
}

func NewHTTPSink(timeout time.Duration, logger *zap.Logger) *HTTPSink {
	return &HTTPSink{
		timeout: timeout,
		logger:  logger.With(zap.String("sink", "http")),
	}
}

// EndpointURL renders protocol://host[:port]path.
func EndpointURL(server config.Server) string {
	host := server.Hostname
	if server.Port > 0 {
		host = net.JoinHostPort(server.Hostname, strconv.Itoa(int(server.Port)))
	}
	return server.Protocol + "://" + host + server.Path
}

func (s *HTTPSink) client(server config.Server) (*http.Client, error) {
	tlsConfig, err := TLSConfig(server.Certificate)
	if err != nil {
		return nil, err
	}
	transport := cleanhttp.DefaultTransport()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{
		Transport: transport,
		Timeout:   s.timeout,
	}, nil
}

func (s *HTTPSink) Send(ctx context.Context, server config.Server, out payload.Outbound) (payload.Reply, error) {
	body, err := out.Marshal()
	if err != nil {
		return payload.Reply{}, err
	}
	client, err := s.client(server)
	if err != nil {
		return payload.Reply{}, transportError("server %s: %v", server.Id, err)
	}
	// one transport per send, its idle connection must not outlive it
	defer client.CloseIdleConnections()

	endpoint := EndpointURL(server)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return payload.Reply{}, transportError("server %s: %v", server.Id, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if server.Username != "" || server.Password != "" {
		req.SetBasicAuth(server.Username, server.Password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return payload.Reply{}, transportError("server %s: %v", server.Id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return payload.Reply{}, transportError("server %s: %s answered %s", server.Id, endpoint, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MAX_REPLY_SIZE))
	if err != nil {
		return payload.Reply{}, transportError("server %s: reading reply: %v", server.Id, err)
	}

	reply := payload.ParseReply(data)
	s.logger.Debug("sink@http: sent", zap.String("url", endpoint), zap.Int("status", resp.StatusCode),
		zap.Strings("on_demand", reply.Extra))
	return reply, nil
}
