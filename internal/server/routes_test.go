package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/berfenger/marshal/internal/agent"
	"github.com/berfenger/marshal/internal/config"
	"github.com/berfenger/marshal/internal/dispatch"
	"github.com/berfenger/marshal/pkg/energy_device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	healthy bool
	last    *dispatch.CycleReport
	runs    int
	runErr  error
}

func (f *fakeAgent) Healthy() bool {
	return f.healthy
}

func (f *fakeAgent) LastReport() (*dispatch.CycleReport, error) {
	return f.last, nil
}

func (f *fakeAgent) TryRunOnce(ctx context.Context) (*dispatch.CycleReport, error) {
	f.runs++
	if errors.Is(f.runErr, agent.ErrCycleInProgress) {
		return nil, f.runErr
	}
	f.last = &dispatch.CycleReport{
		Sanity: "sane",
		Combinations: []dispatch.CombinationReport{
			{Name: "combination0", Server: "0", Protocol: "http", Status: dispatch.StatusSent},
		},
	}
	return f.last, f.runErr
}

func (f *fakeAgent) Hardware() config.HardwareConfig {
	return config.HardwareConfig{Type: "inverter", Manufacturer: "ABB", ModelNumber: "PVS800", SerialNumber: "ABB-0042"}
}

func (f *fakeAgent) Family() energy_device.Family {
	return energy_device.FamilyModbusTCPInverter
}

func serve(s *Server, method string, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.RegisterRoutes().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthCheck(t *testing.T) {

	assert := assert.New(t)

	fa := &fakeAgent{healthy: true}
	s := &Server{agent: fa}

	rec := serve(s, http.MethodGet, "/healthcheck")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal("health_check: OK", rec.Body.String())

	fa.healthy = false
	rec = serve(s, http.MethodGet, "/healthcheck")
	assert.Equal(http.StatusServiceUnavailable, rec.Code)
	assert.Equal("health_check: FAIL", rec.Body.String())
}

func TestStatus(t *testing.T) {

	assert := assert.New(t)

	fa := &fakeAgent{healthy: true}
	s := &Server{agent: fa}

	rec := serve(s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(status.Healthy)
	assert.Nil(status.LastCycle)
	assert.Equal(DeviceStatus{
		Type:         "inverter",
		Manufacturer: "ABB",
		ModelNumber:  "PVS800",
		SerialNumber: "ABB-0042",
		Family:       "modbus_tcp_inverter",
	}, status.Device)
	assert.NotEmpty(status.Version)
}

func TestCycle(t *testing.T) {

	assert := assert.New(t)

	fa := &fakeAgent{healthy: true}
	s := &Server{agent: fa}

	rec := serve(s, http.MethodPost, "/cycle")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp CycleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(resp.Error)
	require.NotNil(t, resp.Report)
	assert.Equal(dispatch.StatusSent, resp.Report.Combinations[0].Status)
	assert.Equal(1, fa.runs)

	fa.runErr = errors.New("combination0: transport error")
	rec = serve(s, http.MethodPost, "/cycle")
	assert.Equal(http.StatusBadGateway, rec.Code)
	assert.Contains(rec.Body.String(), "transport error")

	fa.runErr = agent.ErrCycleInProgress
	rec = serve(s, http.MethodPost, "/cycle")
	assert.Equal(http.StatusConflict, rec.Code)

	rec = serve(s, http.MethodGet, "/cycle")
	assert.Equal(http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsRoute(t *testing.T) {

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("marshal_cycles_total 1\n"))
	})

	rec := serve(&Server{agent: &fakeAgent{}, metrics: metrics}, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "marshal_cycles_total")

	rec = serve(&Server{agent: &fakeAgent{}}, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewServer(t *testing.T) {

	cfg := config.Config{Daemon: config.DaemonConfig{Port: 9090}}
	srv := NewServer(cfg, &fakeAgent{}, nil)
	assert.Equal(t, ":9090", srv.Addr)
	assert.NotNil(t, srv.Handler)
}
