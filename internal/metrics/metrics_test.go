package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/berfenger/marshal/pkg/energy_device"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAndGauges(t *testing.T) {

	assert := assert.New(t)

	m := New()
	m.ObserveCycle(time.Second, nil)
	m.ObserveCycle(time.Second, errors.New("boom"))
	m.ObserveSend("http", RESULT_OK)
	m.ObserveSend("http", RESULT_OK)
	m.ObserveSend("sql", RESULT_FAILED)
	m.ObserveOnDemand()
	m.SetSanity(energy_device.Unsane)

	assert.Equal(1.0, testutil.ToFloat64(m.cycles.WithLabelValues(RESULT_OK)))
	assert.Equal(1.0, testutil.ToFloat64(m.cycles.WithLabelValues(RESULT_FAILED)))
	assert.Equal(2.0, testutil.ToFloat64(m.sends.WithLabelValues("http", RESULT_OK)))
	assert.Equal(1.0, testutil.ToFloat64(m.sends.WithLabelValues("sql", RESULT_FAILED)))
	assert.Equal(1.0, testutil.ToFloat64(m.onDemand))
	assert.Equal(0.0, testutil.ToFloat64(m.sanity))

	m.SetSanity(energy_device.Unmeasured)
	assert.Equal(-1.0, testutil.ToFloat64(m.sanity))
}

func TestModbusInstrumentAndHandler(t *testing.T) {

	assert := assert.New(t)

	m := New()
	inst := m.ModbusInstrument()
	inst.RecordTime("ReadRegister", 3*time.Millisecond)
	inst.RecordTime("ReadRegister", 4*time.Millisecond)

	assert.Equal(1, testutil.CollectAndCount(m.deviceIO))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(http.StatusOK, rec.Code)
	assert.Contains(rec.Body.String(), `marshal_device_io_seconds_count{fn="ReadRegister"} 2`)
}
