package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/berfenger/marshal/internal/clock"
	"github.com/berfenger/marshal/internal/config"
	"github.com/berfenger/marshal/internal/payload"
	"github.com/berfenger/marshal/internal/sink"
	"github.com/berfenger/marshal/pkg/energy_device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentPayload struct {
	server string
	out    payload.Outbound
}

// scriptedSender records every send and answers from per-server queues.
type scriptedSender struct {
	sent    []sentPayload
	replies map[string][]payload.Reply
	fail    map[string]error
}

func newScriptedSender() *scriptedSender {
	return &scriptedSender{replies: map[string][]payload.Reply{}, fail: map[string]error{}}
}

func (s *scriptedSender) Send(ctx context.Context, server config.Server, out payload.Outbound) (payload.Reply, error) {
	s.sent = append(s.sent, sentPayload{server: server.Id, out: out})
	if err, ok := s.fail[server.Id]; ok {
		return payload.Reply{}, err
	}
	queue := s.replies[server.Id]
	if len(queue) == 0 {
		return payload.Reply{}, nil
	}
	s.replies[server.Id] = queue[1:]
	return queue[0], nil
}

type mapFacts map[string]string

func (f mapFacts) Lookup(name string) string {
	return f[name]
}

type countingObserver struct {
	cycles   int
	sends    map[string]int
	onDemand int
	sanity   energy_device.Sanity
}

func (o *countingObserver) ObserveCycle(time.Duration, error) { o.cycles++ }
func (o *countingObserver) ObserveSend(protocol string, result string) {
	o.sends[protocol+"/"+result]++
}
func (o *countingObserver) ObserveOnDemand()                      { o.onDemand++ }
func (o *countingObserver) SetSanity(sanity energy_device.Sanity) { o.sanity = sanity }

var hardware = &config.HardwareConfig{
	Type:         "inverter",
	Manufacturer: "ABB",
	ModelNumber:  "PVS800",
	SerialNumber: "ABB-0042",
	ToStore:      "False",
}

type fixture struct {
	reader   *energy_device.TestRegisterReader
	driver   energy_device.Driver
	sender   *scriptedSender
	observer *countingObserver
	orch     *Orchestrator
}

func newFixture(t *testing.T, software string, registers map[uint16]uint16, rules energy_device.ThresholdRules) *fixture {
	t.Helper()
	sw, err := config.ParseSoftware([]byte(software))
	require.NoError(t, err)

	reader := energy_device.NewTestRegisterReader(registers)
	drv, err := energy_device.Attach("ABB", "PVS800",
		energy_device.DeviceIdentity{IPAddress: "10.0.0.5", Thresholds: rules},
		energy_device.WithClientFactory(reader.Factory()))
	require.NoError(t, err)

	stamp := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	stamper, err := clock.NewStamper("Asia/Kolkata", func() time.Time { return stamp })
	require.NoError(t, err)

	f := &fixture{
		reader:   reader,
		driver:   drv,
		sender:   newScriptedSender(),
		observer: &countingObserver{sends: map[string]int{}},
	}
	facts := mapFacts{"hostname": "raspberrypi"}
	f.orch = NewOrchestrator(drv, sw, hardware, facts, f.sender, stamper, WithObserver(f.observer))
	return f
}

const singleHTTP = `{
	"servers": {"0": {"protocol": "http", "hostname": "collector.local", "path": "/ingest"}},
	"measurementSets": {"0": {"variable0": "powerGrid", "variable1": "hostname", "variableAlternate0": "modeInverter"}},
	"combinations": {"combination0": {"server": "0", "measurementSet": "0"}}
}`

func TestCycleSendsPrimaryPayload(t *testing.T) {

	assert := assert.New(t)

	f := newFixture(t, singleHTTP, map[uint16]uint16{109: 1050}, nil)
	report, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, f.sender.sent, 1)
	out := f.sender.sent[0].out
	assert.Equal("2024-03-01 15:30:00.000000", out.T)
	assert.Equal(map[string]string{"powerGrid": "105.0", "hostname": "raspberrypi"}, out.M)
	assert.Equal(payload.HostDescriptor{
		Type:         "inverter",
		Manufacturer: "ABB",
		ModelNumber:  "PVS800",
		SerialNumber: "ABB-0042",
		ToStore:      "False",
		IsOnDemand:   false,
		IsSane:       0,
	}, out.H)

	assert.Equal("sane", report.Sanity)
	assert.Equal([]CombinationReport{{
		Name:         "combination0",
		Server:       "0",
		Protocol:     "http",
		Status:       StatusSent,
		Measurements: []string{"hostname", "powerGrid"},
	}}, report.Combinations)
	assert.Equal(1, f.observer.sends["http/sent"])
	assert.Equal(energy_device.Sane, f.observer.sanity)
}

func TestCycleOnDemandFollowUp(t *testing.T) {

	assert := assert.New(t)

	f := newFixture(t, singleHTTP, map[uint16]uint16{109: 1050}, nil)
	f.sender.replies["0"] = []payload.Reply{
		{Extra: []string{"tempInverter"}},
		// a third round is never attempted
		{Extra: []string{"powerGrid"}},
	}

	report, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, f.sender.sent, 2)
	follow := f.sender.sent[1].out
	assert.True(follow.H.IsOnDemand)
	assert.Equal(map[string]string{"tempInverter": UNAVAILABLE}, follow.M)
	assert.False(f.sender.sent[0].out.H.IsOnDemand)
	assert.Equal([]string{"tempInverter"}, report.Combinations[0].OnDemand)
	assert.Equal(1, f.observer.onDemand)
}

func TestCycleOnDemandReusesCycleValues(t *testing.T) {

	assert := assert.New(t)

	f := newFixture(t, singleHTTP, map[uint16]uint16{109: 1050, 119: 41}, nil)
	f.sender.replies["0"] = []payload.Reply{{Extra: []string{"powerGrid", "temperatureInverter", "hostname"}}}

	_, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, f.sender.sent, 2)
	assert.Equal(map[string]string{"powerGrid": "105.0", "temperatureInverter": "41.0", "hostname": "raspberrypi"},
		f.sender.sent[1].out.M)
	assert.Equal(17, f.reader.Reads, "device measured once for both sends")
}

func TestCycleNoFollowUpWithoutVariable0(t *testing.T) {

	f := newFixture(t, singleHTTP, nil, nil)
	f.sender.replies["0"] = []payload.Reply{payload.ParseReply([]byte(`{"variable1": "tempInverter"}`))}

	_, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.sender.sent, 1)
	assert.Equal(t, 0, f.observer.onDemand)
}

func TestCycleUsesAlternateWhenUnsane(t *testing.T) {

	assert := assert.New(t)

	software := `{
		"servers": {"0": {"protocol": "http", "hostname": "collector.local"}},
		"measurementSets": {"0": {"variable0": "powerGrid", "variable1": "currentGrid", "variableAlternate0": "modeInverter"}},
		"combinations": {"combination0": {"server": "0", "measurementSet": "0"}}
	}`
	rules := energy_device.ThresholdRules{"currentGrid": {Kind: energy_device.THRESHOLD_MAX, Bound: 50}}
	f := newFixture(t, software, map[uint16]uint16{106: 60, 120: 3}, rules)

	report, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, f.sender.sent, 1)
	out := f.sender.sent[0].out
	assert.Equal(map[string]string{"modeInverter": "3.0"}, out.M)
	assert.Equal(-1, out.H.IsSane)
	assert.Equal("unsane", report.Sanity)
}

func TestCycleSkipsEmptySelection(t *testing.T) {

	assert := assert.New(t)

	software := `{
		"servers": {"0": {"protocol": "http", "hostname": "a"}, "1": {"protocol": "sql", "hostname": "b"}},
		"measurementSets": {
			"0": {"variable0": "currentGrid"},
			"1": {"variable0": "currentGrid", "variableAlternate0": "hostname"}
		},
		"combinations": {
			"combination0": {"server": "0", "measurementSet": "0"},
			"combination1": {"server": "1", "measurementSet": "1"}
		}
	}`
	rules := energy_device.ThresholdRules{"currentGrid": {Kind: energy_device.THRESHOLD_MAX, Bound: 50}}
	f := newFixture(t, software, map[uint16]uint16{106: 60}, rules)

	report, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(StatusSkipped, report.Combinations[0].Status)
	assert.Equal(StatusSent, report.Combinations[1].Status)
	require.Len(t, f.sender.sent, 1)
	assert.Equal("1", f.sender.sent[0].server)
	assert.Equal(map[string]string{"hostname": "raspberrypi"}, f.sender.sent[0].out.M)
	assert.Equal(1, f.observer.sends["http/skipped"])
}

func TestCycleRejectsUnresolvableCombination(t *testing.T) {

	assert := assert.New(t)

	software := `{
		"servers": {"0": {"protocol": "http", "hostname": "a"}},
		"measurementSets": {"0": {"variable0": "powerGrid"}},
		"combinations": {
			"combination0": {"server": "0", "measurementSet": "0"},
			"combination1": {"server": "7", "measurementSet": "0"}
		}
	}`
	f := newFixture(t, software, nil, nil)

	report, err := f.orch.RunCycle(context.Background())
	assert.ErrorIs(err, config.ErrInvalidConfig)
	assert.NotEmpty(report.Error)
	assert.Empty(f.sender.sent)
	assert.Equal(0, f.reader.Reads)
	assert.Equal(1, f.observer.cycles)
}

func TestCycleTransportFailureKeepsOtherCombinations(t *testing.T) {

	assert := assert.New(t)

	software := `{
		"servers": {"down": {"protocol": "http", "hostname": "a"}, "up": {"protocol": "mysql", "hostname": "b"}},
		"measurementSets": {"0": {"variable0": "powerGrid"}},
		"combinations": {
			"combination0": {"server": "down", "measurementSet": "0"},
			"combination1": {"server": "up", "measurementSet": "0"},
			"combination2": {"server": "down", "measurementSet": "0"}
		}
	}`
	f := newFixture(t, software, map[uint16]uint16{109: 1050}, nil)
	f.sender.fail["down"] = fmt.Errorf("%w: connection refused", sink.ErrTransport)

	report, err := f.orch.RunCycle(context.Background())
	assert.ErrorIs(err, sink.ErrTransport)
	assert.Len(f.sender.sent, 3)
	assert.Equal(StatusFailed, report.Combinations[0].Status)
	assert.Contains(report.Combinations[0].Error, "connection refused")
	assert.Equal(StatusSent, report.Combinations[1].Status)
	assert.Equal(StatusFailed, report.Combinations[2].Status)
	assert.Equal(2, f.observer.sends["http/failed"])
	assert.Equal(1, f.observer.sends["mysql/sent"])
}

func TestCycleMeasuresDeviceOncePerCycle(t *testing.T) {

	assert := assert.New(t)

	software := `{
		"servers": {"0": {"protocol": "http", "hostname": "a"}},
		"measurementSets": {
			"0": {"variable0": "powerGrid", "variable1": "currentGrid"},
			"1": {"variable0": "currentGrid", "variable1": "pfGrid", "variableAlternate0": "powerPV"}
		},
		"combinations": {
			"combination0": {"server": "0", "measurementSet": "0"},
			"combination1": {"server": "0", "measurementSet": "1"},
			"combination2": {"server": "0", "measurementSet": "0"}
		}
	}`
	f := newFixture(t, software, map[uint16]uint16{109: 1050}, nil)

	_, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(17, f.reader.Reads)

	f.reader.Set(109, 2000)
	_, err = f.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(34, f.reader.Reads)
	assert.Equal("200.0", f.sender.sent[len(f.sender.sent)-1].out.M["powerGrid"], "values from the new cycle")
}

func TestCycleDeviceFailureFailsOnlyDeviceCombinations(t *testing.T) {

	assert := assert.New(t)

	software := `{
		"servers": {"db": {"protocol": "mysql", "hostname": "a"}, "web": {"protocol": "http", "hostname": "b"}},
		"measurementSets": {
			"device": {"variable0": "powerGrid", "variable1": "hostname"},
			"host": {"variable0": "hostname"},
			"grid": {"variable0": "currentGrid"}
		},
		"combinations": {
			"combination0": {"server": "db", "measurementSet": "device"},
			"combination1": {"server": "web", "measurementSet": "host"},
			"combination2": {"server": "web", "measurementSet": "grid"}
		}
	}`
	f := newFixture(t, software, map[uint16]uint16{109: 1050}, nil)
	f.reader.FailAt(106, errors.New("i/o timeout"))

	report, err := f.orch.RunCycle(context.Background())
	assert.ErrorIs(err, energy_device.ErrTransport)
	assert.Equal("unmeasured", report.Sanity)
	// currentGrid is the first register, the device is not queried again
	assert.Equal(1, f.reader.Reads)

	require.Len(t, report.Combinations, 3)
	assert.Equal(StatusFailed, report.Combinations[0].Status)
	assert.Contains(report.Combinations[0].Error, "i/o timeout")
	assert.Equal(StatusSent, report.Combinations[1].Status)
	assert.Equal(StatusFailed, report.Combinations[2].Status)

	require.Len(t, f.sender.sent, 1)
	assert.Equal("web", f.sender.sent[0].server)
	assert.Equal(map[string]string{"hostname": "raspberrypi"}, f.sender.sent[0].out.M)
	assert.Equal(-1, f.sender.sent[0].out.H.IsSane)
	assert.Equal(1, f.observer.sends["http/sent"])
	assert.Equal(1, f.observer.sends["mysql/failed"])
	assert.Equal(1, f.observer.sends["http/failed"])

	f.reader.FailAt(106, nil)
	report, err = f.orch.RunCycle(context.Background())
	assert.NoError(err)
	assert.Equal("sane", report.Sanity)
	assert.Len(f.sender.sent, 4)
	assert.Equal("105.0", f.sender.sent[1].out.M["powerGrid"])
}

func TestCycleOnDemandDeviceFailureKeepsPrimarySend(t *testing.T) {

	assert := assert.New(t)

	software := `{
		"servers": {"0": {"protocol": "http", "hostname": "a"}},
		"measurementSets": {"0": {"variable0": "hostname"}},
		"combinations": {"combination0": {"server": "0", "measurementSet": "0"}}
	}`
	f := newFixture(t, software, nil, nil)
	f.reader.FailAt(106, errors.New("i/o timeout"))
	f.sender.replies["0"] = []payload.Reply{{Extra: []string{"powerGrid"}}}

	report, err := f.orch.RunCycle(context.Background())
	assert.ErrorIs(err, energy_device.ErrTransport)
	assert.Len(f.sender.sent, 1)
	assert.Equal(StatusSent, report.Combinations[0].Status)
	assert.Contains(report.Combinations[0].Error, "i/o timeout")
	assert.Equal(0, f.observer.onDemand)
}

func TestCycleFactsOnlyStaysUnmeasured(t *testing.T) {

	assert := assert.New(t)

	software := `{
		"servers": {"0": {"protocol": "http", "hostname": "a"}},
		"measurementSets": {"0": {"variable0": "hostname", "variable1": "ipv4_eth0"}},
		"combinations": {"combination0": {"server": "0", "measurementSet": "0"}}
	}`
	f := newFixture(t, software, nil, nil)

	_, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(0, f.reader.Reads)
	out := f.sender.sent[0].out
	assert.Equal(map[string]string{"hostname": "raspberrypi", "ipv4_eth0": UNAVAILABLE}, out.M)
	assert.Equal(-1, out.H.IsSane)
}
