package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/berfenger/marshal/internal/clock"
	"github.com/berfenger/marshal/internal/config"
	"github.com/berfenger/marshal/internal/payload"
	"github.com/berfenger/marshal/internal/sink"
	"github.com/berfenger/marshal/pkg/energy_device"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// UNAVAILABLE is reported for names neither the device nor the host can resolve.
const UNAVAILABLE = payload.UNAVAILABLE

type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// FactLookup resolves measurement names the device does not offer. An empty
// result means the fact is unavailable.
type FactLookup interface {
	Lookup(name string) string
}

type Observer interface {
	ObserveCycle(duration time.Duration, err error)
	ObserveSend(protocol string, result string)
	ObserveOnDemand()
	SetSanity(sanity energy_device.Sanity)
}

type CombinationReport struct {
	Name         string   `json:"name"`
	Server       string   `json:"server"`
	Protocol     string   `json:"protocol"`
	Status       Status   `json:"status"`
	Measurements []string `json:"measurements,omitempty"`
	OnDemand     []string `json:"onDemand,omitempty"`
	Error        string   `json:"error,omitempty"`
}

type CycleReport struct {
	Started      time.Time           `json:"started"`
	Duration     time.Duration       `json:"duration"`
	Sanity       string              `json:"sanity"`
	Combinations []CombinationReport `json:"combinations"`
	Error        string              `json:"error,omitempty"`
}

// Orchestrator runs poll cycles: collect every required measurement once,
// then build, send and complete on demand each combination in order.
type Orchestrator struct {
	driver   energy_device.Driver
	software *config.SoftwareConfig
	host     payload.HostDescriptor
	facts    FactLookup
	sender   sink.Sink
	stamper  *clock.Stamper
	observer Observer
	logger   *zap.Logger
}

type Option func(*Orchestrator)

func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		o.observer = observer
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func NewOrchestrator(driver energy_device.Driver, software *config.SoftwareConfig, hardware *config.HardwareConfig,
	facts FactLookup, sender sink.Sink, stamper *clock.Stamper, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		driver:   driver,
		software: software,
		host:     payload.HostFromHardware(hardware),
		facts:    facts,
		sender:   sender,
		stamper:  stamper,
		observer: nopObserver{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(zap.String("component", "dispatch"))
	return o
}

// RunCycle performs one poll cycle. A configuration error aborts the cycle
// before any I/O. A device failure while collecting fails only the
// combinations that select a device measurement; failures of individual
// combinations are aggregated and the remaining combinations still run.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	start := o.stamper.Now()
	report := &CycleReport{Started: start, Sanity: energy_device.Unmeasured.String()}
	finish := func(err error) (*CycleReport, error) {
		report.Duration = o.stamper.Now().Sub(start)
		if err != nil {
			report.Error = err.Error()
		}
		o.observer.ObserveCycle(report.Duration, err)
		return report, err
	}

	if err := o.software.Validate(); err != nil {
		o.logger.Error("dispatch@validate: combination cannot be resolved", zap.Error(err))
		return finish(err)
	}

	o.driver.Cancel()
	cache := newCollection(o.driver.Measurements())
	for _, name := range o.software.Measurements() {
		// a device failure only fails the combinations that need the device
		o.resolve(name, cache)
	}
	if cache.deviceErr != nil {
		o.logger.Error("dispatch@collect: device read failed", zap.Error(cache.deviceErr))
	}
	sanity := o.driver.Sanity()
	report.Sanity = sanity.String()
	o.observer.SetSanity(sanity)
	o.logger.Debug("dispatch@collect: done", zap.Int("measurements", len(cache.values)), zap.Stringer("sanity", sanity))

	var errs error
	for _, comb := range o.software.Combinations {
		cr, err := o.dispatch(ctx, comb, cache)
		report.Combinations = append(report.Combinations, cr)
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		o.logger.Warn("dispatch@cycle: finished with failures", zap.Error(errs))
	} else {
		o.logger.Info("dispatch@cycle: finished", zap.Int("combinations", len(report.Combinations)))
	}
	return finish(errs)
}

func (o *Orchestrator) dispatch(ctx context.Context, comb config.Combination, cache *collection) (CombinationReport, error) {
	server, set, err := o.software.Resolve(comb)
	if err != nil {
		return CombinationReport{Name: comb.Name, Status: StatusFailed, Error: err.Error()}, err
	}
	protocol := strings.ToLower(server.Protocol)
	cr := CombinationReport{Name: comb.Name, Server: server.Id, Protocol: protocol}
	logger := o.logger.With(zap.String("combination", comb.Name), zap.String("server", server.Id))

	fail := func(err error) (CombinationReport, error) {
		cr.Status = StatusFailed
		cr.Error = err.Error()
		o.observer.ObserveSend(protocol, string(StatusFailed))
		logger.Warn("dispatch@send: failed", zap.Error(err))
		return cr, fmt.Errorf("%s: %w", comb.Name, err)
	}

	names := set.Primary
	if o.driver.Sanity() == energy_device.Unsane {
		names = set.Alternate
	}
	if len(names) == 0 {
		cr.Status = StatusSkipped
		o.observer.ObserveSend(protocol, string(StatusSkipped))
		logger.Info("dispatch@build: no measurements selected, combination skipped",
			zap.Stringer("sanity", o.driver.Sanity()))
		return cr, nil
	}

	measurements, err := o.measurements(names, cache)
	if err != nil {
		return fail(err)
	}
	cr.Measurements = sortedKeys(measurements)

	reply, err := o.sender.Send(ctx, server, o.build(measurements, false))
	if err != nil {
		return fail(err)
	}
	cr.Status = StatusSent
	o.observer.ObserveSend(protocol, string(StatusSent))
	logger.Debug("dispatch@send: delivered", zap.Int("measurements", len(measurements)))

	if !reply.OnDemand() {
		return cr, nil
	}

	// one follow-up at most, its reply is ignored
	extra, err := o.measurements(reply.Extra, cache)
	if err != nil {
		cr.Error = err.Error()
		logger.Warn("dispatch@on_demand: could not resolve requested variables", zap.Error(err))
		return cr, fmt.Errorf("%s: on demand: %w", comb.Name, err)
	}
	cr.OnDemand = reply.Extra
	if _, err := o.sender.Send(ctx, server, o.build(extra, true)); err != nil {
		cr.Error = err.Error()
		o.observer.ObserveSend(protocol, string(StatusFailed))
		logger.Warn("dispatch@on_demand: follow-up failed", zap.Error(err))
		return cr, fmt.Errorf("%s: on demand: %w", comb.Name, err)
	}
	o.observer.ObserveOnDemand()
	logger.Info("dispatch@on_demand: follow-up delivered", zap.Strings("variables", reply.Extra))
	return cr, nil
}

func (o *Orchestrator) measurements(names []string, cache *collection) (map[string]string, error) {
	values := make(map[string]string, len(names))
	for _, name := range names {
		value, err := o.resolve(name, cache)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		values[name] = value
	}
	return values, nil
}

// collection holds the values resolved during one cycle and the device
// failure, if any, so a failed device is not queried again in the same cycle.
type collection struct {
	values    map[string]string
	registers map[string]struct{}
	deviceErr error
}

func newCollection(registers []string) *collection {
	c := &collection{
		values:    map[string]string{},
		registers: make(map[string]struct{}, len(registers)),
	}
	for _, name := range registers {
		c.registers[name] = struct{}{}
	}
	return c
}

// resolve reads name from the cycle cache, then the device, then the host facts.
func (o *Orchestrator) resolve(name string, cache *collection) (string, error) {
	if value, ok := cache.values[name]; ok {
		return value, nil
	}
	if _, ok := cache.registers[name]; ok && cache.deviceErr != nil {
		return "", cache.deviceErr
	}
	value, err := o.driver.Read(name)
	if errors.Is(err, energy_device.ErrUnknownMeasurement) {
		value = o.facts.Lookup(name)
		if value == "" {
			value = UNAVAILABLE
		}
		err = nil
	}
	if err != nil {
		cache.deviceErr = err
		return "", err
	}
	cache.values[name] = value
	return value, nil
}

func (o *Orchestrator) build(measurements map[string]string, onDemand bool) payload.Outbound {
	now := o.stamper.Now()
	host := o.host
	host.IsOnDemand = onDemand
	host.IsSane = o.driver.Sanity().Flag()
	return payload.Outbound{
		T:  o.stamper.Stamp(now),
		H:  host,
		M:  measurements,
		At: now,
	}
}

type nopObserver struct{}

func (nopObserver) ObserveCycle(time.Duration, error) {}
func (nopObserver) ObserveSend(string, string)        {}
func (nopObserver) ObserveOnDemand()                  {}
func (nopObserver) SetSanity(energy_device.Sanity)    {}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
