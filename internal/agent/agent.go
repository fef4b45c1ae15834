package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/marshal/internal/clock"
	"github.com/berfenger/marshal/internal/config"
	"github.com/berfenger/marshal/internal/dispatch"
	"github.com/berfenger/marshal/internal/facts"
	"github.com/berfenger/marshal/internal/metrics"
	"github.com/berfenger/marshal/internal/sink"
	"github.com/berfenger/marshal/pkg/energy_device"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

var ErrCycleInProgress = errors.New("agent: cycle already in progress")

// Agent owns the attached driver and runs poll cycles one at a time.
type Agent struct {
	mu       sync.Mutex
	cfg      *config.Config
	software *config.SoftwareConfig
	hardware *config.HardwareConfig
	driver   energy_device.Driver
	orch     *dispatch.Orchestrator
	stamper  *clock.Stamper
	metrics  *metrics.Metrics
	logger   *zap.Logger
	last     *dispatch.CycleReport
	lastErr  error
}

type buildOptions struct {
	driverOpts []energy_device.Option
	sender     sink.Sink
	facts      dispatch.FactLookup
	now        func() time.Time
}

type Option func(*buildOptions)

// WithDriverOptions appends options passed to the device driver.
func WithDriverOptions(opts ...energy_device.Option) Option {
	return func(o *buildOptions) {
		o.driverOpts = append(o.driverOpts, opts...)
	}
}

// WithSender replaces the protocol router.
func WithSender(sender sink.Sink) Option {
	return func(o *buildOptions) {
		o.sender = sender
	}
}

func WithFacts(lookup dispatch.FactLookup) Option {
	return func(o *buildOptions) {
		o.facts = lookup
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *buildOptions) {
		o.now = now
	}
}

// New loads the software and hardware documents named by cfg, attaches the
// configured device and wires the dispatcher.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Agent, error) {
	o := buildOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	software, err := config.LoadSoftware(cfg.SoftwareConfig)
	if err != nil {
		return nil, fmt.Errorf("software config %s: %w", cfg.SoftwareConfig, err)
	}
	hardware, err := config.LoadHardware(cfg.HardwareConfig)
	if err != nil {
		return nil, fmt.Errorf("hardware config %s: %w", cfg.HardwareConfig, err)
	}
	logger.Info("agent@init: configuration loaded",
		zap.Any("software", software.Redacted()),
		zap.String("manufacturer", hardware.Manufacturer),
		zap.String("model", hardware.ModelNumber))

	stamper, err := clock.NewStamper(cfg.Timezone, o.now)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone: %v", config.ErrInvalidConfig, err)
	}

	m := metrics.New()

	identity := hardware.Identity
	identity.Timeout = cfg.Timeouts.Device()
	driverOpts := append([]energy_device.Option{
		energy_device.WithLogger(logger),
		energy_device.WithInstrument(m.ModbusInstrument()),
		energy_device.WithClock(o.now),
	}, o.driverOpts...)
	driver, err := energy_device.Attach(hardware.Manufacturer, hardware.ModelNumber, identity, driverOpts...)
	if err != nil {
		return nil, err
	}
	logger.Info("agent@init: device attached", zap.Stringer("family", driver.Family()))

	sender := o.sender
	if sender == nil {
		router := sink.NewDefaultRouter(sink.OptionsFromConfig(cfg, logger))
		for id, srv := range software.Servers {
			if !router.Supports(srv.Protocol) {
				logger.Warn("agent@init: server protocol not supported, its combinations will fail",
					zap.String("server", id), zap.String("protocol", srv.Protocol))
			}
		}
		sender = router
	}

	lookup := o.facts
	if lookup == nil {
		lookup = facts.NewHostFacts(facts.WithLogger(logger))
	}

	orch := dispatch.NewOrchestrator(driver, software, hardware, lookup, sender, stamper,
		dispatch.WithObserver(m), dispatch.WithLogger(logger))

	return &Agent{
		cfg:      cfg,
		software: software,
		hardware: hardware,
		driver:   driver,
		orch:     orch,
		stamper:  stamper,
		metrics:  m,
		logger:   logger.With(zap.String("component", "agent")),
	}, nil
}

// RunOnce runs one poll cycle. Concurrent callers are serialized so the
// driver is never used by two cycles at once.
func (a *Agent) RunOnce(ctx context.Context) (*dispatch.CycleReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runLocked(ctx)
}

// TryRunOnce runs one poll cycle unless another one is in progress.
func (a *Agent) TryRunOnce(ctx context.Context) (*dispatch.CycleReport, error) {
	if !a.mu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer a.mu.Unlock()
	return a.runLocked(ctx)
}

func (a *Agent) runLocked(ctx context.Context) (*dispatch.CycleReport, error) {
	report, err := a.orch.RunCycle(ctx)
	a.last = report
	a.lastErr = err
	return report, err
}

// LastReport returns the report of the most recent cycle, nil before the first one.
func (a *Agent) LastReport() (*dispatch.CycleReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.lastErr
}

// Healthy reports false once a cycle has failed, until a later cycle succeeds.
func (a *Agent) Healthy() bool {
	if !a.mu.TryLock() {
		// a cycle is running
		return true
	}
	defer a.mu.Unlock()
	return a.lastErr == nil
}

func (a *Agent) Metrics() *metrics.Metrics {
	return a.metrics
}

func (a *Agent) Hardware() config.HardwareConfig {
	return *a.hardware
}

func (a *Agent) Family() energy_device.Family {
	return a.driver.Family()
}

// Serve runs a cycle at every fire time of the cron schedule until ctx is done.
func (a *Agent) Serve(ctx context.Context, schedule string) error {
	trigger, err := NewTrigger(schedule, a.stamper.Location())
	if err != nil {
		return err
	}

	prev := a.stamper.Now()
	for {
		next, err := NextFire(trigger, prev)
		if err != nil {
			return err
		}
		a.logger.Debug("agent@serve: next cycle scheduled", zap.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("agent@serve: stopped")
			return nil
		case <-timer.C:
		}

		if _, err := a.RunOnce(ctx); err != nil {
			a.logger.Error("agent@serve: cycle failed", zap.Error(err))
		}
		prev = next
		if now := a.stamper.Now(); now.After(prev) {
			// skip fire times missed while the cycle ran
			prev = now
		}
	}
}

func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.driver.Close()
}

// NewTrigger parses a quartz cron expression (seconds first) evaluated in loc.
func NewTrigger(schedule string, loc *time.Location) (*quartz.CronTrigger, error) {
	trigger, err := quartz.NewCronTriggerWithLoc(schedule, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: daemon.schedule %q: %v", config.ErrInvalidConfig, schedule, err)
	}
	return trigger, nil
}

func NextFire(trigger *quartz.CronTrigger, after time.Time) (time.Time, error) {
	next, err := trigger.NextFireTime(after.UnixNano())
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, next), nil
}
