package energy_device

import (
	"fmt"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// modbusDriver implements the Driver capability set for families that read
// one holding register per register map entry.
type modbusDriver struct {
	driverState
	ModbusClient

	family    Family
	tolerance Tolerance
	rules     ThresholdRules
	opts      options
	logger    *zap.Logger
	attached  bool
	configure func(identity DeviceIdentity) (*modbus.ClientConfiguration, uint8, error)
}

func newModbusDriver(family Family, registers RegisterMap, tolerance Tolerance, opts []Option,
	configure func(identity DeviceIdentity) (*modbus.ClientConfiguration, uint8, error)) modbusDriver {
	o := buildOptions(opts)
	return modbusDriver{
		driverState: newDriverState(registers),
		family:      family,
		tolerance:   tolerance,
		opts:        o,
		logger:      o.logger.With(zap.String("driver", family.String())),
		configure:   configure,
	}
}

func (d *modbusDriver) Family() Family {
	return d.family
}

func (d *modbusDriver) Attach(identity DeviceIdentity) error {
	conf, unitId, err := d.configure(identity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttach, err)
	}
	for name, rule := range identity.Thresholds {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%w: threshold %s: %v", ErrAttach, name, err)
		}
		if _, ok := d.registers.indexOf(name); !ok {
			d.logger.Warn("driver@attach: threshold for a measurement the device does not offer", zap.String("measurement", name))
		}
	}
	client, err := d.opts.clientFactory(conf, unitId)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttach, err)
	}

	d.ModbusClient.reset()
	inst := []ModbusInstrument{*traceLoggerInstrumentation(d.logger)}
	inst = append(inst, d.opts.instrument...)
	d.ModbusClient = ModbusClient{
		client:     client,
		instrument: inst,
	}
	d.rules = identity.Thresholds
	d.attached = true
	d.driverState.Cancel()

	d.logger.Debug("driver@attach: attached", zap.String("url", conf.URL), zap.Uint8("unit_id", unitId))
	return nil
}

func (d *modbusDriver) Measure() error {
	if !d.attached {
		return ErrNotAttached
	}
	if err := d.ensureOpen(); err != nil {
		return fmt.Errorf("%w: open: %v", ErrTransport, err)
	}
	stamp := d.opts.now()
	for i, entry := range d.registers {
		raw, err := d.readRegister(entry.Address, modbus.HOLDING_REGISTER)
		if err != nil {
			// drop the link so the next measure reconnects
			d.ModbusClient.reset()
			d.driverState.Cancel()
			return fmt.Errorf("%w: %s at register %d: %v", ErrTransport, entry.Name, entry.Address, err)
		}
		d.payload[i] = d.applySFInv(raw, entry.ScaleFactor)
	}
	d.timestmp = stamp
	d.sanity = Sane
	return nil
}

func (d *modbusDriver) Filter() Sanity {
	if d.sanity == Unmeasured {
		return Unmeasured
	}
	d.sanity = d.rules.Evaluate(d.registers, d.payload, d.tolerance)
	if d.sanity == Unsane {
		d.logger.Info("driver@filter: threshold violated, payload marked unsane")
	}
	return d.sanity
}

func (d *modbusDriver) Read(name string) (string, error) {
	return d.driverState.read(name, d.Measure, d.Filter)
}

func (d *modbusDriver) Close() error {
	d.ModbusClient.reset()
	d.attached = false
	d.driverState.Cancel()
	return nil
}
