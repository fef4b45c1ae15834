package energy_device

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrAttach             = errors.New("energy_device: attach failed")
	ErrUnsupportedDevice  = fmt.Errorf("%w: unsupported device", ErrAttach)
	ErrNotAttached        = errors.New("energy_device: driver not attached")
	ErrUnknownMeasurement = errors.New("energy_device: unknown measurement")
	ErrTransport          = errors.New("energy_device: transport error")
	ErrMalformedPage      = errors.New("energy_device: malformed status page")
)

// Sanity is the validity state of the payload cached by a driver.
type Sanity int8

const (
	// no payload since the last cancel, next read measures the device
	Unmeasured Sanity = iota
	// payload valid and within every threshold
	Sane
	// payload fetched but at least one threshold violated
	Unsane
)

func (s Sanity) String() string {
	switch s {
	case Sane:
		return "sane"
	case Unsane:
		return "unsane"
	default:
		return "unmeasured"
	}
}

// Flag returns the wire representation used by collectors: 0 when sane, -1 otherwise.
func (s Sanity) Flag() int {
	if s == Sane {
		return 0
	}
	return -1
}

type Family int

const (
	FamilyUnknown Family = iota
	FamilyModbusTCPInverter
	FamilyModbusRTUCombiner
	FamilyHTTPLogger
)

func (f Family) String() string {
	switch f {
	case FamilyModbusTCPInverter:
		return "modbus_tcp_inverter"
	case FamilyModbusRTUCombiner:
		return "modbus_rtu_combiner"
	case FamilyHTTPLogger:
		return "http_logger"
	default:
		return "unknown"
	}
}

// Driver is the capability set every supported device family exposes to the dispatcher.
type Driver interface {
	Family() Family
	// Measurements lists the names served from the register map, in map order.
	Measurements() []string
	Attach(identity DeviceIdentity) error
	Measure() error
	Filter() Sanity
	Read(name string) (string, error)
	Cancel()
	Sanity() Sanity
	Timestamp() time.Time
	Close() error
}

// DeviceIdentity carries the connection parameters and thresholds of the attached device.
type DeviceIdentity struct {
	// Modbus TCP
	IPAddress string
	Port      uint
	UnitId    uint8

	// Modbus RTU
	PortName     string
	Baudrate     uint
	SlaveAddress uint8

	// HTTP scrape
	Address string

	Thresholds ThresholdRules
	Timeout    time.Duration
}

// FormatValue renders a measured value the way collectors expect it: shortest
// decimal form, always carrying a fractional part ("105.0", "3500.0", "0.25").
func FormatValue(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return s
	}
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
