package energy_device

import (
	"time"

	"github.com/simonvetter/modbus"
)

// RegisterReader is the slice of *modbus.ModbusClient the drivers rely on.
type RegisterReader interface {
	Open() error
	Close() error
	ReadRegister(addr uint16, regType modbus.RegType) (uint16, error)
}

// ClientFactory builds the register reader for a client configuration and unit id.
type ClientFactory func(conf *modbus.ClientConfiguration, unitId uint8) (RegisterReader, error)

func NewModbusClient(conf *modbus.ClientConfiguration, unitId uint8) (RegisterReader, error) {
	client, err := modbus.NewClient(conf)
	if err != nil {
		return nil, err
	}
	if unitId > 0 {
		if err := client.SetUnitId(unitId); err != nil {
			return nil, err
		}
	}
	return client, nil
}

type ModbusClient struct {
	client     RegisterReader
	instrument []ModbusInstrument
	open       bool
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

// ensureOpen opens the link on first use and after a failed read.
func (reader *ModbusClient) ensureOpen() error {
	if reader.open {
		return nil
	}
	defer RecordTimer("Open", reader.instrument)()
	if err := reader.client.Open(); err != nil {
		return err
	}
	reader.open = true
	return nil
}

func (reader *ModbusClient) reset() {
	if reader.client != nil && reader.open {
		reader.client.Close()
	}
	reader.open = false
}

func (reader *ModbusClient) readRegister(addr uint16, regType modbus.RegType) (uint16, error) {
	defer RecordTimer("ReadRegister", reader.instrument)()
	return reader.client.ReadRegister(addr, regType)
}

func (reader *ModbusClient) applySFInv(number uint16, sf float64) float64 {
	return float64(number) / sf
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}
