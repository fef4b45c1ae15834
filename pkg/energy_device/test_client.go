package energy_device

import (
	"errors"
	"sync"

	"github.com/simonvetter/modbus"
)

// TestRegisterReader is an in-memory register bank standing in for a Modbus
// device. It counts opens and register reads.
type TestRegisterReader struct {
	mu        sync.Mutex
	registers map[uint16]uint16
	failAt    map[uint16]error
	Opens     int
	Reads     int
	Config    *modbus.ClientConfiguration
	UnitId    uint8
}

func NewTestRegisterReader(registers map[uint16]uint16) *TestRegisterReader {
	if registers == nil {
		registers = map[uint16]uint16{}
	}
	return &TestRegisterReader{
		registers: registers,
		failAt:    map[uint16]error{},
	}
}

// Factory returns a ClientFactory that always hands out this reader.
func (r *TestRegisterReader) Factory() ClientFactory {
	return func(conf *modbus.ClientConfiguration, unitId uint8) (RegisterReader, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.Config = conf
		r.UnitId = unitId
		return r, nil
	}
}

func (r *TestRegisterReader) Set(addr uint16, value uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registers[addr] = value
}

func (r *TestRegisterReader) FailAt(addr uint16, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failAt, addr)
		return
	}
	r.failAt[addr] = err
}

func (r *TestRegisterReader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Opens++
	return nil
}

func (r *TestRegisterReader) Close() error {
	return nil
}

func (r *TestRegisterReader) ReadRegister(addr uint16, regType modbus.RegType) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if regType != modbus.HOLDING_REGISTER {
		return 0, errors.New("test reader only serves holding registers")
	}
	r.Reads++
	if err, ok := r.failAt[addr]; ok {
		return 0, err
	}
	return r.registers[addr], nil
}
