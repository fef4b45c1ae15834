package energy_device

import (
	"errors"

	"github.com/simonvetter/modbus"
)

// Statcon Energiaa SMB-096 string combiner, Modbus RTU, one register per
// measurement starting at address 0.
var smb096Registers = RegisterMap{
	{Index: 1, Name: "current1", Address: 0, ScaleFactor: 100},
	{Index: 2, Name: "current2", Address: 1, ScaleFactor: 100},
	{Index: 3, Name: "current3", Address: 2, ScaleFactor: 100},
	{Index: 4, Name: "current4", Address: 3, ScaleFactor: 100},
	{Index: 5, Name: "current5", Address: 4, ScaleFactor: 100},
	{Index: 6, Name: "current6", Address: 5, ScaleFactor: 100},
	{Index: 7, Name: "current7", Address: 6, ScaleFactor: 100},
	{Index: 8, Name: "current8", Address: 7, ScaleFactor: 100},
	{Index: 9, Name: "current9", Address: 8, ScaleFactor: 100},
	{Index: 10, Name: "current10", Address: 9, ScaleFactor: 100},
	{Index: 11, Name: "current11", Address: 10, ScaleFactor: 100},
	{Index: 12, Name: "current12", Address: 11, ScaleFactor: 100},
	{Index: 13, Name: "voltage_DC", Address: 12, ScaleFactor: 1},
	{Index: 14, Name: "status_spd", Address: 13, ScaleFactor: 1},
	{Index: 15, Name: "status_switch", Address: 14, ScaleFactor: 1},
	{Index: 16, Name: "temperature_scb", Address: 15, ScaleFactor: 10},
}

// CombinerSMB096 applies the strict (>=, <=) threshold fencepost.
type CombinerSMB096 struct {
	modbusDriver
}

func NewCombinerSMB096(opts ...Option) *CombinerSMB096 {
	return &CombinerSMB096{
		modbusDriver: newModbusDriver(FamilyModbusRTUCombiner, smb096Registers, TOLERANCE_STRICT, opts, rtuClientConfiguration),
	}
}

func rtuClientConfiguration(identity DeviceIdentity) (*modbus.ClientConfiguration, uint8, error) {
	if identity.PortName == "" {
		return nil, 0, errors.New("identity has no portName")
	}
	if identity.Baudrate == 0 {
		return nil, 0, errors.New("identity has no baudrate")
	}
	if identity.SlaveAddress == 0 || identity.SlaveAddress > 247 {
		return nil, 0, errors.New("identity slaveAddress must be within 1..247")
	}
	return &modbus.ClientConfiguration{
		URL:      "rtu://" + identity.PortName,
		Speed:    identity.Baudrate,
		DataBits: 8,
		Parity:   modbus.PARITY_NONE,
		StopBits: 1,
		Timeout:  timeoutOrDefault(identity.Timeout),
	}, identity.SlaveAddress, nil
}
