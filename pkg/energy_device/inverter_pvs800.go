package energy_device

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/simonvetter/modbus"
)

// ABB PVS800 central inverter, Modbus TCP holding registers.
var pvs800Registers = RegisterMap{
	{Index: 1, Name: "currentGrid", Address: 106, ScaleFactor: 1},
	{Index: 2, Name: "powerGrid", Address: 109, ScaleFactor: 10},
	{Index: 3, Name: "frequencyGrid", Address: 111, ScaleFactor: 100},
	{Index: 4, Name: "pfGrid", Address: 112, ScaleFactor: 1},
	{Index: 5, Name: "reactivepowerGrid", Address: 113, ScaleFactor: 1},
	{Index: 6, Name: "voltagePV", Address: 133, ScaleFactor: 1},
	{Index: 7, Name: "currentPV", Address: 117, ScaleFactor: 1},
	{Index: 8, Name: "powerPV", Address: 118, ScaleFactor: 1},
	{Index: 9, Name: "temperatureInverter", Address: 119, ScaleFactor: 1},
	{Index: 10, Name: "modeInverter", Address: 120, ScaleFactor: 1},
	{Index: 11, Name: "uptimeInverter", Address: 124, ScaleFactor: 1},
	{Index: 12, Name: "electricityGeneration", Address: 125, ScaleFactor: 1},
	{Index: 13, Name: "kiloGeneration", Address: 126, ScaleFactor: 1},
	{Index: 14, Name: "megaGeneration", Address: 127, ScaleFactor: 1},
	{Index: 15, Name: "gigaGeneration", Address: 128, ScaleFactor: 1},
	{Index: 16, Name: "breakercountGrid", Address: 129, ScaleFactor: 1},
	{Index: 17, Name: "breakercountPV", Address: 130, ScaleFactor: 1},
}

type InverterPVS800 struct {
	modbusDriver
}

func NewInverterPVS800(opts ...Option) *InverterPVS800 {
	return &InverterPVS800{
		modbusDriver: newModbusDriver(FamilyModbusTCPInverter, pvs800Registers, TOLERANCE_LENIENT, opts, tcpClientConfiguration),
	}
}

func tcpClientConfiguration(identity DeviceIdentity) (*modbus.ClientConfiguration, uint8, error) {
	if identity.IPAddress == "" {
		return nil, 0, errors.New("identity has no IPAddress")
	}
	port := identity.Port
	if port == 0 {
		port = DEFAULT_MODBUS_TCP_PORT
	}
	if port > 65535 {
		return nil, 0, fmt.Errorf("invalid port %d", port)
	}
	return &modbus.ClientConfiguration{
		URL:     "tcp://" + net.JoinHostPort(identity.IPAddress, strconv.Itoa(int(port))),
		Timeout: timeoutOrDefault(identity.Timeout),
	}, identity.UnitId, nil
}
