package config

import (
	"testing"

	"github.com/berfenger/marshal/pkg/energy_device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHardwareInverter(t *testing.T) {

	assert := assert.New(t)

	hw, err := ParseHardware([]byte(`{
		"type": "inverter",
		"manufacturer": "ABB",
		"modelNumber": "PVS800",
		"serialNumber": "ABB-0042",
		"toStore": "False",
		"identity": {
			"IPAddress": "192.168.1.20",
			"port": "1502",
			"threshold": {
				"currentGrid": {"type": "max", "value": "60"},
				"temperatureInverter": {"type": "min", "value": -10},
				"frequencyGrid": {"type": "pass", "valueMin": 49.5, "valueMax": 50.5}
			}
		}
	}`))
	require.NoError(t, err)

	assert.Equal("inverter", hw.Type)
	assert.Equal("ABB-0042", hw.SerialNumber)
	assert.Equal("False", hw.ToStore)
	assert.Equal("192.168.1.20", hw.Identity.IPAddress)
	assert.Equal(uint(1502), hw.Identity.Port)
	assert.Equal(energy_device.ThresholdRules{
		"currentGrid":         {Kind: energy_device.THRESHOLD_MAX, Bound: 60},
		"temperatureInverter": {Kind: energy_device.THRESHOLD_MIN, Bound: -10},
		"frequencyGrid":       {Kind: energy_device.THRESHOLD_PASS, Low: 49.5, High: 50.5},
	}, hw.Identity.Thresholds)
}

func TestParseHardwareCombiner(t *testing.T) {

	assert := assert.New(t)

	hw, err := ParseHardware([]byte(`{
		"type": "combiner", "manufacturer": "Statcon Energiaa", "modelNumber": "SMB096", "serialNumber": 17,
		"identity": {"portName": "/dev/ttyUSB0", "baudrate": 9600, "slaveAddress": "3", "threshold": {}},
		"toStore": true
	}`))
	require.NoError(t, err)

	assert.Equal("17", hw.SerialNumber)
	assert.Equal("/dev/ttyUSB0", hw.Identity.PortName)
	assert.Equal(uint(9600), hw.Identity.Baudrate)
	assert.Equal(uint8(3), hw.Identity.SlaveAddress)
	assert.Nil(hw.Identity.Thresholds)
}

func TestParseHardwareRejectsBadDocuments(t *testing.T) {

	assert := assert.New(t)

	_, err := ParseHardware([]byte(`{"type": "logger"}`))
	assert.ErrorIs(err, ErrInvalidConfig)

	_, err = ParseHardware([]byte(`{"manufacturer": "ABB", "modelNumber": "PVS800",
		"identity": {"threshold": {"powerGrid": {"type": "above", "value": 1}}}}`))
	assert.ErrorIs(err, ErrInvalidConfig)

	_, err = ParseHardware([]byte(`{"manufacturer": "ABB", "modelNumber": "PVS800",
		"identity": {"threshold": {"powerGrid": {"type": "pass", "valueMin": 10, "valueMax": 1}}}}`))
	assert.ErrorIs(err, ErrInvalidConfig)

	_, err = ParseHardware([]byte(`not json`))
	assert.ErrorIs(err, ErrInvalidConfig)
}
