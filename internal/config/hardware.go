package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/berfenger/marshal/pkg/energy_device"
)

// HardwareConfig describes the single device attached to this agent.
type HardwareConfig struct {
	Type         string                       `mapstructure:"type"`
	Manufacturer string                       `mapstructure:"manufacturer"`
	ModelNumber  string                       `mapstructure:"modelNumber"`
	SerialNumber string                       `mapstructure:"serialNumber"`
	ToStore      string                       `mapstructure:"toStore"`
	Identity     energy_device.DeviceIdentity `mapstructure:"-"`
}

type identityDocument struct {
	IPAddress    string                       `mapstructure:"IPAddress"`
	Port         uint                         `mapstructure:"port"`
	UnitId       uint8                        `mapstructure:"unitId"`
	PortName     string                       `mapstructure:"portName"`
	Baudrate     uint                         `mapstructure:"baudrate"`
	SlaveAddress uint8                        `mapstructure:"slaveAddress"`
	Address      string                       `mapstructure:"address"`
	Threshold    map[string]thresholdDocument `mapstructure:"threshold"`
}

type thresholdDocument struct {
	Type     string  `mapstructure:"type"`
	Value    float64 `mapstructure:"value"`
	ValueMax float64 `mapstructure:"valueMax"`
	ValueMin float64 `mapstructure:"valueMin"`
}

func LoadHardware(path string) (*HardwareConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseHardware(data)
}

func ParseHardware(data []byte) (*HardwareConfig, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: hardware config: %v", ErrInvalidConfig, err)
	}

	var hw HardwareConfig
	if err := weakDecode(doc, &hw); err != nil {
		return nil, fmt.Errorf("%w: hardware config: %v", ErrInvalidConfig, err)
	}
	if hw.Manufacturer == "" || hw.ModelNumber == "" {
		return nil, fmt.Errorf("%w: hardware config needs manufacturer and modelNumber", ErrInvalidConfig)
	}

	var ident identityDocument
	if raw, ok := doc["identity"]; ok {
		if err := weakDecode(raw, &ident); err != nil {
			return nil, fmt.Errorf("%w: identity: %v", ErrInvalidConfig, err)
		}
	}
	rules, err := thresholdRules(ident.Threshold)
	if err != nil {
		return nil, err
	}

	hw.Identity = energy_device.DeviceIdentity{
		IPAddress:    ident.IPAddress,
		Port:         ident.Port,
		UnitId:       ident.UnitId,
		PortName:     ident.PortName,
		Baudrate:     ident.Baudrate,
		SlaveAddress: ident.SlaveAddress,
		Address:      ident.Address,
		Thresholds:   rules,
	}
	return &hw, nil
}

func thresholdRules(docs map[string]thresholdDocument) (energy_device.ThresholdRules, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	rules := make(energy_device.ThresholdRules, len(docs))
	for name, doc := range docs {
		rule := energy_device.ThresholdRule{Kind: energy_device.ThresholdKind(doc.Type)}
		switch rule.Kind {
		case energy_device.THRESHOLD_MAX, energy_device.THRESHOLD_MIN:
			rule.Bound = doc.Value
		case energy_device.THRESHOLD_PASS:
			rule.Low = doc.ValueMin
			rule.High = doc.ValueMax
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("%w: threshold %s: %v", ErrInvalidConfig, name, err)
		}
		rules[name] = rule
	}
	return rules, nil
}
