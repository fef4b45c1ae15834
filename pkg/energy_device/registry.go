package energy_device

import "fmt"

type Model struct {
	Manufacturer string
	ModelNumber  string
}

type modelEntry struct {
	family Family
	build  func(opts ...Option) Driver
}

// registry maps the configured manufacturer and model number to a driver
// family. Models known in the field but without a driver are absent and
// rejected with ErrUnsupportedDevice.
var registry = map[Model]modelEntry{
	{Manufacturer: "ABB", ModelNumber: "PVS800"}: {
		family: FamilyModbusTCPInverter,
		build:  func(opts ...Option) Driver { return NewInverterPVS800(opts...) },
	},
	{Manufacturer: "Statcon Energiaa", ModelNumber: "SMB096"}: {
		family: FamilyModbusRTUCombiner,
		build:  func(opts ...Option) Driver { return NewCombinerSMB096(opts...) },
	},
	{Manufacturer: "SMA Solar Technology", ModelNumber: "Sunny Web Box"}: {
		family: FamilyHTTPLogger,
		build:  func(opts ...Option) Driver { return NewLoggerSunnyWebBox(opts...) },
	},
}

func LookupFamily(manufacturer string, modelNumber string) (Family, bool) {
	entry, ok := registry[Model{Manufacturer: manufacturer, ModelNumber: modelNumber}]
	if !ok {
		return FamilyUnknown, false
	}
	return entry.family, true
}

// New builds an unattached driver for the configured model.
func New(manufacturer string, modelNumber string, opts ...Option) (Driver, error) {
	entry, ok := registry[Model{Manufacturer: manufacturer, ModelNumber: modelNumber}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnsupportedDevice, manufacturer, modelNumber)
	}
	return entry.build(opts...), nil
}

// Attach builds the driver for the configured model and binds it to identity.
func Attach(manufacturer string, modelNumber string, identity DeviceIdentity, opts ...Option) (Driver, error) {
	drv, err := New(manufacturer, modelNumber, opts...)
	if err != nil {
		return nil, err
	}
	if err := drv.Attach(identity); err != nil {
		return nil, err
	}
	return drv, nil
}

func SupportedModels() []Model {
	models := make([]Model, 0, len(registry))
	for model := range registry {
		models = append(models, model)
	}
	return models
}
