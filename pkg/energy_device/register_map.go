package energy_device

import (
	"fmt"
	"time"
)

type RegisterEntry struct {
	Index       int
	Name        string
	Address     uint16
	ScaleFactor float64
}

// RegisterMap is the fixed measurement table of a device family, ordered by Index.
type RegisterMap []RegisterEntry

func (m RegisterMap) Names() []string {
	names := make([]string, len(m))
	for i, entry := range m {
		names[i] = entry.Name
	}
	return names
}

func (m RegisterMap) indexOf(name string) (int, bool) {
	for i, entry := range m {
		if entry.Name == name {
			return i, true
		}
	}
	return -1, false
}

// driverState is the per-instance cache shared by every family: the payload
// slot i holds the value of registers[i].
type driverState struct {
	registers RegisterMap
	payload   []float64
	timestmp  time.Time
	sanity    Sanity
}

func newDriverState(registers RegisterMap) driverState {
	return driverState{
		registers: registers,
		payload:   make([]float64, len(registers)),
		sanity:    Unmeasured,
	}
}

func (s *driverState) Measurements() []string {
	return s.registers.Names()
}

func (s *driverState) Sanity() Sanity {
	return s.sanity
}

func (s *driverState) Timestamp() time.Time {
	return s.timestmp
}

func (s *driverState) Cancel() {
	clear(s.payload)
	s.timestmp = time.Time{}
	s.sanity = Unmeasured
}

// read serves name from the cache, running measure and filter first when the cache is empty.
func (s *driverState) read(name string, measure func() error, filter func() Sanity) (string, error) {
	i, ok := s.registers.indexOf(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownMeasurement, name)
	}
	if s.sanity == Unmeasured {
		if err := measure(); err != nil {
			return "", err
		}
		filter()
	}
	return FormatValue(s.payload[i]), nil
}
