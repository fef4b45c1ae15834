package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
)

const (
	PRIMARY_VARIABLE_KEY   = "variable"
	ALTERNATE_VARIABLE_KEY = "variableAlternate"
	COMBINATION_KEY        = "combination"
)

// Server is one collector endpoint of the software configuration.
type Server struct {
	Id           string `mapstructure:"-"`
	Protocol     string `mapstructure:"protocol"`
	Hostname     string `mapstructure:"hostname"`
	Port         uint   `mapstructure:"portnumber"`
	Path         string `mapstructure:"path"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Certificate  string `mapstructure:"certificate"`
	DatabaseName string `mapstructure:"databasename"`
}

type MeasurementSet struct {
	Id        string
	Primary   []string
	Alternate []string
}

// Combination pairs one server with one measurement set.
type Combination struct {
	Name           string `mapstructure:"-"`
	Server         string `mapstructure:"server"`
	MeasurementSet string `mapstructure:"measurementSet"`
}

type SoftwareConfig struct {
	Servers         map[string]Server
	MeasurementSets map[string]MeasurementSet
	// in combination0..N order
	Combinations []Combination
}

type softwareDocument struct {
	Servers         map[string]map[string]any `json:"servers"`
	MeasurementSets map[string]map[string]any `json:"measurementSets"`
	Combinations    map[string]any            `json:"combinations"`
}

func LoadSoftware(path string) (*SoftwareConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSoftware(data)
}

func ParseSoftware(data []byte) (*SoftwareConfig, error) {
	var doc softwareDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: software config: %v", ErrInvalidConfig, err)
	}

	sw := &SoftwareConfig{
		Servers:         make(map[string]Server, len(doc.Servers)),
		MeasurementSets: make(map[string]MeasurementSet, len(doc.MeasurementSets)),
	}

	for id, raw := range doc.Servers {
		var srv Server
		if err := weakDecode(raw, &srv); err != nil {
			return nil, fmt.Errorf("%w: server %s: %v", ErrInvalidConfig, id, err)
		}
		srv.Id = id
		sw.Servers[id] = srv
	}

	for id, raw := range doc.MeasurementSets {
		primary, err := NumberedList(raw, PRIMARY_VARIABLE_KEY)
		if err != nil {
			return nil, fmt.Errorf("%w: measurement set %s: %v", ErrInvalidConfig, id, err)
		}
		alternate, err := NumberedList(raw, ALTERNATE_VARIABLE_KEY)
		if err != nil {
			return nil, fmt.Errorf("%w: measurement set %s: %v", ErrInvalidConfig, id, err)
		}
		sw.MeasurementSets[id] = MeasurementSet{Id: id, Primary: primary, Alternate: alternate}
	}

	for i := 0; ; i++ {
		name := COMBINATION_KEY + strconv.Itoa(i)
		raw, ok := doc.Combinations[name]
		if !ok {
			break
		}
		var comb Combination
		if err := weakDecode(raw, &comb); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
		comb.Name = name
		sw.Combinations = append(sw.Combinations, comb)
	}

	return sw, nil
}

// NumberedList collects doc[prefix+"0"], doc[prefix+"1"], ... up to the first
// missing, null or empty index. On an entry that is not a scalar it returns
// the names collected so far along with the error.
func NumberedList(doc map[string]any, prefix string) ([]string, error) {
	var list []string
	for i := 0; ; i++ {
		key := prefix + strconv.Itoa(i)
		raw, ok := doc[key]
		if !ok || raw == nil {
			return list, nil
		}
		value, err := cast.ToStringE(raw)
		if err != nil {
			return list, fmt.Errorf("%s: %v", key, err)
		}
		if value == "" {
			return list, nil
		}
		list = append(list, value)
	}
}

// Validate checks that every combination resolves to a known server and
// measurement set.
func (sw *SoftwareConfig) Validate() error {
	if len(sw.Combinations) == 0 {
		return fmt.Errorf("%w: no combination0 defined", ErrInvalidConfig)
	}
	for _, comb := range sw.Combinations {
		srv, ok := sw.Servers[comb.Server]
		if !ok {
			return fmt.Errorf("%w: %s references unknown server %q", ErrInvalidConfig, comb.Name, comb.Server)
		}
		if srv.Protocol == "" {
			return fmt.Errorf("%w: server %s has no protocol", ErrInvalidConfig, srv.Id)
		}
		if _, ok := sw.MeasurementSets[comb.MeasurementSet]; !ok {
			return fmt.Errorf("%w: %s references unknown measurement set %q", ErrInvalidConfig, comb.Name, comb.MeasurementSet)
		}
	}
	return nil
}

// Resolve returns the server and measurement set of a combination.
func (sw *SoftwareConfig) Resolve(comb Combination) (Server, MeasurementSet, error) {
	srv, ok := sw.Servers[comb.Server]
	if !ok {
		return Server{}, MeasurementSet{}, fmt.Errorf("%w: %s references unknown server %q", ErrInvalidConfig, comb.Name, comb.Server)
	}
	set, ok := sw.MeasurementSets[comb.MeasurementSet]
	if !ok {
		return Server{}, MeasurementSet{}, fmt.Errorf("%w: %s references unknown measurement set %q", ErrInvalidConfig, comb.Name, comb.MeasurementSet)
	}
	return srv, set, nil
}

// Measurements is the union of every primary then every alternate variable,
// in combination order, without duplicates.
func (sw *SoftwareConfig) Measurements() []string {
	seen := map[string]struct{}{}
	var names []string
	add := func(list []string) {
		for _, name := range list {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	for _, comb := range sw.Combinations {
		add(sw.MeasurementSets[comb.MeasurementSet].Primary)
	}
	for _, comb := range sw.Combinations {
		add(sw.MeasurementSets[comb.MeasurementSet].Alternate)
	}
	return names
}

// Redacted returns a copy with credentials masked, safe to log.
func (sw SoftwareConfig) Redacted() SoftwareConfig {
	servers := make(map[string]Server, len(sw.Servers))
	for id, srv := range sw.Servers {
		if srv.Username != "" {
			srv.Username = "*redacted*"
		}
		if srv.Password != "" {
			srv.Password = "*redacted*"
		}
		servers[id] = srv
	}
	sw.Servers = servers
	return sw
}

func weakDecode(input any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
