package payload

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/berfenger/marshal/internal/config"
)

// UNAVAILABLE is the value carried for a measurement nothing could resolve.
const UNAVAILABLE = "-1"

// HostDescriptor tells the collector how to interpret the measurements.
type HostDescriptor struct {
	Type         string `json:"type"`
	Manufacturer string `json:"manufacturer"`
	ModelNumber  string `json:"modelNumber"`
	SerialNumber string `json:"serialNumber"`
	ToStore      string `json:"toStore"`
	IsOnDemand   bool   `json:"isOnDemand"`
	// 0 when sane, -1 otherwise
	IsSane int `json:"isSane"`
}

func HostFromHardware(hw *config.HardwareConfig) HostDescriptor {
	return HostDescriptor{
		Type:         hw.Type,
		Manufacturer: hw.Manufacturer,
		ModelNumber:  hw.ModelNumber,
		SerialNumber: hw.SerialNumber,
		ToStore:      hw.ToStore,
	}
}

// Outbound is one report sent to a collector.
type Outbound struct {
	T string            `json:"t"`
	H HostDescriptor    `json:"h"`
	M map[string]string `json:"m"`
	// instant T was rendered from
	At time.Time `json:"-"`
}

func (o Outbound) Marshal() ([]byte, error) {
	return json.Marshal(o)
}

// Names returns the measurement names in sorted order.
func (o Outbound) Names() []string {
	names := make([]string, 0, len(o.M))
	for name := range o.M {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Table is the storage table the payload belongs to: device type followed by model number.
func (o Outbound) Table() string {
	return o.H.Type + o.H.ModelNumber
}

// Reply is what a collector answered to a send.
type Reply struct {
	// extra measurement names requested on demand, in variable0..N order
	Extra []string
}

func (r Reply) OnDemand() bool {
	return len(r.Extra) > 0
}

// ParseReply decodes a collector response body. Anything that is not a JSON
// object carrying variable0, variable1, ... yields an empty reply. The list
// ends at the first missing, empty or non-string entry.
func ParseReply(body []byte) Reply {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Reply{}
	}
	extra, _ := config.NumberedList(doc, config.PRIMARY_VARIABLE_KEY)
	return Reply{Extra: extra}
}
