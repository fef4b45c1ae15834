package energy_device

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"
)

const (
	WEBBOX_STATUS_PAGE   = "home.htm"
	WEBBOX_MAX_PAGE_SIZE = 1 << 20
)

var webboxRegisters = RegisterMap{
	{Index: 0, Name: "power_D", ScaleFactor: 1},
	{Index: 1, Name: "energyToday_D", ScaleFactor: 1},
	{Index: 2, Name: "energyCumulative_D", ScaleFactor: 1},
}

type unitScale struct {
	mul float64
	div float64
}

type scrapeField struct {
	marker string
	units  map[string]unitScale
}

// webboxFields is aligned with webboxRegisters. Power is normalized to W,
// daily yield to kWh and total yield to MWh.
var webboxFields = [...]scrapeField{
	{marker: `Power"`, units: map[string]unitScale{
		"kW": {mul: 1000, div: 1},
		"W":  {mul: 1, div: 1},
	}},
	{marker: `DailyYield"`, units: map[string]unitScale{
		"kWh": {mul: 1, div: 1},
		"Wh":  {mul: 1, div: 1000},
		"MWh": {mul: 1000, div: 1},
	}},
	{marker: `TotalYield"`, units: map[string]unitScale{
		"MWh": {mul: 1, div: 1},
		"GWh": {mul: 1000, div: 1},
	}},
}

// LoggerSunnyWebBox scrapes the SMA Sunny WebBox status page. The family
// defines no thresholds: a successful fetch is always sane.
type LoggerSunnyWebBox struct {
	driverState

	opts     options
	logger   *zap.Logger
	client   *http.Client
	address  string
	attached bool
}

func NewLoggerSunnyWebBox(opts ...Option) *LoggerSunnyWebBox {
	o := buildOptions(opts)
	return &LoggerSunnyWebBox{
		driverState: newDriverState(webboxRegisters),
		opts:        o,
		logger:      o.logger.With(zap.String("driver", FamilyHTTPLogger.String())),
	}
}

func (d *LoggerSunnyWebBox) Family() Family {
	return FamilyHTTPLogger
}

func (d *LoggerSunnyWebBox) Attach(identity DeviceIdentity) error {
	if identity.Address == "" {
		return fmt.Errorf("%w: identity has no address", ErrAttach)
	}
	u, err := url.Parse(identity.Address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttach, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: address %q is not an http(s) URL", ErrAttach, identity.Address)
	}
	if len(identity.Thresholds) > 0 {
		d.logger.Warn("driver@attach: thresholds are not evaluated for this device family")
	}

	client := d.opts.httpClient
	if client == nil {
		client = cleanhttp.DefaultClient()
		client.Timeout = timeoutOrDefault(identity.Timeout)
	}
	d.client = client
	d.address = identity.Address
	d.attached = true
	d.driverState.Cancel()
	return nil
}

func (d *LoggerSunnyWebBox) pageURL() (string, error) {
	page, err := url.JoinPath(d.address, WEBBOX_STATUS_PAGE)
	if err != nil {
		return "", err
	}
	// cache buster
	return page + "?saltpepper=" + url.QueryEscape(d.opts.now().Format("2006-01-02 15:04:05.000000")), nil
}

func (d *LoggerSunnyWebBox) Measure() error {
	if !d.attached {
		return ErrNotAttached
	}
	stamp := d.opts.now()
	values, err := d.fetch()
	if err != nil {
		d.driverState.Cancel()
		return err
	}
	copy(d.payload, values)
	d.timestmp = stamp
	d.sanity = Sane
	d.logger.Debug("driver@measure: status page parsed", zap.Float64s("values", values))
	return nil
}

func (d *LoggerSunnyWebBox) fetch() ([]float64, error) {
	page, err := d.pageURL()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	defer RecordTimer("FetchPage", d.opts.instrument)()
	resp, err := d.client.Get(page)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status page returned %s", ErrTransport, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, WEBBOX_MAX_PAGE_SIZE))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return scanStatusPage(string(body))
}

func (d *LoggerSunnyWebBox) Filter() Sanity {
	return d.sanity
}

func (d *LoggerSunnyWebBox) Read(name string) (string, error) {
	return d.driverState.read(name, d.Measure, d.Filter)
}

func (d *LoggerSunnyWebBox) Close() error {
	d.attached = false
	d.driverState.Cancel()
	return nil
}

// scanStatusPage walks the markers in order; each value is the text between
// the next '>' and '<', formatted as "<number> <unit>".
func scanStatusPage(text string) ([]float64, error) {
	values := make([]float64, len(webboxFields))
	rest := text
	for i, field := range webboxFields {
		at := strings.Index(rest, field.marker)
		if at < 0 {
			return nil, fmt.Errorf("%w: marker %s not found", ErrMalformedPage, field.marker)
		}
		rest = rest[at+len(field.marker):]
		gt := strings.Index(rest, ">")
		if gt < 0 {
			return nil, fmt.Errorf("%w: no value after %s", ErrMalformedPage, field.marker)
		}
		rest = rest[gt+1:]
		segment := rest
		if end := strings.Index(rest, "<"); end >= 0 {
			segment = rest[:end]
		}
		value, err := parseQuantity(strings.TrimSpace(segment), field.units)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %v", ErrMalformedPage, field.marker, err)
		}
		values[i] = value
	}
	return values, nil
}

func parseQuantity(segment string, units map[string]unitScale) (float64, error) {
	number, unit, ok := strings.Cut(segment, " ")
	if !ok {
		return 0, errors.New("value has no unit")
	}
	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, err
	}
	scale, ok := units[strings.TrimSpace(unit)]
	if !ok {
		return 0, fmt.Errorf("unexpected unit %q", unit)
	}
	return value * scale.mul / scale.div, nil
}
