package clock

import (
	"fmt"
	"time"
)

const (
	TIMESTAMP_LAYOUT = "2006-01-02 15:04:05.000000"
	DEFAULT_TIMEZONE = "Asia/Kolkata"
)

// Stamper renders payload timestamps in the plant's local zone.
type Stamper struct {
	loc *time.Location
	now func() time.Time
}

func NewStamper(timezone string, now func() time.Time) (*Stamper, error) {
	if timezone == "" {
		timezone = DEFAULT_TIMEZONE
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("clock: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &Stamper{loc: loc, now: now}, nil
}

func (s *Stamper) Now() time.Time {
	return s.now()
}

func (s *Stamper) Stamp(t time.Time) string {
	return t.In(s.loc).Format(TIMESTAMP_LAYOUT)
}

func (s *Stamper) StampNow() string {
	return s.Stamp(s.now())
}

func (s *Stamper) Location() *time.Location {
	return s.loc
}
