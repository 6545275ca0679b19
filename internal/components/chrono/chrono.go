package chrono

import (
	"time"
	_ "time/tzdata"
)

// DefaultLocation is the timezone the registry publishes in.
const DefaultLocation = "America/Sao_Paulo"

// TimeAPI is the interface that anything depending on the system clock should use.
type TimeAPI interface {
	// Now returns the current time in Location().
	Now() time.Time
	Location() *time.Location
}

// StandardTime is the standard implementation of TimeAPI using the standard library.
type StandardTime struct {
	location *time.Location
}

// NewStandardTime is the constructor of StandardTime, an empty name falls back to DefaultLocation.
func NewStandardTime(name string) (StandardTime, error) {
	if name == "" {
		name = DefaultLocation
	}
	location, err := time.LoadLocation(name)
	if err != nil {
		return StandardTime{}, err
	}
	return StandardTime{location: location}, nil
}

func (s StandardTime) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardTime) Location() *time.Location {
	return s.location
}

// Today returns midnight of the current calendar day in the clock's location.
func Today(t TimeAPI) time.Time {
	now := t.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.Location())
}
