package dedup

import (
	"bidwatch/internal/registry"
	"strings"
	"time"
)

// KeyDateLayout is the layout of the date every key starts with.
const KeyDateLayout = "2006-01-02"

// Key derives the cache key of a record published on date for the given
// region and club. The date is taken as a calendar day in its own location.
func Key(date time.Time, region, club string, record registry.Record) string {
	return strings.Join([]string{
		date.Format(KeyDateLayout),
		region,
		club,
		record.AthleteID.String(),
		record.ContractType,
		record.ContractNumber.String(),
	}, "-")
}

// DateOf returns the calendar day embedded in key.
func DateOf(key string) (string, bool) {
	if len(key) < len(KeyDateLayout) {
		return "", false
	}
	day := key[:len(KeyDateLayout)]
	if _, err := time.Parse(KeyDateLayout, day); err != nil {
		return "", false
	}
	return day, true
}
