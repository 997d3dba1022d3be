// Package partition groups a flattened batch by local calendar date.
package partition

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata" // the container image may ship without zoneinfo

	"github.com/Sternrassler/fudo-extractor/pkg/record"
)

// DefaultTimezone is the business timezone every date is derived in.
const DefaultTimezone = "America/Argentina/Buenos_Aires"

// DateLayout is the partition date format.
const DateLayout = "2006-01-02"

// ErrInvalidTimestamp is returned when a record's date field is missing or unparseable.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Partition is the set of records sharing one local date.
type Partition struct {
	// Date is the local calendar date, YYYY-MM-DD.
	Date    string
	Records []record.Record
}

// LoadLocation loads name, falling back to DefaultTimezone when empty.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// timestampLayouts are tried in order. Layouts without an offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	DateLayout,
}

// ParseTimestamp parses an ISO-8601 timestamp, treating values without an offset as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidTimestamp)
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
}

// LocalDate returns the calendar date of ts in loc.
func LocalDate(ts time.Time, loc *time.Location) string {
	return ts.In(loc).Format(DateLayout)
}

// ByLocalDate buckets batch by the local date of dateField in loc. Partitions are
// ordered by date and keep the batch order of their records. A single bad
// timestamp fails the whole batch.
func ByLocalDate(batch []record.Record, dateField string, loc *time.Location) ([]Partition, error) {
	if loc == nil {
		return nil, fmt.Errorf("timezone is required")
	}

	index := make(map[string]int)
	var parts []Partition

	for i, r := range batch {
		value, ok := r[dateField]
		if !ok {
			return nil, fmt.Errorf("record %d (id %q): %w: field %q missing", i, r.ID(), ErrInvalidTimestamp, dateField)
		}
		ts, err := ParseTimestamp(value)
		if err != nil {
			return nil, fmt.Errorf("record %d (id %q): %w", i, r.ID(), err)
		}

		date := LocalDate(ts, loc)
		pos, seen := index[date]
		if !seen {
			pos = len(parts)
			index[date] = pos
			parts = append(parts, Partition{Date: date})
		}
		parts[pos].Records = append(parts[pos].Records, r)
	}

	// YYYY-MM-DD sorts lexically
	sort.Slice(parts, func(i, j int) bool { return parts[i].Date < parts[j].Date })
	return parts, nil
}
