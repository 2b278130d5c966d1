package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DateLayout is the wire format of plan dates
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date in UTC
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

// MarshalJSON implements json.Marshaler
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
// Accepts full timestamps as well, keeping only the date part.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Date) MarshalYAML() (interface{}, error) {
	return d.Format(DateLayout), nil
}

// TimestampLayout is the wire format of location arrival and departure times.
// The backend binds them with a mandatory millisecond part.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}(Z|[+-]\d{2}(\d{2})?)$`)

// Timestamp is an instant sent with millisecond precision in UTC
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to whole milliseconds in UTC
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Millisecond)}
}

// ParseTimestamp accepts only the strict backend form, e.g. 2024-05-01T10:00:00.000Z or +0200
func ParseTimestamp(s string) (Timestamp, error) {
	if !timestampPattern.MatchString(s) {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: expected yyyy-MM-ddTHH:mm:ss.SSSX", s)
	}
	// offset is Z, +HH or +HHMM
	layout := "2006-01-02T15:04:05.000Z07"
	if len(s) == len("2006-01-02T15:04:05.000+0000") {
		layout = "2006-01-02T15:04:05.000Z0700"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return Timestamp{t}, nil
}

func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
// Responses may carry any RFC 3339 precision, so this is lenient; see ParseTimestamp for the strict form.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (t Timestamp) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}
