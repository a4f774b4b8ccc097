package sensorplot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

var ErrMalformedSample = errors.New("malformed sample")

// RawSample is a measurement as it arrives from a source, stamped with its
// absolute measurement time.
type RawSample struct {
	MeasuredAt time.Time
	Values     map[Channel]float64
}

func (s RawSample) Validate() error {
	if s.MeasuredAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedSample)
	}

	if len(s.Values) == 0 {
		return fmt.Errorf("%w: no values", ErrMalformedSample)
	}

	for channel, value := range s.Values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("%w: %s is %v", ErrMalformedSample, channel, value)
		}
	}

	return nil
}

// Reading is one entry of the window. Time is whole seconds since the
// session's origin.
type Reading struct {
	Time   int64
	Values map[Channel]float64
}

// Readings marshal flat, the way charting libraries want them:
// {"time":2,"humidity":55}.
func (r Reading) MarshalJSON() ([]byte, error) {
	flat := make(map[string]interface{}, len(r.Values)+1)
	for channel, value := range r.Values {
		flat[string(channel)] = value
	}
	flat["time"] = r.Time

	return json.Marshal(flat)
}

func (r *Reading) UnmarshalJSON(b []byte) error {
	var flat map[string]json.Number
	decoder := json.NewDecoder(strings.NewReader(string(b)))
	decoder.UseNumber()
	if err := decoder.Decode(&flat); err != nil {
		return err
	}

	rawTime, ok := flat["time"]
	if !ok {
		return fmt.Errorf("%w: reading has no time", ErrMalformedSample)
	}

	t, err := rawTime.Int64()
	if err != nil {
		return fmt.Errorf("%w: time %q: %v", ErrMalformedSample, rawTime, err)
	}

	values := make(map[Channel]float64, len(flat)-1)
	for key, number := range flat {
		if key == "time" {
			continue
		}

		value, err := number.Float64()
		if err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrMalformedSample, key, number, err)
		}
		values[Channel(key)] = value
	}

	r.Time = t
	r.Values = values
	return nil
}

// ParseTimestamp accepts any ISO-8601 date-time. Timestamps without a zone
// designator (as emitted for LocalDateTime by many backends) are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := iso8601.ParseString(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: %v", ErrMalformedSample, s, err)
	}

	return t, nil
}

// RelativeSeconds returns floor((t - origin) / 1s) using millisecond
// precision. It floors towards negative infinity, so a sample 500ms before
// the origin is at -1.
func RelativeSeconds(origin, t time.Time) int64 {
	deltaMs := t.UnixMilli() - origin.UnixMilli()

	seconds := deltaMs / 1000
	if deltaMs%1000 != 0 && deltaMs < 0 {
		seconds--
	}

	return seconds
}
