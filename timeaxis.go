package sensorplot

import (
	"fmt"
	"time"
)

// TimeAxisFormat is the render-time choice of how the X coordinate of a
// reading is labelled. The buffer always stores numeric offsets.
type TimeAxisFormat string

const (
	// "12s": seconds since the origin.
	TimeAxisSeconds TimeAxisFormat = "seconds"

	// "15:04:05": wall-clock time of origin + offset.
	TimeAxisClock TimeAxisFormat = "clock"
)

const clockLayout = "15:04:05"

func ParseTimeAxisFormat(s string) (TimeAxisFormat, error) {
	switch TimeAxisFormat(s) {
	case TimeAxisSeconds, TimeAxisClock:
		return TimeAxisFormat(s), nil
	case "":
		return TimeAxisSeconds, nil
	}
	return "", fmt.Errorf("unknown time axis format %q", s)
}

func (f TimeAxisFormat) Label(origin time.Time, seconds int64) string {
	if f == TimeAxisClock {
		return origin.Add(time.Duration(seconds) * time.Second).Local().Format(clockLayout)
	}
	return fmt.Sprintf("%ds", seconds)
}

// Point is a reading prepared for a chart.
type Point struct {
	Time     int64               `json:"time"`
	Label    string              `json:"label"`
	Values   map[Channel]float64 `json:"values"`
	Outliers map[Channel]bool    `json:"outliers"`
}

// Render labels every reading and flags its outliers. Channels without a
// spec are passed through and never flagged.
func Render(readings []Reading, origin time.Time, format TimeAxisFormat, specs []ChannelSpec) []Point {
	byName := make(map[Channel]ChannelSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}

	points := make([]Point, 0, len(readings))
	for _, reading := range readings {
		point := Point{
			Time:     reading.Time,
			Label:    format.Label(origin, reading.Time),
			Values:   reading.Values,
			Outliers: make(map[Channel]bool, len(reading.Values)),
		}

		for channel, value := range reading.Values {
			spec, ok := byName[channel]
			point.Outliers[channel] = ok && spec.IsOutlier(value)
		}

		points = append(points, point)
	}

	return points
}
