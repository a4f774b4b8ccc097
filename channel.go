package sensorplot

import (
	"errors"
	"fmt"
	"math"
)

// A named numeric series, e.g. "humidity". Also used as the JSON key of the
// value in a flattened Reading.
type Channel string

const (
	ChannelTemperature Channel = "temperature"
	ChannelHumidity    Channel = "humidity"
	ChannelSoil        Channel = "soil"
)

var ErrUnknownChannel = errors.New("unknown channel")

type Classification int

const (
	Normal Classification = iota
	Outlier
)

func (c Classification) String() string {
	if c == Outlier {
		return "outlier"
	}
	return "normal"
}

// ChannelSpec describes how a channel is simulated and how its values are
// classified for rendering.
type ChannelSpec struct {
	Name Channel
	Unit string

	// Simulated values are drawn uniformly from [BaseMin, BaseMax).
	BaseMin float64
	BaseMax float64

	// Magnitude of the offset applied to a simulated outlier.
	Perturbation float64

	// Values in [NormalMin, NormalMax] are normal; anything outside is an
	// outlier. Both bounds are inclusive.
	NormalMin float64
	NormalMax float64
}

// Classify is deterministic given the spec and the value. NaN never
// compares as inside the normal range, so it is an outlier.
func (s ChannelSpec) Classify(value float64) Classification {
	if math.IsNaN(value) || value < s.NormalMin || value > s.NormalMax {
		return Outlier
	}

	return Normal
}

func (s ChannelSpec) IsOutlier(value float64) bool {
	return s.Classify(value) == Outlier
}

var (
	TemperatureSpec = ChannelSpec{
		Name:         ChannelTemperature,
		Unit:         "°C",
		BaseMin:      5,
		BaseMax:      35,
		Perturbation: 10,
		NormalMin:    10,
		NormalMax:    35,
	}

	HumiditySpec = ChannelSpec{
		Name:         ChannelHumidity,
		Unit:         "%",
		BaseMin:      30,
		BaseMax:      80,
		Perturbation: 20,
		NormalMin:    30,
		NormalMax:    70,
	}

	SoilSpec = ChannelSpec{
		Name:         ChannelSoil,
		Unit:         "%",
		BaseMin:      20,
		BaseMax:      80,
		Perturbation: 20,
		NormalMin:    20,
		NormalMax:    80,
	}
)

// DefaultChannelSpecs returns the built-in channels in display order.
func DefaultChannelSpecs() []ChannelSpec {
	return []ChannelSpec{TemperatureSpec, HumiditySpec, SoilSpec}
}

func LookupChannel(name string) (ChannelSpec, error) {
	for _, spec := range DefaultChannelSpecs() {
		if string(spec.Name) == name {
			return spec, nil
		}
	}

	return ChannelSpec{}, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
}

func channelNames(specs []ChannelSpec) []Channel {
	names := make([]Channel, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return names
}
