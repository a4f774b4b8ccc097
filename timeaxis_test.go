package sensorplot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeAxisFormat(t *testing.T) {
	for in, want := range map[string]TimeAxisFormat{
		"":        TimeAxisSeconds,
		"seconds": TimeAxisSeconds,
		"clock":   TimeAxisClock,
	} {
		got, err := ParseTimeAxisFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseTimeAxisFormat("minutes")
	assert.Error(t, err)
}

func TestTimeAxisLabel(t *testing.T) {
	assert.Equal(t, "0s", TimeAxisSeconds.Label(sessionT0, 0))
	assert.Equal(t, "12s", TimeAxisSeconds.Label(sessionT0, 12))
	assert.Equal(t, "-3s", TimeAxisSeconds.Label(sessionT0, -3))

	want := sessionT0.Add(75 * time.Second).Local().Format("15:04:05")
	assert.Equal(t, want, TimeAxisClock.Label(sessionT0, 75))
}

func TestRender(t *testing.T) {
	readings := []Reading{
		{Time: 0, Values: map[Channel]float64{ChannelTemperature: 9.9, ChannelHumidity: 50}},
		{Time: 2, Values: map[Channel]float64{ChannelTemperature: 10, Channel("pressure"): 1013}},
	}

	points := Render(readings, sessionT0, TimeAxisSeconds, []ChannelSpec{TemperatureSpec, HumiditySpec})
	require.Len(t, points, 2)

	assert.Equal(t, "0s", points[0].Label)
	assert.Equal(t, map[Channel]bool{ChannelTemperature: true, ChannelHumidity: false}, points[0].Outliers)

	assert.Equal(t, "2s", points[1].Label)
	assert.Equal(t, 1013.0, points[1].Values[Channel("pressure")])
	assert.False(t, points[1].Outliers[Channel("pressure")], "channels without a spec are never flagged")
	assert.False(t, points[1].Outliers[ChannelTemperature])

	assert.Empty(t, Render(nil, sessionT0, TimeAxisClock, nil))
}

func TestMetadataChannelIndex(t *testing.T) {
	assert.Equal(t, 0, testMetadata.ChannelIndex(ChannelTemperature))
	assert.Equal(t, 1, testMetadata.ChannelIndex(ChannelHumidity))
	assert.Equal(t, -1, testMetadata.ChannelIndex(ChannelSoil))
}
