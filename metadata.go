package sensorplot

type Metadata struct {
	WindowSize int
	Source     string
	TimeAxis   TimeAxisFormat
	Channels   []ChannelSpec
}

// ChannelIndex returns the position of the channel in Channels, which is
// also its series ID on the binary protocol, or -1.
func (m Metadata) ChannelIndex(channel Channel) int {
	for i, spec := range m.Channels {
		if spec.Name == channel {
			return i
		}
	}
	return -1
}
