package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/cactusdynamics/sensorplot"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	colorNormal  = lipgloss.Color("#82ca9d")
	colorOutlier = lipgloss.Color("#ff4d4f")
	colorDim     = lipgloss.Color("241")

	styleTitle   = lipgloss.NewStyle().Bold(true)
	styleChannel = lipgloss.NewStyle().Bold(true).Width(14)
	styleNormal  = lipgloss.NewStyle().Foreground(colorNormal)
	styleOutlier = lipgloss.NewStyle().Foreground(colorOutlier).Bold(true)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
)

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// PointsMsg delivers one websocket frame to the UI.
type PointsMsg []sensorplot.Point

// StreamClosedMsg is sent once the websocket is gone.
type StreamClosedMsg struct{}

// WaitForPoints returns a tea.Cmd that waits for the next frame.
func WaitForPoints(ch <-chan []sensorplot.Point) tea.Cmd {
	return func() tea.Msg {
		points, ok := <-ch
		if !ok {
			return StreamClosedMsg{}
		}
		return PointsMsg(points)
	}
}

// Model is the bubbletea model of the viewer. It keeps its own copy of the
// window, trimmed to the server's window size.
type Model struct {
	width int

	metadata sensorplot.Metadata
	points   []sensorplot.Point
	closed   bool

	pointsCh <-chan []sensorplot.Point
}

func New(metadata sensorplot.Metadata, pointsCh <-chan []sensorplot.Point) Model {
	return Model{
		width:    80,
		metadata: metadata,
		pointsCh: pointsCh,
	}
}

func (m Model) Init() tea.Cmd {
	return WaitForPoints(m.pointsCh)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case PointsMsg:
		m.points = append(m.points, msg...)
		if size := m.metadata.WindowSize; size > 0 && len(m.points) > size {
			m.points = append([]sensorplot.Point(nil), m.points[len(m.points)-size:]...)
		}
		return m, WaitForPoints(m.pointsCh)

	case StreamClosedMsg:
		m.closed = true
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(styleTitle.Render("sensorplot"))
	b.WriteString(styleDim.Render(fmt.Sprintf("  %s · %d/%d readings", m.metadata.Source, len(m.points), m.metadata.WindowSize)))
	if m.closed {
		b.WriteString(styleOutlier.Render("  [stream closed]"))
	}
	b.WriteString("\n\n")

	sparkWidth := sensorplot.Clamp(m.width-40, 10, 200)

	for _, spec := range m.metadata.Channels {
		b.WriteString(styleChannel.Render(string(spec.Name)))

		values, outliers := m.series(spec)
		if len(values) == 0 {
			b.WriteString(styleDim.Render("waiting for data"))
			b.WriteString("\n")
			continue
		}

		latest := values[len(values)-1]
		latestStyle := styleNormal
		if outliers[len(outliers)-1] {
			latestStyle = styleOutlier
		}
		b.WriteString(latestStyle.Render(fmt.Sprintf("%8.2f %-3s", latest, spec.Unit)))
		b.WriteString(" ")

		if len(values) > sparkWidth {
			values = values[len(values)-sparkWidth:]
			outliers = outliers[len(outliers)-sparkWidth:]
		}

		for i, r := range Sparkline(values) {
			style := styleNormal
			if outliers[i] {
				style = styleOutlier
			}
			b.WriteString(style.Render(string(r)))
		}
		b.WriteString("\n")
	}

	if len(m.points) > 0 {
		b.WriteString("\n")
		b.WriteString(styleDim.Render(fmt.Sprintf("%s … %s", m.points[0].Label, m.points[len(m.points)-1].Label)))
	}

	b.WriteString("\n")
	b.WriteString(styleDim.Render("q: quit"))
	b.WriteString("\n")

	return b.String()
}

func (m Model) series(spec sensorplot.ChannelSpec) ([]float64, []bool) {
	values := make([]float64, 0, len(m.points))
	outliers := make([]bool, 0, len(m.points))

	for _, point := range m.points {
		value, ok := point.Values[spec.Name]
		if !ok {
			continue
		}
		values = append(values, value)
		outliers = append(outliers, point.Outliers[spec.Name])
	}

	return values, outliers
}

// Sparkline maps each value onto eight block levels between the minimum and
// the maximum of values. A flat series sits on the middle level.
func Sparkline(values []float64) []rune {
	if len(values) == 0 {
		return nil
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	out := make([]rune, len(values))
	for i, v := range values {
		level := len(sparkLevels) / 2
		if hi > lo {
			level = int((v - lo) / (hi - lo) * float64(len(sparkLevels)-1))
		}
		out[i] = sparkLevels[sensorplot.Clamp(level, 0, len(sparkLevels)-1)]
	}

	return out
}
