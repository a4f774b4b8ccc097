package sensorplot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/jessevdk/go-flags"
)

const (
	SourceSimulated = "simulated"
	SourceLive      = "live"
	SourceClock     = "clock"
	SourceReplay    = "replay"

	ReplayFormatRelaxed = "relaxed"
	ReplayFormatCSV     = "csv"
)

// Options is the command line of the sensorplot server. Every option can
// also be given through the environment.
type Options struct {
	Source   string   `long:"source" env:"SENSORPLOT_SOURCE" default:"simulated" choice:"simulated" choice:"live" choice:"clock" choice:"replay" description:"where readings come from; clock is the simulation labelled with wall-clock times"`
	Channels []string `short:"c" long:"channel" env:"SENSORPLOT_CHANNELS" env-delim:"," description:"channel to plot (temperature, humidity, soil); repeatable. Defaults to all for simulations and humidity for live"`

	ReplayFormat string `long:"replay-format" env:"SENSORPLOT_REPLAY_FORMAT" default:"relaxed" choice:"relaxed" choice:"csv" description:"line format of the replay input; relaxed splits on commas or whitespace, csv honours quoting"`

	APIURL                string        `long:"api-url" env:"SENSORPLOT_API_URL" default:"http://localhost:8080" description:"base URL of the sensor backend (backfill and push subscription)"`
	BackfillSize          int           `long:"backfill-size" env:"SENSORPLOT_BACKFILL_SIZE" default:"50" description:"page size of the history request"`
	BackfillTimeout       time.Duration `long:"backfill-timeout" env:"SENSORPLOT_BACKFILL_TIMEOUT" default:"10s" description:"upper bound on the history request"`
	PushReconnectAttempts int           `long:"push-reconnect-attempts" env:"SENSORPLOT_PUSH_RECONNECT_ATTEMPTS" default:"0" description:"reconnects after the push channel drops; 0 closes it for good"`

	Host       string        `long:"host" env:"SENSORPLOT_HOST" default:"localhost" description:"address to serve the dashboard on"`
	Port       uint16        `short:"p" long:"port" env:"SENSORPLOT_PORT" default:"5274" description:"port to serve the dashboard on"`
	WindowSize int           `short:"n" long:"window" env:"SENSORPLOT_WINDOW" default:"50" description:"number of readings kept"`
	Tick       time.Duration `long:"tick" env:"SENSORPLOT_TICK" default:"1s" description:"simulation cadence"`

	Verbose bool `short:"v" long:"verbose" description:"log debug output"`
}

// ParseOptions parses args (without the program name). Help requests come
// back as a *flags.Error of type flags.ErrHelp.
func ParseOptions(args []string) (Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "sensorplot"

	if _, err := parser.ParseArgs(args); err != nil {
		return Options{}, err
	}

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}

	return opts, nil
}

func (o Options) Validate() error {
	var errs []error

	if o.WindowSize < 1 {
		errs = append(errs, fmt.Errorf("window must be at least 1, got %d", o.WindowSize))
	}
	if o.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %s", o.Tick))
	}
	if o.BackfillTimeout <= 0 {
		errs = append(errs, fmt.Errorf("backfill-timeout must be positive, got %s", o.BackfillTimeout))
	}
	if o.BackfillSize < 1 {
		errs = append(errs, fmt.Errorf("backfill-size must be at least 1, got %d", o.BackfillSize))
	}
	if o.PushReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("push-reconnect-attempts cannot be negative, got %d", o.PushReconnectAttempts))
	}

	if o.Source == SourceLive {
		u, err := url.Parse(o.APIURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("api-url %q is not an absolute URL", o.APIURL))
		}
	}

	specs, err := o.ChannelSpecs()
	if err != nil {
		errs = append(errs, err)
	} else if o.Source == SourceLive && len(specs) != 1 {
		errs = append(errs, fmt.Errorf("live source follows exactly one channel, got %d", len(specs)))
	}

	return errors.Join(errs...)
}

func (o Options) ChannelSpecs() ([]ChannelSpec, error) {
	if len(o.Channels) == 0 {
		if o.Source == SourceLive {
			return []ChannelSpec{HumiditySpec}, nil
		}
		return DefaultChannelSpecs(), nil
	}

	specs := make([]ChannelSpec, 0, len(o.Channels))
	seen := make(map[string]bool, len(o.Channels))
	for _, name := range o.Channels {
		if seen[name] {
			continue
		}
		seen[name] = true

		spec, err := LookupChannel(name)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

func (o Options) TimeAxis() TimeAxisFormat {
	if o.Source == SourceClock {
		return TimeAxisClock
	}
	return TimeAxisSeconds
}

func (o Options) Metadata() (Metadata, error) {
	specs, err := o.ChannelSpecs()
	if err != nil {
		return Metadata{}, err
	}

	return Metadata{
		WindowSize: o.WindowSize,
		Source:     o.Source,
		TimeAxis:   o.TimeAxis(),
		Channels:   specs,
	}, nil
}

func (o Options) ReconnectPolicy() ReconnectPolicy {
	if o.PushReconnectAttempts == 0 {
		return NoReconnect()
	}
	return ExponentialReconnect(o.PushReconnectAttempts)
}

// OpenSource builds the source selected by the options. stdin is only used
// by the replay source and may be nil otherwise.
func (o Options) OpenSource(ctx context.Context, stdin io.ReadCloser) (ReadingSource, error) {
	specs, err := o.ChannelSpecs()
	if err != nil {
		return nil, err
	}

	switch o.Source {
	case SourceSimulated, SourceClock:
		return NewSimulatedSource(specs, o.Tick), nil
	case SourceLive:
		channel := specs[0].Name
		request := DefaultBackfillRequest()
		request.Size = o.BackfillSize

		return OpenLiveSource(
			ctx,
			channel,
			NewBackfillClient(o.APIURL, o.BackfillTimeout),
			request,
			NewPushSubscriber(o.APIURL, channel, o.ReconnectPolicy()),
		), nil
	case SourceReplay:
		if stdin == nil {
			return nil, errors.New("replay source needs an input")
		}
		return NewReplaySource(o.replayReader(stdin), stdin, channelNames(specs)), nil
	}

	return nil, fmt.Errorf("unknown source %q", o.Source)
}

func (o Options) replayReader(input io.Reader) StringReader {
	if o.ReplayFormat == ReplayFormatCSV {
		return NewCsvStringReader(input)
	}
	return NewRelaxedStringReader(input)
}
