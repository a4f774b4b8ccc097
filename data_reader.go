package sensorplot

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Replay ingestion: an io.Reader (usually stdin or a recorded file) is split
// into fields by a StringReader, then ReplaySource turns every line into one
// live RawSample of the form
//
//	<timestamp> <value for channel 0> <value for channel 1> ...
//
// where the timestamp is ISO-8601 or unix seconds.

// When Read is called, return an array of strings which are the columns.
type StringReader interface {
	Read(context.Context) ([]string, error)
}

// Strict CSV reader built on encoding/csv, selected by --replay-format=csv.
// Lines that are not valid CSV are skipped with errIgnoreThisBatch.
type CsvStringReader struct {
	csvReader *csv.Reader

	lineCount int
}

func NewCsvStringReader(input io.Reader) *CsvStringReader {
	csvReader := csv.NewReader(input)
	csvReader.FieldsPerRecord = -1

	return &CsvStringReader{
		csvReader: csvReader,
	}
}

func (r *CsvStringReader) Read(ctx context.Context) ([]string, error) {
	line, err := r.csvReader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}

	r.lineCount++

	if err != nil {
		logger := logrus.WithFields(logrus.Fields{
			"tag":     "CsvString",
			"line":    line,
			"lineNum": r.lineCount,
		})

		switch err.(type) {
		case *csv.ParseError:
			logger.WithError(err).Debug("unable to parse CSV, ignoring...")
			return nil, errIgnoreThisBatch
		default:
			logger.WithError(err).Error("unable to read CSV")
			return nil, err
		}
	}

	return line, nil
}

// Splits on commas or any run of spaces and tabs. Does not understand CSV
// quoting. This is the default for replay.
type RelaxedStringReader struct {
	scanner *bufio.Scanner
}

func NewRelaxedStringReader(input io.Reader) *RelaxedStringReader {
	return &RelaxedStringReader{
		scanner: bufio.NewScanner(input),
	}
}

var relaxedSplitter = regexp.MustCompile("[ \t]+|,")

func (r *RelaxedStringReader) Read(ctx context.Context) ([]string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			logrus.WithField("tag", "RelaxedString").WithError(err).Error("unable to read line")
			return nil, err
		}
		return nil, io.EOF
	}

	splitLine := Filter(relaxedSplitter.Split(r.scanner.Text(), -1), func(value string) bool {
		return len(value) > 0
	})

	return splitLine, nil
}

// ReplaySource replays recorded readings. Unparsable lines are logged and
// skipped; the end of the input ends the source.
type ReplaySource struct {
	input    StringReader
	closer   io.Closer
	channels []Channel
}

// closer may be nil. If set, it is closed by Close, which is how a blocked
// read on stdin or a pipe gets interrupted.
func NewReplaySource(input StringReader, closer io.Closer, channels []Channel) *ReplaySource {
	return &ReplaySource{
		input:    input,
		closer:   closer,
		channels: channels,
	}
}

func (s *ReplaySource) Read(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	line, err := s.input.Read(ctx)
	if err != nil {
		return Batch{}, err
	}

	// Blank lines carry nothing.
	if len(line) == 0 {
		return Batch{}, errIgnoreThisBatch
	}

	logger := logrus.WithFields(logrus.Fields{
		"tag":  "Replay",
		"line": line,
	})

	if len(line) != len(s.channels)+1 {
		logger.Warnf("expected a timestamp and %d values, got %d fields, ignoring...", len(s.channels), len(line))
		return Batch{}, errIgnoreThisBatch
	}

	measuredAt, err := parseReplayTimestamp(line[0])
	if err != nil {
		logger.WithError(err).Warn("cannot parse timestamp, ignoring...")
		return Batch{}, errIgnoreThisBatch
	}

	values := make(map[Channel]float64, len(s.channels))
	for i, channel := range s.channels {
		value, err := strconv.ParseFloat(strings.TrimSpace(line[i+1]), 64)
		if err != nil {
			logger.WithError(err).Warn("cannot parse float, ignoring...")
			return Batch{}, errIgnoreThisBatch
		}
		values[channel] = value
	}

	return Batch{
		Kind:    BatchLive,
		Samples: []RawSample{{MeasuredAt: measuredAt, Values: values}},
	}, nil
}

func (s *ReplaySource) Channels() []Channel {
	return s.channels
}

func (s *ReplaySource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Unix seconds (fractions allowed) or ISO-8601.
func parseReplayTimestamp(field string) (time.Time, error) {
	field = strings.TrimSpace(field)

	if seconds, err := strconv.ParseFloat(field, 64); err == nil {
		return time.UnixMicro(int64(seconds * 1e6)), nil
	}

	return ParseTimestamp(field)
}
