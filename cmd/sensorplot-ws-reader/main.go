package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"

	"github.com/cactusdynamics/sensorplot"
	"github.com/jessevdk/go-flags"
	"nhooyr.io/websocket"
)

// Config holds the configuration for the WS reader
type Config struct {
	ServerURL string
	Output    io.Writer
	Logger    *slog.Logger
}

// WSReader follows the /ws2 endpoint of a sensorplot server and writes every
// point as a CSV row: channel,time,value.
type WSReader struct {
	config    Config
	csvWriter *csv.Writer
	metadata  sensorplot.Metadata
}

func NewWSReader(config Config) *WSReader {
	return &WSReader{
		config:    config,
		csvWriter: csv.NewWriter(config.Output),
	}
}

func wsURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws2"

	return u.String(), nil
}

// Connect reads until the stream ends, the server closes the connection or
// ctx is cancelled.
func (w *WSReader) Connect(ctx context.Context) error {
	endpoint, err := wsURL(w.config.ServerURL)
	if err != nil {
		return err
	}

	w.config.Logger.Info("Connecting to websocket", "url", endpoint)

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := w.csvWriter.Write([]string{"channel", "time", "value"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for {
		_, messageData, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				w.config.Logger.Info("Connection closed normally")
			} else if ctx.Err() == nil {
				w.config.Logger.Error("Error reading message", "error", err)
			}
			break
		}

		if err := w.processMessage(messageData); err != nil {
			if err == io.EOF {
				w.config.Logger.Info("Stream ended")
				break
			}
			w.config.Logger.Error("Error processing message", "error", err)
		}
	}

	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

func (w *WSReader) processMessage(messageData []byte) error {
	msg, err := sensorplot.DecodeWSMessage(messageData)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	switch payload := msg.Payload.(type) {
	case sensorplot.DataMessage:
		return w.processDataMessage(payload)
	case sensorplot.Metadata:
		w.metadata = payload
		w.config.Logger.Debug("Received metadata", "metadata", payload)
	case sensorplot.StreamEndMessage:
		if payload.Error {
			w.config.Logger.Error("Stream ended with error", "message", payload.Msg)
		} else {
			w.config.Logger.Info("Stream ended successfully")
		}
		return io.EOF
	default:
		w.config.Logger.Warn("Unknown message type", "type", fmt.Sprintf("0x%02x", msg.Header.Type))
	}

	return nil
}

// The series ID is the channel's index in the metadata; without metadata
// the raw ID is written.
func (w *WSReader) channelName(seriesID uint32) string {
	if int(seriesID) < len(w.metadata.Channels) {
		return string(w.metadata.Channels[seriesID].Name)
	}
	return strconv.FormatUint(uint64(seriesID), 10)
}

func (w *WSReader) processDataMessage(dataMsg sensorplot.DataMessage) error {
	channel := w.channelName(dataMsg.SeriesID)

	for i := range dataMsg.X {
		row := []string{
			channel,
			strconv.FormatFloat(dataMsg.X[i], 'g', -1, 64),
			strconv.FormatFloat(dataMsg.Y[i], 'g', -1, 64),
		}
		if err := w.csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

func main() {
	var opts struct {
		URL string `long:"url" env:"SENSORPLOT_URL" default:"http://localhost:5274" description:"URL of the sensorplot server"`
	}
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	config := Config{
		ServerURL: opts.URL,
		Output:    os.Stdout,
		Logger:    logger,
	}

	reader := NewWSReader(config)
	if err := reader.Connect(ctx); err != nil {
		config.Logger.Error("Failed to connect", "error", err)
		os.Exit(1)
	}
}
