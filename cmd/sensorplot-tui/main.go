package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cactusdynamics/sensorplot"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type options struct {
	URL string `long:"url" env:"SENSORPLOT_URL" default:"http://localhost:5274" description:"URL of the sensorplot server"`
}

func fetchMetadata(ctx context.Context, serverURL string) (sensorplot.Metadata, error) {
	var metadata sensorplot.Metadata

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(serverURL, "/")+"/metadata", nil)
	if err != nil {
		return metadata, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return metadata, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return metadata, fmt.Errorf("metadata request failed: %s", resp.Status)
	}

	err = json.NewDecoder(resp.Body).Decode(&metadata)
	return metadata, err
}

// followPoints reads /ws frames into the returned channel, which is closed
// when the connection ends.
func followPoints(ctx context.Context, serverURL string) (<-chan []sensorplot.Point, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	ch := make(chan []sensorplot.Point, 64)
	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "")

		for {
			var points []sensorplot.Point
			if err := wsjson.Read(ctx, conn, &points); err != nil {
				logrus.WithField("tag", "tui").WithError(err).Debug("websocket closed")
				return
			}
			ch <- points
		}
	}()

	return ch, nil
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	// Keep log output out of the way of the TUI.
	logrus.SetOutput(io.Discard)
	if logFile, err := os.CreateTemp("", "sensorplot-tui-*.log"); err == nil {
		logrus.SetOutput(logFile)
		defer logFile.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metadataCtx, metadataCancel := context.WithTimeout(ctx, 5*time.Second)
	metadata, err := fetchMetadata(metadataCtx, opts.URL)
	metadataCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to fetch metadata: %v\n", err)
		os.Exit(1)
	}

	pointsCh, err := followPoints(ctx, opts.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}

	prog := tea.NewProgram(New(metadata, pointsCh), tea.WithAltScreen())
	if _, err := prog.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
