package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cactusdynamics/sensorplot"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

type options struct {
	Host       string        `long:"host" default:"localhost" description:"address to listen on"`
	Port       uint16        `short:"p" long:"port" default:"8080" description:"port to listen on"`
	Tick       time.Duration `long:"tick" default:"1s" description:"interval between pushed readings"`
	HistoryLen int           `long:"history" default:"50" description:"readings kept per channel"`
	Verbose    bool          `short:"v" long:"verbose" description:"log debug output"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	if opts.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logger := logrus.WithField("tag", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	specs := sensorplot.DefaultChannelSpecs()
	api := newMockAPI(specs, sensorplot.Clamp(opts.HistoryLen, 1, 10000))
	defer api.Close()

	source := sensorplot.NewSimulatedSource(specs, opts.Tick)
	defer source.Close()

	// Backdated history so the first backfill is not empty.
	start := time.Now().Add(-time.Duration(opts.HistoryLen) * opts.Tick)
	for i := 0; i < opts.HistoryLen; i++ {
		sample := source.Generate()
		sample.MeasuredAt = start.Add(time.Duration(i) * opts.Tick)
		api.record(sample)
	}

	go func() {
		for {
			batch, err := source.Read(ctx)
			if err != nil {
				return
			}
			for _, sample := range batch.Samples {
				api.record(sample)
			}
		}
	}()

	server := &http.Server{
		Addr:              net.JoinHostPort(opts.Host, strconv.Itoa(int(opts.Port))),
		Handler:           api.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		api.Close()
		server.Shutdown(shutdownCtx)
	}()

	logger.Infof("mock sensor API at http://%s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
