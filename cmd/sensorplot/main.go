package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cactusdynamics/sensorplot"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

func main() {
	opts, err := sensorplot.ParseOptions(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(flagsErr.Message)
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logrus.SetOutput(os.Stderr)
	if opts.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	logger := logrus.WithField("tag", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metadata, err := opts.Metadata()
	if err != nil {
		logger.WithError(err).Fatal("invalid options")
	}

	source, err := opts.OpenSource(ctx, os.Stdin)
	if err != nil {
		logger.WithError(err).Fatal("failed to open source")
	}

	session := sensorplot.StartSession(ctx, source, opts.WindowSize)
	defer session.Stop()

	logger.WithFields(logrus.Fields{
		"session":  session.ID(),
		"source":   opts.Source,
		"channels": session.Channels(),
	}).Info("session started")

	server := sensorplot.NewHttpServer(session, opts.Host, opts.Port, metadata)
	if err := server.Run(ctx); err != nil {
		logger.WithError(err).Error("server stopped")
		session.Stop()
		os.Exit(1)
	}

	logger.Info("shutting down")
}
