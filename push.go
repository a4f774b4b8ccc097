package sensorplot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/sirupsen/logrus"
	backoff "gopkg.in/cenkalti/backoff.v1"
)

// pushPayload is the JSON form of a push event. Both fields are optional in
// the sense that a bare number is also accepted; see DecodePushPayload.
type pushPayload struct {
	Value      *float64 `json:"value"`
	MeasuredAt string   `json:"measuredAt"`
}

// DecodePushPayload interprets the data of one push event for a channel.
//
// The payload is either JSON {"value": 1.5, "measuredAt": "<ISO-8601>"} or a
// bare number. If it is not JSON it is read as a bare number stamped with
// now(), as is a JSON payload without measuredAt. Anything else is an error
// wrapping ErrMalformedSample.
func DecodePushPayload(channel Channel, data []byte, now func() time.Time) (RawSample, error) {
	var payload pushPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		value, parseErr := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if parseErr != nil {
			return RawSample{}, fmt.Errorf("%w: push payload %q is neither JSON nor a number", ErrMalformedSample, data)
		}

		return RawSample{
			MeasuredAt: now(),
			Values:     map[Channel]float64{channel: value},
		}, nil
	}

	// Valid JSON that is not an object with a value (e.g. `"abc"`, `{}`).
	if payload.Value == nil {
		return RawSample{}, fmt.Errorf("%w: push payload %q has no value", ErrMalformedSample, data)
	}

	measuredAt := now()
	if payload.MeasuredAt != "" {
		var err error
		measuredAt, err = ParseTimestamp(payload.MeasuredAt)
		if err != nil {
			return RawSample{}, err
		}
	}

	sample := RawSample{
		MeasuredAt: measuredAt,
		Values:     map[Channel]float64{channel: *payload.Value},
	}

	return sample, sample.Validate()
}

// PushSubscriber holds the server-push subscription of one channel:
// GET {base}/subscribe/{channel}, accepting events named "{channel}_data".
type PushSubscriber struct {
	baseURL    string
	channel    Channel
	policy     ReconnectPolicy
	httpClient *http.Client
	now        func() time.Time
	logger     logrus.FieldLogger
}

func NewPushSubscriber(baseURL string, channel Channel, policy ReconnectPolicy) *PushSubscriber {
	return &PushSubscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		channel: channel,
		policy:  policy,
		// No timeout: the stream is long lived. Cancellation comes from ctx.
		httpClient: &http.Client{},
		now:        time.Now,
		logger: logrus.WithFields(logrus.Fields{
			"tag":     "PushSubscriber",
			"channel": channel,
		}),
	}
}

func (p *PushSubscriber) URL() string {
	return p.baseURL + "/subscribe/" + url.PathEscape(string(p.channel))
}

func (p *PushSubscriber) EventName() string {
	return string(p.channel) + "_data"
}

// Subscribe blocks, calling handler for every well-formed event, until the
// channel closes or ctx is done. Malformed events are logged and dropped;
// they never reach handler. A transport error closes the channel unless the
// reconnect policy allows another attempt. The returned error is the one
// that closed the channel (nil when the server ended the stream cleanly).
func (p *PushSubscriber) Subscribe(ctx context.Context, handler func(RawSample)) error {
	client := sse.NewClient(p.URL())
	client.Connection = p.httpClient
	// Bound to ctx so the wait between reconnects ends with the session.
	client.ReconnectStrategy = backoff.WithContext(p.policy.newBackOff(ctx), ctx)
	client.ReconnectNotify = func(err error, next time.Duration) {
		p.logger.WithError(err).Warnf("push channel dropped, reconnecting in %s", next)
	}

	eventName := []byte(p.EventName())

	p.logger.WithField("url", p.URL()).Info("subscribing to push channel")

	err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if !bytes.Equal(msg.Event, eventName) {
			p.logger.WithField("event", string(msg.Event)).Debug("ignoring event of another type")
			return
		}

		sample, err := DecodePushPayload(p.channel, msg.Data, p.now)
		if err != nil {
			p.logger.WithError(err).Warn("dropping malformed push event")
			return
		}

		handler(sample)
	})

	if ctx.Err() != nil {
		p.logger.Info("push channel closed by session")
		return nil
	}

	if err != nil {
		p.logger.WithError(err).Error("push channel error, closing")
		return err
	}

	p.logger.Info("push channel ended by server")
	return nil
}
