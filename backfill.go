package sensorplot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBackfillTimeout = 10 * time.Second
	DefaultBackfillSize    = DefaultWindowSize
)

var ErrMalformedResponse = errors.New("malformed backfill response")

type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

// BackfillRequest is the JSON body of the history request.
type BackfillRequest struct {
	Size int       `json:"size"`
	Page int       `json:"page"`
	Sort SortOrder `json:"sort"`
}

func DefaultBackfillRequest() BackfillRequest {
	return BackfillRequest{Size: DefaultBackfillSize, Page: 0, Sort: SortAscending}
}

// BackfillItem is one entry of the history response. Value is a pointer so
// that a missing value can be told apart from 0.
type BackfillItem struct {
	MeasuredAt string   `json:"measuredAt"`
	Value      *float64 `json:"value"`
}

type BackfillResponse struct {
	Content *[]BackfillItem `json:"content"`
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backfill request failed: %s", e.Status)
}

// BackfillClient performs the one-shot history fetch for a channel:
// POST {base}/farm/{channel}.
type BackfillClient struct {
	baseURL    string
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// A timeout <= 0 selects DefaultBackfillTimeout. The request is always
// bounded.
func NewBackfillClient(baseURL string, timeout time.Duration) *BackfillClient {
	if timeout <= 0 {
		timeout = DefaultBackfillTimeout
	}

	return &BackfillClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logrus.WithField("tag", "BackfillClient"),
	}
}

func (c *BackfillClient) URL(channel Channel) string {
	return c.baseURL + "/farm/" + url.PathEscape(string(channel))
}

// Fetch returns the history of the channel in the order the backend sent it.
// Items with an unparsable timestamp or a missing value are dropped and
// logged; the rest is still returned.
func (c *BackfillClient) Fetch(ctx context.Context, channel Channel, request BackfillRequest) ([]RawSample, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(channel), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building backfill request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backfill request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var decoded BackfillResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if decoded.Content == nil {
		return nil, fmt.Errorf("%w: no content", ErrMalformedResponse)
	}

	return c.toSamples(channel, *decoded.Content), nil
}

func (c *BackfillClient) toSamples(channel Channel, items []BackfillItem) []RawSample {
	samples := make([]RawSample, 0, len(items))

	for i, item := range items {
		logger := c.logger.WithFields(logrus.Fields{
			"channel": channel,
			"index":   i,
		})

		if item.Value == nil {
			logger.Warn("backfill item has no value, dropping")
			continue
		}

		measuredAt, err := ParseTimestamp(item.MeasuredAt)
		if err != nil {
			logger.WithError(err).Warn("backfill item has a bad timestamp, dropping")
			continue
		}

		samples = append(samples, RawSample{
			MeasuredAt: measuredAt,
			Values:     map[Channel]float64{channel: *item.Value},
		})
	}

	return samples
}
