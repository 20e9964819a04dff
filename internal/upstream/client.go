package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/livinlefevreloca/collector/internal/record"
	"github.com/livinlefevreloca/collector/internal/timefmt"
)

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 64 << 20

// Response is a successful answer from the data API
type Response struct {
	StartTime string
	Message   string
	Records   []record.Record
}

// RecordCount is len(Records)
func (r *Response) RecordCount() int {
	return len(r.Records)
}

// Client issues single-attempt requests against the data API
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client with the configured request timeout
func NewClient(config ClientConfig, logger *slog.Logger) (*Client, error) {
	if err := validateClientConfig(config); err != nil {
		return nil, err
	}
	if config.DataPath == "" {
		config.DataPath = DefaultDataPath
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}, nil
}

// HTTPClient exposes the underlying client so tests can intercept its transport
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Fetch requests the records from windowStart until now. It makes exactly one
// attempt. Failures are *TransportError or *RejectedError; a nil error means
// upstream answered res_code 200 with a (possibly empty) record list.
func (c *Client) Fetch(ctx context.Context, windowStart time.Time, limit bool) (*Response, error) {
	url := c.config.DataURL()

	body, err := json.Marshal(record.DataRequest{
		StartTime: timefmt.Format(windowStart),
		LimitYn:   record.LimitFlagOf(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{URL: url, Reason: "invalid request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("calling data api", "url", url, "start_time", timefmt.Format(windowStart), "limit", limit)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		reason := "connection failed"
		if isTimeout(err) {
			reason = fmt.Sprintf("timed out after %v", c.config.Timeout)
		}
		return nil, &TransportError{URL: url, Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		reason := "failed to read response body"
		if isTimeout(err) {
			reason = fmt.Sprintf("timed out after %v", c.config.Timeout)
		}
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Reason: reason, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Reason: "unexpected http status"}
	}

	var envelope record.DataResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Reason: "malformed response body", Err: err}
	}

	if envelope.ResCode != record.CodeSuccess {
		return nil, &RejectedError{Code: envelope.ResCode, Message: envelope.ResMsg}
	}

	if envelope.DataCnt != len(envelope.Data) {
		return nil, &TransportError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("dataCnt %d does not match %d records", envelope.DataCnt, len(envelope.Data)),
		}
	}

	seen := make(map[string]struct{}, len(envelope.Data))
	for _, r := range envelope.Data {
		if err := r.Validate(); err != nil {
			return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Reason: "invalid record", Err: err}
		}
		if _, dup := seen[r.ID]; dup {
			return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Reason: fmt.Sprintf("duplicate record id %s", r.ID)}
		}
		seen[r.ID] = struct{}{}
	}

	return &Response{
		StartTime: envelope.StartTime,
		Message:   envelope.ResMsg,
		Records:   envelope.Data,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
