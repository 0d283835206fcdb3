// Package apiclient is the network-boundary adapter for the reading-app
// backend. Every response is decoded from the shared JSON envelope and every
// failure is classified into the apierror taxonomy before it is returned.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"onebookreader/internal/metrics"
	"onebookreader/internal/util"
	"onebookreader/pkg/apierror"
)

const defaultTimeout = 10 * time.Second

// Config configures the API client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Token returns the bearer token for authenticated calls; blank means none.
	Token   func() string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Client calls the backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      func() string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New constructs a backend client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	token := cfg.Token
	if token == nil {
		token = func() string { return "" }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *envelopeError  `json:"error"`
}

type envelopeError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// call describes one request. endpoint is the route template used for
// metrics and logs.
type call struct {
	method   string
	endpoint string
	path     string
	token    string
	payload  any
}

func (c *Client) authed(method, endpoint, path string, payload any) call {
	return call{method: method, endpoint: endpoint, path: path, token: c.token(), payload: payload}
}

func (c *Client) doJSON(ctx context.Context, rc call, out any) (err error) {
	ctx, requestID := util.EnsureRequestID(ctx)
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apierror.KindOf(err))
		}
		c.metrics.ObserveRequest(rc.endpoint, outcome, time.Since(start))
		if err != nil {
			util.Logger(ctx, c.logger, "endpoint", rc.endpoint, "request_id", requestID).
				Debug("api call failed", "err", err)
		}
	}()

	var body io.Reader
	if rc.payload != nil {
		data, err := json.Marshal(rc.payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", rc.endpoint, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, rc.method, c.baseURL+rc.path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", rc.endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(util.RequestIDHeader, requestID)
	if rc.payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(rc.token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierror.Transport(err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode >= 400 {
		var code, msg string
		if decodeErr == nil && env.Error != nil {
			code, msg = env.Error.Code, env.Error.Message
		}
		return apierror.FromStatus(resp.StatusCode, code, msg)
	}
	if decodeErr != nil && decodeErr != io.EOF {
		return &apierror.Error{Kind: apierror.KindServiceUnavailable, Status: resp.StatusCode, Code: "bad_response", Err: decodeErr}
	}
	if decodeErr == nil && !env.Success {
		if env.Error == nil {
			return &apierror.Error{Kind: apierror.KindServiceUnavailable, Status: resp.StatusCode, Code: "bad_response",
				Err: fmt.Errorf("%s: unsuccessful response without error", rc.endpoint)}
		}
		return apierror.FromStatus(resp.StatusCode, env.Error.Code, env.Error.Message)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &apierror.Error{Kind: apierror.KindServiceUnavailable, Status: resp.StatusCode, Code: "bad_response", Err: err}
	}
	return nil
}
