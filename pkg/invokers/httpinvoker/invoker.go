// Package httpinvoker calls service endpoints over HTTP with a JSON payload.
package httpinvoker

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

	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/template"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// RetryConfig controls how failed requests are repeated. Attempts includes the
// initial request. Only network errors and 5xx responses are retried.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

type Invoker struct {
	client  *http.Client
	logger  *slog.Logger
	retries RetryConfig
	headers map[string]string
}

type Option func(*Invoker)

func WithClient(client *http.Client) Option {
	return func(i *Invoker) {
		i.client = client
	}
}

func WithRetries(retries RetryConfig) Option {
	return func(i *Invoker) {
		i.retries = retries
	}
}

func WithHeader(key, value string) Option {
	return func(i *Invoker) {
		i.headers[key] = value
	}
}

func New(logger *slog.Logger, opts ...Option) *Invoker {
	invoker := &Invoker{
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger.With("module", "http_invoker"),
		retries: RetryConfig{Attempts: 1},
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		opt(invoker)
	}

	if invoker.retries.Attempts < 1 {
		invoker.retries.Attempts = 1
	}

	return invoker
}

// Invoke sends the payload as a JSON body. Timestamps are encoded as RFC 3339
// strings. A JSON object response body becomes the response variables.
func (i *Invoker) Invoke(ctx context.Context, request protocol.ServiceRequest) (protocol.ServiceResponse, error) {
	method := strings.ToUpper(request.Method)
	if method == "" {
		method = http.MethodPost
	}

	body, err := encodePayload(request.Payload)
	if err != nil {
		return protocol.ServiceResponse{}, err
	}

	var (
		response protocol.ServiceResponse
		lastErr  error
	)

	for attempt := 1; attempt <= i.retries.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return response, ctx.Err()
			case <-time.After(i.retries.Delay):
			}
		}

		response, lastErr = i.performRequest(ctx, method, request.Endpoint, body)
		if lastErr == nil && response.StatusCode < http.StatusInternalServerError {
			return response, nil
		}

		i.logger.WarnContext(ctx, "service call attempt failed",
			"endpoint", request.Endpoint,
			"attempt", attempt,
			"status_code", response.StatusCode,
			"error", lastErr)
	}

	return response, lastErr
}

func (i *Invoker) performRequest(ctx context.Context, method, url string, body []byte) (protocol.ServiceResponse, error) {
	var reqBody io.Reader
	if method != http.MethodGet {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return protocol.ServiceResponse{}, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range i.headers {
		req.Header.Set(key, value)
	}

	if reqBody != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return protocol.ServiceResponse{}, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return protocol.ServiceResponse{StatusCode: resp.StatusCode}, fmt.Errorf("failed to read response: %w", err)
	}

	response := protocol.ServiceResponse{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
	}

	var variables map[string]any
	if err := json.Unmarshal(respBody, &variables); err == nil {
		response.Variables = variables
	}

	return response, nil
}

func encodePayload(payload map[string]any) ([]byte, error) {
	encoded := make(map[string]any, len(payload))

	for name, value := range payload {
		if t, ok := value.(time.Time); ok {
			encoded[name] = template.Stringify(t)

			continue
		}

		encoded[name] = value
	}

	body, err := json.Marshal(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	return body, nil
}
