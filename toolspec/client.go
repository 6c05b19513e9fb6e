package toolspec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ampkernel/amp/kernelerr"
	"github.com/ampkernel/amp/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InvokeResponse is the envelope every tool's /invoke endpoint returns.
type InvokeResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// Client is the HTTP client the scheduler uses to fetch tool specs and
// invoke tools. It is safe for concurrent use; a single Client may be
// shared across every node handler in a plan execution.
type Client struct {
	http   *http.Client
	logger logger.Logger
	tracer trace.Tracer
}

// NewClient builds a Client with the given per-call timeout. A nil logger
// falls back to logger.NewDefaultLogger.
func NewClient(timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: log,
		tracer: otel.Tracer("amp.toolspec"),
	}
}

// FetchSpec performs GET {baseURL}/spec/{name} and decodes the ToolSpec.
func (c *Client) FetchSpec(ctx context.Context, baseURL, name string) (ToolSpec, error) {
	ctx, span := c.tracer.Start(ctx, "ToolClient.FetchSpec",
		trace.WithAttributes(attribute.String("tool.name", name), attribute.String("tool.base_url", baseURL)))
	defer span.End()

	url := fmt.Sprintf("%s/spec/%s", baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.RecordError(err)
		return ToolSpec{}, kernelerr.Communication("toolspec.FetchSpec", name, err.Error())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ToolSpec{}, kernelerr.Communication("toolspec.FetchSpec", name, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return ToolSpec{}, kernelerr.Communication("toolspec.FetchSpec", name, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("spec fetch for %s returned status %d", name, resp.StatusCode)
		span.SetStatus(codes.Error, msg)
		return ToolSpec{}, kernelerr.Communication("toolspec.FetchSpec", name, msg)
	}

	var spec ToolSpec
	if err := json.Unmarshal(body, &spec); err != nil {
		span.RecordError(err)
		return ToolSpec{}, kernelerr.Communication("toolspec.FetchSpec", name, err.Error())
	}
	return spec, nil
}

// Invoke performs POST {baseURL}/invoke/{name} with {"args": args} and
// returns the raw result payload. A populated "error" field in the
// response envelope is surfaced as a ToolExecutionError.
func (c *Client) Invoke(ctx context.Context, baseURL, name string, args map[string]interface{}) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/invoke/%s", baseURL, name)
	return c.post(ctx, url, name, map[string]interface{}{"args": args})
}

// InvokeOperation performs POST {baseURL}/invoke with an arbitrary body.
// It is used by the memory store client, whose tool exposes a single
// /invoke endpoint distinguished by an "operation" field rather than a
// per-capability path segment.
func (c *Client) InvokeOperation(ctx context.Context, baseURL, toolName string, body map[string]interface{}) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/invoke", baseURL)
	return c.post(ctx, url, toolName, body)
}

func (c *Client) post(ctx context.Context, url, toolName string, body map[string]interface{}) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "ToolClient.Invoke",
		trace.WithAttributes(attribute.String("tool.name", toolName), attribute.String("tool.url", url)))
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		span.RecordError(err)
		return nil, kernelerr.Communication("toolspec.Invoke", toolName, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		return nil, kernelerr.Communication("toolspec.Invoke", toolName, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("invoking tool", "tool", toolName, "url", url)

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, kernelerr.ToolExecution("toolspec.Invoke", "", toolName, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, kernelerr.Communication("toolspec.Invoke", toolName, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("tool %s returned status %d", toolName, resp.StatusCode)
		span.SetStatus(codes.Error, msg)
		return nil, kernelerr.ToolExecution("toolspec.Invoke", "", toolName, msg)
	}

	var envelope InvokeResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		span.RecordError(err)
		return nil, kernelerr.Communication("toolspec.Invoke", toolName, err.Error())
	}

	if envelope.Error != "" {
		span.SetStatus(codes.Error, envelope.Error)
		return nil, kernelerr.ToolExecution("toolspec.Invoke", "", toolName, envelope.Error)
	}

	return envelope.Result, nil
}
