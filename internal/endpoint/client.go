package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// TransportError is an unreachable endpoint or a non-2xx response. Callers
// treat it as retryable.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("endpoint %s unreachable: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("endpoint %s returned %d", e.URL, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or schema-invalid response body. It is a
// user-code bug, never retried.
type ProtocolError struct {
	URL string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("endpoint %s protocol error: %v", e.URL, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Client speaks the typed JSON protocol to user-deployed endpoints.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Ping checks that the endpoint answers the protocol.
func (c *Client) Ping(ctx context.Context, url string) error {
	var resp PingResponse
	if err := c.do(ctx, url, ActionPing, struct{}{}, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return &ProtocolError{URL: url, Err: fmt.Errorf("ping rejected: %s", resp.Error)}
	}
	return nil
}

// ExecuteJob runs one EXECUTE_JOB phase against the endpoint.
func (c *Client) ExecuteJob(ctx context.Context, url string, req ExecuteJobRequest) (*RunResponse, error) {
	var resp RunResponse
	if err := c.do(ctx, url, ActionExecuteJob, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PreprocessRun lets user code inspect the event before the run is started.
func (c *Client) PreprocessRun(ctx context.Context, url string, req PreprocessRunRequest) (*PreprocessRunResponse, error) {
	var resp PreprocessRunResponse
	if err := c.do(ctx, url, ActionPreprocessRun, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeliverEvent hands an event to the endpoint without creating a run.
func (c *Client) DeliverEvent(ctx context.Context, url string, event EventPayload) error {
	return c.do(ctx, url, ActionDeliverEvent, event, nil)
}

func (c *Client) do(ctx context.Context, url, action string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActionHeader, action)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{URL: url, Err: err}
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{URL: url, StatusCode: resp.StatusCode}
	}

	if out == nil {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{URL: url, Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProtocolError{URL: url, Err: err}
	}
	if err := validate.Struct(out); err != nil {
		return &ProtocolError{URL: url, Err: err}
	}
	return nil
}
