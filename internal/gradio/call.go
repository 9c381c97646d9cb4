package gradio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RemoteError is an "error" event emitted by the space for a queued call.
type RemoteError struct {
	Endpoint string
	Message  string
}

func (e *RemoteError) Error() string {
	if e.Message == "" || e.Message == "null" {
		return fmt.Sprintf("gradio %s failed", e.Endpoint)
	}
	return fmt.Sprintf("gradio %s failed: %s", e.Endpoint, e.Message)
}

// Detail is the space's own message, unquoted when it arrived as a JSON
// string.
func (e *RemoteError) Detail() string {
	var msg string
	if err := json.Unmarshal([]byte(e.Message), &msg); err == nil && msg != "" {
		return msg
	}
	if e.Message == "" || e.Message == "null" {
		return e.Error()
	}
	return e.Message
}

// call queues a prediction on endpoint and waits for its result. Arguments are
// positional, matching the endpoint's input components.
func (c *Client) call(ctx context.Context, endpoint string, args ...any) (json.RawMessage, error) {
	cn, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(map[string]any{"data": args})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cn.callURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	var queued struct {
		EventID string `json:"event_id"`
	}
	err = decodeQueued(resp, &queued)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if queued.EventID == "" {
		return nil, fmt.Errorf("%w: no event_id for %s", ErrMalformedResponse, endpoint)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, cn.callURL(endpoint)+"/"+queued.EventID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)
	resp, err = c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("result stream failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("result stream status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return readResult(resp.Body, endpoint)
}

func decodeQueued(resp *http.Response, dst any) error {
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode event id: %v", ErrMalformedResponse, err)
	}
	return nil
}

// readResult scans the server-sent events of a queued call until the
// "complete" or "error" event. Heartbeats and progress events are ignored.
func readResult(r io.Reader, endpoint string) (json.RawMessage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "complete":
				return json.RawMessage(data), nil
			case "error":
				return nil, &RemoteError{Endpoint: endpoint, Message: data}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	return nil, fmt.Errorf("%w: event stream for %s ended without a result", ErrMalformedResponse, endpoint)
}
