package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dsj7419/qa-doc-convert/internal/events"
	"github.com/dsj7419/qa-doc-convert/internal/history"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s (HTTP %d)", e.Message, e.StatusCode)
}

// Client talks to a running qadoc API server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient returns a client for baseURL. apiKey may be empty.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// Calls are bounded by their context; /events must not time out.
		http: &http.Client{},
	}
}

// BaseURL returns the server address the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Healthz(ctx context.Context) (HealthzResponse, error) {
	var out HealthzResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	var out StatsResponse
	err := c.do(ctx, http.MethodGet, "/stats", nil, &out)
	return out, err
}

func (c *Client) AddExample(ctx context.Context, req AddExampleRequest) (AddExampleResponse, error) {
	var out AddExampleResponse
	err := c.do(ctx, http.MethodPost, "/examples", req, &out)
	return out, err
}

func (c *Client) Collect(ctx context.Context, req CollectRequest) (CollectResponse, error) {
	var out CollectResponse
	err := c.do(ctx, http.MethodPost, "/examples/collect", req, &out)
	return out, err
}

func (c *Client) StartTraining(ctx context.Context, force bool) (StartResponse, error) {
	var out StartResponse
	err := c.do(ctx, http.MethodPost, "/training/start", StartRequest{Force: force}, &out)
	return out, err
}

// StopTraining blocks until the server reports an outcome. A zero timeout
// uses the server default.
func (c *Client) StopTraining(ctx context.Context, timeout time.Duration) (StopResponse, error) {
	var req StopRequest
	if timeout > 0 {
		req.Timeout = timeout.String()
	}
	var out StopResponse
	err := c.do(ctx, http.MethodPost, "/training/stop", req, &out)
	return out, err
}

func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/training/reset", nil, nil)
}

func (c *Client) Runs(ctx context.Context, limit int) ([]history.Run, error) {
	var out RunsResponse
	path := "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Runs, err
}

func (c *Client) Run(ctx context.Context, id string) (*history.Run, error) {
	var out history.Run
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stream reads /events, calling fn for every event after lastID, until the
// connection drops or ctx ends. It returns the ID of the last event seen so
// the caller can resume.
func (c *Client) Stream(ctx context.Context, lastID int64, fn func(events.Event)) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/events", nil)
	if err != nil {
		return lastID, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return lastID, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return lastID, decodeError(resp)
	}

	var cur events.Event
	var data strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				cur.Data = json.RawMessage(data.String())
				if cur.At.IsZero() {
					cur.At = time.Now()
				}
				fn(cur)
				if cur.ID > lastID {
					lastID = cur.ID
				}
			}
			cur = events.Event{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(line[6:])
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return lastID, err
	}
	return lastID, ctx.Err()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var er ErrorResponse
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(b, &er); err != nil || er.Error == "" {
		er.Error = strings.TrimSpace(string(b))
		if er.Error == "" {
			er.Error = http.StatusText(resp.StatusCode)
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: er.Error}
}
