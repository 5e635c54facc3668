// Package client talks to a running nudge server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nudge/src/internal/llm"
	"nudge/src/internal/reminders"
)

type Client struct {
	baseURL string
	key     string
	user    string
	http    *http.Client
}

// New creates a client for the server at baseURL acting as user. key may be
// empty when the server has none configured.
func New(baseURL, key, user string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		user:    user,
		http:    &http.Client{Timeout: 3 * time.Minute},
	}
}

// Reply is the server's answer to a prompt.
type Reply struct {
	Response     string    `json:"response"`
	Iterations   int       `json:"iterations"`
	ToolCalls    int       `json:"tool_calls"`
	Usage        llm.Usage `json:"usage"`
	IterationCap bool      `json:"iteration_cap"`
	Error        string    `json:"error"`
}

func (c *Client) Prompt(ctx context.Context, prompt string) (*Reply, error) {
	var r Reply
	status, err := c.do(ctx, http.MethodPost, "/api/v1/prompt", map[string]string{"prompt": prompt}, &r)
	if err != nil && status != http.StatusBadGateway {
		return nil, err
	}
	// 502 still carries the fallback answer
	return &r, nil
}

func (c *Client) Views(ctx context.Context) (reminders.Views, error) {
	var v reminders.Views
	_, err := c.do(ctx, http.MethodGet, "/api/v1/reminders?view=all", nil, &v)
	return v, err
}

func (c *Client) Complete(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/reminders/"+id+"/complete", nil, nil)
	return err
}

func (c *Client) Archive(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/reminders/"+id+"/archive", nil, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("X-Server-Key", c.key)
	}
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return resp.StatusCode, fmt.Errorf("%s %s: %s", method, path, e.Error)
	}
	return resp.StatusCode, nil
}
