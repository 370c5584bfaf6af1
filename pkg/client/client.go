// Package client is the CLI-side gateway client: REST calls plus
// WebSocket job and shell streams against a running wharf gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
	"github.com/wharfdev/wharf/pkg/jobs"
	"github.com/wharfdev/wharf/pkg/project"
	"github.com/wharfdev/wharf/pkg/shells"
	"github.com/wharfdev/wharf/pkg/storage"
)

// Client talks to one gateway instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client for the gateway at addr (host:port or URL).
func New(addr, token string) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, wharferrors.New(wharferrors.ErrCodeValidation, "gateway address required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	parsed, err := url.Parse(addr)
	if err != nil || parsed.Host == "" {
		return nil, wharferrors.Newf(wharferrors.ErrCodeValidation, "invalid gateway address %q", addr)
	}
	return &Client{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do executes the request and decodes a JSON response into dst. Error
// responses are rebuilt into structured errors so CLI callers can switch
// on the code.
func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return wharferrors.Wrap(err, wharferrors.ErrCodeDaemonNotRunning,
			"gateway unreachable at "+c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeErrorBody(resp)
	}
	if dst == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return wharferrors.Wrap(err, wharferrors.ErrCodeProtocol, "decode gateway response")
	}
	return nil
}

func decodeErrorBody(resp *http.Response) error {
	var body struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return wharferrors.Newf(wharferrors.ErrCodeProtocol,
			"gateway returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	werr := wharferrors.New(wharferrors.ErrorCode(body.Error), body.Message)
	return werr.WithRetryable(body.Retryable)
}

// StatusInfo is the gateway liveness response.
type StatusInfo struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (c *Client) Status(ctx context.Context) (*StatusInfo, error) {
	var info StatusInfo
	if err := c.do(ctx, http.MethodGet, "/status", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Projects(ctx context.Context) ([]project.Project, error) {
	var body struct {
		Projects []project.Project `json:"projects"`
	}
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &body); err != nil {
		return nil, err
	}
	return body.Projects, nil
}

func (c *Client) CreateJob(ctx context.Context, projectID, runner string, command []string, cwd string) (*jobs.View, error) {
	var body struct {
		Job jobs.View `json:"job"`
	}
	req := map[string]any{"runner": runner, "command": command}
	if cwd != "" {
		req["cwd"] = cwd
	}
	path := fmt.Sprintf("/projects/%s/jobs", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodPost, path, req, &body); err != nil {
		return nil, err
	}
	return &body.Job, nil
}

func (c *Client) GetJob(ctx context.Context, projectID, jobID string) (*jobs.View, error) {
	var body struct {
		Job jobs.View `json:"job"`
	}
	path := fmt.Sprintf("/projects/%s/jobs/%s", url.PathEscape(projectID), url.PathEscape(jobID))
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return &body.Job, nil
}

func (c *Client) CreateShell(ctx context.Context, projectID, runner string, command []string) (*shells.View, error) {
	var body struct {
		Shell shells.View `json:"shell"`
	}
	req := map[string]any{}
	if runner != "" {
		req["runner"] = runner
	}
	if len(command) > 0 {
		req["command"] = command
	}
	path := fmt.Sprintf("/projects/%s/shells", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodPost, path, req, &body); err != nil {
		return nil, err
	}
	return &body.Shell, nil
}

func (c *Client) ListTokens(ctx context.Context) ([]storage.Token, error) {
	var body struct {
		Tokens []storage.Token `json:"tokens"`
	}
	if err := c.do(ctx, http.MethodGet, "/config/tokens", nil, &body); err != nil {
		return nil, err
	}
	return body.Tokens, nil
}

func (c *Client) CreateToken(ctx context.Context, name, scope string) (secret string, record *storage.Token, err error) {
	var body struct {
		Token  string        `json:"token"`
		Record storage.Token `json:"record"`
	}
	req := map[string]string{"name": name, "scope": scope}
	if err := c.do(ctx, http.MethodPost, "/config/tokens", req, &body); err != nil {
		return "", nil, err
	}
	return body.Token, &body.Record, nil
}

func (c *Client) RevokeToken(ctx context.Context, id string) error {
	path := "/config/tokens/" + url.PathEscape(id)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) SetAllowWrites(ctx context.Context, enabled bool) error {
	return c.do(ctx, http.MethodPut, "/config/settings/allow-writes",
		map[string]bool{"enabled": enabled}, nil)
}

// wsURL converts the base URL to its WebSocket form with the bearer in
// the query, the documented transport for browser-constrained clients.
func (c *Client) wsURL(path string) string {
	ws := strings.Replace(c.baseURL, "http://", "ws://", 1)
	ws = strings.Replace(ws, "https://", "wss://", 1)
	u := ws + path
	if c.token != "" {
		u += "?token=" + url.QueryEscape(c.token)
	}
	return u
}
