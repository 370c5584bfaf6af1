package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
)

// defaultStreamIdleTimeout bounds how long a job stream waits without a
// frame before the client gives up. The job itself is unaffected; the
// caller can resume from its cursors.
const defaultStreamIdleTimeout = 5 * time.Minute

// JobFrame is one frame of a job stream.
type JobFrame struct {
	Type   string `json:"type"`
	Cursor uint64 `json:"cursor"`
	Data   string `json:"data,omitempty"`
	Event  *struct {
		Type     string `json:"type"`
		ExitCode *int   `json:"exitCode,omitempty"`
	} `json:"event,omitempty"`
}

// StreamOptions tunes a job stream subscription.
type StreamOptions struct {
	LogsFrom    uint64
	EventsFrom  uint64
	IdleTimeout time.Duration
}

// StreamJob subscribes to a job's record log and invokes handle for each
// frame in order. Returns nil on a clean server close (job terminal and
// drained), or the transport error otherwise. The caller tracks cursors
// from the frames it has seen to resume after a drop.
func (c *Client) StreamJob(ctx context.Context, projectID, jobID string, opts StreamOptions, handle func(JobFrame)) error {
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = defaultStreamIdleTimeout
	}

	target := c.wsURL(fmt.Sprintf("/projects/%s/jobs/%s/stream",
		url.PathEscape(projectID), url.PathEscape(jobID)))
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return decodeErrorBody(resp)
		}
		return wharferrors.Wrap(err, wharferrors.ErrCodeDaemonNotRunning, "dial job stream")
	}
	defer conn.Close()

	// Close the socket when ctx ends so blocked reads unblock.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	hello, _ := json.Marshal(map[string]any{
		"type":       "hello",
		"logsFrom":   opts.LogsFrom,
		"eventsFrom": opts.EventsFrom,
	})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return wharferrors.Wrap(err, wharferrors.ErrCodeProtocol, "send hello")
	}

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return wharferrors.Wrap(err, wharferrors.ErrCodeProtocol, "job stream")
		}
		var frame JobFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return wharferrors.Wrap(err, wharferrors.ErrCodeProtocol, "malformed stream frame")
		}
		handle(frame)
	}
}
