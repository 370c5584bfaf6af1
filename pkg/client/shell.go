package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
)

type shellWireFrame struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	Cols     int    `json:"cols,omitempty"`
	Rows     int    `json:"rows,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// AttachShell connects the local terminal to a gateway shell session:
// raw mode on stdin, SIGWINCH-driven resize, output relayed to stdout.
// Returns the remote exit code.
func (c *Client) AttachShell(ctx context.Context, projectID, shellID string) (int, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return 0, wharferrors.New(wharferrors.ErrCodeValidation, "shell attach requires an interactive TTY")
	}

	target := c.wsURL(fmt.Sprintf("/projects/%s/shells/%s/stream",
		url.PathEscape(projectID), url.PathEscape(shellID)))
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return 0, decodeErrorBody(resp)
		}
		return 0, wharferrors.Wrap(err, wharferrors.ErrCodeDaemonNotRunning, "dial shell stream")
	}
	defer conn.Close()

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return 0, wharferrors.Wrap(err, wharferrors.ErrCodeInternal, "enable raw mode")
	}
	defer func() { _ = term.Restore(fd, oldState) }()

	cols, rows, err := term.GetSize(fd)
	if err != nil {
		cols, rows = 120, 40
	}

	writeFrame := func(frame shellWireFrame) error {
		payload, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, payload)
	}
	if err := writeFrame(shellWireFrame{Type: "hello", Cols: cols, Rows: rows}); err != nil {
		return 0, wharferrors.Wrap(err, wharferrors.ErrCodeProtocol, "send hello")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	sigCh := make(chan os.Signal, 1)
	registerResizeSignal(sigCh)
	defer unregisterResizeSignal(sigCh)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				if c2, r2, err := term.GetSize(fd); err == nil {
					_ = writeFrame(shellWireFrame{Type: "resize", Cols: c2, Rows: r2})
				}
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				frame := shellWireFrame{Type: "input", Data: base64.StdEncoding.EncodeToString(buf[:n])}
				if writeErr := writeFrame(frame); writeErr != nil {
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					return
				}
				_ = writeFrame(shellWireFrame{Type: "close"})
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return 0, nil
			}
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, wharferrors.Wrap(err, wharferrors.ErrCodeProtocol, "shell stream")
		}
		var frame shellWireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "output":
			if chunk, decodeErr := base64.StdEncoding.DecodeString(frame.Data); decodeErr == nil {
				_, _ = os.Stdout.Write(chunk)
			}
		case "exit":
			if frame.ExitCode != nil {
				return *frame.ExitCode, nil
			}
			return 0, nil
		case "error":
			return 0, wharferrors.New(wharferrors.ErrorCode(frame.Data), "shell attach rejected")
		}
	}
}
