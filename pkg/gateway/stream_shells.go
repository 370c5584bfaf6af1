package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
	"github.com/wharfdev/wharf/pkg/storage"
)

type shellFrame struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	Cols     int    `json:"cols,omitempty"`
	Rows     int    `json:"rows,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// handleShellStream attaches a client to a pre-allocated shell session.
// The PTY process starts only after the client's hello{cols, rows}; from
// then on input/resize frames flow in and output/exit frames flow out.
// Closing the socket while connected terminates the PTY.
func (s *Server) handleShellStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScope(w, r, storage.TokenScopeWrite); !ok {
		return
	}
	if !s.isWebSocketOriginAllowed(r) {
		respondError(w, wharferrors.New(wharferrors.ErrCodeValidation, "origin not allowed"))
		return
	}
	proj, ok := s.resolveProject(w, r)
	if !ok {
		return
	}
	shellID := strings.TrimSpace(chi.URLParam(r, "shellID"))
	session, err := s.shells.Get(shellID)
	if err != nil {
		respondError(w, err)
		return
	}
	if session.ProjectID != proj.ID {
		respondError(w, wharferrors.New(wharferrors.ErrCodeNotFound, "unknown shell: "+shellID))
		return
	}
	if !s.shellConnLimiter.Acquire() {
		respondError(w, wharferrors.New(wharferrors.ErrCodeStreamLimit, "too many shell clients"))
		return
	}
	defer s.shellConnLimiter.Release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Printf("shell stream accept failed: %v", err)
		return
	}
	conn.SetReadLimit(maxWSReadBytesShell)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	keepStreamAlive(ctx, conn)
	metricShellClients.Inc()
	defer metricShellClients.Dec()

	cols, rows, err := readShellHello(ctx, conn)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	if cols == 0 || rows == 0 {
		if v := session.View(); v.Cols > 0 && v.Rows > 0 {
			cols, rows = v.Cols, v.Rows
		} else {
			conn.Close(websocket.StatusPolicyViolation, "no terminal size in hello or at creation")
			return
		}
	}

	shell, err := session.Attach(cols, rows)
	if err != nil {
		payload, _ := json.Marshal(shellFrame{Type: "error", Data: string(wharferrors.CodeOf(err))})
		_ = conn.Write(ctx, websocket.MessageText, payload)
		if wharferrors.CodeOf(err) == wharferrors.ErrCodeSessionBusy {
			conn.Close(websocket.StatusPolicyViolation, "session busy")
		} else {
			conn.Close(websocket.StatusInternalError, err.Error())
		}
		return
	}
	// The stream owns the PTY from here: any exit path kills it.
	defer session.Release()

	// PTY output → client. Exit of the process ends this loop and
	// delivers the exit frame.
	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		buffer := make([]byte, 4096)
		for {
			n, err := shell.Read(buffer)
			if n > 0 {
				frame := shellFrame{
					Type: "output",
					Data: base64.StdEncoding.EncodeToString(buffer[:n]),
				}
				if payload, mErr := json.Marshal(frame); mErr == nil {
					writeCtx, cancelWrite := context.WithTimeout(ctx, 10*time.Second)
					_ = conn.Write(writeCtx, websocket.MessageText, payload)
					cancelWrite()
				}
				session.Touch()
			}
			if err != nil {
				code := shell.Wait()
				session.Exited(code)
				frame := shellFrame{Type: "exit", ExitCode: &code}
				if payload, mErr := json.Marshal(frame); mErr == nil {
					_ = conn.Write(ctx, websocket.MessageText, payload)
				}
				return
			}
		}
	}()

	// Client frames → PTY.
receiveLoop:
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		if msgType != websocket.MessageText {
			conn.Close(websocket.StatusPolicyViolation, "text frames only")
			break
		}
		var frame shellFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			conn.Close(websocket.StatusPolicyViolation, "malformed frame")
			break
		}
		session.Touch()
		switch frame.Type {
		case "input":
			if frame.Data == "" {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(frame.Data)
			if err != nil {
				conn.Close(websocket.StatusPolicyViolation, "input data must be base64")
				break receiveLoop
			}
			_, _ = shell.Write(raw)
		case "resize":
			if frame.Cols <= 0 || frame.Rows <= 0 {
				continue
			}
			cols16, okCols := intToUint16(frame.Cols)
			rows16, okRows := intToUint16(frame.Rows)
			if !okCols || !okRows {
				continue
			}
			_ = session.Resize(cols16, rows16)
		case "close":
			break receiveLoop
		default:
			conn.Close(websocket.StatusPolicyViolation, "unexpected frame type "+frame.Type)
			break receiveLoop
		}
	}

	session.Release()
	cancel()
	<-outputDone
	_ = conn.Close(websocket.StatusNormalClosure, "shell closed")
}

func readShellHello(ctx context.Context, conn *websocket.Conn) (cols, rows uint16, err error) {
	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()
	msgType, data, err := conn.Read(helloCtx)
	if err != nil {
		return 0, 0, wharferrors.New(wharferrors.ErrCodeProtocol, "missing hello frame")
	}
	if msgType != websocket.MessageText {
		return 0, 0, wharferrors.New(wharferrors.ErrCodeProtocol, "hello must be a text frame")
	}
	var hello shellFrame
	if err := json.Unmarshal(data, &hello); err != nil {
		return 0, 0, wharferrors.New(wharferrors.ErrCodeProtocol, "malformed hello frame")
	}
	if hello.Type != "hello" {
		return 0, 0, wharferrors.New(wharferrors.ErrCodeProtocol, "expected hello frame, got "+hello.Type)
	}
	if hello.Cols == 0 && hello.Rows == 0 {
		// Size deferred to the create-time default.
		return 0, 0, nil
	}
	cols16, okCols := intToUint16(hello.Cols)
	rows16, okRows := intToUint16(hello.Rows)
	if !okCols || !okRows {
		return 0, 0, wharferrors.New(wharferrors.ErrCodeProtocol, "hello requires positive cols and rows")
	}
	return cols16, rows16, nil
}

func intToUint16(value int) (uint16, bool) {
	if value <= 0 || value > 0xFFFF {
		return 0, false
	}
	return uint16(value), true
}
