package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
	"github.com/wharfdev/wharf/pkg/jobs"
	"github.com/wharfdev/wharf/pkg/storage"
)

const helloTimeout = 10 * time.Second

type jobHello struct {
	Type       string `json:"type"`
	LogsFrom   uint64 `json:"logsFrom"`
	EventsFrom uint64 `json:"eventsFrom"`
}

// handleJobStream streams a job's record log over a WebSocket. The client
// opens with hello{logsFrom, eventsFrom}; the server replays records past
// those cursors in production order, follows with live records, and
// performs a normal close once the job is terminal and fully delivered.
// Closing the socket never affects the job.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScope(w, r, storage.TokenScopeRead); !ok {
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
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	job, err := s.jobs.Get(jobID)
	if err != nil {
		respondError(w, err)
		return
	}
	if job.ProjectID != proj.ID {
		respondError(w, wharferrors.New(wharferrors.ErrCodeNotFound, "unknown job: "+jobID))
		return
	}
	if !s.jobStreamLimiter.Acquire() {
		respondError(w, wharferrors.New(wharferrors.ErrCodeStreamLimit, "too many job stream clients"))
		return
	}
	defer s.jobStreamLimiter.Release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Printf("job stream accept failed: %v", err)
		return
	}
	conn.SetReadLimit(maxWSReadBytesJobStream)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	keepStreamAlive(ctx, conn)
	metricJobStreamClients.Inc()
	defer metricJobStreamClients.Dec()

	hello, err := readJobHello(ctx, conn)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	records, err := s.jobs.Subscribe(ctx, jobID, hello.LogsFrom, hello.EventsFrom)
	if err != nil {
		conn.Close(websocket.StatusInternalError, err.Error())
		return
	}

	// Inbound frames after hello: only an explicit close is valid. Any
	// other type tag is a protocol error and tears the socket down with a
	// reason, never a silent ignore.
	go func() {
		defer cancel()
		for {
			msgType, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if msgType != websocket.MessageText {
				conn.Close(websocket.StatusPolicyViolation, "text frames only")
				return
			}
			var frame struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &frame); err != nil {
				conn.Close(websocket.StatusPolicyViolation, "malformed frame")
				return
			}
			switch frame.Type {
			case "close":
				conn.Close(websocket.StatusNormalClosure, "client close")
				return
			default:
				conn.Close(websocket.StatusPolicyViolation, "unexpected frame type "+frame.Type)
				return
			}
		}
	}()

	for rec := range records {
		payload, err := marshalJobRecord(rec)
		if err != nil {
			continue
		}
		writeCtx, cancelWrite := context.WithTimeout(ctx, 10*time.Second)
		err = conn.Write(writeCtx, websocket.MessageText, payload)
		cancelWrite()
		if err != nil {
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "job terminal")
}

func readJobHello(ctx context.Context, conn *websocket.Conn) (*jobHello, error) {
	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()
	msgType, data, err := conn.Read(helloCtx)
	if err != nil {
		return nil, wharferrors.New(wharferrors.ErrCodeProtocol, "missing hello frame")
	}
	if msgType != websocket.MessageText {
		return nil, wharferrors.New(wharferrors.ErrCodeProtocol, "hello must be a text frame")
	}
	var hello jobHello
	if err := json.Unmarshal(data, &hello); err != nil {
		return nil, wharferrors.New(wharferrors.ErrCodeProtocol, "malformed hello frame")
	}
	if hello.Type != "hello" {
		return nil, wharferrors.New(wharferrors.ErrCodeProtocol, "expected hello frame, got "+hello.Type)
	}
	return &hello, nil
}

func marshalJobRecord(rec jobs.Record) ([]byte, error) {
	switch rec.Kind {
	case jobs.RecordLog:
		return json.Marshal(map[string]any{
			"type":   "log",
			"cursor": rec.Cursor,
			"data":   rec.Data,
		})
	case jobs.RecordEvent:
		return json.Marshal(map[string]any{
			"type":   "event",
			"cursor": rec.Cursor,
			"event":  rec.Event,
		})
	default:
		return nil, wharferrors.Newf(wharferrors.ErrCodeInternal, "unknown record kind %q", rec.Kind)
	}
}
