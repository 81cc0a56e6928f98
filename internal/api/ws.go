package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gendonholaholo/shopscrap/internal/extension"
	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin policy is handled by the CORS middleware; the socket
	// endpoints accept any origin that got this far.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteWait     = 10 * time.Second
	wsMaxFrameBytes = 1 << 20
)

type jobSnapshotMessage struct {
	Event string      `json:"event"`
	Job   scraper.Job `json:"job"`
}

type finalStatusMessage struct {
	Event  string            `json:"event"`
	JobID  string            `json:"job_id"`
	Status scraper.JobStatus `json:"status"`
	Result map[string]any    `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// jobSocket streams a job's status and progress events. The subscription
// opens before the snapshot is taken, so no transition between the two is
// lost; the client may see one event twice after reconnect, never a gap.
func (s *Server) jobSocket(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.queue.Get(r.Context(), jobID); err != nil {
		if errors.Is(err, scraper.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	events, cancel, err := s.bus.Subscribe(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}
	defer cancel()

	job, err := s.queue.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("job socket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := writeSocketJSON(conn, jobSnapshotMessage{Event: "connected", Job: job}); err != nil {
		return
	}
	if job.Status.Terminal() {
		s.closeWithFinalStatus(conn, job)
		return
	}

	// Drain client frames so close handshakes and pings are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		conn.SetReadLimit(wsMaxFrameBytes)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSocketJSON(conn, event); err != nil {
				return
			}
			if event.Event == scraper.EventCompleted {
				final, err := s.queue.Get(r.Context(), jobID)
				if err != nil {
					final = scraper.Job{ID: jobID, Status: event.Status, Result: event.Result, Error: event.Error}
				}
				s.closeWithFinalStatus(conn, final)
				return
			}
		}
	}
}

func (s *Server) closeWithFinalStatus(conn *websocket.Conn, job scraper.Job) {
	_ = writeSocketJSON(conn, finalStatusMessage{
		Event:  "final_status",
		JobID:  job.ID,
		Status: job.Status,
		Result: job.Result,
		Error:  job.Error,
	})
	deadline := time.Now().Add(wsWriteWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"), deadline)
}

// extensionSocket handles a browser-extension worker connection. The first
// frame must be a register message; everything after flows through the
// registry until the socket drops.
func (s *Server) extensionSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("extension socket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxFrameBytes)
	readTimeout := 2 * extension.HeartbeatTimeout

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, first, err := conn.ReadMessage()
	if err != nil {
		return
	}

	var env extension.Envelope
	var reg extension.RegisterPayload
	if err := json.Unmarshal(first, &env); err != nil || env.Type != extension.MsgRegister {
		s.closePolicyViolation(conn)
		return
	}
	if err := json.Unmarshal(env.Payload, &reg); err != nil || reg.ExtensionID == "" {
		s.closePolicyViolation(conn)
		return
	}

	wsConn := extension.NewWSConn(conn)
	if err := s.registry.Register(reg.ExtensionID, reg.UserAgent, reg.Version, wsConn); err != nil {
		s.logger.Warn("extension register failed",
			zap.String("extension_id", reg.ExtensionID),
			zap.Error(err))
		return
	}
	defer s.registry.UnregisterConn(reg.ExtensionID, wsConn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("extension socket closed",
					zap.String("extension_id", reg.ExtensionID),
					zap.Error(err))
			}
			return
		}
		if err := s.registry.HandleMessage(reg.ExtensionID, data); err != nil {
			s.logger.Warn("extension message rejected",
				zap.String("extension_id", reg.ExtensionID),
				zap.Error(err))
		}
	}
}

func (s *Server) closePolicyViolation(conn *websocket.Conn) {
	deadline := time.Now().Add(wsWriteWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "register first"), deadline)
}

func writeSocketJSON(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
