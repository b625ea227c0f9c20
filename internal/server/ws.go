package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ppiankov/hallpass/internal/friction"
	"github.com/ppiankov/hallpass/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 4096
)

// ClientMessage is an event sent by the intervention page.
type ClientMessage struct {
	Type   string `json:"type"` // proceed, input, visibility, confirm, decline, abort
	Text   string `json:"text,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`
}

// ServerMessage is pushed to the intervention page.
type ServerMessage struct {
	Type  string          `json:"type"` // view, grant, error
	View  *friction.View  `json:"view,omitempty"`
	Grant *friction.Grant `json:"grant,omitempty"`
	Error string          `json:"error,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin accepts same-host pages and the configured origins.
// A trailing "*" in a configured origin matches any suffix.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok && strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// handleWebSocket streams session views to the page and applies the events
// it sends back. One goroutine writes; the handler goroutine reads.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.cfg.Engine.Get(id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}
	logger := logging.FromContext(r.Context(), s.logger).With("session_id", id)
	logger.Debug("websocket connected")

	views, unsubscribe := sess.Subscribe()
	replies := make(chan ServerMessage, 8)
	writerDone := make(chan struct{})
	readerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		defer conn.Close()
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			var msg ServerMessage
			select {
			case <-readerDone:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			case v, ok := <-views:
				if !ok {
					return
				}
				msg = ServerMessage{Type: "view", View: &v}
			case msg = <-replies:
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read failed", "error", err)
			}
			break
		}
		reply, ok := s.applyClientMessage(r, id, msg)
		if !ok {
			continue
		}
		select {
		case replies <- reply:
		case <-writerDone:
		}
	}

	close(readerDone)
	unsubscribe()
	<-writerDone
	logger.Debug("websocket disconnected")
}

// applyClientMessage runs one page event. State changes reach the page via
// the subscription; only grants and errors produce a direct reply.
func (s *Server) applyClientMessage(r *http.Request, id string, msg ClientMessage) (ServerMessage, bool) {
	var err error
	switch msg.Type {
	case "proceed":
		_, err = s.cfg.Engine.Proceed(id)
	case "input":
		_, err = s.cfg.Engine.Input(id, msg.Text)
	case "visibility":
		if msg.Hidden {
			_, err = s.cfg.Engine.VisibilityHidden(id)
		}
	case "confirm":
		var grant friction.Grant
		grant, err = s.cfg.Engine.Confirm(r.Context(), id)
		if err == nil {
			return ServerMessage{Type: "grant", Grant: &grant}, true
		}
	case "decline":
		_, err = s.cfg.Engine.Decline(id)
	case "abort":
		_, err = s.cfg.Engine.Abort(id)
	default:
		return ServerMessage{Type: "error", Error: "unknown message type " + msg.Type}, true
	}
	if err != nil {
		return ServerMessage{Type: "error", Error: err.Error()}, true
	}
	return ServerMessage{}, false
}
