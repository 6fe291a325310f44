package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"

	"github.com/RjRaju143/Remote-Commander/internal/middleware"
	"github.com/RjRaju143/Remote-Commander/internal/shell"
	"github.com/coder/websocket"
)

// wsEnvelope is the JSON message frame for the push transport.
//
// client → server: connect{serverId,cols,rows}, input{data}, resize{cols,rows},
// disconnect{}. server → client: ready{sessionId}, output{data}, end{},
// error{message}. data fields are base64 so arbitrary terminal bytes survive
// the JSON framing.
type wsEnvelope struct {
	Type      string `json:"type"`
	ServerID  uint   `json:"serverId,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	Data      string `json:"data,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// wsOutputWriter adapts the WebSocket connection into the session's output
// sink, wrapping each chunk in an output envelope.
type wsOutputWriter struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (w *wsOutputWriter) Write(p []byte) (int, error) {
	data, err := json.Marshal(wsEnvelope{
		Type: "output",
		Data: base64.StdEncoding.EncodeToString(p),
	})
	if err != nil {
		return 0, err
	}
	if err := w.conn.Write(w.ctx, websocket.MessageText, data); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WebSocket is the push transport: one duplex socket per terminal tab,
// carrying at most one shell session. The socket's lifetime bounds the
// session — losing the socket triggers the same teardown as an explicit
// disconnect.
func (h *Shell) WebSocket(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[shell-ws] accept failed: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	conn.SetReadLimit(1024 * 1024)

	send := func(env wsEnvelope) {
		data, err := json.Marshal(env)
		if err != nil {
			return
		}
		conn.Write(ctx, websocket.MessageText, data)
	}

	var sess *shell.Session
	defer func() {
		// Transport loss converges on the same idempotent teardown.
		if sess != nil {
			sess.Close(nil)
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg wsEnvelope
		if err := json.Unmarshal(data, &msg); err != nil {
			send(wsEnvelope{Type: "error", Message: "Bad message format"})
			continue
		}

		switch msg.Type {
		case "connect":
			if sess != nil {
				// One upstream connection per socket; a second connect
				// would orphan the first.
				send(wsEnvelope{Type: "error", Message: "Already connected"})
				continue
			}
			s, _, errMsg := h.openSession(ctx, user, msg.ServerID, msg.Cols, msg.Rows, &wsOutputWriter{conn: conn, ctx: ctx})
			if s == nil {
				send(wsEnvelope{Type: "error", Message: errMsg})
				continue
			}
			sess = s

			// Remote exit or upstream failure surfaces as a graceful end.
			go func() {
				<-s.Done()
				send(wsEnvelope{Type: "end"})
				conn.Close(websocket.StatusNormalClosure, "")
			}()

			send(wsEnvelope{Type: "ready", SessionID: s.ID})

		case "input":
			if sess == nil {
				continue
			}
			buf, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				send(wsEnvelope{Type: "error", Message: "Input must be base64"})
				continue
			}
			if len(buf) > shell.MaxInputMessageSize {
				send(wsEnvelope{Type: "error", Message: "Input too large"})
				continue
			}
			sess.WriteInput(buf)

		case "resize":
			if sess == nil {
				continue
			}
			sess.Resize(msg.Cols, msg.Rows)

		case "disconnect":
			if sess != nil {
				sess.Close(nil)
			}

		default:
			send(wsEnvelope{Type: "error", Message: "Unknown message type"})
		}
	}
}
