package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/RjRaju143/Remote-Commander/internal/access"
	"github.com/RjRaju143/Remote-Commander/internal/database"
	"github.com/RjRaju143/Remote-Commander/internal/middleware"
	"github.com/RjRaju143/Remote-Commander/internal/shell"
	"github.com/go-chi/chi/v5"
)

// Shell serves both bridge transports over one injected session registry:
// the HTTP polling endpoints in this file and the WebSocket handler in
// ws.go. Both are thin adapters; all session logic lives in internal/shell.
type Shell struct {
	Registry       *shell.Registry
	ConnectTimeout time.Duration
}

func NewShell(registry *shell.Registry, connectTimeout time.Duration) *Shell {
	return &Shell{Registry: registry, ConnectTimeout: connectTimeout}
}

// openSession runs the full connect path shared by both transports:
// authorization gate, just-in-time key decryption, upstream dial. On
// failure it returns a zero session with an HTTP status and a safe,
// user-facing message.
func (h *Shell) openSession(ctx context.Context, user *database.User, serverID uint, cols, rows int, sink io.Writer) (*shell.Session, int, string) {
	level := access.PermissionOf(database.DB, serverID, user.ID)
	if level < access.Read {
		// Not found and not authorized are indistinguishable on purpose.
		return nil, http.StatusNotFound, "Server not found or permission denied"
	}
	if level < access.Execute {
		return nil, http.StatusForbidden, "Permission denied to execute commands on this server"
	}

	server, err := database.GetServer(database.DB, serverID)
	if err != nil {
		return nil, http.StatusNotFound, "Server not found or permission denied"
	}

	// Decrypt just-in-time; the plaintext lives only for this call.
	var privateKey []byte
	if server.EncryptedPrivateKey != "" {
		privateKey, err = Vault.Decrypt(server.EncryptedPrivateKey)
		if err != nil {
			return nil, http.StatusInternalServerError, "Failed to decrypt server credentials"
		}
	}

	sess, err := h.Registry.Open(ctx, shell.Options{
		Target: shell.Target{
			Address:    server.Address,
			Port:       server.Port,
			User:       server.Username,
			PrivateKey: privateKey,
		},
		ServerID: server.ID,
		OwnerID:  user.ID,
		Cols:     cols,
		Rows:     rows,
		Sink:     sink,
		Timeout:  h.ConnectTimeout,
	})
	if err != nil {
		var cerr *shell.ConnectError
		if errors.As(err, &cerr) {
			return nil, http.StatusInternalServerError, "SSH connection failed: " + cerr.Kind.String()
		}
		return nil, http.StatusInternalServerError, "SSH connection failed"
	}
	return sess, http.StatusOK, ""
}

// ownedSession resolves the sessionID URL parameter to a session owned by
// the caller. A session owned by someone else looks exactly like a missing
// one.
func (h *Shell) ownedSession(r *http.Request) (*shell.Session, bool) {
	user := middleware.GetUser(r)
	sess, ok := h.Registry.Get(chi.URLParam(r, "sessionID"))
	if !ok || user == nil || sess.OwnerID != user.ID {
		return nil, false
	}
	return sess, true
}

// Connect opens a session for the polling transport. Blocks until the
// shell channel is ready or the connect fails with a classified error.
func (h *Shell) Connect(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	var body struct {
		ServerID uint `json:"serverId"`
		Cols     int  `json:"cols"`
		Rows     int  `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.ServerID == 0 {
		writeError(w, http.StatusBadRequest, "Server ID is required")
		return
	}

	sess, status, msg := h.openSession(r.Context(), user, body.ServerID, body.Cols, body.Rows, nil)
	if sess == nil {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sess.ID})
}

// Poll drains the session's pending output. Exactly-once: bytes returned
// here are never returned again. A 404 after the session ends is the
// graceful end-of-session signal for polling clients.
func (h *Shell) Poll(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found or expired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"output": base64.StdEncoding.EncodeToString(sess.Drain()),
	})
}

// Input forwards client bytes to the remote shell. Idempotently ignored
// when the session is gone; late input racing teardown is expected.
func (h *Shell) Input(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	data, err := base64.StdEncoding.DecodeString(body.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Input must be base64")
		return
	}
	if len(data) > shell.MaxInputMessageSize {
		writeError(w, http.StatusBadRequest, "Input too large")
		return
	}

	if sess, ok := h.ownedSession(r); ok {
		sess.WriteInput(data)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Resize updates the remote pseudo-terminal size. Idempotent.
func (h *Shell) Resize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if sess, ok := h.ownedSession(r); ok {
		sess.Resize(body.Cols, body.Rows)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Disconnect tears the session down. Succeeds even if it was already gone.
func (h *Shell) Disconnect(w http.ResponseWriter, r *http.Request) {
	if sess, ok := h.ownedSession(r); ok {
		sess.Close(nil)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// SessionCount reports live session totals, for the health endpoint.
func (h *Shell) SessionCount() int {
	return h.Registry.Count()
}
