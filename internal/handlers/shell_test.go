package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RjRaju143/Remote-Commander/internal/auth"
	"github.com/RjRaju143/Remote-Commander/internal/database"
	"github.com/RjRaju143/Remote-Commander/internal/middleware"
	"github.com/RjRaju143/Remote-Commander/internal/shell"
	"github.com/RjRaju143/Remote-Commander/internal/shell/shelltest"
	"github.com/RjRaju143/Remote-Commander/internal/sshkey"
	"github.com/RjRaju143/Remote-Commander/internal/vault"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/ssh"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testEnv wires the whole stack the way main.go does: in-memory database,
// fresh vault, in-process SSH host, session registry, and the full router
// behind real cookie authentication.
type testEnv struct {
	ts       *httptest.Server
	sshd     *shelltest.Server
	registry *shell.Registry
	store    *auth.SessionStore

	owner    *database.User
	reader   *database.User
	executor *database.User
	outsider *database.User
	server   *database.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.DB = db

	v, err := vault.Open(vault.GenerateKey())
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	Vault = v

	pub, privPEM, err := sshkey.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	authorized, _, _, _, err := ssh.ParseAuthorizedKey(pub)
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}
	sshd, err := shelltest.New(shelltest.Config{Authorized: authorized})
	if err != nil {
		t.Fatalf("start test ssh server: %v", err)
	}
	t.Cleanup(sshd.Close)

	env := &testEnv{sshd: sshd}
	env.owner = seedUser(t, db, "owner", "user")
	env.reader = seedUser(t, db, "reader", "user")
	env.executor = seedUser(t, db, "executor", "user")
	env.outsider = seedUser(t, db, "outsider", "user")

	host, port := sshd.Addr()
	enc, err := v.Encrypt(privPEM)
	if err != nil {
		t.Fatalf("encrypt key: %v", err)
	}
	env.server = &database.Server{
		Name: "box", Address: host, Port: port, Username: "test",
		EncryptedPrivateKey: enc, OwnerID: env.owner.ID,
	}
	if err := database.CreateServer(db, env.server); err != nil {
		t.Fatalf("create server: %v", err)
	}
	if err := database.UpsertGrant(db, env.server.ID, env.reader.ID, "read"); err != nil {
		t.Fatalf("grant read: %v", err)
	}
	if err := database.UpsertGrant(db, env.server.ID, env.executor.ID, "execute"); err != nil {
		t.Fatalf("grant execute: %v", err)
	}

	env.store = auth.NewSessionStore()
	SessionStore = env.store

	env.registry = shell.NewRegistry()
	t.Cleanup(env.registry.CloseAll)
	sh := NewShell(env.registry, 5*time.Second)

	r := chi.NewRouter()
	r.Get("/health", sh.Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(env.store))

			r.Post("/auth/logout", Logout)
			r.Get("/auth/me", GetCurrentUser)

			r.Get("/servers", ListServers)
			r.Post("/servers", CreateServer)
			r.Get("/servers/{id}", GetServer)
			r.Put("/servers/{id}", UpdateServer)
			r.Delete("/servers/{id}", DeleteServer)
			r.Get("/servers/{id}/key", DownloadServerKey)
			r.Post("/servers/{id}/key/generate", GenerateServerKey)
			r.Get("/servers/{id}/grants", ListGrants)
			r.Put("/servers/{id}/grants", PutGrant)
			r.Delete("/servers/{id}/grants/{userId}", DeleteGrant)

			r.Post("/shell/connect", sh.Connect)
			r.Get("/shell/ws", sh.WebSocket)
			r.Get("/shell/{sessionID}", sh.Poll)
			r.Post("/shell/{sessionID}/input", sh.Input)
			r.Post("/shell/{sessionID}/resize", sh.Resize)
			r.Post("/shell/{sessionID}/disconnect", sh.Disconnect)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Get("/users", ListUsers)
				r.Post("/users", CreateUser)
				r.Delete("/users/{userId}", DeleteUser)
			})
		})
	})

	env.ts = httptest.NewServer(r)
	t.Cleanup(env.ts.Close)
	return env
}

func seedUser(t *testing.T, db *gorm.DB, username, role string) *database.User {
	t.Helper()
	u := &database.User{Username: username, PasswordHash: "x", Role: role}
	if err := database.CreateUser(db, u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

// cookieFor logs the user in directly against the session store.
func (e *testEnv) cookieFor(t *testing.T, user *database.User) string {
	t.Helper()
	id, err := e.store.Create(user.ID)
	if err != nil {
		t.Fatalf("create login session: %v", err)
	}
	return auth.SessionCookie + "=" + id
}

// do performs an authenticated JSON request and decodes the response body.
func (e *testEnv) do(t *testing.T, user *database.User, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reqBody)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if user != nil {
		req.Header.Set("Cookie", e.cookieFor(t, user))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestPollingTransportFlow(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, env.executor, "POST", "/api/v1/shell/connect",
		map[string]interface{}{"serverId": env.server.ID, "cols": 80, "rows": 24})
	if status != http.StatusOK {
		t.Fatalf("connect = %d (%v), want 200", status, body)
	}
	sessionID, _ := body["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("connect returned no sessionId")
	}

	status, _ = env.do(t, env.executor, "POST", "/api/v1/shell/"+sessionID+"/input",
		map[string]string{"data": b64("ls\n")})
	if status != http.StatusOK {
		t.Fatalf("input = %d, want 200", status)
	}

	// Output accumulates server-side; poll until the echo comes back.
	var collected []byte
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, body = env.do(t, env.executor, "GET", "/api/v1/shell/"+sessionID, nil)
		if status != http.StatusOK {
			t.Fatalf("poll = %d (%v), want 200", status, body)
		}
		chunk, err := base64.StdEncoding.DecodeString(body["output"].(string))
		if err != nil {
			t.Fatalf("poll output is not base64: %v", err)
		}
		collected = append(collected, chunk...)
		if bytes.Equal(collected, []byte("echo:ls\n")) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !bytes.Equal(collected, []byte("echo:ls\n")) {
		t.Fatalf("polled output = %q, want %q", collected, "echo:ls\n")
	}

	status, _ = env.do(t, env.executor, "POST", "/api/v1/shell/"+sessionID+"/resize",
		map[string]int{"cols": 100, "rows": 30})
	if status != http.StatusOK {
		t.Fatalf("resize = %d, want 200", status)
	}

	status, _ = env.do(t, env.executor, "POST", "/api/v1/shell/"+sessionID+"/disconnect", nil)
	if status != http.StatusOK {
		t.Fatalf("disconnect = %d, want 200", status)
	}

	// A poll after teardown is the end-of-session signal.
	status, _ = env.do(t, env.executor, "GET", "/api/v1/shell/"+sessionID, nil)
	if status != http.StatusNotFound {
		t.Errorf("poll after disconnect = %d, want 404", status)
	}
	if env.registry.Count() != 0 {
		t.Errorf("registry count = %d after disconnect, want 0", env.registry.Count())
	}
}

func TestConnectDeniedWithoutGrant(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, env.outsider, "POST", "/api/v1/shell/connect",
		map[string]interface{}{"serverId": env.server.ID})
	if status != http.StatusNotFound {
		t.Fatalf("connect = %d (%v), want 404", status, body)
	}
	// Denied means denied before any network activity.
	if env.sshd.Conns() != 0 {
		t.Errorf("server saw %d connections from an unauthorized user", env.sshd.Conns())
	}
}

func TestConnectDeniedWithReadOnlyGrant(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, env.reader, "POST", "/api/v1/shell/connect",
		map[string]interface{}{"serverId": env.server.ID})
	if status != http.StatusForbidden {
		t.Fatalf("connect = %d (%v), want 403", status, body)
	}
	if env.sshd.Conns() != 0 {
		t.Errorf("server saw %d connections from a read-only user", env.sshd.Conns())
	}
}

func TestConnectMissingServerLooksLikeDenied(t *testing.T) {
	env := newTestEnv(t)

	status, missing := env.do(t, env.executor, "POST", "/api/v1/shell/connect",
		map[string]interface{}{"serverId": 9999})
	if status != http.StatusNotFound {
		t.Fatalf("connect to missing server = %d, want 404", status)
	}
	_, denied := env.do(t, env.outsider, "POST", "/api/v1/shell/connect",
		map[string]interface{}{"serverId": env.server.ID})
	if missing["detail"] != denied["detail"] {
		t.Errorf("missing (%v) and denied (%v) are distinguishable", missing["detail"], denied["detail"])
	}
}

func TestConnectRequiresServerID(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, env.owner, "POST", "/api/v1/shell/connect", map[string]int{})
	if status != http.StatusBadRequest {
		t.Errorf("connect without serverId = %d, want 400", status)
	}
}

func TestConnectReportsClassifiedDialFailure(t *testing.T) {
	env := newTestEnv(t)

	// A port with no listener behind it.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	dead := &database.Server{
		Name: "dead", Address: "127.0.0.1", Port: port, Username: "test",
		OwnerID: env.owner.ID,
	}
	if err := database.CreateServer(database.DB, dead); err != nil {
		t.Fatalf("create server: %v", err)
	}

	status, body := env.do(t, env.owner, "POST", "/api/v1/shell/connect",
		map[string]interface{}{"serverId": dead.ID})
	if status != http.StatusInternalServerError {
		t.Fatalf("connect = %d (%v), want 500", status, body)
	}
	detail, _ := body["detail"].(string)
	if !strings.Contains(detail, "connection refused") {
		t.Errorf("detail = %q, want the refused classification", detail)
	}
	if env.registry.Count() != 0 {
		t.Errorf("registry count = %d after failed connect, want 0", env.registry.Count())
	}
}

func TestSessionsAreOwnerScoped(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, env.owner, "POST", "/api/v1/shell/connect",
		map[string]interface{}{"serverId": env.server.ID})
	if status != http.StatusOK {
		t.Fatalf("connect = %d (%v), want 200", status, body)
	}
	sessionID := body["sessionId"].(string)

	// Another user with execute access still cannot see this session.
	status, _ = env.do(t, env.executor, "GET", "/api/v1/shell/"+sessionID, nil)
	if status != http.StatusNotFound {
		t.Errorf("foreign poll = %d, want 404", status)
	}

	// Foreign disconnect reports ok but must not touch the session.
	status, _ = env.do(t, env.executor, "POST", "/api/v1/shell/"+sessionID+"/disconnect", nil)
	if status != http.StatusOK {
		t.Errorf("foreign disconnect = %d, want 200", status)
	}
	if env.registry.Count() != 1 {
		t.Errorf("registry count = %d, foreign disconnect closed the session", env.registry.Count())
	}

	status, _ = env.do(t, env.owner, "GET", "/api/v1/shell/"+sessionID, nil)
	if status != http.StatusOK {
		t.Errorf("owner poll = %d, want 200", status)
	}
}

func TestInputValidation(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, env.owner, "POST", "/api/v1/shell/connect",
		map[string]interface{}{"serverId": env.server.ID})
	if status != http.StatusOK {
		t.Fatalf("connect = %d (%v), want 200", status, body)
	}
	sessionID := body["sessionId"].(string)

	status, _ = env.do(t, env.owner, "POST", "/api/v1/shell/"+sessionID+"/input",
		map[string]string{"data": "not!!base64"})
	if status != http.StatusBadRequest {
		t.Errorf("non-base64 input = %d, want 400", status)
	}

	huge := b64(strings.Repeat("x", shell.MaxInputMessageSize+1))
	status, _ = env.do(t, env.owner, "POST", "/api/v1/shell/"+sessionID+"/input",
		map[string]string{"data": huge})
	if status != http.StatusBadRequest {
		t.Errorf("oversized input = %d, want 400", status)
	}

	// Valid input for a session that no longer exists is idempotently ok.
	status, _ = env.do(t, env.owner, "POST", "/api/v1/shell/unknown/input",
		map[string]string{"data": b64("x")})
	if status != http.StatusOK {
		t.Errorf("input to unknown session = %d, want 200", status)
	}
}

func TestShellEndpointsRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, nil, "POST", "/api/v1/shell/connect",
		map[string]interface{}{"serverId": env.server.ID})
	if status != http.StatusUnauthorized {
		t.Errorf("unauthenticated connect = %d, want 401", status)
	}
}

func TestHealthReportsSessionCount(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d (%v), want 200 ok", resp.StatusCode, body)
	}
	if fmt.Sprint(body["sessions"]) != "0" {
		t.Errorf("sessions = %v, want 0", body["sessions"])
	}
}
