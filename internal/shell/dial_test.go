package shell

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/RjRaju143/Remote-Commander/internal/shell/shelltest"
	"github.com/RjRaju143/Remote-Commander/internal/sshkey"
	"golang.org/x/crypto/ssh"
)

// newTestTarget starts an in-process SSH server and returns a target whose
// key it accepts.
func newTestTarget(t *testing.T, cfg shelltest.Config) (*shelltest.Server, Target) {
	t.Helper()
	pub, privPEM, err := sshkey.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	authorized, _, _, _, err := ssh.ParseAuthorizedKey(pub)
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}
	cfg.Authorized = authorized

	srv, err := shelltest.New(cfg)
	if err != nil {
		t.Fatalf("start test ssh server: %v", err)
	}
	t.Cleanup(srv.Close)

	host, port := srv.Addr()
	return srv, Target{Address: host, Port: port, User: "test", PrivateKey: privPEM}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "fake timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return false }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"refused", fmt.Errorf("dial tcp 127.0.0.1:22: connect: connection refused"), FailureRefused},
		{"no such host", fmt.Errorf("dial tcp: lookup nope.invalid: no such host"), FailureUnresolvable},
		{"dns misbehaving", fmt.Errorf("lookup x on 10.0.0.2:53: server misbehaving"), FailureUnresolvable},
		{"ssh auth", fmt.Errorf("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none publickey], no supported methods remain"), FailureAuth},
		{"permission denied", fmt.Errorf("permission denied (publickey)"), FailureAuth},
		{"io timeout", fmt.Errorf("read tcp 10.0.0.1:2->10.0.0.2:22: i/o timeout"), FailureTimeout},
		{"net timeout", fmt.Errorf("dial: %w", timeoutErr{}), FailureTimeout},
		{"deadline", context.DeadlineExceeded, FailureTimeout},
		{"other", fmt.Errorf("something else entirely"), FailureUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestFailureKindMessages(t *testing.T) {
	kinds := []FailureKind{FailureUnknown, FailureRefused, FailureUnresolvable, FailureAuth, FailureTimeout}
	seen := map[string]bool{}
	for _, k := range kinds {
		msg := k.String()
		if msg == "" {
			t.Errorf("FailureKind(%d) has empty message", k)
		}
		if seen[msg] {
			t.Errorf("duplicate message %q", msg)
		}
		seen[msg] = true
	}
}

func connectErrKind(t *testing.T, err error) FailureKind {
	t.Helper()
	if err == nil {
		t.Fatal("expected connect error, got nil")
	}
	var cerr *ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("error is %T, want *ConnectError: %v", err, err)
	}
	return cerr.Kind
}

func TestDialRefused(t *testing.T) {
	// Grab a port that nothing listens on anymore.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	_, err = dial(context.Background(), Target{Address: "127.0.0.1", Port: port, User: "x"}, 2*time.Second)
	if kind := connectErrKind(t, err); kind != FailureRefused {
		t.Errorf("kind = %v, want FailureRefused", kind)
	}
}

func TestDialAuthRejected(t *testing.T) {
	_, target := newTestTarget(t, shelltest.Config{RejectAuth: true})

	_, err := dial(context.Background(), target, 5*time.Second)
	if kind := connectErrKind(t, err); kind != FailureAuth {
		t.Errorf("kind = %v, want FailureAuth", kind)
	}
}

func TestDialBadPrivateKey(t *testing.T) {
	_, target := newTestTarget(t, shelltest.Config{})
	target.PrivateKey = []byte("not a pem key")

	_, err := dial(context.Background(), target, 5*time.Second)
	if kind := connectErrKind(t, err); kind != FailureAuth {
		t.Errorf("kind = %v, want FailureAuth", kind)
	}
}

func TestDialHandshakeTimeout(t *testing.T) {
	// A listener that accepts and then says nothing, so the TCP connect
	// succeeds but the SSH handshake never completes.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	port := l.Addr().(*net.TCPAddr).Port
	start := time.Now()
	_, err = dial(context.Background(), Target{Address: "127.0.0.1", Port: port, User: "x"}, 200*time.Millisecond)
	if kind := connectErrKind(t, err); kind != FailureTimeout {
		t.Errorf("kind = %v, want FailureTimeout", kind)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("dial took %s, timeout did not bound the handshake", elapsed)
	}
}

func TestDialSuccess(t *testing.T) {
	srv, target := newTestTarget(t, shelltest.Config{})

	client, err := dial(context.Background(), target, 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client.Close()

	if srv.Conns() != 1 {
		t.Errorf("server saw %d connections, want 1", srv.Conns())
	}
}
