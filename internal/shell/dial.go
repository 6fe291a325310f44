package shell

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// DefaultConnectTimeout bounds the TCP dial plus SSH handshake.
const DefaultConnectTimeout = 15 * time.Second

// Target identifies the upstream host and how to authenticate to it.
type Target struct {
	Address string
	Port    int
	User    string
	// PrivateKey is the decrypted PEM key. It is used for the single dial
	// and must not be retained by the caller afterwards.
	PrivateKey []byte
}

// FailureKind classifies an upstream connect failure. The classification
// drives the user-facing message; none of these are retried automatically.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureRefused
	FailureUnresolvable
	FailureAuth
	FailureTimeout
)

func (k FailureKind) String() string {
	switch k {
	case FailureRefused:
		return "connection refused"
	case FailureUnresolvable:
		return "host address could not be resolved"
	case FailureAuth:
		return "authentication rejected by host"
	case FailureTimeout:
		return "connection timed out"
	default:
		return "connection failed"
	}
}

// ConnectError is a classified upstream connect failure.
type ConnectError struct {
	Kind FailureKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// classify maps a dial or handshake error onto a FailureKind by inspecting
// error types and the substrings the net and ssh packages produce.
func classify(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return FailureTimeout
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return FailureRefused
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "server misbehaving"):
		return FailureUnresolvable
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"),
		strings.Contains(msg, "permission denied"):
		return FailureAuth
	case strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "timed out"):
		return FailureTimeout
	default:
		return FailureUnknown
	}
}

// dial opens the upstream SSH connection. The timeout covers both the TCP
// dial and the SSH handshake.
func dial(ctx context.Context, t Target, timeout time.Duration) (*ssh.Client, error) {
	var methods []ssh.AuthMethod
	if len(t.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(t.PrivateKey)
		if err != nil {
			return nil, &ConnectError{FailureAuth, fmt.Errorf("parse private key: %w", err)}
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	port := t.Port
	if port <= 0 {
		port = 22
	}
	addr := net.JoinHostPort(t.Address, strconv.Itoa(port))

	cfg := &ssh.ClientConfig{
		User:            t.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{classify(err), fmt.Errorf("dial %s: %w", addr, err)}
	}

	// The ClientConfig timeout only covers ssh.Dial; bound the handshake
	// explicitly so an unresponsive host cannot hang the connect.
	netConn.SetDeadline(time.Now().Add(timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, &ConnectError{classify(err), fmt.Errorf("ssh handshake with %s: %w", addr, err)}
	}
	netConn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}
