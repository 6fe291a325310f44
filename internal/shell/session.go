package shell

import (
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateStreaming  State = "streaming"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// MaxInputMessageSize is the largest single input chunk a transport may
// forward. Larger chunks are rejected at the edge.
const MaxInputMessageSize = 64 * 1024

// MaxCols and MaxRows bound terminal dimensions accepted from clients.
const (
	MaxCols = 500
	MaxRows = 500
)

// Session is one live binding between a client and one upstream shell
// channel. It exclusively owns its ssh.Client; nothing else may use it.
//
// Output flows through Write, which the ssh library calls with remote
// stdout and stderr data. When a sink is attached (push transport) chunks
// go straight to it; otherwise they accumulate in the drain buffer for the
// polling transport. Input flows through WriteInput in the order the
// transport delivers it.
//
// Every teardown trigger — remote shell exit, upstream error, explicit
// disconnect, transport loss, sink write failure — converges on Close,
// which runs exactly once.
type Session struct {
	ID        string
	ServerID  uint
	OwnerID   uint
	CreatedAt time.Time

	client   *ssh.Client
	channel  *ssh.Session
	stdin    io.WriteCloser
	registry *Registry

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	closeReason  error

	// writeMu serializes sink writes: remote stdout and stderr arrive on
	// separate goroutines and must interleave whole chunks in arrival order.
	writeMu sync.Mutex
	sink    io.Writer
	buf     OutputBuffer

	closeOnce sync.Once
	done      chan struct{}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the last input, output or state change.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Done is closed once teardown has completed.
func (s *Session) Done() <-chan struct{} { return s.done }

// CloseReason reports why the session ended: nil for a clean remote exit or
// client disconnect, otherwise the triggering error.
func (s *Session) CloseReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Write receives remote output (stdout and stderr merged in arrival order)
// from the ssh library and forwards it to the attached sink or the drain
// buffer. It never fails upstream: a sink write error tears the session
// down instead, since it means the client transport is gone.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.state != StateReady && s.state != StateStreaming {
		s.mu.Unlock()
		return len(p), nil
	}
	s.lastActivity = time.Now()
	sink := s.sink
	s.mu.Unlock()

	if sink == nil {
		s.buf.Append(p)
		return len(p), nil
	}

	s.writeMu.Lock()
	_, err := sink.Write(p)
	s.writeMu.Unlock()
	if err != nil {
		s.Close(err)
	}
	return len(p), nil
}

// Drain returns and clears the pending output buffer (polling transport).
func (s *Session) Drain() []byte {
	s.touch()
	return s.buf.Drain()
}

// WriteInput forwards client bytes to the remote shell. Input sent to a
// session that is not streaming is dropped: a lagging client message racing
// a just-closed session is normal, not an error.
func (s *Session) WriteInput(p []byte) {
	s.mu.Lock()
	streaming := s.state == StateStreaming
	s.lastActivity = time.Now()
	s.mu.Unlock()
	if !streaming {
		return
	}
	if _, err := s.stdin.Write(p); err != nil {
		s.Close(err)
	}
}

// Resize updates the remote pseudo-terminal dimensions. Ignored unless the
// session is ready or streaming; resize racing teardown is harmless.
func (s *Session) Resize(cols, rows int) {
	s.mu.Lock()
	ok := s.state == StateReady || s.state == StateStreaming
	s.mu.Unlock()
	if !ok {
		return
	}
	cols, rows = clampDims(cols, rows)
	s.channel.WindowChange(rows, cols)
}

// Close tears the session down: shell channel, upstream connection,
// registry entry. Safe to call from any number of triggers concurrently;
// the teardown body runs exactly once and reason is taken from the first
// caller.
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		s.closeReason = reason
		s.mu.Unlock()

		s.channel.Close()
		s.client.Close()
		s.registry.remove(s.ID)

		s.setState(StateClosed)
		close(s.done)
	})
}

func clampDims(cols, rows int) (int, int) {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	if cols > MaxCols {
		cols = MaxCols
	}
	if rows > MaxRows {
		rows = MaxRows
	}
	return cols, rows
}
