package shell

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// Options describes a session to open. Authorization must already have been
// checked by the caller; Open performs no permission checks of its own.
type Options struct {
	Target   Target
	ServerID uint
	OwnerID  uint
	Cols     int
	Rows     int

	// Sink receives remote output as it is produced (push transport).
	// When nil, output accumulates in the session's drain buffer and is
	// collected with Drain (polling transport).
	Sink io.Writer

	// Timeout bounds the upstream connect. Zero means DefaultConnectTimeout.
	Timeout time.Duration
}

// Registry is the process-wide table of live shell sessions. It is owned by
// main and injected into the transports; sessions register themselves only
// once their shell channel is fully ready and deregister during teardown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Open dials the target, allocates an interactive shell channel with the
// requested terminal dimensions, and registers the resulting session.
//
// On any failure the upstream connection is released and nothing is
// registered; connect failures carry a *ConnectError classification. The
// returned session is already streaming.
func (r *Registry) Open(ctx context.Context, opts Options) (*Session, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	client, err := dial(ctx, opts.Target, timeout)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:           uuid.New().String(),
		ServerID:     opts.ServerID,
		OwnerID:      opts.OwnerID,
		CreatedAt:    time.Now(),
		client:       client,
		registry:     r,
		state:        StateConnecting,
		lastActivity: time.Now(),
		sink:         opts.Sink,
		done:         make(chan struct{}),
	}

	channel, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open shell channel: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	cols, rows := clampDims(opts.Cols, opts.Rows)
	if err := channel.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		channel.Close()
		client.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := channel.StdinPipe()
	if err != nil {
		channel.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	// Remote stdout and stderr both feed Session.Write so the two streams
	// stay interleaved in arrival order.
	channel.Stdout = s
	channel.Stderr = s

	if err := channel.Shell(); err != nil {
		channel.Close()
		client.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	s.channel = channel
	s.stdin = stdin
	s.setState(StateReady)

	r.add(s)
	s.setState(StateStreaming)

	// Single consumer of upstream lifecycle events: Wait returns when the
	// remote shell exits or the connection drops, and both funnel into the
	// idempotent Close.
	go func() {
		err := channel.Wait()
		s.Close(err)
		if err != nil {
			log.Printf("[shell] session %s ended: %v", s.ID, err)
		} else {
			log.Printf("[shell] session %s ended", s.ID)
		}
	}()

	log.Printf("[shell] session %s opened for user %d (server %d, %dx%d)",
		s.ID, s.OwnerID, s.ServerID, cols, rows)
	return s, nil
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// remove deregisters a session. Idempotent.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Get returns a live session by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll tears down every live session. Used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.Close(nil)
	}
	if len(sessions) > 0 {
		log.Printf("[shell] closed %d sessions on shutdown", len(sessions))
	}
}

// CleanupIdle closes sessions with no activity for longer than idle.
// Protects against polling clients that vanished without disconnecting.
func (r *Registry) CleanupIdle(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-idle)

	r.mu.RLock()
	var stale []*Session
	for _, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		log.Printf("[shell] closing idle session %s (last activity %s)",
			s.ID, s.LastActivity().Format(time.RFC3339))
		s.Close(nil)
	}
	return len(stale)
}
