// Package shelltest runs an in-process SSH server with PTY and shell
// support, used to exercise the session core and both bridge transports
// without a real host. It records what the "remote" side observed:
// accepted connections, requested PTY dimensions, window changes, and
// every byte of input. Input is echoed back with an "echo:" prefix.
package shelltest

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/RjRaju143/Remote-Commander/internal/sshkey"
	"golang.org/x/crypto/ssh"
)

// Config controls server behavior.
type Config struct {
	// Authorized is the only public key allowed to authenticate.
	Authorized ssh.PublicKey
	// RejectAuth makes every authentication attempt fail.
	RejectAuth bool
	// Banner is written to the channel as soon as a shell starts.
	Banner []byte
}

// Server is the in-process SSH host.
type Server struct {
	listener net.Listener
	cfg      Config

	mu       sync.Mutex
	conns    int
	ptyTerm  string
	ptyCols  uint32
	ptyRows  uint32
	winCols  uint32
	winRows  uint32
	received []byte
	channels []ssh.Channel
}

// New starts the server on a random loopback port.
func New(cfg Config) (*Server, error) {
	_, hostKeyPEM, err := sshkey.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	hostSigner, err := sshkey.ParsePrivateKey(hostKeyPEM)
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg}

	sshCfg := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if cfg.RejectAuth || cfg.Authorized == nil {
				return nil, fmt.Errorf("unknown public key")
			}
			if ssh.FingerprintSHA256(key) != ssh.FingerprintSHA256(cfg.Authorized) {
				return nil, fmt.Errorf("unknown public key")
			}
			return &ssh.Permissions{}, nil
		},
	}
	sshCfg.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s.listener = listener

	go func() {
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns++
			s.mu.Unlock()
			go s.handleConn(netConn, sshCfg)
		}
	}()

	return s, nil
}

// Close stops the listener and closes any open shell channels.
func (s *Server) Close() {
	s.listener.Close()
	s.CloseChannels()
}

// Addr returns the host and port the server listens on.
func (s *Server) Addr() (string, int) {
	_, portStr, _ := net.SplitHostPort(s.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return "127.0.0.1", port
}

// Conns returns how many TCP connections were accepted.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// PTY returns the terminal type and dimensions from the pty-req.
func (s *Server) PTY() (term string, cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptyTerm, int(s.ptyCols), int(s.ptyRows)
}

// Window returns the dimensions from the most recent window-change.
func (s *Server) Window() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.winCols), int(s.winRows)
}

// Received returns a copy of all input bytes the shell has read.
func (s *Server) Received() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.received))
	copy(out, s.received)
	return out
}

// CloseChannels closes all open shell channels, simulating the remote
// shell process exiting.
func (s *Server) CloseChannels() {
	s.mu.Lock()
	channels := s.channels
	s.channels = nil
	s.mu.Unlock()
	for _, ch := range channels {
		ch.Close()
	}
}

func (s *Server) handleConn(netConn net.Conn, cfg *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, cfg)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req":
			if term, cols, rows, ok := parsePtyReq(req.Payload); ok {
				s.mu.Lock()
				s.ptyTerm = term
				s.ptyCols = cols
				s.ptyRows = rows
				s.mu.Unlock()
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "window-change":
			if len(req.Payload) >= 8 {
				s.mu.Lock()
				s.winCols = binary.BigEndian.Uint32(req.Payload[0:4])
				s.winRows = binary.BigEndian.Uint32(req.Payload[4:8])
				s.mu.Unlock()
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			s.mu.Lock()
			s.channels = append(s.channels, ch)
			s.mu.Unlock()
			if len(s.cfg.Banner) > 0 {
				ch.Write(s.cfg.Banner)
			}
			// Echo stdin back with a prefix; keep processing requests
			// (window-change) after the shell starts.
			go func() {
				buf := make([]byte, 4096)
				for {
					n, err := ch.Read(buf)
					if n > 0 {
						s.mu.Lock()
						s.received = append(s.received, buf[:n]...)
						s.mu.Unlock()
						ch.Write([]byte("echo:"))
						ch.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}()

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// parsePtyReq decodes the pty-req payload: TERM string, then cols and rows.
func parsePtyReq(payload []byte) (term string, cols, rows uint32, ok bool) {
	if len(payload) < 4 {
		return "", 0, 0, false
	}
	termLen := binary.BigEndian.Uint32(payload[0:4])
	if len(payload) < int(4+termLen+8) {
		return "", 0, 0, false
	}
	term = string(payload[4 : 4+termLen])
	cols = binary.BigEndian.Uint32(payload[4+termLen : 8+termLen])
	rows = binary.BigEndian.Uint32(payload[8+termLen : 12+termLen])
	return term, cols, rows, true
}
