// Package shell is the remote shell session core.
//
// It owns the lifecycle of every live SSH shell session opened on behalf of
// a browser user: dialing the upstream host with a bounded timeout and
// classified failures, driving the session state machine
// (connecting → ready → streaming → closing → closed), relaying bytes in
// both directions, and tearing the session down idempotently no matter
// which of the disconnect triggers fires first.
//
// The Registry is the single process-wide table of live sessions. It is
// constructed in main and injected into both edge transports (the WebSocket
// push handler and the HTTP polling handlers), which are thin adapters over
// the same Session type. Each session exclusively owns one upstream SSH
// connection; connections are never pooled or shared across sessions.
package shell
