// Package mux implements the TCP session multiplexer (spec.md §4.2): it
// matches responses and progress events to in-flight requests by
// sequence number over a single persistent TCP connection.
package mux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/rdessert/filebridge/pkg/frame"
	"github.com/rdessert/filebridge/pkg/models"
)

// ConnState is the TCP adapter's connection lifecycle, per spec.md §4.2:
// disconnected -> connecting -> connected -> (error|disconnected).
// Reconnect is never automatic; the caller reissues Connect.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrConnectionLost is delivered to every pending request when the
// socket closes or a handshake/read fails.
var ErrConnectionLost = errors.New("mux: connection lost")

// ErrProtocol wraps a fatal decode-level or unknown-command error. The
// mux tears the connection down itself when it sees one.
var ErrProtocol = errors.New("mux: protocol error")

// ServerInfo is returned by a successful handshake.
type ServerInfo struct {
	Name                 string `json:"name"`
	Version              string `json:"version"`
	RootDir              string `json:"rootDir"`
	MaxFileSize          uint64 `json:"maxFileSize"`
	RecommendedChunkSize uint64 `json:"recommendedChunkSize"`
}

type handshakeRequest struct {
	ClientID         string   `json:"clientId"`
	Version          int      `json:"version"`
	SupportedFormats []string `json:"supportedFormats"`
}

type handshakeResponse struct {
	SelectedFormat string     `json:"selectedFormat"`
	ServerInfo     ServerInfo `json:"serverInfo"`
}

// Result is what a completed (or timed/cancelled-out) request resolves to.
type Result struct {
	Frame *frame.Frame
	Err   error
}

type pendingEntry struct {
	resolve    chan Result
	onProgress func(models.ProgressInfo)
	timer      *time.Timer
	timeout    time.Duration
	done       bool
}

// Mux owns the sequence-number pending table for a single TCP connection.
type Mux struct {
	mu      sync.Mutex
	pending map[uint16]*pendingEntry
	nextSeq uint16

	writeMu sync.Mutex
	conn    net.Conn

	state      ConnState
	stateMu    sync.RWMutex
	serverInfo *ServerInfo

	onProtocolError func(error)
}

// New creates an unconnected Mux.
func New() *Mux {
	return &Mux{pending: make(map[uint16]*pendingEntry)}
}

// State returns the current connection lifecycle state.
func (m *Mux) State() ConnState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Mux) setState(s ConnState) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

// ServerInfo returns the info reported by the last successful handshake.
func (m *Mux) ServerInfo() *ServerInfo {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.serverInfo
}

// nextSequence allocates a monotonic sequence number, skipping zero and
// wrapping at 2^16 (spec.md §4.2).
func (m *Mux) nextSequence() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	if m.nextSeq == 0 {
		m.nextSeq = 1
	}
	return m.nextSeq
}

// Connect performs the handshake over conn and, on success, starts the
// background read loop. Handshake failure is fatal (spec.md §4.2); conn
// is closed and an error returned.
func (m *Mux) Connect(ctx context.Context, conn net.Conn, clientID string, clientVersion uint8, timeout time.Duration) (*ServerInfo, error) {
	m.setState(StateConnecting)
	m.conn = conn

	go m.readLoop(conn)

	payload, err := json.Marshal(handshakeRequest{
		ClientID:         clientID,
		Version:          int(clientVersion),
		SupportedFormats: []string{"protobuf"},
	})
	if err != nil {
		conn.Close()
		m.setState(StateError)
		return nil, fmt.Errorf("mux: marshal handshake: %w", err)
	}

	res, err := m.sendAndWait(ctx, frame.CmdConnect, clientVersion, payload, timeout, nil)
	if err != nil {
		conn.Close()
		m.setState(StateError)
		return nil, fmt.Errorf("mux: handshake failed: %w", err)
	}

	var hr handshakeResponse
	if err := json.Unmarshal(res.Data, &hr); err != nil {
		conn.Close()
		m.setState(StateError)
		return nil, fmt.Errorf("mux: malformed handshake response: %w", err)
	}

	m.stateMu.Lock()
	m.serverInfo = &hr.ServerInfo
	m.state = StateConnected
	m.stateMu.Unlock()

	return &hr.ServerInfo, nil
}

// Send issues a request frame of the given command and waits for its
// terminal response, delivering progress events to onProgress as they
// arrive. Each progress event resets the idle timer to timeout.
func (m *Mux) Send(ctx context.Context, cmd uint8, data []byte, timeout time.Duration, onProgress func(models.ProgressInfo)) (*frame.Frame, error) {
	return m.sendAndWait(ctx, cmd, 1, data, timeout, onProgress)
}

func (m *Mux) sendAndWait(ctx context.Context, cmd uint8, version uint8, data []byte, timeout time.Duration, onProgress func(models.ProgressInfo)) (*frame.Frame, error) {
	seq := m.nextSequence()

	entry := &pendingEntry{
		resolve:    make(chan Result, 1),
		onProgress: onProgress,
		timeout:    timeout,
	}
	m.mu.Lock()
	m.pending[seq] = entry
	m.mu.Unlock()

	entry.timer = time.AfterFunc(timeout, func() { m.fireTimeout(seq) })

	raw, err := frame.Encode(&frame.Frame{Version: version, Command: cmd, SequenceNumber: seq, Data: data})
	if err != nil {
		m.removePending(seq)
		return nil, err
	}

	m.writeMu.Lock()
	_, werr := m.conn.Write(raw)
	m.writeMu.Unlock()
	if werr != nil {
		m.removePending(seq)
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, werr)
	}

	select {
	case res := <-entry.resolve:
		return res.Frame, res.Err
	case <-ctx.Done():
		m.removePending(seq)
		return nil, ctx.Err()
	}
}

func (m *Mux) removePending(seq uint16) *pendingEntry {
	m.mu.Lock()
	e := m.pending[seq]
	delete(m.pending, seq)
	m.mu.Unlock()
	if e != nil && e.timer != nil {
		e.timer.Stop()
	}
	return e
}

func (m *Mux) fireTimeout(seq uint16) {
	e := m.removePending(seq)
	if e == nil {
		return
	}
	select {
	case e.resolve <- Result{Err: fmt.Errorf("request timeout")}:
	default:
	}
}

// readLoop continuously decodes frames from conn and dispatches them
// until the connection closes or a protocol error occurs.
func (m *Mux) readLoop(conn net.Conn) {
	buf := make([]byte, 0, 64*1024)
	tmp := make([]byte, 32*1024)

	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				f, consumed, derr := frame.Decode(buf)
				if derr != nil {
					if errors.Is(derr, frame.ErrIncomplete) {
						break
					}
					// A malformed frame is a ProtocolError: fatal to the
					// connection (spec.md §7).
					m.disconnect(fmt.Errorf("%w: %v", ErrProtocol, derr))
					return
				}
				buf = buf[consumed:]
				m.dispatch(f)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				m.disconnect(ErrConnectionLost)
			} else {
				m.disconnect(fmt.Errorf("%w: %v", ErrConnectionLost, err))
			}
			return
		}
	}
}

func (m *Mux) dispatch(f *frame.Frame) {
	switch f.Command {
	case frame.CmdProgress:
		m.handleProgress(f)
	case frame.CmdSuccess, frame.CmdError:
		m.handleTerminal(f)
	default:
		// Any other command on this multiplexer is an unrecognised
		// response code: fatal, per spec.md §7.
		m.disconnect(fmt.Errorf("%w: unrecognised command %#x", ErrProtocol, f.Command))
	}
}

func (m *Mux) handleProgress(f *frame.Frame) {
	m.mu.Lock()
	e, ok := m.pending[f.SequenceNumber]
	m.mu.Unlock()
	if !ok {
		// Unmatched sequence for a progress frame: log and drop, do not
		// disconnect (spec.md §4.2, §8 boundary behaviour).
		log.Printf("mux: progress for unknown sequence %d, dropping", f.SequenceNumber)
		return
	}

	var pi models.ProgressInfo
	if err := json.Unmarshal(f.Data, &pi); err != nil {
		log.Printf("mux: malformed progress payload for sequence %d: %v", f.SequenceNumber, err)
		return
	}

	if e.onProgress != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("mux: progress handler panicked: %v", r)
				}
			}()
			e.onProgress(pi)
		}()
	}

	// Refresh the idle timer to the current timeout (Testable Property 3).
	if e.timer != nil {
		e.timer.Reset(e.timeout)
	}
}

func (m *Mux) handleTerminal(f *frame.Frame) {
	m.mu.Lock()
	e, ok := m.pending[f.SequenceNumber]
	if ok {
		delete(m.pending, f.SequenceNumber)
	}
	m.mu.Unlock()
	if !ok {
		log.Printf("mux: terminal frame for unknown sequence %d, dropping", f.SequenceNumber)
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}

	var result Result
	if f.Command == frame.CmdError {
		result.Err = fmt.Errorf("operation error: %s", string(f.Data))
	} else {
		result.Frame = f
	}
	select {
	case e.resolve <- result:
	default:
	}
}

func (m *Mux) disconnect(cause error) {
	m.setState(StateError)
	m.rejectAll(cause)
	if m.conn != nil {
		m.conn.Close()
	}
}

// rejectAll rejects every pending request with cause, used on socket
// close (spec.md §4.2).
func (m *Mux) rejectAll(cause error) {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[uint16]*pendingEntry)
	m.mu.Unlock()

	for _, e := range pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		select {
		case e.resolve <- Result{Err: cause}:
		default:
		}
	}
}

// Close closes the underlying connection and rejects all pending requests.
func (m *Mux) Close() error {
	m.setState(StateDisconnected)
	m.rejectAll(ErrConnectionLost)
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}
