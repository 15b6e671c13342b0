// Package bridge implements the Bridge/Router (spec.md §4.7): the
// single duplex channel between a caller and a transport-owning
// worker, correlating every outbound request with its one terminal
// response and zero-or-more progress events by requestId, and
// enforcing a per-request idle timeout refreshed by progress.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rdessert/filebridge/internal/bus"
	"github.com/rdessert/filebridge/pkg/models"
)

// ErrTimeout names an idle-timeout expiry. Send does not return it: a
// request with no activity (progress or response) within its window
// resolves with BackendResponse{Success: false, Error: "request timeout"}.
var ErrTimeout = errors.New("bridge: request timeout")

// ErrCancelled names a caller cancellation. Send does not return it: a
// cancelled request resolves with a BackendResponse whose Message is
// "operation cancelled".
var ErrCancelled = errors.New("bridge: cancelled")

// ErrClosed is returned for requests made after the Bridge is closed.
var ErrClosed = errors.New("bridge: closed")

type pendingRequest struct {
	resolve    chan models.BackendResponse
	onProgress func(models.ProgressInfo)
	timer      *time.Timer
	timeout    time.Duration
}

// Bridge owns the Request table: entries are created on Send, removed
// on response, explicit Cancel, or idle-timeout firing (spec.md §3
// "Ownership & lifecycle"). It is a process-wide singleton per
// DuplexBus instance (spec.md §9 "Global state").
type Bridge struct {
	busImpl bus.DuplexBus

	mu      sync.Mutex
	pending map[string]*pendingRequest

	done chan struct{}
}

// New creates a Bridge over b and starts its dispatch loop. Call Close
// to dispose of it.
func New(b bus.DuplexBus) *Bridge {
	br := &Bridge{
		busImpl: b,
		pending: make(map[string]*pendingRequest),
		done:    make(chan struct{}),
	}
	go br.dispatchLoop()
	return br
}

// Send issues req over the bus and blocks until its terminal response
// arrives, the idle timeout fires, ctx is cancelled, or the Bridge is
// closed. Exactly one BackendResponse is ever returned per request
// (Testable Property 2).
func (br *Bridge) Send(ctx context.Context, req models.Request) (models.BackendResponse, error) {
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	entry := &pendingRequest{
		resolve:    make(chan models.BackendResponse, 1),
		onProgress: req.OnProgress,
		timeout:    timeout,
	}

	br.mu.Lock()
	if br.isClosed() {
		br.mu.Unlock()
		return models.BackendResponse{}, ErrClosed
	}
	br.pending[req.RequestID] = entry
	br.mu.Unlock()

	entry.timer = time.AfterFunc(timeout, func() { br.fireTimeout(req.RequestID) })

	outbound := bus.OutboundMessage{
		Command:   req.Command,
		RequestID: req.RequestID,
		Data:      sanitize(req.Payload),
	}
	if err := br.busImpl.Send(ctx, outbound); err != nil {
		br.removePending(req.RequestID)
		return models.BackendResponse{}, fmt.Errorf("bridge: send: %w", err)
	}

	select {
	case resp := <-entry.resolve:
		return resp, nil
	case <-ctx.Done():
		br.removePending(req.RequestID)
		return models.BackendResponse{}, ctx.Err()
	case <-br.done:
		return models.BackendResponse{}, ErrClosed
	}
}

// Cancel resolves the named request immediately with a cancelled
// response and clears its handlers, per spec.md §5 "Cancellation".
func (br *Bridge) Cancel(requestID string) {
	entry := br.removePending(requestID)
	if entry == nil {
		return
	}
	select {
	case entry.resolve <- models.BackendResponse{Success: false, Message: "operation cancelled"}:
	default:
	}
}

// CancelAll resolves every pending request as cancelled — the Go
// analogue of `"backend.cancel.all"` (spec.md §6).
func (br *Bridge) CancelAll() {
	br.mu.Lock()
	ids := make([]string, 0, len(br.pending))
	for id := range br.pending {
		ids = append(ids, id)
	}
	br.mu.Unlock()
	for _, id := range ids {
		br.Cancel(id)
	}
}

// Close stops the dispatch loop and closes the underlying bus. Any
// requests still pending resolve with ErrClosed via their Send call.
func (br *Bridge) Close() error {
	br.mu.Lock()
	select {
	case <-br.done:
		br.mu.Unlock()
		return nil
	default:
	}
	close(br.done)
	br.mu.Unlock()
	return br.busImpl.Close()
}

func (br *Bridge) isClosed() bool {
	select {
	case <-br.done:
		return true
	default:
		return false
	}
}

func (br *Bridge) removePending(requestID string) *pendingRequest {
	br.mu.Lock()
	e, ok := br.pending[requestID]
	if ok {
		delete(br.pending, requestID)
	}
	br.mu.Unlock()
	if e != nil && e.timer != nil {
		e.timer.Stop()
	}
	return e
}

func (br *Bridge) fireTimeout(requestID string) {
	e := br.removePending(requestID)
	if e == nil {
		return
	}
	select {
	case e.resolve <- models.BackendResponse{Success: false, Error: "request timeout"}:
	default:
	}
}

// dispatchLoop reads every inbound message from the bus and routes it
// to the matching pending entry by requestId.
func (br *Bridge) dispatchLoop() {
	for {
		select {
		case msg, ok := <-br.busImpl.Recv():
			if !ok {
				br.CancelAll()
				return
			}
			br.handleInbound(msg)
		case <-br.done:
			return
		}
	}
}

func (br *Bridge) handleInbound(msg bus.InboundMessage) {
	if msg.Progress != nil {
		br.handleProgress(msg)
		return
	}
	br.handleTerminal(msg)
}

func (br *Bridge) handleProgress(msg bus.InboundMessage) {
	br.mu.Lock()
	e, ok := br.pending[msg.RequestID]
	br.mu.Unlock()
	if !ok {
		// Progress for an unknown requestId: drop (spec.md §8 boundary
		// behaviour).
		return
	}

	if e.onProgress != nil {
		callProgressHandler(e.onProgress, *msg.Progress)
	}

	// Refresh the idle timer to the current timeout (Testable Property 3).
	if e.timer != nil {
		e.timer.Reset(e.timeout)
	}
}

// callProgressHandler invokes a caller-supplied progress handler,
// catching a panic so a broken handler never cancels the operation
// (spec.md §7: "a progress handler that throws is caught and logged").
func callProgressHandler(h func(models.ProgressInfo), p models.ProgressInfo) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bridge: progress handler panicked: %v", r)
		}
	}()
	h(p)
}

func (br *Bridge) handleTerminal(msg bus.InboundMessage) {
	e := br.removePending(msg.RequestID)
	if e == nil {
		return
	}
	resp := models.BackendResponse{
		Success: msg.Success,
		Data:    msg.Data,
		Error:   msg.Error,
		Message: msg.Message,
	}
	select {
	case e.resolve <- resp:
	default:
	}
}
