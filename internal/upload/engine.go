// Package upload implements the Stream Upload Engine (C4, spec.md
// §4.4): the start -> chunk-sequence -> finish/abort handshake with
// backpressure, adaptive timeouts, and cooperative cancellation. It
// drives the handshake over a Bridge so the same engine serves more
// than one transport (HTTP and TCP route stream uploads through the
// postMessage-style bridge rather than a transport-specific
// mechanism, per spec.md §4.6). The FTP adapter does not use this
// engine; it uploads over STOR.
package upload

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rdessert/filebridge/internal/bridge"
	"github.com/rdessert/filebridge/internal/chunker"
	"github.com/rdessert/filebridge/internal/session"
	"github.com/rdessert/filebridge/internal/wireutil"
	"github.com/rdessert/filebridge/pkg/idgen"
	"github.com/rdessert/filebridge/pkg/models"
)

// Engine drives the client side of a single stream upload at a time
// per call to Upload; distinct calls may run concurrently, each owning
// its own session.
type Engine struct {
	bridge    *bridge.Bridge
	sessions  *session.Registry
	chunkCfg  chunker.Config
	requestID func(prefix string) string // overridable in tests
}

// NewEngine creates an upload Engine over br, registering sessions in reg.
func NewEngine(br *bridge.Bridge, reg *session.Registry, chunkCfg chunker.Config) *Engine {
	return &Engine{bridge: br, sessions: reg, chunkCfg: chunkCfg, requestID: idgen.NewRequestID}
}

// Request describes a single stream upload.
type Request struct {
	Transport         models.TransportKind
	Filename          string
	TargetPath        string
	FileSize          int64
	ChunkSizeOverride int64
	Source            io.Reader
	ExtraPayload      map[string]any
	OnProgress        func(models.ProgressInfo)
	Cancel            <-chan struct{}
}

func cancelled(c <-chan struct{}) bool {
	if c == nil {
		return false
	}
	select {
	case <-c:
		return true
	default:
		return false
	}
}

// Upload drives IDLE -> STARTING -> RUNNING -> (FINISHING|ABORTING) ->
// TERMINAL (spec.md §4.4). It never throws for cancellation or a
// server-reported failure; both surface as an OpResult.
func (e *Engine) Upload(ctx context.Context, req Request) models.OpResult {
	if req.Source == nil {
		return models.OpResult{Success: false, Message: "upload: source does not expose a readable byte stream"}
	}
	if cancelled(req.Cancel) {
		return models.Cancelled
	}

	requestedChunk := e.chunkCfg.ChooseRequestSize(req.ChunkSizeOverride, req.FileSize)
	estimatedChunks := models.TotalChunksFor(req.FileSize, requestedChunk)
	timeouts := chunker.AdaptiveTimeouts(req.FileSize, estimatedChunks)

	startResp, err := e.start(ctx, req, requestedChunk, timeouts.Handshake)
	if err != nil {
		return models.OpResult{Success: false, Message: err.Error()}
	}

	// The server's acceptedChunkSize may differ from what we requested
	// (spec.md §4.4 step 1); re-derive timeouts from the real total.
	acceptedSize := startResp.AcceptedChunkSize
	if acceptedSize <= 0 {
		acceptedSize = requestedChunk
	}
	sess := e.sessions.CreateUpload(startResp.SessionID, req.Filename, req.TargetPath, req.FileSize, acceptedSize)
	if startResp.TotalChunks > 0 {
		sess.TotalChunks = startResp.TotalChunks
	}
	timeouts = chunker.AdaptiveTimeouts(req.FileSize, sess.TotalChunks)

	if res, ok := e.runChunks(ctx, req, sess, timeouts.PerChunk); !ok {
		return res
	}

	if cancelled(req.Cancel) {
		e.abortBestEffort(req.Transport, sess.SessionID)
		e.sessions.RemoveUpload(sess.SessionID)
		return models.Cancelled
	}

	return e.finish(ctx, req, sess, timeouts.Finish)
}

func (e *Engine) start(ctx context.Context, req Request, requestedChunk int64, timeout time.Duration) (startResponse, error) {
	payload := startPayload{
		Action:       "start",
		Filename:     req.Filename,
		FileSize:     req.FileSize,
		TargetPath:   req.TargetPath,
		ChunkSize:    requestedChunk,
		ExtraPayload: req.ExtraPayload,
	}
	resp, err := e.bridge.Send(ctx, models.Request{
		RequestID:  e.requestID("upl"),
		Command:    fmt.Sprintf("backend.%s.streamUpload.start", req.Transport),
		Payload:    payload,
		TimeoutMs:  timeout.Milliseconds(),
		OnProgress: req.OnProgress,
	})
	if err != nil {
		return startResponse{}, fmt.Errorf("upload: start: %w", err)
	}
	if !resp.Success {
		return startResponse{}, fmt.Errorf("upload: start rejected: %s", firstNonEmpty(resp.Message, resp.Error))
	}

	var sr startResponse
	if err := wireutil.DecodeInto(resp.Data, &sr); err != nil {
		return startResponse{}, fmt.Errorf("upload: decode start response: %w", err)
	}
	if sr.SessionID == "" {
		return startResponse{}, fmt.Errorf("upload: start response missing sessionId")
	}
	return sr, nil
}

// runChunks issues chunks strictly serially in ascending index order
// (spec.md §5 ordering guarantee: "the client never has two chunk
// messages in flight for the same session"). It returns (result,
// false) when the caller should return result immediately.
func (e *Engine) runChunks(ctx context.Context, req Request, sess *models.StreamUploadSession, perChunkTimeout time.Duration) (models.OpResult, bool) {
	buf := make([]byte, sess.AcceptedChunkSize)

	for sess.NextChunkIndex < sess.TotalChunks {
		if cancelled(req.Cancel) {
			e.abortBestEffort(req.Transport, sess.SessionID)
			e.sessions.RemoveUpload(sess.SessionID)
			return models.Cancelled, false
		}

		n, readErr := io.ReadFull(req.Source, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			e.abortBestEffort(req.Transport, sess.SessionID)
			e.sessions.RemoveUpload(sess.SessionID)
			return models.OpResult{Success: false, Message: fmt.Sprintf("upload: read chunk %d: %v", sess.NextChunkIndex, readErr)}, false
		}

		if cancelled(req.Cancel) {
			e.abortBestEffort(req.Transport, sess.SessionID)
			e.sessions.RemoveUpload(sess.SessionID)
			return models.Cancelled, false
		}

		chunkIndex := sess.NextChunkIndex
		resp, err := e.bridge.Send(ctx, models.Request{
			RequestID: e.requestID("upl"),
			Command:   fmt.Sprintf("backend.%s.streamUpload.chunk", req.Transport),
			Payload: chunkPayload{
				SessionID:  sess.SessionID,
				ChunkIndex: chunkIndex,
				ChunkTotal: sess.TotalChunks,
				Data:       append([]byte(nil), buf[:n]...),
			},
			TimeoutMs:  perChunkTimeout.Milliseconds(),
			OnProgress: req.OnProgress,
		})
		if err != nil || !resp.Success {
			e.abortBestEffort(req.Transport, sess.SessionID)
			e.sessions.RemoveUpload(sess.SessionID)
			msg := firstNonEmpty(resp.Message, resp.Error)
			if err != nil {
				msg = err.Error()
			}
			return models.OpResult{Success: false, Message: fmt.Sprintf("upload: chunk %d: %s", chunkIndex, msg)}, false
		}

		var cr chunkResponse
		if decErr := wireutil.DecodeInto(resp.Data, &cr); decErr != nil {
			e.abortBestEffort(req.Transport, sess.SessionID)
			e.sessions.RemoveUpload(sess.SessionID)
			return models.OpResult{Success: false, Message: fmt.Sprintf("upload: decode chunk ack: %v", decErr)}, false
		}

		if advErr := e.sessions.AdvanceUpload(sess.SessionID, cr.ChunkIndex, int64(n)); advErr != nil {
			// Mismatched chunkIndex in the ack: the client refuses to
			// advance and aborts the session (spec.md §4.4 step 2).
			e.abortBestEffort(req.Transport, sess.SessionID)
			e.sessions.RemoveUpload(sess.SessionID)
			return models.OpResult{Success: false, Message: advErr.Error()}, false
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			// Final (possibly short, possibly zero-byte) chunk sent.
			break
		}
	}
	return models.OpResult{}, true
}

func (e *Engine) finish(ctx context.Context, req Request, sess *models.StreamUploadSession, timeout time.Duration) models.OpResult {
	resp, err := e.bridge.Send(ctx, models.Request{
		RequestID: e.requestID("upl"),
		Command:   fmt.Sprintf("backend.%s.streamUpload.finish", req.Transport),
		Payload:   finishPayload{SessionID: sess.SessionID},
		TimeoutMs: timeout.Milliseconds(),
	})
	e.sessions.RemoveUpload(sess.SessionID)
	if err != nil {
		return models.OpResult{Success: false, Message: fmt.Sprintf("upload: finish: %v", err)}
	}
	if !resp.Success {
		return models.OpResult{Success: false, Message: firstNonEmpty(resp.Message, resp.Error)}
	}

	var fr finishResponse
	_ = wireutil.DecodeInto(resp.Data, &fr)
	msg := fr.Message
	if msg == "" {
		msg = resp.Message
	}
	return models.OpResult{Success: true, Message: msg}
}

// abortBestEffort sends an abort control message without blocking the
// caller's error/cancel path (spec.md §4.4 step 4). It uses its own
// short-lived context, independent of the caller's ctx, which may
// already be cancelled.
func (e *Engine) abortBestEffort(transport models.TransportKind, sessionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = e.bridge.Send(ctx, models.Request{
			RequestID: e.requestID("abt"),
			Command:   fmt.Sprintf("backend.%s.streamUpload.abort", transport),
			Payload:   abortPayload{SessionID: sessionID},
			TimeoutMs: 5000,
		})
	}()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
