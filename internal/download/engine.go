// Package download implements the Stream Download Engine (C5, spec.md
// §4.5): pulls a chunked download either to a target file on disk or
// into an in-memory blob, reporting progress from byte counts and
// delegating to the Partial-Download Cleanup policy (internal/cleanup)
// whenever a download-to-path terminates without success.
package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/rdessert/filebridge/internal/bridge"
	"github.com/rdessert/filebridge/internal/chunkbuf"
	"github.com/rdessert/filebridge/internal/cleanup"
	"github.com/rdessert/filebridge/internal/session"
	"github.com/rdessert/filebridge/internal/wireutil"
	"github.com/rdessert/filebridge/pkg/idgen"
	"github.com/rdessert/filebridge/pkg/models"
)

// statAttempts/statBackoffUnit implement the verification policy's
// filesystem-flush-lag tolerance (spec.md §4.5).
const (
	statAttempts    = 8
	statBackoffUnit = 150 * time.Millisecond
)

// Engine drives the client side of a chunked download.
type Engine struct {
	bridge    *bridge.Bridge
	sessions  *session.Registry
	requestID func(prefix string) string
	openFile  func(path string) (*os.File, error)
}

// NewEngine creates a download Engine over br, registering sessions in reg.
func NewEngine(br *bridge.Bridge, reg *session.Registry) *Engine {
	return &Engine{
		bridge:    br,
		sessions:  reg,
		requestID: idgen.NewRequestID,
		openFile: func(path string) (*os.File, error) {
			return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		},
	}
}

// ToPathRequest describes a download streamed directly to disk.
type ToPathRequest struct {
	Transport    models.TransportKind
	RemotePath   string
	TargetPath   string
	ExpectedSize *uint64
	OnProgress   func(models.ProgressInfo)
	Cancel       <-chan struct{}
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

// DownloadToPath streams bytes directly to TargetPath (append mode,
// O_CREAT|O_TRUNC on open), running the Cleanup policy if the stream
// terminates before completion.
func (e *Engine) DownloadToPath(ctx context.Context, req ToPathRequest) models.OpResult {
	f, err := e.openFile(req.TargetPath)
	if err != nil {
		return models.OpResult{Success: false, Message: fmt.Sprintf("download: open %s: %v", req.TargetPath, err)}
	}
	defer f.Close()

	sess := e.sessions.CreateDownload(e.requestID("dl"), req.RemotePath, req.TargetPath, req.ExpectedSize)
	defer e.sessions.RemoveDownload(sess.RequestID)

	written, expectedSize, pullErr := e.pull(ctx, req.Transport, req.RemotePath, f, sess, req.OnProgress, req.Cancel)

	if pullErr != nil {
		reason := cleanup.ReasonError
		if cancelled(req.Cancel) {
			reason = cleanup.ReasonCancelled
		}
		e.runCleanup(req.TargetPath, expectedSize, written, reason)
		if cancelled(req.Cancel) {
			return models.Cancelled
		}
		return models.OpResult{Success: false, Message: pullErr.Error()}
	}

	e.verify(req.TargetPath, expectedSize)
	return models.OpResult{Success: true, Message: "download complete"}
}

// DownloadBlob pulls the full remote file into memory and returns it,
// for callers that did not specify a targetPath (spec.md §4.5).
func (e *Engine) DownloadBlob(ctx context.Context, transport models.TransportKind, remotePath string, onProgress func(models.ProgressInfo), cancel <-chan struct{}) ([]byte, error) {
	var buf bytes.Buffer
	sess := e.sessions.CreateDownload(e.requestID("dl"), remotePath, "", nil)
	defer e.sessions.RemoveDownload(sess.RequestID)

	_, _, err := e.pull(ctx, transport, remotePath, &buf, sess, onProgress, cancel)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pull drives the start -> chunk* -> (implicit finish on Final) loop,
// writing each chunk to w and reporting progress from byte counts.
func (e *Engine) pull(ctx context.Context, transport models.TransportKind, remotePath string, w io.Writer, sess *models.StreamDownloadSession, onProgress func(models.ProgressInfo), cancel <-chan struct{}) (uint64, *uint64, error) {
	if cancelled(cancel) {
		return 0, sess.ExpectedSize, errCancelled
	}

	startResp, err := e.bridge.Send(ctx, models.Request{
		RequestID: e.requestID("dl"),
		Command:   fmt.Sprintf("backend.%s.streamDownload.start", transport),
		Payload:   downloadStartPayload{Path: remotePath, TargetPath: sess.TargetPath},
		TimeoutMs: 120_000,
	})
	if err != nil {
		return 0, sess.ExpectedSize, fmt.Errorf("download: start: %w", err)
	}
	if !startResp.Success {
		return 0, sess.ExpectedSize, fmt.Errorf("download: start rejected: %s", firstNonEmpty(startResp.Message, startResp.Error))
	}

	var sr downloadStartResponse
	if err := wireutil.DecodeInto(startResp.Data, &sr); err != nil {
		return 0, sess.ExpectedSize, fmt.Errorf("download: decode start response: %w", err)
	}
	if sr.ExpectedSize != nil {
		sess.ExpectedSize = sr.ExpectedSize
	}

	var written uint64
	for {
		if cancelled(cancel) {
			e.abortBestEffort(transport, sr.SessionID)
			return written, sess.ExpectedSize, errCancelled
		}

		resp, err := e.bridge.Send(ctx, models.Request{
			RequestID:  e.requestID("dl"),
			Command:    fmt.Sprintf("backend.%s.streamDownload.chunk", transport),
			Payload:    downloadChunkPayload{SessionID: sr.SessionID},
			TimeoutMs:  120_000,
			OnProgress: onProgress,
		})
		if err != nil || !resp.Success {
			e.abortBestEffort(transport, sr.SessionID)
			msg := firstNonEmpty(resp.Message, resp.Error)
			if err != nil {
				msg = err.Error()
			}
			return written, sess.ExpectedSize, fmt.Errorf("download: chunk: %s", msg)
		}

		var cr downloadChunkResponse
		if err := wireutil.DecodeInto(resp.Data, &cr); err != nil {
			e.abortBestEffort(transport, sr.SessionID)
			return written, sess.ExpectedSize, fmt.Errorf("download: decode chunk: %w", err)
		}

		chunkBytes, err := chunkbuf.Normalize(cr.Data)
		if err != nil && cr.Data != nil {
			e.abortBestEffort(transport, sr.SessionID)
			return written, sess.ExpectedSize, fmt.Errorf("download: normalise chunk payload: %w", err)
		}

		if len(chunkBytes) > 0 {
			if _, err := w.Write(chunkBytes); err != nil {
				e.abortBestEffort(transport, sr.SessionID)
				return written, sess.ExpectedSize, fmt.Errorf("download: write: %w", err)
			}
			written += uint64(len(chunkBytes))
			_ = e.sessions.RecordDownloadProgress(sess.RequestID, written)
			if onProgress != nil {
				total := uint64(0)
				if sess.ExpectedSize != nil {
					total = *sess.ExpectedSize
				}
				onProgress(models.NewProgressInfo(written, total, sess.FilePath, models.DirectionDownload, transport))
			}
		}

		if cr.Final {
			break
		}
	}

	return written, sess.ExpectedSize, nil
}

// verify implements the post-download stat-with-backoff tolerance for
// filesystem flush lag (spec.md §4.5). A size mismatch is logged, not
// failed — the server may have reported an approximate size.
func (e *Engine) verify(targetPath string, expectedSize *uint64) {
	if expectedSize == nil {
		return
	}
	var actual int64
	var err error
	for attempt := 1; attempt <= statAttempts; attempt++ {
		actual, err = cleanup.OSStat(targetPath)
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempt) * statBackoffUnit)
	}
	if err != nil {
		log.Printf("download: could not stat %s after %d attempts: %v", targetPath, statAttempts, err)
		return
	}
	if uint64(actual) != *expectedSize {
		log.Printf("download: %s size %d disagrees with expected %d (server size may be approximate)", targetPath, actual, *expectedSize)
	}
}

func (e *Engine) runCleanup(targetPath string, expectedSize *uint64, bytesWritten uint64, reason cleanup.Reason) {
	res, err := cleanup.Decide(cleanup.OSStat, os.Remove, targetPath, expectedSize, bytesWritten, reason)
	if err != nil {
		log.Printf("download: cleanup decision for %s failed: %v", targetPath, err)
		return
	}
	log.Printf("download: cleanup for %s: %s (uncertain=%v)", targetPath, res.Decision, res.Uncertain)
}

func (e *Engine) abortBestEffort(transport models.TransportKind, sessionID string) {
	if sessionID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = e.bridge.Send(ctx, models.Request{
			RequestID: e.requestID("abt"),
			Command:   fmt.Sprintf("backend.%s.streamDownload.abort", transport),
			Payload:   downloadAbortPayload{SessionID: sessionID},
			TimeoutMs: 5000,
		})
	}()
}

var errCancelled = fmt.Errorf("operation cancelled")

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
