// Package session is the in-memory registry of active stream upload and
// download sessions (spec.md §3, "Ownership & lifecycle"). It is
// adapted from the teacher's SessionManager: the teacher persisted
// every session to disk and reloaded on startup, which this module
// drops deliberately — resumable-after-restart is a Non-goal
// (spec.md §1) — so the registry here is a pure in-memory map, owned
// by the adapter that created the session and removed on terminal.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rdessert/filebridge/pkg/models"
)

// ErrNotFound is returned when a session id is unknown or already terminal.
var ErrNotFound = fmt.Errorf("session: not found")

// ErrChunkOutOfOrder is returned by AdvanceUpload when the server's ack
// names a chunk index other than the session's NextChunkIndex — the
// client refuses to advance and must abort (spec.md §4.4 step 2).
var ErrChunkOutOfOrder = fmt.Errorf("session: chunk ack out of order")

// Registry holds every active StreamUploadSession and
// StreamDownloadSession for a single adapter instance.
type Registry struct {
	mu        sync.Mutex
	uploads   map[string]*models.StreamUploadSession
	downloads map[string]*models.StreamDownloadSession
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		uploads:   make(map[string]*models.StreamUploadSession),
		downloads: make(map[string]*models.StreamDownloadSession),
	}
}

// CreateUpload registers a new upload session using the server-accepted
// chunk size and total-chunk count (spec.md §3 invariants).
func (r *Registry) CreateUpload(sessionID, filename, targetPath string, fileSize, acceptedChunkSize int64) *models.StreamUploadSession {
	s := &models.StreamUploadSession{
		SessionID:         sessionID,
		Filename:          filename,
		TargetPath:        targetPath,
		FileSize:          fileSize,
		AcceptedChunkSize: acceptedChunkSize,
		TotalChunks:       models.TotalChunksFor(fileSize, acceptedChunkSize),
	}
	r.mu.Lock()
	r.uploads[sessionID] = s
	r.mu.Unlock()
	return s
}

// GetUpload returns the named upload session, or ErrNotFound if it is
// unknown or already terminal.
func (r *Registry) GetUpload(sessionID string) (*models.StreamUploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.uploads[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// AdvanceUpload records a successfully ack'd chunk. ackedIndex must
// equal the session's NextChunkIndex; a mismatch is a protocol-level
// client error (spec.md §4.4: "refuses to advance on a mismatched
// chunkIndex ... and aborts the session") and the caller must abort.
func (r *Registry) AdvanceUpload(sessionID string, ackedIndex int, chunkBytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.uploads[sessionID]
	if !ok {
		return ErrNotFound
	}
	if ackedIndex != s.NextChunkIndex {
		return fmt.Errorf("%w: want %d, got %d", ErrChunkOutOfOrder, s.NextChunkIndex, ackedIndex)
	}
	s.NextChunkIndex++
	s.BytesSent += chunkBytes
	return nil
}

// RemoveUpload deletes the session, making its id invalid (terminal on
// finish or abort, spec.md §3).
func (r *Registry) RemoveUpload(sessionID string) {
	r.mu.Lock()
	delete(r.uploads, sessionID)
	r.mu.Unlock()
}

// CreateDownload registers a new download session.
func (r *Registry) CreateDownload(requestID, filePath, targetPath string, expectedSize *uint64) *models.StreamDownloadSession {
	s := &models.StreamDownloadSession{
		SessionID:    uuid.NewString(),
		FilePath:     filePath,
		TargetPath:   targetPath,
		RequestID:    requestID,
		StartTime:    time.Now(),
		ExpectedSize: expectedSize,
	}
	r.mu.Lock()
	r.downloads[requestID] = s
	r.mu.Unlock()
	return s
}

// GetDownload returns the download session tracked under requestID.
func (r *Registry) GetDownload(requestID string) (*models.StreamDownloadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.downloads[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// RecordDownloadProgress advances BytesWritten monotonically.
func (r *Registry) RecordDownloadProgress(requestID string, bytesWritten uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.downloads[requestID]
	if !ok {
		return ErrNotFound
	}
	if bytesWritten > s.BytesWritten {
		s.BytesWritten = bytesWritten
	}
	return nil
}

// MarkDownloadAborted flags the session as aborted (cooperative cancel).
func (r *Registry) MarkDownloadAborted(requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.downloads[requestID]
	if !ok {
		return ErrNotFound
	}
	s.Aborted = true
	return nil
}

// RemoveDownload deletes the download session on terminal.
func (r *Registry) RemoveDownload(requestID string) {
	r.mu.Lock()
	delete(r.downloads, requestID)
	r.mu.Unlock()
}

// ActiveUploads returns the number of in-flight upload sessions.
func (r *Registry) ActiveUploads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.uploads)
}
