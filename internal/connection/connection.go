// Package connection defines the Connection Service Interface (C10,
// spec.md §4.10): the small capability trait every transport adapter
// implements, a tagged-variant registry of adapter factories keyed by
// TransportKind (spec.md §9 "Dynamic dispatch across adapters"), and
// the observable connection-status pub/sub every adapter exposes.
package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/rdessert/filebridge/pkg/models"
)

// Status is the adapter's observable connection lifecycle.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// StatusEvent is delivered to subscribers on every status transition.
type StatusEvent struct {
	Status  Status
	Payload any
}

// Capabilities declares what a transport can do, so callers choose the
// right path (spec.md §4.10).
type Capabilities struct {
	StreamUpload   bool
	DirectDownload bool
}

// UploadRequest parameterises UploadFile across every transport.
type UploadRequest struct {
	Source            ReadSeeker
	Filename          string
	FileSize          int64
	TargetPath        string
	ChunkSizeOverride int64
	ExtraPayload      map[string]any
	OnProgress        func(models.ProgressInfo)
	Cancel            <-chan struct{}
}

// ReadSeeker is the minimal byte-source contract the upload engine
// needs: sequential reads, degrading gracefully for sources that can't
// seek (a single-pass pipe). Implementations that can't provide a
// readable byte stream must fail fast from UploadFile (spec.md §4.4
// step 1).
type ReadSeeker interface {
	Read(p []byte) (int, error)
}

// DownloadToPathRequest parameterises DownloadFileToPath.
type DownloadToPathRequest struct {
	RemotePath   string
	TargetPath   string
	ExpectedSize *uint64
	OnProgress   func(models.ProgressInfo)
	Cancel       <-chan struct{}
}

// Service is the capability trait every adapter implements (spec.md
// §4.10), a small interface rather than a deep inheritance tree.
type Service interface {
	Connect(ctx context.Context, cfg models.ConnectionConfig) (bool, error)
	Disconnect(ctx context.Context) error
	TestConnection(ctx context.Context, cfg models.ConnectionConfig) (bool, error)

	ListFiles(ctx context.Context, path string) ([]models.FileItem, error)
	GetFileInfo(ctx context.Context, path string) (models.FileItem, error)
	DownloadFile(ctx context.Context, path string) ([]byte, error)
	DownloadFileToPath(ctx context.Context, req DownloadToPathRequest) (models.OpResult, error)
	UploadFile(ctx context.Context, req UploadRequest) (models.OpResult, error)
	DeleteFile(ctx context.Context, path string) (models.OpResult, error)
	RenameFile(ctx context.Context, oldPath, newPath string) (models.OpResult, error)
	CreateDirectory(ctx context.Context, path string) (models.OpResult, error)

	Capabilities() Capabilities
	Status() Status
	Subscribe(fn func(StatusEvent)) (unsubscribe func())
}

// Factory constructs a fresh, unconnected Service for a TransportKind.
type Factory func() Service

var (
	registryMu sync.RWMutex
	registry   = map[models.TransportKind]Factory{}
)

// Register installs f as the factory for kind. Adapter packages call
// this from an init() func (spec.md §9 "Dynamic dispatch across
// adapters": "a registry of factory functions keyed by kind").
func Register(kind models.TransportKind, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = f
}

// New constructs a fresh Service for kind via its registered factory.
func New(kind models.TransportKind) (Service, error) {
	registryMu.RLock()
	f, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connection: no adapter registered for transport kind %q", kind)
	}
	return f(), nil
}

// Notifier is a small status pub/sub every adapter embeds, decoupling
// the handler table from the adapter (spec.md §9 "Cyclic references":
// "no back-reference from handler-table entries to the Adapter").
type Notifier struct {
	mu   sync.Mutex
	subs map[int]func(StatusEvent)
	next int
}

// Subscribe registers fn to be called on every future status
// transition and returns a func to unsubscribe it.
func (n *Notifier) Subscribe(fn func(StatusEvent)) func() {
	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[int]func(StatusEvent))
	}
	id := n.next
	n.next++
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Notify delivers ev to every current subscriber.
func (n *Notifier) Notify(ev StatusEvent) {
	n.mu.Lock()
	subs := make([]func(StatusEvent), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}
