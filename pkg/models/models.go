// Package models holds the wire-agnostic data model shared by every
// transport adapter, the bridge, and the streaming engines.
package models

import (
	"errors"
	"time"
)

// TransportKind discriminates a ConnectionConfig and keys the adapter
// factory registry (internal/connection).
type TransportKind string

const (
	KindHTTP TransportKind = "http"
	KindFTP  TransportKind = "ftp"
	KindTCP  TransportKind = "tcp"
)

// ConnectionConfig is immutable once a session connects.
type ConnectionConfig struct {
	Kind    TransportKind `json:"kind"`
	Host    string        `json:"host"`
	Port    int           `json:"port"`
	Timeout time.Duration `json:"timeout"`

	// FTP-specific.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Passive  bool   `json:"passive,omitempty"`
	Secure   bool   `json:"secure,omitempty"` // FTPS when true

	// HTTP-specific.
	Protocol string            `json:"protocol,omitempty"` // "http" or "https"
	Headers  map[string]string `json:"headers,omitempty"`
}

// Validate checks the fields every transport requires.
func (c *ConnectionConfig) Validate() error {
	switch c.Kind {
	case KindHTTP, KindFTP, KindTCP:
	default:
		return errors.New("connection config: unknown transport kind")
	}
	if c.Host == "" {
		return errors.New("connection config: host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("connection config: port out of range")
	}
	if c.Kind == KindHTTP {
		switch c.Protocol {
		case "", "http", "https":
		default:
			return errors.New("connection config: protocol must be http or https")
		}
	}
	return nil
}

// FileType distinguishes a FileItem entry.
type FileType string

const (
	TypeFile      FileType = "file"
	TypeDirectory FileType = "directory"
)

// FileItem is produced by listing and info operations. LastModified
// always carries a parseable timestamp — ParseTimestamp below falls back
// to "now" on malformed wire values so callers never see a zero time.
type FileItem struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Type         FileType  `json:"type"`
	Size         uint64    `json:"size"`
	LastModified time.Time `json:"lastModified"`
	Permissions  string    `json:"permissions,omitempty"`
	IsReadonly   bool      `json:"isReadonly,omitempty"`
}

// ParseTimestamp parses a handful of common wire timestamp shapes,
// falling back to time.Now() when the value can't be interpreted.
func ParseTimestamp(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Now()
		}
		return v
	case string:
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
		return time.Now()
	case float64:
		if v <= 0 {
			return time.Now()
		}
		return time.UnixMilli(int64(v))
	case int64:
		if v <= 0 {
			return time.Now()
		}
		return time.UnixMilli(v)
	default:
		return time.Now()
	}
}

// ProgressDirection is the direction a ProgressInfo event describes.
type ProgressDirection string

const (
	DirectionUpload   ProgressDirection = "upload"
	DirectionDownload ProgressDirection = "download"
)

// ProgressInfo is non-terminal: zero or more fire before the terminal
// BackendResponse for a given request.
type ProgressInfo struct {
	Loaded    uint64            `json:"loaded"`
	Total     uint64            `json:"total"`
	Percent   int               `json:"percent"`
	Filename  string            `json:"filename"`
	Direction ProgressDirection `json:"direction"`
	Transport TransportKind     `json:"transport"`
}

// clampPercent keeps Percent inside [0,100] regardless of how Loaded/Total
// were derived.
func clampPercent(loaded, total uint64) int {
	if total == 0 {
		return 0
	}
	pct := int(float64(loaded) / float64(total) * 100)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// NewProgressInfo builds a ProgressInfo with Percent derived from Loaded/Total.
func NewProgressInfo(loaded, total uint64, filename string, dir ProgressDirection, transport TransportKind) ProgressInfo {
	return ProgressInfo{
		Loaded:    loaded,
		Total:     total,
		Percent:   clampPercent(loaded, total),
		Filename:  filename,
		Direction: dir,
		Transport: transport,
	}
}

// Request correlates an outbound command with its single response and
// zero-or-more progress events over the Bridge. RequestID format is
// produced by pkg/idgen.NewRequestID.
type Request struct {
	RequestID  string             `json:"requestId"`
	Command    string             `json:"command"`
	Payload    any                `json:"payload,omitempty"`
	TimeoutMs  int64              `json:"timeoutMs"`
	OnProgress func(ProgressInfo) `json:"-"`
}

// BackendResponse is the exactly-one terminal response per request.
type BackendResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// OpResult is the concrete return type for non-listing, non-info
// operations (upload, delete, rename, mkdir, download-to-path).
type OpResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Cancelled is the OpResult the core returns for a cooperative cancel —
// never an exception, per spec.md §7.
var Cancelled = OpResult{Success: false, Message: "operation cancelled"}

// TotalChunksFor computes totalChunks per the invariant in spec.md §3:
// fileSize=0 yields exactly one empty-tail chunk.
func TotalChunksFor(fileSize, acceptedChunkSize int64) int {
	if acceptedChunkSize <= 0 {
		return 1
	}
	size := fileSize
	if size <= 0 {
		size = 1
	}
	n := (size + acceptedChunkSize - 1) / acceptedChunkSize
	if n < 1 {
		n = 1
	}
	return int(n)
}

// StreamUploadSession is server-held state, mirrored on the client.
//
// Invariants (enforced by internal/upload, not by this struct):
//   - NextChunkIndex is strictly monotonic, incremented only after a
//     successful chunk ack.
//   - BytesSent == sum of chunk bytes for indices [0, NextChunkIndex).
//   - TotalChunks == TotalChunksFor(FileSize, AcceptedChunkSize).
type StreamUploadSession struct {
	SessionID         string
	Filename          string
	TargetPath        string
	FileSize          int64
	AcceptedChunkSize int64
	TotalChunks       int
	NextChunkIndex    int
	BytesSent         int64
}

// StreamDownloadSession tracks a single chunked download in progress.
// BytesWritten advances monotonically with progress events.
type StreamDownloadSession struct {
	SessionID    string
	FilePath     string
	TargetPath   string
	RequestID    string
	StartTime    time.Time
	Aborted      bool
	ExpectedSize *uint64
	BytesWritten uint64
}
