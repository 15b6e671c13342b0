// Package ftp implements the FTP transport adapter (C6, spec.md §4.6):
// a hand-rolled RFC 959 control-connection client. No third-party FTP
// *client* library appears anywhere in the retrieved corpus — only a
// server implementation (other_examples' gonzalop/ftp server-session.go),
// which is useful solely as a reference for the command set and reply
// shapes, not as a dependency (see DESIGN.md). The adapter tracks the
// control-connection states WAIT_USER -> WAIT_PASS -> LOGGED_IN ->
// (WAIT_RENAME|CLOSING) of spec.md §4.6, opening a fresh PASV data
// connection for every data-phase command. DATA_TRANSFER is declared but
// never entered: the state stays LOGGED_IN while a data-phase command
// runs.
package ftp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rdessert/filebridge/internal/connection"
	"github.com/rdessert/filebridge/internal/queue"
	"github.com/rdessert/filebridge/internal/retry"
	"github.com/rdessert/filebridge/internal/telemetry"
	"github.com/rdessert/filebridge/pkg/models"
)

func init() {
	connection.Register(models.KindFTP, func() connection.Service { return NewAdapter() })
}

// State is the control-connection state machine (spec.md §4.6).
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateWaitUser     State = "WAIT_USER"
	StateWaitPass     State = "WAIT_PASS"
	StateLoggedIn     State = "LOGGED_IN"
	StateDataTransfer State = "DATA_TRANSFER"
	StateWaitRename   State = "WAIT_RENAME"
	StateClosing      State = "CLOSING"
)

// streamChunkSize is the chunk size the stream-upload session adapts
// for FTP (spec.md §4.6: "adapts chunkSize=512 KiB").
const streamChunkSize = 512 * 1024

// Adapter is the FTP realisation of connection.Service.
type Adapter struct {
	dialTimeout time.Duration

	queues   *queue.Queues
	retryMgr *retry.Manager
	telem    *telemetry.TelemetryCollector

	mu       sync.Mutex
	conn     net.Conn
	reader   *bufio.Reader
	state    State
	status   connection.Status
	notifier connection.Notifier
	cfg      models.ConnectionConfig
}

// NewAdapter builds an unconnected Adapter.
func NewAdapter() *Adapter {
	return &Adapter{
		dialTimeout: 10 * time.Second,
		state:       StateDisconnected,
		status:      connection.StatusDisconnected,
		queues:      queue.New(),
		retryMgr:    retry.New(),
		telem:       telemetry.NewTelemetryCollector(),
	}
}

func (a *Adapter) setStatus(s connection.Status, payload any) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
	a.notifier.Notify(connection.StatusEvent{Status: s, Payload: payload})
}

func (a *Adapter) Status() connection.Status { a.mu.Lock(); defer a.mu.Unlock(); return a.status }

func (a *Adapter) Subscribe(fn func(connection.StatusEvent)) func() { return a.notifier.Subscribe(fn) }

func (a *Adapter) Capabilities() connection.Capabilities {
	return connection.Capabilities{StreamUpload: true, DirectDownload: true}
}

// reply is a single parsed FTP control response.
type reply struct {
	code int
	text string
}

func (a *Adapter) readReply() (reply, error) {
	for {
		line, err := a.reader.ReadString('\n')
		if err != nil {
			return reply{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) >= 4 && line[3] == ' ' {
			code, cerr := strconv.Atoi(line[:3])
			if cerr != nil {
				return reply{}, fmt.Errorf("ftp: malformed reply %q", line)
			}
			return reply{code: code, text: line[4:]}, nil
		}
		// Multi-line reply ("nnn-text"): keep reading until "nnn text".
	}
}

func (a *Adapter) sendCommand(cmd string) (reply, error) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return reply{}, fmt.Errorf("ftp: not connected")
	}
	start := time.Now()
	if _, err := fmt.Fprintf(conn, "%s\r\n", cmd); err != nil {
		return reply{}, err
	}
	r, err := a.readReply()
	a.telem.RecordRTT(time.Since(start))
	return r, err
}

// Connect dials the control connection and logs in (spec.md §4.6 state
// machine: CONNECTING -> WAIT_USER -> WAIT_PASS -> LOGGED_IN), retrying
// the dial+login sequence through retryMgr's backoff and circuit
// breaker (spec.md §4.2: reconnect is never automatic, but a single
// Connect call may retry internally).
func (a *Adapter) Connect(ctx context.Context, cfg models.ConnectionConfig) (bool, error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}

	circuitID := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	if a.retryMgr.CircuitStateFor(circuitID) == retry.CircuitOpen {
		err := fmt.Errorf("ftp: circuit open for %s, refusing to dial", circuitID)
		a.setStatus(connection.StatusError, err)
		return false, err
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		start := time.Now()
		ok, err := a.connectOnce(ctx, cfg)
		a.telem.RecordRTT(time.Since(start))
		if ok {
			a.retryMgr.RecordSuccess(circuitID)
			return true, nil
		}
		lastErr = err
		a.retryMgr.RecordFailure(circuitID, lastErr)
		if !a.retryMgr.ShouldRetry(attempt, lastErr) {
			return false, lastErr
		}
		select {
		case <-time.After(a.retryMgr.NextBackoff(attempt, 0)):
		case <-ctx.Done():
			a.setStatus(connection.StatusError, ctx.Err())
			return false, ctx.Err()
		}
	}
}

// connectOnce performs a single dial+login attempt.
func (a *Adapter) connectOnce(ctx context.Context, cfg models.ConnectionConfig) (bool, error) {
	a.setStatus(connection.StatusConnecting, nil)
	a.mu.Lock()
	a.state = StateConnecting
	a.cfg = cfg
	a.mu.Unlock()

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	d := net.Dialer{Timeout: a.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		a.setStatus(connection.StatusError, err)
		return false, err
	}

	a.mu.Lock()
	a.conn = conn
	a.reader = bufio.NewReader(conn)
	a.mu.Unlock()

	welcome, err := a.readReply()
	if err != nil || welcome.code != 220 {
		a.setStatus(connection.StatusError, err)
		conn.Close()
		return false, fmt.Errorf("ftp: unexpected welcome: %+v, err=%v", welcome, err)
	}

	a.mu.Lock()
	a.state = StateWaitUser
	a.mu.Unlock()

	user := cfg.Username
	if user == "" {
		user = "anonymous"
	}
	r, err := a.sendCommand("USER " + user)
	if err != nil {
		a.setStatus(connection.StatusError, err)
		return false, err
	}
	if r.code == 230 {
		a.mu.Lock()
		a.state = StateLoggedIn
		a.mu.Unlock()
		a.setStatus(connection.StatusConnected, nil)
		return true, nil
	}
	if r.code != 331 {
		a.setStatus(connection.StatusError, nil)
		return false, fmt.Errorf("ftp: USER rejected: %d %s", r.code, r.text)
	}

	a.mu.Lock()
	a.state = StateWaitPass
	a.mu.Unlock()

	r, err = a.sendCommand("PASS " + cfg.Password)
	if err != nil {
		a.setStatus(connection.StatusError, err)
		return false, err
	}
	if r.code != 230 {
		a.setStatus(connection.StatusError, nil)
		return false, fmt.Errorf("ftp: PASS rejected: %d %s", r.code, r.text)
	}

	_, _ = a.sendCommand("TYPE I")

	a.mu.Lock()
	a.state = StateLoggedIn
	a.mu.Unlock()
	a.setStatus(connection.StatusConnected, nil)
	return true, nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	conn := a.conn
	a.state = StateClosing
	a.mu.Unlock()
	if conn != nil {
		_, _ = a.sendCommand("QUIT")
		conn.Close()
	}
	a.mu.Lock()
	a.conn = nil
	a.reader = nil
	a.state = StateDisconnected
	a.mu.Unlock()
	a.setStatus(connection.StatusDisconnected, nil)
	return nil
}

func (a *Adapter) TestConnection(ctx context.Context, cfg models.ConnectionConfig) (bool, error) {
	probe := NewAdapter()
	ok, err := probe.Connect(ctx, cfg)
	if ok {
		_ = probe.Disconnect(ctx)
	}
	return ok, err
}

// openPassiveData issues PASV on the control connection and dials the
// returned host:port for the data connection (spec.md §4.6: "each
// data-phase command first issues PASV ... opens the data socket").
func (a *Adapter) openPassiveData(ctx context.Context) (net.Conn, error) {
	r, err := a.sendCommand("PASV")
	if err != nil {
		return nil, err
	}
	if r.code != 227 {
		return nil, fmt.Errorf("ftp: PASV rejected: %d %s", r.code, r.text)
	}
	host, port, err := parsePasvReply(r.text)
	if err != nil {
		return nil, err
	}
	d := net.Dialer{Timeout: a.dialTimeout}
	return d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}

// parsePasvReply extracts host:port from a 227 reply's "(h1,h2,h3,h4,p1,p2)".
func parsePasvReply(text string) (string, int, error) {
	start := strings.IndexByte(text, '(')
	end := strings.IndexByte(text, ')')
	if start < 0 || end < 0 || end < start {
		return "", 0, fmt.Errorf("ftp: malformed PASV reply %q", text)
	}
	parts := strings.Split(text[start+1:end], ",")
	if len(parts) != 6 {
		return "", 0, fmt.Errorf("ftp: malformed PASV address %q", text)
	}
	nums := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return "", 0, fmt.Errorf("ftp: malformed PASV octet %q: %w", p, err)
		}
		nums[i] = n
	}
	host := fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
	port := nums[4]*256 + nums[5]
	return host, port, nil
}

func (a *Adapter) ListFiles(ctx context.Context, dirPath string) ([]models.FileItem, error) {
	var items []models.FileItem
	var err error
	a.queues.Submit("FTP_LIST", true, func() {
		items, err = a.listFiles(ctx, dirPath)
	})
	return items, err
}

func (a *Adapter) listFiles(ctx context.Context, dirPath string) ([]models.FileItem, error) {
	if dirPath != "" {
		if r, err := a.sendCommand("CWD " + dirPath); err != nil {
			return nil, err
		} else if r.code != 250 {
			return nil, fmt.Errorf("ftp: CWD %s: %d %s", dirPath, r.code, r.text)
		}
	}

	dataConn, err := a.openPassiveData(ctx)
	if err != nil {
		return nil, err
	}

	r, err := a.sendCommand("LIST")
	if err != nil {
		dataConn.Close()
		return nil, err
	}
	if r.code != 150 && r.code != 125 {
		dataConn.Close()
		return nil, fmt.Errorf("ftp: LIST rejected: %d %s", r.code, r.text)
	}

	raw, err := io.ReadAll(dataConn)
	dataConn.Close()
	if err != nil {
		return nil, err
	}

	if _, err := a.readReply(); err != nil {
		return nil, err
	}

	return parseUnixListing(dirPath, string(raw)), nil
}

// parseUnixListing parses the common `ls -l`-style LIST output. Exotic
// server dialects (MS-DOS, EPLF) are out of scope.
func parseUnixListing(dirPath, raw string) []models.FileItem {
	var items []models.FileItem
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		name := strings.Join(fields[8:], " ")
		if name == "." || name == ".." {
			continue
		}
		size, _ := strconv.ParseUint(fields[4], 10, 64)
		ft := models.TypeFile
		if strings.HasPrefix(fields[0], "d") {
			ft = models.TypeDirectory
		}
		items = append(items, models.FileItem{
			Name:         name,
			Path:         path.Join(dirPath, name),
			Type:         ft,
			Size:         size,
			LastModified: models.ParseTimestamp(strings.Join(fields[5:8], " ")),
			Permissions:  fields[0],
		})
	}
	return items
}

func (a *Adapter) GetFileInfo(ctx context.Context, filePath string) (models.FileItem, error) {
	var item models.FileItem
	var err error
	a.queues.Submit("FTP_INFO", true, func() {
		item, err = a.getFileInfo(ctx, filePath)
	})
	return item, err
}

func (a *Adapter) getFileInfo(ctx context.Context, filePath string) (models.FileItem, error) {
	sizeReply, err := a.sendCommand("SIZE " + filePath)
	if err != nil {
		return models.FileItem{}, err
	}
	var size uint64
	if sizeReply.code == 213 {
		size, _ = strconv.ParseUint(strings.TrimSpace(sizeReply.text), 10, 64)
	}

	mtimeReply, err := a.sendCommand("MDTM " + filePath)
	if err != nil {
		return models.FileItem{}, err
	}
	var modified = models.ParseTimestamp(nil)
	if mtimeReply.code == 213 {
		if t, perr := time.Parse("20060102150405", strings.TrimSpace(mtimeReply.text)); perr == nil {
			modified = t
		}
	}

	return models.FileItem{
		Name:         path.Base(filePath),
		Path:         filePath,
		Type:         models.TypeFile,
		Size:         size,
		LastModified: modified,
	}, nil
}

func (a *Adapter) DownloadFile(ctx context.Context, remotePath string) ([]byte, error) {
	var data []byte
	var err error
	a.queues.Submit("FTP_DOWNLOAD_BLOB", true, func() {
		var buf bytes.Buffer
		if _, rerr := a.retrieveToWriter(ctx, remotePath, &buf, nil, nil, nil); rerr != nil {
			err = rerr
			return
		}
		data = buf.Bytes()
	})
	return data, err
}

func (a *Adapter) DownloadFileToPath(ctx context.Context, req connection.DownloadToPathRequest) (models.OpResult, error) {
	var res models.OpResult
	var err error
	a.queues.Submit("FTP_DOWNLOAD", false, func() {
		res, err = a.downloadFileToPath(ctx, req)
	})
	return res, err
}

func (a *Adapter) downloadFileToPath(ctx context.Context, req connection.DownloadToPathRequest) (models.OpResult, error) {
	f, err := os.OpenFile(req.TargetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return models.OpResult{Success: false, Message: err.Error()}, nil
	}
	defer f.Close()

	_, err = a.retrieveToWriter(ctx, req.RemotePath, f, req.ExpectedSize, req.OnProgress, req.Cancel)
	if err != nil {
		if isCancelled(req.Cancel) {
			return models.Cancelled, nil
		}
		return models.OpResult{Success: false, Message: err.Error()}, nil
	}
	return models.OpResult{Success: true, Message: "download complete"}, nil
}

func isCancelled(c <-chan struct{}) bool {
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

func (a *Adapter) retrieveToWriter(ctx context.Context, remotePath string, w io.Writer, expectedSize *uint64, onProgress func(models.ProgressInfo), cancel <-chan struct{}) (uint64, error) {
	dataConn, err := a.openPassiveData(ctx)
	if err != nil {
		return 0, err
	}

	r, err := a.sendCommand("RETR " + remotePath)
	if err != nil {
		dataConn.Close()
		return 0, err
	}
	if r.code != 150 && r.code != 125 {
		dataConn.Close()
		return 0, fmt.Errorf("ftp: RETR rejected: %d %s", r.code, r.text)
	}

	total := uint64(0)
	if expectedSize != nil {
		total = *expectedSize
	}

	buf := make([]byte, 64*1024)
	var written uint64
	for {
		if isCancelled(cancel) {
			dataConn.Close()
			return written, fmt.Errorf("operation cancelled")
		}
		n, rerr := dataConn.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				dataConn.Close()
				return written, werr
			}
			written += uint64(n)
			a.telem.RecordBytesSent(n)
			if onProgress != nil {
				onProgress(models.NewProgressInfo(written, total, remotePath, models.DirectionDownload, models.KindFTP))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			dataConn.Close()
			return written, rerr
		}
	}
	dataConn.Close()

	if _, err := a.readReply(); err != nil {
		return written, err
	}
	return written, nil
}

func (a *Adapter) UploadFile(ctx context.Context, req connection.UploadRequest) (models.OpResult, error) {
	var res models.OpResult
	var err error
	a.queues.Submit("FTP_UPLOAD", false, func() {
		res, err = a.uploadFile(ctx, req)
	})
	return res, err
}

func (a *Adapter) uploadFile(ctx context.Context, req connection.UploadRequest) (models.OpResult, error) {
	if req.Source == nil {
		return models.OpResult{Success: false, Message: "upload: source does not expose a readable byte stream"}, nil
	}

	dataConn, err := a.openPassiveData(ctx)
	if err != nil {
		return models.OpResult{Success: false, Message: err.Error()}, nil
	}

	target := req.TargetPath
	if target == "" {
		target = req.Filename
	}
	r, err := a.sendCommand("STOR " + target)
	if err != nil {
		dataConn.Close()
		return models.OpResult{Success: false, Message: err.Error()}, nil
	}
	if r.code != 150 && r.code != 125 {
		dataConn.Close()
		return models.OpResult{Success: false, Message: fmt.Sprintf("STOR rejected: %d %s", r.code, r.text)}, nil
	}

	buf := make([]byte, streamChunkSize)
	var written int64
	for {
		if isCancelled(req.Cancel) {
			dataConn.Close()
			return models.Cancelled, nil
		}
		n, rerr := req.Source.Read(buf)
		if n > 0 {
			if _, werr := dataConn.Write(buf[:n]); werr != nil {
				dataConn.Close()
				return models.OpResult{Success: false, Message: werr.Error()}, nil
			}
			written += int64(n)
			a.telem.RecordBytesSent(n)
			if req.OnProgress != nil {
				req.OnProgress(models.NewProgressInfo(uint64(written), uint64(req.FileSize), req.Filename, models.DirectionUpload, models.KindFTP))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			dataConn.Close()
			return models.OpResult{Success: false, Message: rerr.Error()}, nil
		}
	}
	dataConn.Close()

	resp, err := a.readReply()
	if err != nil {
		return models.OpResult{Success: false, Message: err.Error()}, nil
	}
	if resp.code != 226 && resp.code != 250 {
		return models.OpResult{Success: false, Message: fmt.Sprintf("STOR incomplete: %d %s", resp.code, resp.text)}, nil
	}
	return models.OpResult{Success: true, Message: "upload complete"}, nil
}

func (a *Adapter) DeleteFile(ctx context.Context, remotePath string) (models.OpResult, error) {
	var res models.OpResult
	var err error
	a.queues.Submit("FTP_DELETE", true, func() {
		res, err = a.deleteFile(remotePath)
	})
	return res, err
}

func (a *Adapter) deleteFile(remotePath string) (models.OpResult, error) {
	r, err := a.sendCommand("DELE " + remotePath)
	if err != nil {
		return models.OpResult{Success: false, Message: err.Error()}, nil
	}
	if r.code != 250 {
		return models.OpResult{Success: false, Message: fmt.Sprintf("%d %s", r.code, r.text)}, nil
	}
	return models.OpResult{Success: true}, nil
}

// RenameFile drives RNFR -> RNTO, transiting through WAIT_RENAME.
func (a *Adapter) RenameFile(ctx context.Context, oldPath, newPath string) (models.OpResult, error) {
	var res models.OpResult
	var err error
	a.queues.Submit("FTP_RENAME", true, func() {
		res, err = a.renameFile(oldPath, newPath)
	})
	return res, err
}

func (a *Adapter) renameFile(oldPath, newPath string) (models.OpResult, error) {
	r, err := a.sendCommand("RNFR " + oldPath)
	if err != nil {
		return models.OpResult{Success: false, Message: err.Error()}, nil
	}
	if r.code != 350 {
		return models.OpResult{Success: false, Message: fmt.Sprintf("RNFR rejected: %d %s", r.code, r.text)}, nil
	}

	a.mu.Lock()
	a.state = StateWaitRename
	a.mu.Unlock()

	r, err = a.sendCommand("RNTO " + newPath)
	a.mu.Lock()
	a.state = StateLoggedIn
	a.mu.Unlock()
	if err != nil {
		return models.OpResult{Success: false, Message: err.Error()}, nil
	}
	if r.code != 250 {
		return models.OpResult{Success: false, Message: fmt.Sprintf("RNTO rejected: %d %s", r.code, r.text)}, nil
	}
	return models.OpResult{Success: true}, nil
}

func (a *Adapter) CreateDirectory(ctx context.Context, dirPath string) (models.OpResult, error) {
	var res models.OpResult
	var err error
	a.queues.Submit("FTP_MKDIR", true, func() {
		res, err = a.createDirectory(dirPath)
	})
	return res, err
}

func (a *Adapter) createDirectory(dirPath string) (models.OpResult, error) {
	r, err := a.sendCommand("MKD " + dirPath)
	if err != nil {
		return models.OpResult{Success: false, Message: err.Error()}, nil
	}
	if r.code != 257 {
		return models.OpResult{Success: false, Message: fmt.Sprintf("%d %s", r.code, r.text)}, nil
	}
	return models.OpResult{Success: true}, nil
}
