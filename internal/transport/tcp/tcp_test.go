package tcp

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rdessert/filebridge/internal/connection"
	"github.com/rdessert/filebridge/pkg/frame"
	"github.com/rdessert/filebridge/pkg/models"
)

// fakeTCPServer speaks the frame/mux wire protocol directly over a real
// net.Listener, answering each command with the minimal JSON payload
// the adapter expects.
type fakeTCPServer struct {
	listener net.Listener

	fileContent []byte
	uploadSeen  [][]byte
	abortSeen   bool
}

func newFakeTCPServer(t *testing.T, content []byte) *fakeTCPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeTCPServer{listener: ln, fileContent: content}
	go s.acceptLoop()
	return s
}

func (s *fakeTCPServer) addr() (string, int) {
	a := s.listener.Addr().(*net.TCPAddr)
	return a.IP.String(), a.Port
}

func (s *fakeTCPServer) close() { s.listener.Close() }

func (s *fakeTCPServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *fakeTCPServer) write(conn net.Conn, cmd uint8, seq uint16, v any) {
	data, _ := json.Marshal(v)
	raw, _ := frame.Encode(&frame.Frame{Version: 1, Command: cmd, SequenceNumber: seq, Data: data})
	_, _ = conn.Write(raw)
}

func (s *fakeTCPServer) serve(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 0, 64*1024)
	tmp := make([]byte, 32*1024)

	downloadOffset := 0
	const downloadChunkSize = 4

	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				f, consumed, derr := frame.Decode(buf)
				if derr != nil {
					break
				}
				buf = buf[consumed:]

				switch f.Command {
				case frame.CmdConnect:
					s.write(conn, frame.CmdSuccess, f.SequenceNumber, map[string]any{
						"selectedFormat": "protobuf",
						"serverInfo":     map[string]any{"name": "fake", "version": "1"},
					})
				case frame.CmdListFiles:
					s.write(conn, frame.CmdSuccess, f.SequenceNumber, map[string]any{
						"files": []map[string]any{
							{"name": "c.bin", "path": "/a/c.bin", "type": "file", "size": len(s.fileContent)},
						},
					})
				case frame.CmdFileInfo:
					s.write(conn, frame.CmdSuccess, f.SequenceNumber, map[string]any{
						"name": "c.bin", "path": "/a/c.bin", "type": "file", "size": len(s.fileContent),
					})
				case frame.CmdDownloadFile:
					s.write(conn, frame.CmdSuccess, f.SequenceNumber, map[string]any{"data": s.fileContent})
				case frame.CmdDownloadReq:
					downloadOffset = 0
					s.write(conn, frame.CmdSuccess, f.SequenceNumber, map[string]any{
						"sessionId": "dl-1", "fileSize": len(s.fileContent),
					})
				case frame.CmdDownloadData:
					end := downloadOffset + downloadChunkSize
					final := false
					if end >= len(s.fileContent) {
						end = len(s.fileContent)
						final = true
					}
					chunk := s.fileContent[downloadOffset:end]
					downloadOffset = end
					s.write(conn, frame.CmdSuccess, f.SequenceNumber, map[string]any{
						"chunkIndex": 0, "data": chunk, "final": final,
					})
				case frame.CmdDownloadEnd:
					s.write(conn, frame.CmdSuccess, f.SequenceNumber, map[string]any{"message": "ok"})
				case frame.CmdUploadReq:
					s.write(conn, frame.CmdSuccess, f.SequenceNumber, map[string]any{
						"sessionId": "up-1", "acceptedChunkSize": 4,
					})
				case frame.CmdUploadData:
					var payload struct {
						Data []byte `json:"data"`
					}
					_ = json.Unmarshal(f.Data, &payload)
					s.uploadSeen = append(s.uploadSeen, payload.Data)
					s.write(conn, frame.CmdSuccess, f.SequenceNumber, map[string]any{"chunkIndex": len(s.uploadSeen) - 1})
				case frame.CmdUploadEnd:
					var payload struct {
						Abort bool `json:"abort"`
					}
					_ = json.Unmarshal(f.Data, &payload)
					if payload.Abort {
						s.abortSeen = true
					}
					s.write(conn, frame.CmdSuccess, f.SequenceNumber, map[string]any{"message": "ok"})
				case frame.CmdDeleteFile, frame.CmdRenameFile, frame.CmdCreateDir, frame.CmdDisconnect:
					s.write(conn, frame.CmdSuccess, f.SequenceNumber, map[string]any{"message": "ok"})
				default:
					s.write(conn, frame.CmdError, f.SequenceNumber, "unhandled command")
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func dialCfg(host string, port int) models.ConnectionConfig {
	return models.ConnectionConfig{Kind: models.KindTCP, Host: host, Port: port, Timeout: 5 * time.Second}
}

func TestConnectHandshake(t *testing.T) {
	srv := newFakeTCPServer(t, []byte("hello world"))
	defer srv.close()
	host, port := srv.addr()

	a := NewAdapter()
	ok, err := a.Connect(context.Background(), dialCfg(host, port))
	if err != nil || !ok {
		t.Fatalf("Connect failed: ok=%v err=%v", ok, err)
	}
	if a.Status() != connection.StatusConnected {
		t.Fatalf("expected connected status, got %s", a.Status())
	}
}

func TestListFilesAndFileInfo(t *testing.T) {
	srv := newFakeTCPServer(t, []byte("hello world"))
	defer srv.close()
	host, port := srv.addr()

	a := NewAdapter()
	if _, err := a.Connect(context.Background(), dialCfg(host, port)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	items, err := a.ListFiles(context.Background(), "/a")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(items) != 1 || items[0].Path != "/a/c.bin" {
		t.Fatalf("unexpected listing: %+v", items)
	}

	info, err := a.GetFileInfo(context.Background(), "/a/c.bin")
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if info.Size != uint64(len("hello world")) {
		t.Fatalf("unexpected size: %d", info.Size)
	}
}

func TestDownloadFileBlob(t *testing.T) {
	srv := newFakeTCPServer(t, []byte("hello world"))
	defer srv.close()
	host, port := srv.addr()

	a := NewAdapter()
	if _, err := a.Connect(context.Background(), dialCfg(host, port)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	data, err := a.DownloadFile(context.Background(), "/a/c.bin")
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestDownloadFileToPathChunked(t *testing.T) {
	content := []byte("0123456789abcdefghij") // 20 bytes, chunked 4 at a time
	srv := newFakeTCPServer(t, content)
	defer srv.close()
	host, port := srv.addr()

	a := NewAdapter()
	if _, err := a.Connect(context.Background(), dialCfg(host, port)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	target := t.TempDir() + "/out.bin"
	res, err := a.DownloadFileToPath(context.Background(), connection.DownloadToPathRequest{
		RemotePath: "/a/c.bin",
		TargetPath: target,
	})
	if err != nil || !res.Success {
		t.Fatalf("DownloadFileToPath failed: res=%+v err=%v", res, err)
	}
}

func TestUploadFileChunked(t *testing.T) {
	srv := newFakeTCPServer(t, nil)
	defer srv.close()
	host, port := srv.addr()

	a := NewAdapter()
	if _, err := a.Connect(context.Background(), dialCfg(host, port)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	data := []byte("0123456789") // 10 bytes / 4-byte accepted chunk = 3 chunks
	res, err := a.UploadFile(context.Background(), connection.UploadRequest{
		Source:   &byteReader{data: data},
		Filename: "thing.bin",
		FileSize: int64(len(data)),
	})
	if err != nil || !res.Success {
		t.Fatalf("UploadFile failed: res=%+v err=%v", res, err)
	}
	if len(srv.uploadSeen) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(srv.uploadSeen))
	}
}

func TestUploadFileCancelSendsAbort(t *testing.T) {
	srv := newFakeTCPServer(t, nil)
	defer srv.close()
	host, port := srv.addr()

	a := NewAdapter()
	if _, err := a.Connect(context.Background(), dialCfg(host, port)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	cancel := make(chan struct{})
	data := []byte("0123456789")
	go func() {
		time.Sleep(20 * time.Millisecond) // let at least the first chunk round-trip
		close(cancel)
	}()
	res, err := a.UploadFile(context.Background(), connection.UploadRequest{
		Source:   &byteReader{data: data},
		Filename: "thing.bin",
		FileSize: int64(len(data)),
		Cancel:   cancel,
	})
	if err != nil {
		t.Fatalf("UploadFile returned error: %v", err)
	}
	if res != models.Cancelled {
		t.Fatalf("expected Cancelled result, got %+v", res)
	}

	// abortBestEffort fires on its own goroutine; give it a moment to land.
	time.Sleep(50 * time.Millisecond)
	if !srv.abortSeen {
		t.Fatal("expected server to observe an abort")
	}
}

func TestDeleteRenameAndMkdir(t *testing.T) {
	srv := newFakeTCPServer(t, nil)
	defer srv.close()
	host, port := srv.addr()

	a := NewAdapter()
	if _, err := a.Connect(context.Background(), dialCfg(host, port)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if res, err := a.DeleteFile(context.Background(), "/a/c.bin"); err != nil || !res.Success {
		t.Fatalf("DeleteFile: res=%+v err=%v", res, err)
	}
	if res, err := a.RenameFile(context.Background(), "/a/old.bin", "/a/new.bin"); err != nil || !res.Success {
		t.Fatalf("RenameFile: res=%+v err=%v", res, err)
	}
	if res, err := a.CreateDirectory(context.Background(), "/a/newdir"); err != nil || !res.Success {
		t.Fatalf("CreateDirectory: res=%+v err=%v", res, err)
	}
}

// byteReader is a minimal connection.ReadSeeker over an in-memory slice.
type byteReader struct {
	data []byte
	pos  int
}

func (b *byteReader) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}
