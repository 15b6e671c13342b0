package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/rdessert/filebridge/internal/bus"
	"github.com/rdessert/filebridge/internal/connection"
	"github.com/rdessert/filebridge/internal/wireutil"
	"github.com/rdessert/filebridge/pkg/models"
)

var upgrader = websocket.Upgrader{}

// fakeStreamServer answers the reachability probe and, on
// /api/files/stream, upgrades to a websocket that speaks the bridge
// wire protocol directly (spec.md §6 command/data shapes), the way a
// server offering a richer streaming transport would.
type fakeStreamServer struct {
	mu         sync.Mutex
	chunksSeen int
	finishSeen bool
}

func (s *fakeStreamServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/files/info", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/files/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go s.serve(conn)
	})
	return mux
}

func (s *fakeStreamServer) serve(conn *websocket.Conn) {
	defer conn.Close()
	for {
		var msg bus.OutboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch {
		case strings.HasSuffix(msg.Command, ".streamUpload.start"):
			_ = conn.WriteJSON(bus.InboundMessage{
				RequestID: msg.RequestID, Success: true,
				Data: map[string]any{"sessionId": "ws-sess-1", "acceptedChunkSize": 4},
			})
		case strings.HasSuffix(msg.Command, ".streamUpload.chunk"):
			var p struct {
				ChunkIndex int `json:"chunkIndex"`
			}
			_ = wireutil.DecodeInto(msg.Data, &p)
			s.mu.Lock()
			s.chunksSeen++
			s.mu.Unlock()
			_ = conn.WriteJSON(bus.InboundMessage{
				RequestID: msg.RequestID, Success: true,
				Data: map[string]any{"chunkIndex": p.ChunkIndex},
			})
		case strings.HasSuffix(msg.Command, ".streamUpload.finish"):
			s.mu.Lock()
			s.finishSeen = true
			s.mu.Unlock()
			_ = conn.WriteJSON(bus.InboundMessage{RequestID: msg.RequestID, Success: true, Data: map[string]any{"message": "ok"}})
		case strings.HasSuffix(msg.Command, ".streamUpload.abort"):
			_ = conn.WriteJSON(bus.InboundMessage{RequestID: msg.RequestID, Success: true})
		}
	}
}

func wsTestCfg(t *testing.T, serverURL string) models.ConnectionConfig {
	t.Helper()
	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	host, portStr := u.Hostname(), u.Port()
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return models.ConnectionConfig{Kind: models.KindHTTP, Host: host, Port: port, Protocol: "http"}
}

func TestUploadFileRidesWebSocketStreamWhenAvailable(t *testing.T) {
	fake := &fakeStreamServer{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	a := NewAdapter(nil, false)
	if _, err := a.Connect(context.Background(), wsTestCfg(t, srv.URL)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	a.streamMu.Lock()
	ready := a.upEngine != nil
	a.streamMu.Unlock()
	if !ready {
		t.Fatal("expected Connect to establish a websocket streaming channel")
	}

	data := []byte("0123456789") // 10 bytes / 4-byte accepted chunk = 3 chunks
	res, err := a.UploadFile(context.Background(), connection.UploadRequest{
		Source:   &byteReader{data: data},
		Filename: "thing.bin",
		FileSize: int64(len(data)),
	})
	if err != nil || !res.Success {
		t.Fatalf("UploadFile over websocket stream failed: res=%+v err=%v", res, err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.chunksSeen != 3 {
		t.Fatalf("expected 3 chunks, got %d", fake.chunksSeen)
	}
	if !fake.finishSeen {
		t.Fatal("expected finish to be sent")
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
