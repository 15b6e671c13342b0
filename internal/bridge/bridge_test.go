package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rdessert/filebridge/internal/bus"
	"github.com/rdessert/filebridge/pkg/models"
)

func TestSendResolvesOnTerminalResponse(t *testing.T) {
	a, worker := bus.NewChannelPair(4)
	br := New(a)
	defer br.Close()

	go func() {
		msg := <-worker.Recv()
		_ = worker.SendInbound(context.Background(), bus.InboundMessage{
			Command: "backendResponse", RequestID: msg.RequestID, Success: true, Data: "ok",
		})
	}()

	resp, err := br.Send(context.Background(), models.Request{RequestID: "r1", Command: "backend.tcp.listFiles", TimeoutMs: 1000})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Success || resp.Data != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestProgressRefreshesIdleTimerAndDoesNotResolve(t *testing.T) {
	a, worker := bus.NewChannelPair(4)
	br := New(a)
	defer br.Close()

	var progressCount int
	var mu sync.Mutex

	go func() {
		msg := <-worker.Recv()
		for i := 0; i < 3; i++ {
			_ = worker.SendInbound(context.Background(), bus.InboundMessage{
				RequestID: msg.RequestID,
				Progress:  &models.ProgressInfo{Loaded: uint64(i * 10), Total: 100, Percent: i * 10},
			})
			time.Sleep(10 * time.Millisecond)
		}
		_ = worker.SendInbound(context.Background(), bus.InboundMessage{RequestID: msg.RequestID, Success: true})
	}()

	resp, err := br.Send(context.Background(), models.Request{
		RequestID: "r2", Command: "backend.tcp.downloadFile", TimeoutMs: 5000,
		OnProgress: func(p models.ProgressInfo) {
			mu.Lock()
			progressCount++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success response, got %+v", resp)
	}
	mu.Lock()
	defer mu.Unlock()
	if progressCount != 3 {
		t.Fatalf("expected 3 progress callbacks, got %d", progressCount)
	}
}

func TestSendTimesOutWithoutActivity(t *testing.T) {
	a, _ := bus.NewChannelPair(4)
	br := New(a)
	defer br.Close()

	resp, err := br.Send(context.Background(), models.Request{RequestID: "r3", Command: "backend.tcp.ping", TimeoutMs: 30})
	if err != nil {
		t.Fatalf("Send should resolve with a timeout response, not an error: %v", err)
	}
	if resp.Success || resp.Error != "request timeout" {
		t.Fatalf("expected timeout response, got %+v", resp)
	}
}

func TestCancelResolvesPendingRequest(t *testing.T) {
	a, _ := bus.NewChannelPair(4)
	br := New(a)
	defer br.Close()

	var resp models.BackendResponse
	var err error
	done := make(chan struct{})
	go func() {
		resp, err = br.Send(context.Background(), models.Request{RequestID: "r4", Command: "backend.tcp.uploadFile", TimeoutMs: 10000})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	br.Cancel("r4")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Cancel did not resolve the pending Send")
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Success || resp.Message != "operation cancelled" {
		t.Fatalf("expected cancelled response, got %+v", resp)
	}
}

func TestProgressForUnknownRequestIDIsDropped(t *testing.T) {
	a, worker := bus.NewChannelPair(4)
	br := New(a)
	defer br.Close()

	// No Send has been issued, so "unknown" has no pending entry; this
	// must not panic and must not crash the dispatch loop.
	_ = worker.SendInbound(context.Background(), bus.InboundMessage{
		RequestID: "unknown",
		Progress:  &models.ProgressInfo{Loaded: 1, Total: 1, Percent: 100},
	})

	go func() {
		msg := <-worker.Recv()
		_ = worker.SendInbound(context.Background(), bus.InboundMessage{RequestID: msg.RequestID, Success: true})
	}()
	resp, err := br.Send(context.Background(), models.Request{RequestID: "r5", Command: "backend.tcp.ping", TimeoutMs: 1000})
	if err != nil || !resp.Success {
		t.Fatalf("bridge should still function after a dropped unknown-id progress event: resp=%+v err=%v", resp, err)
	}
}

func TestSanitizeStripsNonSerialisableAndPreservesPlainData(t *testing.T) {
	if got := sanitize(map[string]any{"path": "/a/b"}); got == nil {
		t.Fatal("expected plain map to survive sanitize")
	}
	if got := sanitize(make(chan int)); got != nil {
		t.Fatalf("expected non-serialisable value to be dropped, got %v", got)
	}
}
