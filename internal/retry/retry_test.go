package retry

import (
	"errors"
	"testing"
	"time"
)

func TestShouldRetryRespectsMaxRetries(t *testing.T) {
	m := New()
	m.MaxRetries = 3
	if !m.ShouldRetry(0, errors.New("x")) {
		t.Fatal("attempt 0 should be retryable")
	}
	if m.ShouldRetry(3, errors.New("x")) {
		t.Fatal("attempt == MaxRetries should not be retryable")
	}
}

func TestNextBackoffGrowsAndCapsAtMax(t *testing.T) {
	m := New()
	m.JitterFactor = 0
	m.MaxBackoff = 2 * time.Second

	b1 := m.NextBackoff(1, 0)
	b5 := m.NextBackoff(5, 0)
	if b5 < b1 {
		t.Fatalf("expected backoff to grow with attempt count: b1=%v b5=%v", b1, b5)
	}
	if b5 > m.MaxBackoff {
		t.Fatalf("backoff %v exceeds MaxBackoff %v", b5, m.MaxBackoff)
	}
}

func TestNextBackoffNeverShorterThanRTT(t *testing.T) {
	m := New()
	m.JitterFactor = 0
	rtt := 5 * time.Second
	if got := m.NextBackoff(1, rtt); got < rtt {
		t.Fatalf("backoff %v should never be shorter than RTT %v", got, rtt)
	}
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	m := New()
	m.MaxRetries = 2
	id := "tcp:example.com:21"

	if m.CircuitStateFor(id) != CircuitClosed {
		t.Fatal("unknown id should start closed")
	}
	for i := 0; i < 3; i++ {
		m.RecordFailure(id, errors.New("boom"))
	}
	if m.CircuitStateFor(id) != CircuitOpen {
		t.Fatal("expected circuit to open after exceeding MaxRetries failures")
	}

	m.RecordSuccess(id)
	if m.CircuitStateFor(id) != CircuitClosed {
		t.Fatal("expected success to close the circuit again")
	}
}
