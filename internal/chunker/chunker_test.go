package chunker

import "testing"

func TestClampSize(t *testing.T) {
	c := &Config{MinChunkSize: 1024, MaxChunkSize: 4096, DefaultChunkSize: 2048}

	if got := c.ClampSize(0); got != 2048 {
		t.Fatalf("ClampSize(0) = %d, want 2048", got)
	}
	if got := c.ClampSize(100); got != 1024 {
		t.Fatalf("ClampSize(100) = %d, want 1024 (clamped to min)", got)
	}
	if got := c.ClampSize(1_000_000); got != 4096 {
		t.Fatalf("ClampSize(1000000) = %d, want 4096 (clamped to max)", got)
	}
	if got := c.ClampSize(3000); got != 3000 {
		t.Fatalf("ClampSize(3000) = %d, want 3000 (unchanged)", got)
	}
}

func TestChooseRequestSizeOverrideWins(t *testing.T) {
	c := &Config{}
	if got := c.ChooseRequestSize(5*1024*1024, 100*1024*1024); got != 5*1024*1024 {
		t.Fatalf("override should win, got %d", got)
	}
}

func TestChooseRequestSizeScalesWithFileSize(t *testing.T) {
	c := &Config{}
	small := c.ChooseRequestSize(0, 1024)
	large := c.ChooseRequestSize(0, 10*1024*1024*1024)
	if small >= large {
		t.Fatalf("expected larger files to choose larger chunk sizes: small=%d large=%d", small, large)
	}
}

func TestAdaptiveTimeoutsBounds(t *testing.T) {
	tiny := AdaptiveTimeouts(1, 1)
	if tiny.Handshake != handshakeFloor {
		t.Fatalf("tiny file handshake = %v, want floor %v", tiny.Handshake, handshakeFloor)
	}
	if tiny.Finish != adaptiveFloor {
		t.Fatalf("tiny file finish = %v, want floor %v", tiny.Finish, adaptiveFloor)
	}

	huge := AdaptiveTimeouts(100*1024*1024*1024, 1000)
	if huge.Finish != adaptiveCeil {
		t.Fatalf("huge file finish = %v, want ceiling %v", huge.Finish, adaptiveCeil)
	}
	if huge.PerChunk < perChunkFloor || huge.PerChunk > huge.Finish {
		t.Fatalf("perChunk %v out of bounds [%v, %v]", huge.PerChunk, perChunkFloor, huge.Finish)
	}
}

func TestAdaptiveTimeoutsPerChunkScalesDown(t *testing.T) {
	few := AdaptiveTimeouts(500*1024*1024, 5)
	many := AdaptiveTimeouts(500*1024*1024, 500)
	if many.PerChunk > few.PerChunk {
		t.Fatalf("more chunks should mean a smaller (or floor-clamped) per-chunk timeout: few=%v many=%v", few.PerChunk, many.PerChunk)
	}
}
