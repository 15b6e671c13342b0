package chunkbuf

import (
	"bytes"
	"testing"
)

func TestNormalizeRawBytes(t *testing.T) {
	in := []byte{1, 2, 3}
	out, err := Normalize(in)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("got %v, want %v", out, in)
	}
	// Must be independently owned: mutating in must not mutate out.
	in[0] = 99
	if out[0] == 99 {
		t.Fatal("Normalize must copy, not alias, the input slice")
	}
}

func TestNormalizeBytesBuffer(t *testing.T) {
	buf := bytes.NewBufferString("hello")
	out, err := Normalize(buf)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("got %q, want %q", out, "hello")
	}
}

func TestNormalizeEnvelope(t *testing.T) {
	env := Envelope{Type: "Buffer", Data: []int{104, 105}}
	out, err := Normalize(env)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if string(out) != "hi" {
		t.Fatalf("got %q, want %q", out, "hi")
	}
}

func TestNormalizeEnvelopeRejectsOutOfRangeByte(t *testing.T) {
	env := Envelope{Data: []int{300}}
	if _, err := Normalize(env); err == nil {
		t.Fatal("expected error for out-of-range byte value")
	}
}

func TestNormalizePlainIntArray(t *testing.T) {
	out, err := Normalize([]int{1, 2, 3})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Fatalf("got %v", out)
	}
}

func TestNormalizeFixedSizeArray(t *testing.T) {
	var arr [4]byte
	arr[0], arr[1], arr[2], arr[3] = 10, 20, 30, 40
	out, err := Normalize(arr)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !bytes.Equal(out, []byte{10, 20, 30, 40}) {
		t.Fatalf("got %v", out)
	}
}

func TestNormalizeStringPrefersBase64Decode(t *testing.T) {
	// "aGVsbG8=" is the base64 encoding of "hello", the shape a []byte
	// field takes once it has crossed a real JSON bus.
	out, err := Normalize("aGVsbG8=")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("got %q, want %q", out, "hello")
	}
}

func TestNormalizeStringFallsBackWhenNotBase64(t *testing.T) {
	out, err := Normalize("not base64!!")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if string(out) != "not base64!!" {
		t.Fatalf("got %q, want %q", out, "not base64!!")
	}
}

func TestNormalizeRejectsUnsupportedType(t *testing.T) {
	if _, err := Normalize(42); err == nil {
		t.Fatal("expected error for unsupported payload type")
	}
}

func TestNormalizeAsyncMatchesSynchronous(t *testing.T) {
	in := []byte{7, 8, 9}
	res := <-NormalizeAsync(in)
	if res.Err != nil {
		t.Fatalf("NormalizeAsync: %v", res.Err)
	}
	if !bytes.Equal(res.Bytes, in) {
		t.Fatalf("got %v, want %v", res.Bytes, in)
	}
}
