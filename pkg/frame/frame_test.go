package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := &Frame{
		Version:        1,
		Command:        CmdUploadData,
		Format:         FormatProtobuf,
		SequenceNumber: 42,
		Data:           []byte("hello chunk"),
	}

	raw, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, n, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(raw) {
		t.Fatalf("expected to consume %d bytes, consumed %d", len(raw), n)
	}
	if got.Version != f.Version || got.Command != f.Command || got.SequenceNumber != f.SequenceNumber {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, f)
	}
	if !bytes.Equal(got.Data, f.Data) {
		t.Fatalf("payload mismatch: got %q, want %q", got.Data, f.Data)
	}
}

func TestEncodeDefaultsFormatToProtobuf(t *testing.T) {
	raw, err := Encode(&Frame{Command: CmdPing})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, _, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Format != FormatProtobuf {
		t.Fatalf("expected default format %#x, got %#x", FormatProtobuf, got.Format)
	}
}

func TestDecodeIncompleteFrame(t *testing.T) {
	raw, err := Encode(&Frame{Command: CmdListFiles, Data: []byte("path=/a/b")})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for n := 0; n < len(raw); n++ {
		_, _, err := Decode(raw[:n])
		if !errors.Is(err, ErrIncomplete) {
			t.Fatalf("Decode(partial %d/%d bytes) = %v, want ErrIncomplete", n, len(raw), err)
		}
	}
}

func TestDecodeBadMagic(t *testing.T) {
	raw, _ := Encode(&Frame{Command: CmdPing})
	raw[0] ^= 0xFF
	if _, _, err := Decode(raw); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for bad magic, got %v", err)
	}
}

func TestDecodeBadTrailer(t *testing.T) {
	raw, _ := Encode(&Frame{Command: CmdPing})
	raw[len(raw)-1] ^= 0xFF
	if _, _, err := Decode(raw); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for bad trailer, got %v", err)
	}
}

// TestCorruptedChecksumDetected is end-to-end scenario 4 from spec.md §8:
// a well-formed frame with the CRC flipped by one bit must be rejected.
func TestCorruptedChecksumDetected(t *testing.T) {
	raw, err := Encode(&Frame{
		Version:        1,
		Command:        CmdUploadData,
		SequenceNumber: 7,
		Data:           []byte("payload bytes for crc test"),
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	checksumIdx := len(raw) - 3 // checksum sits right before the 2-byte trailer
	raw[checksumIdx] ^= 0x01    // single bit flip

	if _, _, err := Decode(raw); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for corrupted checksum, got %v", err)
	}
}

// TestBitFlipDetectionRate is Testable Property 6: any bit flip in
// header or body is caught by CRC-8 with probability > 99%.
func TestBitFlipDetectionRate(t *testing.T) {
	raw, err := Encode(&Frame{
		Version:        3,
		Command:        CmdDownloadData,
		SequenceNumber: 1000,
		Data:           bytes.Repeat([]byte{0xAB, 0xCD, 0x12, 0x34}, 64),
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Flip every single bit in the header+data region (excludes magic,
	// checksum, and trailer, which are structurally validated separately)
	// and confirm each flip is caught.
	region := raw[2 : len(raw)-3]
	total := 0
	caught := 0
	for i := range region {
		for bit := 0; bit < 8; bit++ {
			corrupted := make([]byte, len(raw))
			copy(corrupted, raw)
			corrupted[2+i] ^= 1 << bit
			total++
			if _, _, err := Decode(corrupted); errors.Is(err, ErrCorrupt) {
				caught++
			}
		}
	}

	rate := float64(caught) / float64(total)
	if rate <= 0.99 {
		t.Fatalf("CRC-8 detection rate too low: %d/%d (%.4f)", caught, total, rate)
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(&Frame{Command: CmdUploadData, Data: make([]byte, MaxFrameBody+1)})
	if err == nil {
		t.Fatalf("expected error for oversized payload")
	}
}

func TestDecodeMultipleFramesFromStream(t *testing.T) {
	var stream []byte
	want := []uint16{1, 2, 3}
	for _, seq := range want {
		raw, err := Encode(&Frame{Command: CmdPing, SequenceNumber: seq})
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		stream = append(stream, raw...)
	}

	var got []uint16
	for len(stream) > 0 {
		f, n, err := Decode(stream)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		got = append(got, f.SequenceNumber)
		stream = stream[n:]
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d: got seq %d, want %d", i, got[i], want[i])
		}
	}
}
