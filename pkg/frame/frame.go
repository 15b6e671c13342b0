// Package frame implements the custom TCP frame codec (spec.md §4.1):
// a length-prefixed, CRC-8 checksummed frame used to multiplex the
// filebridge wire protocol over a single TCP connection.
//
// Wire layout (little-endian):
//
//	magic          uint16 = 0xAA55
//	version        uint8
//	command        uint8
//	format         uint8 = 0x02 (protobuf)
//	sequenceNumber uint16
//	dataLength     uint16
//	data           [dataLength]byte
//	checksum       uint8  // CRC-8 of version||command||format||sequenceNumber||dataLength||data
//	trailer        uint16 = 0x55AA
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Magic   uint16 = 0xAA55
	Trailer uint16 = 0x55AA

	// FormatProtobuf is the only wire format defined by the source; the
	// client treats the payload as opaque bytes regardless.
	FormatProtobuf uint8 = 0x02

	// MaxFrameBody bounds dataLength to guard against a corrupt length
	// prefix requesting an unbounded allocation.
	MaxFrameBody = 8 * 1024 * 1024

	// headerSize covers everything between magic and the payload:
	// version(1) + command(1) + format(1) + sequenceNumber(2) + dataLength(2).
	headerSize = 1 + 1 + 1 + 2 + 2
	// frameOverhead is every byte that isn't payload: magic + header + checksum + trailer.
	frameOverhead = 2 + headerSize + 1 + 2
)

// ErrIncomplete is returned by Decode when buf does not yet contain a
// complete frame; the caller should read more bytes and retry.
var ErrIncomplete = errors.New("frame: need more bytes")

// ErrCorrupt wraps any protocol-level decode failure: bad magic, bad
// trailer, an out-of-bounds length, or a checksum mismatch. It is fatal
// to the current connection per spec.md §7 (ProtocolError).
var ErrCorrupt = errors.New("frame: corrupt frame")

// Frame is the in-memory representation of a single TCP protocol unit.
type Frame struct {
	Version        uint8
	Command        uint8
	Format         uint8
	SequenceNumber uint16
	Data           []byte
}

// Encode assembles the header, payload and CRC-8 checksum into wire bytes.
func Encode(f *Frame) ([]byte, error) {
	if len(f.Data) > MaxFrameBody {
		return nil, fmt.Errorf("frame: payload of %d bytes exceeds max %d", len(f.Data), MaxFrameBody)
	}

	format := f.Format
	if format == 0 {
		format = FormatProtobuf
	}

	buf := make([]byte, 0, frameOverhead+len(f.Data))
	buf = binary.LittleEndian.AppendUint16(buf, Magic)
	buf = append(buf, f.Version, f.Command, format)
	buf = binary.LittleEndian.AppendUint16(buf, f.SequenceNumber)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f.Data)))
	buf = append(buf, f.Data...)

	checksum := CRC8(buf[2:]) // over header+data, excluding magic
	buf = append(buf, checksum)
	buf = binary.LittleEndian.AppendUint16(buf, Trailer)
	return buf, nil
}

// Decode parses a single frame from the front of buf. On success it
// returns the frame and the number of bytes consumed. If buf does not
// yet hold a complete frame, it returns ErrIncomplete and the caller
// should read more and retry with a larger buffer — Decode never
// retains a reference into buf's backing array for partial input.
func Decode(buf []byte) (*Frame, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrIncomplete
	}
	magic := binary.LittleEndian.Uint16(buf[0:2])
	if magic != Magic {
		return nil, 0, fmt.Errorf("%w: bad magic %#x", ErrCorrupt, magic)
	}
	if len(buf) < 2+headerSize {
		return nil, 0, ErrIncomplete
	}

	version := buf[2]
	command := buf[3]
	format := buf[4]
	seq := binary.LittleEndian.Uint16(buf[5:7])
	dataLen := binary.LittleEndian.Uint16(buf[7:9])

	if int(dataLen) > MaxFrameBody {
		return nil, 0, fmt.Errorf("%w: dataLength %d exceeds max %d", ErrCorrupt, dataLen, MaxFrameBody)
	}

	total := 2 + headerSize + int(dataLen) + 1 + 2
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}

	data := buf[2+headerSize : 2+headerSize+int(dataLen)]
	checksum := buf[2+headerSize+int(dataLen)]
	trailer := binary.LittleEndian.Uint16(buf[total-2 : total])

	if trailer != Trailer {
		return nil, 0, fmt.Errorf("%w: bad trailer %#x", ErrCorrupt, trailer)
	}

	want := CRC8(buf[2 : 2+headerSize+int(dataLen)])
	if checksum != want {
		return nil, 0, fmt.Errorf("%w: checksum mismatch (got %#x, want %#x)", ErrCorrupt, checksum, want)
	}

	owned := make([]byte, dataLen)
	copy(owned, data)

	return &Frame{
		Version:        version,
		Command:        command,
		Format:         format,
		SequenceNumber: seq,
		Data:           owned,
	}, total, nil
}
