// Package persistence implements the on-disk write-ahead log for quiver.
//
// Every mutation is appended to an AOF (Append-Only File) as a binary frame
// carrying one encoded command. Frames are checksummed so that a torn write
// at the tail of the file can be detected and discarded on recovery.
package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Constants for the AOF binary framing.
const (
	// MagicByte marks the start of a frame. Recovery can scan for it when
	// resynchronizing after corruption.
	MagicByte = 0xA5

	// HeaderSize is the fixed frame metadata size:
	// 1 byte (Magic) + 1 byte (OpCode) + 4 bytes (Length) + 4 bytes (CRC32).
	HeaderSize = 10

	// OpCodeCommand identifies a frame whose payload is an encoded command.
	OpCodeCommand = 0x01
)

var (
	// ErrInvalidMagic indicates the stream lost synchronization or the file
	// is not a valid AOF.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates corruption within the frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the file ended mid-frame, typically after
	// a crash during a write.
	ErrIncompleteFrame = errors.New("incomplete frame")
)

// FrameWriter writes length-prefixed, checksummed frames to an io.Writer.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter wraps an underlying io.Writer. For file targets the writer
// should be buffered so header and payload land in a single syscall.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame encodes the payload as a frame and writes it.
// Frame layout: [Magic(1)][OpCode(1)][Length(4)][CRC(4)][Payload(N)],
// with Length and CRC in little endian.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	header := make([]byte, HeaderSize)
	header[0] = MagicByte
	header[1] = OpCodeCommand
	binary.LittleEndian.PutUint32(header[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[6:10], crc32.ChecksumIEEE(payload))

	if _, err := fw.w.Write(header); err != nil {
		return err
	}
	_, err := fw.w.Write(payload)
	return err
}

// ReadFrame reads the next frame, validating the magic byte and checksum.
// It returns the payload, the total bytes consumed, and an error. A clean
// end of stream is reported as io.EOF; a partial frame at the tail as
// ErrIncompleteFrame.
func ReadFrame(r io.Reader) ([]byte, int, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		return nil, 0, ErrIncompleteFrame
	}

	if header[0] != MagicByte {
		return nil, HeaderSize, ErrInvalidMagic
	}

	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, HeaderSize, ErrIncompleteFrame
	}

	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return nil, HeaderSize + int(length), ErrChecksumMismatch
	}
	return payload, HeaderSize + int(length), nil
}
