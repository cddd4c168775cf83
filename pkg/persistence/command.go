package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Command is a single logged mutation: a name plus positional byte arguments.
// The encoding inside a frame payload is
// [NameLen(1)][Name][Argc(1)] followed by Argc repetitions of
// [ArgLen(4, little endian)][Arg].
type Command struct {
	Name string
	Args [][]byte
}

// ErrMalformedCommand indicates a frame payload that does not decode as a
// command. The surrounding frame checksum was valid, so this points at a
// writer bug or a version mismatch rather than disk corruption.
var ErrMalformedCommand = errors.New("malformed command payload")

// EncodeCommand serializes a command into a frame payload.
func EncodeCommand(cmd Command) []byte {
	size := 2 + len(cmd.Name)
	for _, arg := range cmd.Args {
		size += 4 + len(arg)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, byte(len(cmd.Name)))
	buf = append(buf, cmd.Name...)
	buf = append(buf, byte(len(cmd.Args)))
	for _, arg := range cmd.Args {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(arg)))
		buf = append(buf, arg...)
	}
	return buf
}

// DecodeCommand parses a frame payload produced by EncodeCommand.
func DecodeCommand(payload []byte) (Command, error) {
	if len(payload) < 2 {
		return Command{}, ErrMalformedCommand
	}
	nameLen := int(payload[0])
	if len(payload) < 1+nameLen+1 {
		return Command{}, ErrMalformedCommand
	}
	cmd := Command{Name: string(payload[1 : 1+nameLen])}

	argc := int(payload[1+nameLen])
	rest := payload[2+nameLen:]
	cmd.Args = make([][]byte, 0, argc)
	for i := 0; i < argc; i++ {
		if len(rest) < 4 {
			return Command{}, ErrMalformedCommand
		}
		argLen := int(binary.LittleEndian.Uint32(rest[:4]))
		rest = rest[4:]
		if len(rest) < argLen {
			return Command{}, ErrMalformedCommand
		}
		cmd.Args = append(cmd.Args, rest[:argLen:argLen])
		rest = rest[argLen:]
	}
	if len(rest) != 0 {
		return Command{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedCommand, len(rest))
	}
	return cmd, nil
}

// CommandReader streams commands back out of an AOF.
type CommandReader struct {
	r *bufio.Reader
}

// NewCommandReader wraps a raw AOF stream.
func NewCommandReader(r io.Reader) *CommandReader {
	return &CommandReader{r: bufio.NewReader(r)}
}

// Next returns the next logged command. It reports io.EOF at a clean end of
// file and ErrIncompleteFrame when the file ends mid-frame.
func (cr *CommandReader) Next() (Command, error) {
	payload, _, err := ReadFrame(cr.r)
	if err != nil {
		return Command{}, err
	}
	return DecodeCommand(payload)
}
