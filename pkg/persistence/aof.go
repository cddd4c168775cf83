package persistence

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// AOFWriter manages appends to the Append-Only File. Commands are framed
// (see frame.go) and buffered through bufio so a frame header and payload
// reach the kernel in one write.
type AOFWriter struct {
	mu    sync.Mutex
	file  *os.File
	buf   *bufio.Writer
	frame *FrameWriter
	path  string
}

// NewAOFWriter opens or creates an AOF file at the given path.
func NewAOFWriter(path string) (*AOFWriter, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open AOF file: %w", err)
	}

	buf := bufio.NewWriter(file)
	return &AOFWriter{
		file:  file,
		buf:   buf,
		frame: NewFrameWriter(buf),
		path:  path,
	}, nil
}

// WriteCommand appends one command as a checksummed frame.
func (a *AOFWriter) WriteCommand(cmd Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frame.WriteFrame(EncodeCommand(cmd))
}

// Flush forces the buffer contents down to the os file descriptor.
func (a *AOFWriter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Flush()
}

// Sync forces a flush followed by fsync.
func (a *AOFWriter) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.buf.Flush(); err != nil {
		return err
	}
	return a.file.Sync()
}

// Close flushes pending data and closes the underlying file.
func (a *AOFWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.buf.Flush(); err != nil {
		_ = a.file.Close()
		return err
	}
	return a.file.Close()
}

// Truncate clears the file content. Used after a snapshot makes the logged
// history redundant.
func (a *AOFWriter) Truncate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf.Reset(a.file)
	if err := a.file.Truncate(0); err != nil {
		return err
	}
	_, err := a.file.Seek(0, 0)
	return err
}

// Path returns the file path.
func (a *AOFWriter) Path() string {
	return a.path
}

// File returns the underlying OS file, for Stat and similar read-only uses.
func (a *AOFWriter) File() *os.File {
	return a.file
}

// ReplaceWith atomically swaps in a rewritten AOF file and reopens it.
func (a *AOFWriter) ReplaceWith(newFilePath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_ = a.buf.Flush()
	_ = a.file.Close()

	if err := os.Rename(newFilePath, a.path); err != nil {
		return fmt.Errorf("failed to replace AOF file: %w", err)
	}

	file, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return fmt.Errorf("failed to reopen AOF file after replace: %w", err)
	}
	a.file = file
	a.buf.Reset(file)
	return nil
}
