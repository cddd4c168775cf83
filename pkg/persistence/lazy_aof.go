package persistence

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// LazyAOFWriter batches AOF appends instead of flushing on every write.
// Commands accumulate in memory and are flushed on a timer or when the
// buffer fills, with a periodic fsync bounding the crash-loss window.
//
// Durability: flushes every flushInterval (default 100ms) or maxBufferSize
// entries (default 1000), fsyncs every forceSyncInterval (default 1s), and
// Close drains everything. Worst case, a crash loses about one second of
// writes.
type LazyAOFWriter struct {
	underlying *AOFWriter

	// buffer holds commands awaiting a flush, guarded by mu.
	buffer []Command
	mu     sync.Mutex

	flushTicker *time.Ticker
	syncTicker  *time.Ticker
	stopCh      chan struct{}
	stopped     bool

	flushInterval     time.Duration
	forceSyncInterval time.Duration
	maxBufferSize     int
}

// Default tuning for LazyAOFWriter.
const (
	// DefaultLazyFlushInterval is the time between buffer flushes to the OS.
	DefaultLazyFlushInterval = 100 * time.Millisecond

	// DefaultForceSyncInterval is the time between forced fsync calls,
	// which bounds data loss after a crash to roughly this window.
	DefaultForceSyncInterval = 1 * time.Second

	// DefaultMaxBufferSize is the buffered entry count that triggers an
	// immediate flush.
	DefaultMaxBufferSize = 1000
)

// NewLazyAOFWriter wraps an AOFWriter with default batching parameters.
// The underlying writer should not be used directly afterwards.
func NewLazyAOFWriter(underlying *AOFWriter) *LazyAOFWriter {
	return NewLazyAOFWriterWithConfig(
		underlying,
		DefaultLazyFlushInterval,
		DefaultForceSyncInterval,
		DefaultMaxBufferSize,
	)
}

// NewLazyAOFWriterWithConfig wraps an AOFWriter with explicit batching
// parameters, for tuning the durability versus throughput trade-off.
func NewLazyAOFWriterWithConfig(
	underlying *AOFWriter,
	flushInterval time.Duration,
	forceSyncInterval time.Duration,
	maxBufferSize int,
) *LazyAOFWriter {
	lw := &LazyAOFWriter{
		underlying:        underlying,
		buffer:            make([]Command, 0, maxBufferSize),
		flushInterval:     flushInterval,
		forceSyncInterval: forceSyncInterval,
		maxBufferSize:     maxBufferSize,
		stopCh:            make(chan struct{}),
	}

	lw.flushTicker = time.NewTicker(flushInterval)
	go lw.flushRoutine()

	lw.syncTicker = time.NewTicker(forceSyncInterval)
	go lw.syncRoutine()

	slog.Info("LazyAOFWriter initialized",
		"flush_interval", flushInterval,
		"sync_interval", forceSyncInterval,
		"max_buffer_size", maxBufferSize,
	)

	return lw
}

// WriteCommand queues a command for the next flush. It returns immediately;
// the disk write happens in the background. A full buffer triggers an
// immediate flush.
func (lw *LazyAOFWriter) WriteCommand(cmd Command) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.stopped {
		return fmt.Errorf("cannot write to closed LazyAOFWriter")
	}

	lw.buffer = append(lw.buffer, cmd)
	if len(lw.buffer) >= lw.maxBufferSize {
		go func() {
			if err := lw.Flush(); err != nil {
				slog.Error("overflow flush failed", "error", err)
			}
		}()
	}
	return nil
}

// Flush writes all buffered commands through to the underlying AOF writer.
// This reaches the OS buffer, not necessarily the disk; use Sync for that.
func (lw *LazyAOFWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.flushUnlocked()
}

// flushUnlocked drains the buffer. Caller must hold mu.
func (lw *LazyAOFWriter) flushUnlocked() error {
	if len(lw.buffer) == 0 {
		return nil
	}

	for _, cmd := range lw.buffer {
		if err := lw.underlying.WriteCommand(cmd); err != nil {
			return fmt.Errorf("failed to write to AOF: %w", err)
		}
	}
	if err := lw.underlying.Flush(); err != nil {
		return fmt.Errorf("failed to flush AOF buffer: %w", err)
	}

	lw.buffer = lw.buffer[:0]
	return nil
}

// Sync flushes pending commands and forces an fsync.
func (lw *LazyAOFWriter) Sync() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		return err
	}
	return lw.underlying.Sync()
}

// Close stops the background routines, drains the buffer, and closes the
// file. No writes are accepted afterwards.
func (lw *LazyAOFWriter) Close() error {
	lw.mu.Lock()
	if lw.stopped {
		lw.mu.Unlock()
		return fmt.Errorf("LazyAOFWriter already closed")
	}
	lw.stopped = true
	lw.mu.Unlock()

	close(lw.stopCh)
	lw.flushTicker.Stop()
	lw.syncTicker.Stop()

	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		slog.Error("Failed to flush during Close", "error", err)
		// Still close the underlying file.
	}
	return lw.underlying.Close()
}

// Path returns the file path of the underlying AOF writer.
func (lw *LazyAOFWriter) Path() string {
	return lw.underlying.Path()
}

// File returns the underlying OS file.
func (lw *LazyAOFWriter) File() *os.File {
	return lw.underlying.File()
}

// Truncate flushes pending commands, then clears the file content.
func (lw *LazyAOFWriter) Truncate() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		return err
	}
	return lw.underlying.Truncate()
}

// ReplaceWith flushes pending commands, then swaps in a rewritten AOF file.
func (lw *LazyAOFWriter) ReplaceWith(newFilePath string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		return err
	}
	return lw.underlying.ReplaceWith(newFilePath)
}

func (lw *LazyAOFWriter) flushRoutine() {
	for {
		select {
		case <-lw.flushTicker.C:
			if err := lw.Flush(); err != nil {
				slog.Error("Periodic flush failed", "error", err)
			}
		case <-lw.stopCh:
			return
		}
	}
}

func (lw *LazyAOFWriter) syncRoutine() {
	for {
		select {
		case <-lw.syncTicker.C:
			if err := lw.Sync(); err != nil {
				slog.Error("Periodic sync failed", "error", err)
			}
		case <-lw.stopCh:
			return
		}
	}
}
