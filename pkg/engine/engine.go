// Package engine provides the high-level, embeddable interface for quiver.
//
// It orchestrates the in-memory index registry (core) and the on-disk
// persistence layer (AOF/snapshot), giving applications a durable vector
// database without going through the HTTP server.
//
// Basic usage:
//
//	opts := engine.DefaultOptions("./data")
//	db, err := engine.Open(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sanonone/quiver/pkg/core"
	"github.com/sanonone/quiver/pkg/persistence"
)

// Options configures the Engine: persistence paths and automatic
// maintenance policies.
type Options struct {
	// DataDir is the directory where .aof and .qdb files are stored.
	// It is created automatically if missing.
	DataDir string

	// AofFilename is the name of the Append-Only File (default:
	// "quiver.aof"). The snapshot file is named <AofFilename base>.qdb.
	AofFilename string

	// AutoSaveInterval is the minimum time since the last save before a
	// new snapshot is taken (when AutoSaveThreshold is also met).
	// 0 disables time-based auto-saving.
	AutoSaveInterval time.Duration

	// AutoSaveThreshold is the number of write operations that must occur
	// before a new snapshot is taken (when AutoSaveInterval is also met).
	// 0 disables count-based auto-saving.
	AutoSaveThreshold int64

	// AofRewritePercentage triggers AOF compaction when the file grows
	// past its base size by this percentage. E.g. 100 rewrites when the
	// size doubles. 0 disables automatic rewrites.
	AofRewritePercentage int

	// MaintenanceInterval is how often background index compaction runs,
	// physically removing soft-deleted vectors from indexes whose deleted
	// ratio crossed the threshold. Default: 10 seconds.
	MaintenanceInterval time.Duration
}

// DefaultOptions returns a configuration suitable for most deployments.
//
// Defaults:
//   - AofFilename: "quiver.aof"
//   - AutoSave: every 60s if at least 1000 changes occurred
//   - AofRewrite: at 100% growth
//   - Maintenance: every 10s
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:              dataDir,
		AofFilename:          "quiver.aof",
		AutoSaveInterval:     60 * time.Second,
		AutoSaveThreshold:    1000,
		AofRewritePercentage: 100,
		MaintenanceInterval:  10 * time.Second,
	}
}

// Engine is the main entry point for quiver.
// It coordinates the in-memory registry and the on-disk persistence.
//
// Use Open to initialize an Engine and Close to shut it down gracefully.
type Engine struct {
	// DB is the underlying in-memory registry. While exported, writes
	// should go through Engine methods so they reach the AOF.
	DB *core.DB

	// AOF is the append-only log, batched through a lazy writer: flushes
	// every 100ms or 1000 entries with an fsync every second, so a crash
	// loses at most about one second of writes.
	AOF *persistence.LazyAOFWriter

	opts        Options
	aofPath     string
	snapPath    string
	aofBaseSize int64

	// dirtyCounter tracks write operations since the last save.
	dirtyCounter int64
	lastSaveTime time.Time

	// adminMu serializes engine-level administrative tasks (snapshot,
	// rewrite). Data access relies on core's own locks.
	adminMu sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open initializes an Engine from the provided options.
//
// It creates DataDir if missing, loads the latest snapshot (.qdb) when one
// exists, replays the AOF to recover recent writes, and starts the
// background auto-save and compaction tasks. It blocks until the database
// is fully loaded.
func Open(opts Options) (*Engine, error) {
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if opts.AofFilename == "" {
		opts.AofFilename = "quiver.aof"
	}

	aofPath := filepath.Join(opts.DataDir, opts.AofFilename)
	snapPath := strings.TrimSuffix(aofPath, filepath.Ext(aofPath)) + ".qdb"

	e := &Engine{
		DB:           core.NewDB(),
		opts:         opts,
		aofPath:      aofPath,
		snapPath:     snapPath,
		lastSaveTime: time.Now(),
		closed:       make(chan struct{}),
	}

	if _, err := os.Stat(snapPath); err == nil {
		f, err := os.Open(snapPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot: %w", err)
		}
		defer f.Close()
		if err := e.DB.LoadSnapshot(f); err != nil {
			return nil, fmt.Errorf("failed to load snapshot: %w", err)
		}
	}

	aofWriter, err := persistence.NewAOFWriter(aofPath)
	if err != nil {
		return nil, err
	}
	e.AOF = persistence.NewLazyAOFWriter(aofWriter)

	if err := e.replayAOF(); err != nil {
		e.AOF.Close()
		return nil, fmt.Errorf("failed to replay AOF: %w", err)
	}

	// Record AOF size for the rewrite policy.
	info, _ := e.AOF.File().Stat()
	e.aofBaseSize = info.Size()

	e.wg.Add(1)
	go e.backgroundTasks()

	return e, nil
}

// Close performs a clean shutdown: it stops background tasks and closes the
// AOF. No final snapshot is forced; everything already sits in the AOF, so
// a restart recovers the full state.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.wg.Wait()

		if e.AOF != nil {
			err = e.AOF.Close()
		}
	})
	return err
}

func (e *Engine) backgroundTasks() {
	defer e.wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	interval := e.opts.MaintenanceInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	maintTicker := time.NewTicker(interval)
	defer maintTicker.Stop()

	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.checkMaintenance()
		case <-maintTicker.C:
			if compacted := e.DB.Vacuum(); compacted > 0 {
				slog.Info("Background vacuum compacted indexes", "count", compacted)
			}
		}
	}
}

// checkMaintenance evaluates whether a snapshot or AOF rewrite is due.
func (e *Engine) checkMaintenance() {
	dirty := atomic.LoadInt64(&e.dirtyCounter)

	if e.opts.AutoSaveThreshold > 0 && e.opts.AutoSaveInterval > 0 {
		if dirty >= e.opts.AutoSaveThreshold && time.Since(e.lastSaveTime) >= e.opts.AutoSaveInterval {
			if err := e.SaveSnapshot(); err != nil {
				slog.Error("Background snapshot failed", "error", err)
			}
		}
	}

	if err := e.AOF.Flush(); err != nil {
		slog.Error("Background AOF flush failed", "error", err)
	}

	if e.opts.AofRewritePercentage > 0 {
		info, err := e.AOF.File().Stat()
		if err == nil {
			currentSize := info.Size()
			threshold := e.aofBaseSize + (e.aofBaseSize * int64(e.opts.AofRewritePercentage) / 100)
			// Min threshold 1MB to avoid constantly rewriting tiny files.
			if threshold < 1024*1024 {
				threshold = 1024 * 1024
			}

			if e.aofBaseSize > 0 && currentSize > threshold {
				if err := e.RewriteAOF(); err != nil {
					slog.Error("Background AOF rewrite failed", "error", err)
				}
			}
		}
	}
}
