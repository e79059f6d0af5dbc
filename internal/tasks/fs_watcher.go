package tasks

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"octbench/internal/fsutil"
	"octbench/internal/physmap"
)

// FileSystemEvent represents a file system change
type FileSystemEvent struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // "created", "modified"
	Time      time.Time `json:"time"`
	Size      int64     `json:"size"`
}

// FileSystemWatcher reports structural scans appearing in watched
// directories. Each watched root is followed one level down, so a dataset
// root covers its set directories, including ones created later.
type FileSystemWatcher struct {
	watcher   *fsnotify.Watcher
	Events    chan FileSystemEvent
	watchDirs []string
	roots     map[string]bool
	done      chan struct{}
	stopOnce  sync.Once
	log       *slog.Logger
}

// NewFileSystemWatcher creates a new filesystem watcher
func NewFileSystemWatcher(watchPaths []string, logger *slog.Logger) (*FileSystemWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileSystemWatcher{
		watcher:   watcher,
		Events:    make(chan FileSystemEvent, 100),
		watchDirs: watchPaths,
		roots:     make(map[string]bool),
		done:      make(chan struct{}),
		log:       logger,
	}, nil
}

// Start begins monitoring the configured directories
func (fsw *FileSystemWatcher) Start() error {
	for _, dir := range fsw.watchDirs {
		dir = filepath.Clean(dir)
		if err := fsw.watcher.Add(dir); err != nil {
			return err
		}
		fsw.roots[dir] = true
		fsw.log.Info("watching directory", "dir", dir)

		subs, err := fsutil.SubDirs(dir)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if err := fsw.addSetDir(filepath.Join(dir, sub)); err != nil {
				return err
			}
		}
	}

	go fsw.processEvents()
	return nil
}

func (fsw *FileSystemWatcher) addSetDir(dir string) error {
	if err := fsw.watcher.Add(dir); err != nil {
		return err
	}
	fsw.log.Debug("watching set directory", "dir", dir)
	return nil
}

// followNewSet starts watching a set directory created under a root and
// reports the scans already written into it.
func (fsw *FileSystemWatcher) followNewSet(dir string) {
	if err := fsw.addSetDir(dir); err != nil {
		fsw.log.Warn("cannot watch new directory", "dir", dir, "error", err)
		return
	}
	scans, err := fsutil.ListScans(dir)
	if err != nil {
		fsw.log.Warn("cannot list new directory", "dir", dir, "error", err)
		return
	}
	for _, scan := range scans {
		fsw.emit(scan, "created")
	}
}

func (fsw *FileSystemWatcher) emit(path, operation string) {
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	select {
	case fsw.Events <- FileSystemEvent{Path: path, Operation: operation, Time: time.Now(), Size: size}:
	default:
		fsw.log.Warn("event buffer full, dropping event", "path", path)
	}
}

// Stop stops the filesystem watcher. Events is closed once processing ends.
func (fsw *FileSystemWatcher) Stop() error {
	var err error
	fsw.stopOnce.Do(func() {
		close(fsw.done)
		err = fsw.watcher.Close()
	})
	return err
}

func (fsw *FileSystemWatcher) processEvents() {
	defer close(fsw.Events)
	for {
		select {
		case event, ok := <-fsw.watcher.Events:
			if !ok {
				return
			}

			var operation string
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				operation = "created"
			case event.Op&fsnotify.Write == fsnotify.Write:
				operation = "modified"
			default:
				continue
			}

			if operation == "created" && fsw.roots[filepath.Dir(event.Name)] {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					fsw.followNewSet(event.Name)
					continue
				}
			}

			// Derived maps are written next to the scans; ignore them.
			if !fsutil.IsStructuralScan(event.Name) {
				continue
			}
			fsw.emit(event.Name, operation)

		case err, ok := <-fsw.watcher.Errors:
			if !ok {
				return
			}
			fsw.log.Error("filesystem watcher error", "error", err)

		case <-fsw.done:
			return
		}
	}
}

// WatchMaps regenerates the derived maps of every structural scan written to
// dirs until ctx is cancelled. A scan is processed once it has been quiet
// for settle.
func WatchMaps(ctx context.Context, dirs []string, opts physmap.Options, settle time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if settle <= 0 {
		settle = time.Second
	}
	fsw, err := NewFileSystemWatcher(dirs, logger)
	if err != nil {
		return err
	}
	if err := fsw.Start(); err != nil {
		fsw.Stop()
		return err
	}
	defer fsw.Stop()

	pending := map[string]time.Time{}
	ticker := time.NewTicker(settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			logger.Debug("scan changed", "path", ev.Path, "op", ev.Operation, "size", ev.Size)
			pending[ev.Path] = ev.Time
		case now := <-ticker.C:
			for path, seen := range pending {
				if now.Sub(seen) < settle {
					continue
				}
				delete(pending, path)
				paths, err := physmap.Generate(path, opts)
				if err != nil {
					logger.Error("map generation failed", "scan", path, "error", err)
					continue
				}
				logger.Info("maps regenerated", "scan", path, "oac", paths.OAC, "sc", paths.SC, "rsc", paths.RSC)
			}
		}
	}
}
