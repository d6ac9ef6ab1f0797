// 配置文件变更监听器实现。
//
// 轮询文件的修改时间与大小，变化稳定一个周期后才触发回调，
// 避免编辑器分多次写入时重复重载。
package config

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
)

// FileOp represents file operation types
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 指示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

type fileStamp struct {
	exists  bool
	modTime time.Time
	size    int64
}

func statFile(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{exists: true, modTime: info.ModTime(), size: info.Size()}
}

// FileWatcher 轮询单个配置文件
type FileWatcher struct {
	path     string
	interval time.Duration
	logger   *zap.Logger
}

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval sets how often the file is checked.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewFileWatcher creates a watcher for path. The file need not exist yet.
func NewFileWatcher(path string, opts ...WatcherOption) *FileWatcher {
	w := &FileWatcher{
		path:     path,
		interval: time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Path returns the watched file.
func (w *FileWatcher) Path() string { return w.path }

// Watch blocks until ctx is done, calling onChange after each settled change.
func (w *FileWatcher) Watch(ctx context.Context, onChange func(FileEvent)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := statFile(w.path)
	var pending *fileStamp

	w.logger.Info("file watcher started",
		zap.String("path", w.path),
		zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur := statFile(w.path)
		if pending != nil {
			if cur != *pending {
				// 仍在写入，等下一个周期
				pending = &cur
				continue
			}
			event := FileEvent{Path: w.path, Op: classify(last, cur), Timestamp: time.Now()}
			last = cur
			pending = nil
			w.logger.Debug("dispatching file event",
				zap.String("path", event.Path),
				zap.String("op", event.Op.String()))
			onChange(event)
			continue
		}
		if cur != last {
			pending = &cur
		}
	}
}

func classify(before, after fileStamp) FileOp {
	switch {
	case !after.exists:
		return FileOpRemove
	case !before.exists:
		return FileOpCreate
	default:
		return FileOpWrite
	}
}
