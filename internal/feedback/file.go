package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileStore persists records as JSON lines in a local file that is rotated
// once it grows past a size limit.
// Thread-safe for concurrent use.
type FileStore struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

var _ Sink = (*FileStore)(nil)

// FileOption configures a [FileStore].
type FileOption func(*lumberjack.Logger)

// WithRotation rotates the file after maxSizeMB megabytes and keeps at most
// maxBackups old files (0 keeps all). Rotated files are gzip-compressed when
// compress is true. Without this option files rotate at 100 MB.
func WithRotation(maxSizeMB, maxBackups int, compress bool) FileOption {
	return func(l *lumberjack.Logger) {
		if maxSizeMB > 0 {
			l.MaxSize = maxSizeMB
		}
		if maxBackups > 0 {
			l.MaxBackups = maxBackups
		}
		l.Compress = compress
	}
}

// NewFileStore creates a FileStore that writes to the given path.
// The file and its directory are created on first append if they do not exist.
func NewFileStore(path string, opts ...FileOption) *FileStore {
	out := &lumberjack.Logger{Filename: path}
	for _, o := range opts {
		o(out)
	}
	return &FileStore{out: out}
}

// Name implements the optional naming interface used for metric labels.
func (fs *FileStore) Name() string { return "file" }

// Path returns the file the store appends to.
func (fs *FileStore) Path() string { return fs.out.Filename }

// Append writes rec as a single line.
func (fs *FileStore) Append(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.out.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}

// Close closes the current file. A later Append reopens it.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.out.Close()
}
