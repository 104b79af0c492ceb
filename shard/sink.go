package shard

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// Sink creates shard files in some storage location
type Sink interface {
	// Create opens a new shard file for writing
	// the file must not become visible under name until the returned writer is closed successfully
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	// Location returns a description of the storage location, for logging
	Location() string
}

// Aborter is implemented by writers returned from a Sink that can discard a partially written file
type Aborter interface {
	Abort() error
}

// FileSystemSink writes shard files to a local directory
type FileSystemSink struct {
	dir string
}

// NewFileSystemSink returns a sink for dir, creating the directory if necessary
func NewFileSystemSink(dir string) (*FileSystemSink, error) {
	dir, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("error expanding output dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create output directory %s: %w", dir, err)
	}
	return &FileSystemSink{dir: dir}, nil
}

func (s *FileSystemSink) Location() string {
	return s.dir
}

func (s *FileSystemSink) Create(_ context.Context, name string) (io.WriteCloser, error) {
	path := filepath.Join(s.dir, name)
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create shard file %s: %w", path, err)
	}
	return &fileSinkWriter{f: f, tmpPath: tmpPath, path: path}, nil
}

// fileSinkWriter writes to a temp file which is renamed to the final path on Close
type fileSinkWriter struct {
	f       *os.File
	tmpPath string
	path    string
}

func (w *fileSinkWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *fileSinkWriter) Close() error {
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("failed to close shard file %s: %w", w.path, err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		return fmt.Errorf("failed to rename shard file %s: %w", w.path, err)
	}
	return nil
}

func (w *fileSinkWriter) Abort() error {
	w.f.Close()
	return os.Remove(w.tmpPath)
}
