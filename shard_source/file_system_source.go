package shard_source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

const FileSystemSourceIdentifier = "file_system"

// FileSystemSource lists shard files on the local file system using a glob pattern
type FileSystemSource struct {
	pattern string
}

func NewFileSystemSource(pattern string) (*FileSystemSource, error) {
	expanded, err := homedir.Expand(pattern)
	if err != nil {
		return nil, fmt.Errorf("error expanding pattern %s: %w", pattern, err)
	}
	// validate the pattern up front
	if _, err := filepath.Match(expanded, ""); err != nil {
		return nil, fmt.Errorf("invalid shard file pattern %s: %w", pattern, err)
	}
	slog.Info("Initialized FileSystemSource", "pattern", expanded)
	return &FileSystemSource{pattern: expanded}, nil
}

func (s *FileSystemSource) Identifier() string {
	return FileSystemSourceIdentifier
}

func (s *FileSystemSource) Pattern() string {
	return s.pattern
}

func (s *FileSystemSource) List(_ context.Context) ([]string, error) {
	matches, err := filepath.Glob(s.pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.pattern, err)
	}
	var res []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", m, err)
		}
		if info.IsDir() {
			continue
		}
		res = append(res, m)
	}
	return res, nil
}

func (s *FileSystemSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", name, err)
	}
	return f, nil
}

func (s *FileSystemSource) Close() error {
	return nil
}
