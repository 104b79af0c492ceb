package shard

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptRecord is returned when a shard file or a record within it fails validation
	ErrCorruptRecord = errors.New("corrupt shard record")
	// ErrWriterClosed is returned when pushing to a Writer after FlushLast or Close
	ErrWriterClosed = errors.New("shard writer is closed")
)

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCorruptRecord}, args...)...)
}
