package pipeline

import "errors"

var (
	// ErrUnsupportedRunMode is returned when constructing a pipeline for a run mode other than train or val
	ErrUnsupportedRunMode = errors.New("unsupported run mode")
	// ErrEmptyShards is returned by a training stream when a complete pass over its shard files yields no records
	ErrEmptyShards = errors.New("shard files contain no records")
)
