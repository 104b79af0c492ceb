package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/turbot/pipe-fittings/utils"

	"github.com/turbot/shardpipe/shard_source"
	"github.com/turbot/shardpipe/types"
)

// ErrNoShardFiles is returned when a source pattern matches no shard files
var ErrNoShardFiles = errors.New("no shard files found")

// Listing is the set of shard files assigned to one host
type Listing struct {
	// the files this host reads - order is not significant
	Files []string
	// the number of files in the split, before partitioning
	Total int
	// the partition the listing was made for, nil if unpartitioned
	Partition *types.HostPartition
}

// Enumerator discovers the shard files of a split and selects the subset owned by a host
type Enumerator struct {
	source   shard_source.ShardSource
	cache    *ListingCache
	expected int
	runMode  types.RunMode
}

type EnumeratorOption func(*Enumerator)

// WithListingCache caches the unpartitioned file listing, avoiding repeated listings of the same pattern
func WithListingCache(cache *ListingCache) EnumeratorOption {
	return func(e *Enumerator) {
		e.cache = cache
	}
}

// WithExpectedShards verifies that the split has exactly this many shard files
func WithExpectedShards(n int) EnumeratorOption {
	return func(e *Enumerator) {
		e.expected = n
	}
}

// WithRunMode sets the run mode reported in log messages
func WithRunMode(mode types.RunMode) EnumeratorOption {
	return func(e *Enumerator) {
		e.runMode = mode
	}
}

func NewEnumerator(source shard_source.ShardSource, opts ...EnumeratorOption) *Enumerator {
	e := &Enumerator{source: source}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enumerate lists the shard files and, if a partition is given, keeps only the files owned by that host
// The full listing is sorted before partitioning, so every host computes the same assignment
// and the union of all hosts' listings is the full file set, with no file assigned twice
func (e *Enumerator) Enumerate(ctx context.Context, partition *types.HostPartition) (*Listing, error) {
	if partition != nil {
		if err := partition.Validate(); err != nil {
			return nil, fmt.Errorf("invalid host partition: %w", err)
		}
	}

	files, err := e.list(ctx)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w matching %s", ErrNoShardFiles, e.source.Pattern())
	}
	if e.expected > 0 && len(files) != e.expected {
		return nil, fmt.Errorf("expected %d shard files matching %s, found %d", e.expected, e.source.Pattern(), len(files))
	}
	slog.Info(fmt.Sprintf("Found %d %s %s matching %s", len(files), e.runMode, utils.Pluralize("shard file", len(files)), e.source.Pattern()))

	listing := &Listing{
		Files:     files,
		Total:     len(files),
		Partition: partition,
	}
	if partition == nil {
		return listing, nil
	}

	owned := make([]string, 0, len(files)/partition.WorkerCount+1)
	for i, f := range files {
		if partition.Owns(i) {
			owned = append(owned, f)
		}
	}
	listing.Files = owned
	slog.Warn(fmt.Sprintf("[Worker ID %d] Using %d/%d %s shard files", partition.WorkerId, len(owned), len(files), e.runMode),
		"worker_id", partition.WorkerId, "worker_count", partition.WorkerCount)

	return listing, nil
}

func (e *Enumerator) list(ctx context.Context) ([]string, error) {
	if e.cache != nil {
		if files, ok := e.cache.get(e.source); ok {
			slog.Debug("using cached shard listing", "pattern", e.source.Pattern(), "files", len(files))
			return files, nil
		}
	}

	files, err := e.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list shard files: %w", err)
	}
	slices.Sort(files)
	files = slices.Compact(files)

	if e.cache != nil {
		e.cache.put(e.source, files)
	}
	return files, nil
}

// ListingCache caches sorted shard listings keyed by source type and pattern
// Shard sets are immutable once written, so a listing never needs invalidating for the lifetime of a process
type ListingCache struct {
	mut      sync.RWMutex
	listings map[string][]string
}

func NewListingCache() *ListingCache {
	return &ListingCache{listings: make(map[string][]string)}
}

func cacheKey(source shard_source.ShardSource) string {
	return source.Identifier() + "|" + source.Pattern()
}

func (c *ListingCache) get(source shard_source.ShardSource) ([]string, bool) {
	c.mut.RLock()
	defer c.mut.RUnlock()
	files, ok := c.listings[cacheKey(source)]
	return slices.Clone(files), ok
}

func (c *ListingCache) put(source shard_source.ShardSource, files []string) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.listings[cacheKey(source)] = slices.Clone(files)
}
