package shard

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/turbot/shardpipe/constants"
)

var shardNameRegex = regexp.MustCompile(`^(.+)-(\d{5,})-of-(\d{5,})\.rec(\.gz)?$`)

// Name returns the file name of shard index of total for the given prefix,
// e.g. train-00003-of-00256.rec
func Name(prefix string, index, total int, compression string) string {
	name := fmt.Sprintf("%s-%05d-of-%05d%s", prefix, index, total, constants.ShardFileExtension)
	if compression == constants.CompressionGzip {
		name += constants.GzipExtension
	}
	return name
}

// Pattern returns a glob pattern matching every shard file of a split
func Pattern(prefix string) string {
	return prefix + "-*-of-*" + constants.ShardFileExtension + "*"
}

// NameInfo is the information encoded in a shard file name
type NameInfo struct {
	Prefix     string
	Index      int
	Total      int
	Compressed bool
}

// ParseName extracts the prefix, shard index and shard count from a shard file base name
func ParseName(name string) (*NameInfo, error) {
	m := shardNameRegex.FindStringSubmatch(name)
	if m == nil {
		return nil, fmt.Errorf("'%s' is not a valid shard file name", name)
	}
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("invalid shard index in '%s': %w", name, err)
	}
	total, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, fmt.Errorf("invalid shard count in '%s': %w", name, err)
	}
	if index >= total {
		return nil, fmt.Errorf("shard index %d out of range for %d shards in '%s'", index, total, name)
	}
	return &NameInfo{
		Prefix:     m[1],
		Index:      index,
		Total:      total,
		Compressed: m[4] != "",
	}, nil
}
