package types

import "slices"

// ShardCounts holds the number of samples written to each shard of a split, indexed by shard index
type ShardCounts []int

func (c ShardCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Spread returns the difference between the largest and smallest shard
func (c ShardCounts) Spread() int {
	if len(c) == 0 {
		return 0
	}
	return slices.Max(c) - slices.Min(c)
}
