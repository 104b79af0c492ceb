package constants

const (
	// ShardFileExtension is the extension of an uncompressed shard file
	ShardFileExtension = ".rec"
	// GzipExtension is appended to the shard file extension when shards are gzip compressed
	GzipExtension = ".gz"

	// DefaultTrainShards is the number of shard files written for the train split
	DefaultTrainShards = 256
	// DefaultValShards is the number of shard files written for the val split
	DefaultValShards = 32

	// DefaultFlushThreshold is the size in bytes at which a shard buffer is written to storage
	DefaultFlushThreshold = 4 * 1024 * 1024

	// DefaultCycleLength is the number of shard files read concurrently by a record stream
	DefaultCycleLength = 32

	CompressionNone = "none"
	CompressionGzip = "gzip"
)
