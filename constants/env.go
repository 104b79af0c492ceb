package constants

const (
	EnvLogLevel = "SHARDPIPE_LOG_LEVEL"
	AppName     = "shardpipe"
)
