package config

// Config is an interface that all configuration structs must implement - this includes:
// - the ingest config
// - pipeline configs
// - the root config file
type Config interface {
	Validate() error
	Identifier() string
}
