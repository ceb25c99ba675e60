// Package config provides file-backed configuration management for the nagare
// transport runtime: typed config structs loaded through viper, validation,
// and hot reload driven by fsnotify file watches.
package config

// Config is the contract every configuration struct satisfies.
type Config interface {
	// GetName returns the config file stem this struct is loaded from.
	GetName() string

	// Validate checks internal consistency; invalid configs are rejected both
	// at load time and on hot reload.
	Validate() error
}

// ConfigChangeListener receives hot-reload notifications for a named config.
type ConfigChangeListener interface {
	// OnConfigChanged is invoked after a changed configuration file has been
	// re-read and validated. Listeners registered for other config names are
	// expected to return nil.
	OnConfigChanged(configName string, newConfig, oldConfig Config) error

	// GetConfigName returns the config name the listener is interested in.
	GetConfigName() string
}
