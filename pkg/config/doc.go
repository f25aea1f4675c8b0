// Package config loads and validates the CacheDeck console configuration
// from YAML files. It provides sensible defaults for every setting and a
// filesystem watcher that reloads the configuration when the file changes.
package config
