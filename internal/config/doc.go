// Package config loads and validates the gateway configuration.
//
// Configuration is a single YAML file decoded over DefaultConfig, so every
// key is optional. ${VAR} and ${VAR:-default} references are substituted
// before parsing and "$$" yields a literal dollar sign. After parsing, the
// deployment variables (JWT_SECRET, INTERNAL_API_KEY, *_SERVICE_URL,
// DATABASE_URL, REDIS_URL, SERVICE_MODE, FRONTEND_URL) override the file.
//
// A Watcher reloads the file on change and hands validated configurations
// to a callback; invalid edits are logged and ignored.
package config
