// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config file. It provides
// type-safe access to the settings the server needs at startup. Settings
// that change while the server runs live in the settings package.
package config
