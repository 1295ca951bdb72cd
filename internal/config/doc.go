// Package config loads, normalizes, and validates whisperd configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// HF_TOKEN, either from the process environment or a .env file stored beside
// the config. The Config type centralizes every knob the server and CLI need:
// where weights are cached, how the WhisperX worker is launched, which
// languages can be aligned, and how logs are emitted.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical language codes, and clear validation errors.
package config
