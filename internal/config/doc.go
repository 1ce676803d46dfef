// Package config loads, normalizes, and validates imgshift configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SESSION_PASSWORD and ADMIN_ID. The Config type centralizes every knob the
// daemon and CLI need: batch limits, conversion retry policy, session vault key
// derivation, and the statistics window timezone.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
