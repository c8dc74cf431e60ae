// Package config loads, normalizes, and validates sift configuration data.
//
// It supplies repository defaults, resolves XDG locations for the cache,
// state, and config files, expands user paths (including tilde shortcuts),
// reads TOML files, and honours environment fallbacks such as
// SIFT_DETECTOR_API_KEY. The Config type centralizes every knob the scan
// pipeline and CLI need, including the detector class table.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical enumerations, and clear validation errors.
package config
