// Package config loads, normalizes, and validates reelsmith configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// REELSMITH_REDIS_ADDR and REELSMITH_CLIPS_API_KEY. The Config type
// centralizes every knob the pipeline needs: the composition target, the
// validation and caption tuning constants, worker pool bounds, and the
// resilience settings for breakers, rate limits and checkpoints.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
