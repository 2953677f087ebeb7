// Package config provides configuration loading and validation for the NetSDR client.
// It handles YAML-based configuration for the device connection, receiver setup,
// IQ stream listener, sample recording, HTTP surface and logging.
package config
