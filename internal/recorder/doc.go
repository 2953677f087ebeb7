// Package recorder writes received IQ samples to disk as raw little-endian
// integers, two-channel WAV, or Parquet rows.
package recorder
