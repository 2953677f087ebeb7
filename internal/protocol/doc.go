// Package protocol implements the NetSDR binary message codec.
// It handles the 16-bit length/type header (including the data-item length
// wraparound), control-item and data-item frame bodies, and extraction of
// fixed-width integer IQ samples from data-item payloads.
package protocol
