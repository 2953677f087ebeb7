// Package server exposes the client over HTTP: health and status endpoints,
// receiver control, Prometheus metrics, and a WebSocket feed of IQ samples.
package server
