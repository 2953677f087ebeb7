// Package metrics defines the Prometheus instrumentation for the NetSDR client.
package metrics
