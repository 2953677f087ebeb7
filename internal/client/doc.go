// Package client drives a NetSDR receiver over its two transports.
//
// A Client owns the connection and streaming state. Control requests are
// written to the TCP control channel and matched to responses by arrival
// order: one dispatcher goroutine per connection is the only reader of the
// control channel, and at most one request at a time waits for a response.
// Later requests queue behind it. A request whose caller gives up leaves a
// placeholder in the queue so the late response is swallowed instead of being
// handed to the next caller.
//
// IQ datagrams from the stream transport are decoded, checked for sequence
// gaps and delivered as SampleBatch values to the registered handlers in
// arrival order.
package client
