// Package transport provides the network side of the NetSDR client: a TCP
// control channel that splits the byte stream into frames, and a UDP listener
// that queues IQ datagrams.
package transport
