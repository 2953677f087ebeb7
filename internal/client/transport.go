package client

import "context"

// ControlTransport is a connection-oriented byte stream to the receiver.
// Messages delivers exactly one frame per element and is closed when the
// connection ends, either by Disconnect or by the remote side.
type ControlTransport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
	Send(ctx context.Context, frame []byte) error
	Messages() <-chan []byte
}

// StreamTransport is a datagram listener for IQ data. It can be started
// again after StopListening; Close is final.
type StreamTransport interface {
	StartListening(ctx context.Context) error
	StopListening() error
	Close() error
	Datagrams() <-chan []byte
}
