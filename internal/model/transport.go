package model

// EndOfStream is returned by capacity, position and pending queries once
// the corresponding side of a transport has been closed.
const EndOfStream = -1

// TransportInput is the receiving side of a byte-stream transport.
//
// The caller writes up to Capacity() bytes at the start of Tail() and then
// calls Process with the number of bytes written.
type TransportInput interface {
	// Capacity returns how many bytes Tail can accept, or [EndOfStream].
	Capacity() int

	// Position returns how many bytes are buffered but not yet consumed, or [EndOfStream].
	Position() int

	// Tail returns the writable region. It is only valid until the next call.
	Tail() []byte

	// Process consumes n bytes written at the start of Tail.
	Process(n int) error

	// CloseTail signals that no more input will arrive.
	CloseTail()
}

// TransportOutput is the sending side of a byte-stream transport.
//
// The caller reads up to Pending() bytes from Head() and then calls Pop with
// the number of bytes it has written to the network.
type TransportOutput interface {
	// Pending returns how many bytes are ready for output, or [EndOfStream].
	Pending() int

	// Head returns the readable region. Callers must not modify it and it is
	// only valid until the next call.
	Head() []byte

	// Pop discards the first n bytes of the readable region.
	Pop(n int)

	// CloseHead signals that no more output will be read.
	CloseHead()
}

// TransportWrapper is a filter sitting in front of an inner transport.
type TransportWrapper interface {
	TransportInput
	TransportOutput
}
