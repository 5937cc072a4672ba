package rudp

import (
	"net"
	"time"
)

// Socket sends and receives datagrams.
type Socket interface {
	// Receive copies one datagram into buf, waiting at most timeout.
	// It returns socket.ErrWouldBlock when nothing arrived in time.
	Receive(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error)

	// Send writes buffers to addr as one datagram.
	Send(buffers [][]byte, addr *net.UDPAddr) (int, error)

	LocalAddr() net.Addr
	Close() error
}

// Compressor compresses the command stream of outgoing datagrams.
// A compression run is Start, one CompressChunk per buffer, End and Reset.
type Compressor interface {
	Start(out []byte)
	CompressChunk(in []byte) error
	End() (int, error)
	Reset()
	Decompress(in, out []byte) (int, error)
}

// Checksum sums datagrams.
type Checksum interface {
	Begin()
	Sum(b []byte)
	End() uint32
	Reset()
}

// Metrics receives host statistics as they happen.
type Metrics interface {
	DatagramSent(bytes int)
	DatagramReceived(bytes int)
	PeerEvent(kind string)
	RoundTrip(rtt time.Duration)
}
