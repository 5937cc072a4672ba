// Package socket provides datagram sockets for rudp hosts: a UDP socket with
// scatter/gather sends and an in-memory network for tests and simulations.
package socket

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	// MaxDatagramSize bounds received datagrams.
	MaxDatagramSize = 4096
	recvQueueLen    = 256
)

var log = logging.MustGetLogger("socket")

var (
	// ErrWouldBlock occurs when no datagram arrived within the receive timeout.
	ErrWouldBlock = errors.New("no datagram available")

	// ErrClosed occurs when using a closed socket.
	ErrClosed = errors.New("socket closed")

	// ErrTruncated occurs when the receive buffer is smaller than the datagram.
	ErrTruncated = errors.New("datagram truncated")
)

type datagram struct {
	b    []byte
	addr *net.UDPAddr
}

type batchWriter interface {
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
}

// UDP is a datagram socket on top of *net.UDPConn.
// Sends write all buffers as one datagram; receives are served from a
// background reader so that a zero timeout polls without blocking.
type UDP struct {
	conn  *net.UDPConn
	batch batchWriter
	msgs  []ipv4.Message

	recv     chan datagram
	bufs     sync.Pool
	readErr  error
	errMu    sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

// Listen binds a UDP socket on addr ("udp", "udp4" or "udp6" network).
func Listen(network, addr string) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// New wraps a bound UDP connection.
func New(conn *net.UDPConn) *UDP {
	s := &UDP{
		conn: conn,
		msgs: make([]ipv4.Message, 1),
		recv: make(chan datagram, recvQueueLen),
		done: make(chan struct{}),
	}
	s.bufs.New = func() interface{} { return make([]byte, MaxDatagramSize) }
	if la, ok := conn.LocalAddr().(*net.UDPAddr); ok && la.IP.To4() != nil {
		s.batch = ipv4.NewPacketConn(conn)
	} else {
		s.batch = ipv6.NewPacketConn(conn)
	}
	go s.readLoop()
	return s
}

func (s *UDP) readLoop() {
	defer close(s.recv)
	for {
		b := s.bufs.Get().([]byte)
		n, addr, err := s.conn.ReadFromUDP(b)
		if err != nil {
			select {
			case <-s.done:
			default:
				log.WithError(err).Warn("UDP read failed")
				s.errMu.Lock()
				s.readErr = err
				s.errMu.Unlock()
			}
			return
		}
		select {
		case s.recv <- datagram{b: b[:n], addr: addr}:
		case <-s.done:
			return
		}
	}
}

// Receive copies the next datagram into buf. It waits at most timeout;
// a non-positive timeout only polls. ErrWouldBlock is returned when
// nothing arrived in time.
func (s *UDP) Receive(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	var (
		dg datagram
		ok bool
	)
	if timeout <= 0 {
		select {
		case dg, ok = <-s.recv:
		default:
			return 0, nil, ErrWouldBlock
		}
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case dg, ok = <-s.recv:
		case <-timer.C:
			return 0, nil, ErrWouldBlock
		}
	}
	if !ok {
		s.errMu.Lock()
		defer s.errMu.Unlock()
		if s.readErr != nil {
			return 0, nil, s.readErr
		}
		return 0, nil, ErrClosed
	}

	n := copy(buf, dg.b)
	s.bufs.Put(dg.b[:cap(dg.b)]) // nolint: staticcheck
	if n < len(dg.b) {
		return n, dg.addr, ErrTruncated
	}
	return n, dg.addr, nil
}

// Send writes buffers to addr as a single datagram.
func (s *UDP) Send(buffers [][]byte, addr *net.UDPAddr) (int, error) {
	s.msgs[0] = ipv4.Message{Buffers: buffers, Addr: addr}
	if _, err := s.batch.WriteBatch(s.msgs, 0); err != nil {
		return 0, err
	}
	return s.msgs[0].N, nil
}

// LocalAddr returns the bound address.
func (s *UDP) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close closes the socket and stops the reader.
func (s *UDP) Close() error {
	var err error
	s.doneOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
