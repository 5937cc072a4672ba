package socket

import (
	"net"
	"sync"
	"time"
)

// Filter decides whether a datagram travelling over a Network is delivered.
type Filter func(from, to *net.UDPAddr, b []byte) bool

// Network is an in-memory datagram network. Datagrams are delivered in send
// order unless a Filter drops them; dropped datagrams can be re-injected
// later to simulate reordering.
type Network struct {
	mu     sync.Mutex
	conns  map[string]*MemConn
	filter Filter
}

// NewNetwork creates an empty Network.
func NewNetwork() *Network {
	return &Network{conns: make(map[string]*MemConn)}
}

// SetFilter installs f. A nil filter delivers everything.
func (n *Network) SetFilter(f Filter) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

// Listen attaches a socket with the given address to the network.
func (n *Network) Listen(addr *net.UDPAddr) *MemConn {
	c := &MemConn{
		net:  n,
		addr: addr,
		in:   make(chan datagram, recvQueueLen),
		done: make(chan struct{}),
	}
	n.mu.Lock()
	n.conns[addr.String()] = c
	n.mu.Unlock()
	return c
}

// Inject delivers b to the socket bound to "to" regardless of the filter.
func (n *Network) Inject(from, to *net.UDPAddr, b []byte) bool {
	n.mu.Lock()
	c, ok := n.conns[to.String()]
	n.mu.Unlock()
	if !ok {
		return false
	}
	return c.deliver(from, b)
}

func (n *Network) send(from, to *net.UDPAddr, b []byte) {
	n.mu.Lock()
	c, ok := n.conns[to.String()]
	f := n.filter
	n.mu.Unlock()
	if !ok {
		return
	}
	if f != nil && !f(from, to, b) {
		return
	}
	c.deliver(from, b)
}

func (n *Network) remove(addr *net.UDPAddr) {
	n.mu.Lock()
	delete(n.conns, addr.String())
	n.mu.Unlock()
}

// MemConn is a socket attached to a Network.
type MemConn struct {
	net  *Network
	addr *net.UDPAddr
	in   chan datagram

	done     chan struct{}
	doneOnce sync.Once
}

func (c *MemConn) deliver(from *net.UDPAddr, b []byte) bool {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.in <- datagram{b: cp, addr: from}:
		return true
	default:
		// Queue full: the datagram is lost, as on a real link.
		return false
	}
}

// Receive copies the next datagram into buf, waiting at most timeout.
func (c *MemConn) Receive(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	var dg datagram
	if timeout <= 0 {
		select {
		case dg = <-c.in:
		case <-c.done:
			return 0, nil, ErrClosed
		default:
			return 0, nil, ErrWouldBlock
		}
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case dg = <-c.in:
		case <-c.done:
			return 0, nil, ErrClosed
		case <-timer.C:
			return 0, nil, ErrWouldBlock
		}
	}
	n := copy(buf, dg.b)
	if n < len(dg.b) {
		return n, dg.addr, ErrTruncated
	}
	return n, dg.addr, nil
}

// Send joins buffers into one datagram and delivers it to addr.
func (c *MemConn) Send(buffers [][]byte, addr *net.UDPAddr) (int, error) {
	select {
	case <-c.done:
		return 0, ErrClosed
	default:
	}
	var size int
	for _, b := range buffers {
		size += len(b)
	}
	dg := make([]byte, 0, size)
	for _, b := range buffers {
		dg = append(dg, b...)
	}
	c.net.send(c.addr, addr, dg)
	return size, nil
}

// LocalAddr returns the socket's address.
func (c *MemConn) LocalAddr() net.Addr { return c.addr }

// Close detaches the socket from its network.
func (c *MemConn) Close() error {
	c.doneOnce.Do(func() {
		close(c.done)
		c.net.remove(c.addr)
	})
	return nil
}
