package rudp

import (
	"net"

	"github.com/skycoin/rudp/pkg/protocol"
)

// peerSet holds the listed peers of a host, keyed by incoming peer id.
type peerSet struct {
	list []*Peer
	byID map[uint16]*Peer
}

func newPeerSet() *peerSet {
	return &peerSet{byID: make(map[uint16]*Peer)}
}

func (s *peerSet) add(p *Peer) bool {
	if _, ok := s.byID[p.incomingPeerID]; ok {
		return false
	}
	s.byID[p.incomingPeerID] = p
	s.list = append(s.list, p)
	p.listed = true
	return true
}

func (s *peerSet) remove(p *Peer) bool {
	if s.byID[p.incomingPeerID] != p {
		return false
	}
	delete(s.byID, p.incomingPeerID)
	for i, q := range s.list {
		if q == p {
			last := len(s.list) - 1
			s.list[i] = s.list[last]
			s.list[last] = nil
			s.list = s.list[:last]
			break
		}
	}
	p.listed = false
	return true
}

// find returns the peer with the given id, provided it talks to addr.
func (s *peerSet) find(addr *net.UDPAddr, id uint16) *Peer {
	if id >= protocol.MaximumPeerID {
		return nil
	}
	p, ok := s.byID[id]
	if !ok || !sameAddr(p.addr, addr) {
		return nil
	}
	return p
}

func (s *peerSet) has(id uint16) bool {
	_, ok := s.byID[id]
	return ok
}

func (s *peerSet) len() int { return len(s.list) }

// snapshot copies the listed peers into dst so that callers may unlist
// peers while iterating.
func (s *peerSet) snapshot(dst []*Peer) []*Peer {
	return append(dst[:0], s.list...)
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
