package rudp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/rudp/pkg/protocol"
)

func TestPeerSet(t *testing.T) {
	h := newLoneHost(t)
	s := newPeerSet()

	mk := func(id uint16, port int) *Peer {
		p := newPeer(h, &net.UDPAddr{IP: net.IPv4(10, 1, 0, 1), Port: port})
		p.incomingPeerID = id
		return p
	}
	a, b, c := mk(1, 1), mk(2, 2), mk(3, 3)
	for _, p := range []*Peer{a, b, c} {
		require.True(t, s.add(p))
		assert.True(t, p.listed)
	}
	assert.False(t, s.add(mk(2, 9)), "id already taken")
	assert.Equal(t, 3, s.len())

	assert.Equal(t, b, s.find(&net.UDPAddr{IP: net.IPv4(10, 1, 0, 1), Port: 2}, 2))
	assert.Nil(t, s.find(&net.UDPAddr{IP: net.IPv4(10, 1, 0, 1), Port: 3}, 2), "address mismatch")
	assert.Nil(t, s.find(b.addr, protocol.MaximumPeerID))
	assert.Nil(t, s.find(b.addr, 7))

	snap := s.snapshot(nil)
	require.True(t, s.remove(a))
	assert.False(t, s.remove(a))
	assert.False(t, a.listed)
	assert.Len(t, snap, 3, "snapshot is detached")
	assert.ElementsMatch(t, []*Peer{b, c}, s.snapshot(nil))
	assert.False(t, s.has(1))
	assert.True(t, s.has(3))
}

func TestSameAddr(t *testing.T) {
	a := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	assert.True(t, sameAddr(a, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}))
	assert.False(t, sameAddr(a, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2}))
	assert.False(t, sameAddr(a, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 2), Port: 1}))
}
