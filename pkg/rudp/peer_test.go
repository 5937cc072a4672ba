package rudp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/rudp/pkg/protocol"
	"github.com/skycoin/rudp/pkg/socket"
)

func newLoneHost(t *testing.T) *Host {
	return newTestHost(t, socket.NewNetwork().Listen(serverAddr), newFakeClock(), DefaultConfig())
}

// addConnectedPeer lists a connected peer without running a handshake.
func addConnectedPeer(t *testing.T, h *Host, port int, channels int, incomingBandwidth uint32) *Peer {
	id, err := h.allocatePeerID()
	require.NoError(t, err)

	p := newPeer(h, &net.UDPAddr{IP: net.IPv4(10, 1, 0, 1), Port: port})
	p.incomingPeerID = id
	p.outgoingPeerID = id
	p.channels = make([]channel, channels)
	p.incomingBandwidth = incomingBandwidth
	p.changeState(PeerStateConnected)
	require.True(t, h.peers.add(p))
	return p
}

func TestPeer_QueueAcknowledgement(t *testing.T) {
	h := newLoneHost(t)
	p := addConnectedPeer(t, h, 1, 1, 0)

	cases := []struct {
		name    string
		channel uint8
		seq     uint16
		queued  bool
	}{
		{"current window", 0, 1, true},
		{"six windows ahead", 0, 6 * reliableWindowSize, true},
		{"seven windows ahead", 0, 7 * reliableWindowSize, false},
		{"eight windows ahead", 0, 8 * reliableWindowSize, false},
		{"nine windows ahead", 0, 9 * reliableWindowSize, true},
		{"peer level", peerLevelChannel, 8 * reliableWindowSize, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := len(p.acknowledgements)
			hdr := protocol.CommandHeader{
				Command:     uint8(protocol.CommandSendReliable) | protocol.CommandFlagAcknowledge,
				ChannelID:   tc.channel,
				ReliableSeq: tc.seq,
			}
			assert.Equal(t, tc.queued, p.queueAcknowledgement(&hdr, 10))
			if tc.queued {
				require.Len(t, p.acknowledgements, before+1)
				assert.Equal(t, hdr, p.acknowledgements[before].command)
				assert.Equal(t, uint16(10), p.acknowledgements[before].sentTime)
			} else {
				assert.Len(t, p.acknowledgements, before)
			}
		})
	}

	p.reset()
	assert.Zero(t, h.pools.acks.Rented())
}

func unreliable(reliableSeq, unreliableSeq uint16, data string) *protocol.SendUnreliable {
	return &protocol.SendUnreliable{
		CommandHeader: protocol.CommandHeader{
			Command:     uint8(protocol.CommandSendUnreliable),
			ReliableSeq: reliableSeq,
		},
		UnreliableSeq: unreliableSeq,
		DataLength:    uint16(len(data)),
	}
}

func drain(p *Peer) []string {
	var out []string
	for {
		_, pkt, ok := p.receive()
		if !ok {
			return out
		}
		out = append(out, string(pkt.Data))
		pkt.Release()
	}
}

func TestPeer_QueueIncomingOrdering(t *testing.T) {
	h := newLoneHost(t)
	p := addConnectedPeer(t, h, 1, 1, 0)
	ch := &p.channels[0]

	in, err := p.queueIncomingCommand(unreliable(0, 2, "u2"), []byte("u2"), 2, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.Equal(t, uint16(2), ch.incomingUnreliableSeq)
	assert.Equal(t, []string{"u2"}, drain(p))

	in, err = p.queueIncomingCommand(unreliable(0, 1, "u1"), []byte("u1"), 2, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, in, "older unreliable command is stale")

	_, err = p.queueIncomingCommand(unreliable(1, 1, "after"), []byte("after"), 5, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, p.dispatched, "held until reliable 1 arrives")
	assert.Len(t, ch.incomingUnreliable, 1)

	rel := &protocol.SendReliable{
		CommandHeader: protocol.CommandHeader{
			Command:     uint8(protocol.CommandSendReliable) | protocol.CommandFlagAcknowledge,
			ReliableSeq: 1,
		},
		DataLength: 3,
	}
	_, err = p.queueIncomingCommand(rel, []byte("rel"), 3, PacketFlagReliable, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), ch.incomingReliableSeq)
	assert.Equal(t, []string{"rel", "after"}, drain(p))
	assert.Empty(t, ch.incomingUnreliable)

	in, err = p.queueIncomingCommand(rel, []byte("rel"), 3, PacketFlagReliable, 0)
	require.NoError(t, err)
	assert.Nil(t, in, "duplicate reliable command")

	assert.Zero(t, p.totalWaitingData)
	assert.Zero(t, h.pools.incoming.Rented())
}

func TestPeer_QueueIncomingReliableReorder(t *testing.T) {
	h := newLoneHost(t)
	p := addConnectedPeer(t, h, 1, 1, 0)

	for _, seq := range []uint16{3, 1, 3, 2} {
		rel := &protocol.SendReliable{
			CommandHeader: protocol.CommandHeader{
				Command:     uint8(protocol.CommandSendReliable) | protocol.CommandFlagAcknowledge,
				ReliableSeq: seq,
			},
			DataLength: 1,
		}
		_, err := p.queueIncomingCommand(rel, []byte{'0' + byte(seq)}, 1, PacketFlagReliable, 0)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"1", "2", "3"}, drain(p))
}

func TestPeer_QueueIncomingWaitingDataLimit(t *testing.T) {
	h := newLoneHost(t)
	h.maximumWaitingData = 4
	p := addConnectedPeer(t, h, 1, 1, 0)

	_, err := p.queueIncomingCommand(unreliable(1, 1, "full"), []byte("full"), 4, 0, 0)
	require.NoError(t, err)
	_, err = p.queueIncomingCommand(unreliable(1, 2, "more"), []byte("more"), 4, 0, 0)
	assert.Equal(t, errTooMuchWaitingData, err)

	p.reset()
	assert.Zero(t, h.pools.incoming.Rented())
}

func TestPeer_UpdateRoundTripTime(t *testing.T) {
	h := newLoneHost(t)
	p := addConnectedPeer(t, h, 1, 1, 0)

	p.updateRoundTripTime(100)
	assert.Equal(t, uint32(100), p.roundTripTime)
	assert.Equal(t, uint32(50), p.roundTripTimeVariance)
	assert.Equal(t, uint32(100), p.lowestRoundTripTime)

	p.lastReceiveTime = 1
	p.updateRoundTripTime(200)
	assert.Equal(t, uint32(112), p.roundTripTime)
	assert.Equal(t, uint32(63), p.roundTripTimeVariance)
}

func TestHost_BandwidthThrottle(t *testing.T) {
	t.Run("limited peer", func(t *testing.T) {
		h := newLoneHost(t)
		h.outgoingBandwidth = 10000
		a := addConnectedPeer(t, h, 1, 1, 1000)
		b := addConnectedPeer(t, h, 2, 1, 0)
		a.outgoingDataTotal = 5000
		b.outgoingDataTotal = 1000

		h.serviceTime = 1000
		h.bandwidthThrottle()

		assert.Equal(t, uint32(6), a.packetThrottleLimit)
		assert.Equal(t, uint32(6), a.packetThrottle)
		assert.Equal(t, uint32(packetThrottleScale), b.packetThrottleLimit)
		assert.Zero(t, a.outgoingDataTotal)
		assert.Zero(t, b.outgoingDataTotal)
		assert.Equal(t, uint32(1000), h.bandwidthThrottleEpoch)
	})

	t.Run("shared bandwidth", func(t *testing.T) {
		h := newLoneHost(t)
		h.outgoingBandwidth = 4000
		a := addConnectedPeer(t, h, 1, 1, 0)
		b := addConnectedPeer(t, h, 2, 1, 0)
		a.outgoingDataTotal = 6000
		b.outgoingDataTotal = 2000

		h.serviceTime = 1000
		h.bandwidthThrottle()

		assert.Equal(t, uint32(16), a.packetThrottleLimit)
		assert.Equal(t, uint32(16), b.packetThrottleLimit)
		assert.Equal(t, uint32(16), a.packetThrottle)
	})

	t.Run("interval not elapsed", func(t *testing.T) {
		h := newLoneHost(t)
		h.outgoingBandwidth = 1
		a := addConnectedPeer(t, h, 1, 1, 0)
		a.outgoingDataTotal = 6000

		h.serviceTime = BandwidthThrottleInterval - 1
		h.bandwidthThrottle()
		assert.Equal(t, uint32(packetThrottleScale), a.packetThrottleLimit)
		assert.Equal(t, uint32(6000), a.outgoingDataTotal)
	})

	t.Run("announce limits", func(t *testing.T) {
		h := newLoneHost(t)
		a := addConnectedPeer(t, h, 1, 1, 0)
		b := addConnectedPeer(t, h, 2, 1, 0)
		a.outgoingBandwidth = 1000
		h.BandwidthLimit(8000, 0)

		h.serviceTime = 1000
		h.bandwidthThrottle()
		assert.False(t, h.recalculateBandwidthLimits)

		for _, tc := range []struct {
			peer     *Peer
			incoming uint32
		}{{a, 1000}, {b, 0}} {
			require.Len(t, tc.peer.outgoing, 1)
			limit, ok := tc.peer.outgoing[0].command.(*protocol.BandwidthLimit)
			require.True(t, ok)
			assert.Equal(t, tc.incoming, limit.IncomingBandwidth)
			assert.True(t, limit.Acknowledged())
			assert.Equal(t, uint8(peerLevelChannel), limit.ChannelID)
		}
	})
}

func TestHost_BandwidthThrottleStable(t *testing.T) {
	cases := []struct {
		name      string
		bandwidth uint32
		incoming  [2]uint32
		demand    [2]uint32
		want      [2]uint32
	}{
		{"limited peer", 10000, [2]uint32{1000, 0}, [2]uint32{5000, 1000}, [2]uint32{6, packetThrottleScale}},
		{"shared bandwidth", 4000, [2]uint32{0, 0}, [2]uint32{6000, 2000}, [2]uint32{16, 16}},
		{"under budget", 100000, [2]uint32{0, 0}, [2]uint32{6000, 2000}, [2]uint32{packetThrottleScale, packetThrottleScale}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newLoneHost(t)
			h.outgoingBandwidth = tc.bandwidth
			peers := []*Peer{
				addConnectedPeer(t, h, 1, 1, tc.incoming[0]),
				addConnectedPeer(t, h, 2, 1, tc.incoming[1]),
			}

			for round := uint32(1); round <= 10; round++ {
				for i, p := range peers {
					p.outgoingDataTotal = tc.demand[i]
				}
				h.serviceTime = round * BandwidthThrottleInterval
				h.bandwidthThrottle()
				require.Equal(t, h.serviceTime, h.bandwidthThrottleEpoch)

				for i, p := range peers {
					assert.Equal(t, tc.want[i], p.packetThrottleLimit, "round %d peer %d", round, i)
					assert.LessOrEqual(t, p.packetThrottle, p.packetThrottleLimit)
					assert.Zero(t, p.outgoingDataTotal)
				}
			}
		})
	}
}

func TestPeer_Throttle(t *testing.T) {
	h := newLoneHost(t)
	p := addConnectedPeer(t, h, 1, 1, 0)
	p.lastRoundTripTime = 100
	p.lastRoundTripTimeVariance = 10
	p.packetThrottle = 16

	assert.Equal(t, 1, p.throttle(50))
	assert.Equal(t, uint32(16+packetThrottleAcceleration), p.packetThrottle)

	assert.Equal(t, -1, p.throttle(500))
	assert.Equal(t, uint32(16), p.packetThrottle)

	assert.Equal(t, 0, p.throttle(105))
}
