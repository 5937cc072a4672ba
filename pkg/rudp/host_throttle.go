package rudp

import (
	"math"

	"github.com/skycoin/rudp/pkg/protocol"
)

// bandwidthThrottle shares the host outgoing bandwidth among connected
// peers by lowering their packet throttle limits, and announces the
// incoming bandwidth share of every peer after a limit changed.
//
// Products are computed in 64 bits and subtractions saturate at zero.
func (h *Host) bandwidthThrottle() {
	now := h.serviceTime
	elapsed := uint64(timeDifference(now, h.bandwidthThrottleEpoch))
	if elapsed < BandwidthThrottleInterval {
		return
	}
	h.bandwidthThrottleEpoch = now

	peersRemaining := h.connectedPeers
	if peersRemaining == 0 {
		return
	}
	peers := h.peers.snapshot(nil)

	dataTotal := uint64(math.MaxUint32)
	bandwidth := uint64(math.MaxUint32)
	if h.outgoingBandwidth != 0 {
		dataTotal = 0
		bandwidth = uint64(h.outgoingBandwidth) * elapsed / 1000
		for _, p := range peers {
			if p.state.acceptsData() {
				dataTotal += uint64(p.outgoingDataTotal)
			}
		}
	}

	throttleFor := func() uint64 {
		if dataTotal <= bandwidth {
			return packetThrottleScale
		}
		return bandwidth * packetThrottleScale / dataTotal
	}

	needsAdjustment := h.bandwidthLimitedPeers > 0
	for peersRemaining > 0 && needsAdjustment {
		needsAdjustment = false
		throttle := throttleFor()

		for _, p := range peers {
			if !p.state.acceptsData() || p.incomingBandwidth == 0 || p.outgoingBandwidthThrottleEpoch == now {
				continue
			}
			peerBandwidth := uint64(p.incomingBandwidth) * elapsed / 1000
			if throttle*uint64(p.outgoingDataTotal)/packetThrottleScale <= peerBandwidth {
				continue
			}

			limit := uint64(packetThrottleScale)
			if p.outgoingDataTotal != 0 {
				limit = peerBandwidth * packetThrottleScale / uint64(p.outgoingDataTotal)
			}
			if limit == 0 {
				limit = 1
			}
			p.packetThrottleLimit = uint32(limit)
			if p.packetThrottle > p.packetThrottleLimit {
				p.packetThrottle = p.packetThrottleLimit
			}
			p.outgoingBandwidthThrottleEpoch = now
			p.incomingDataTotal = 0
			p.outgoingDataTotal = 0

			needsAdjustment = true
			peersRemaining--
			bandwidth = saturatingSub(bandwidth, peerBandwidth)
			dataTotal = saturatingSub(dataTotal, peerBandwidth)
		}
	}

	if peersRemaining > 0 {
		throttle := uint32(throttleFor())
		for _, p := range peers {
			if !p.state.acceptsData() || p.outgoingBandwidthThrottleEpoch == now {
				continue
			}
			p.packetThrottleLimit = throttle
			if p.packetThrottle > p.packetThrottleLimit {
				p.packetThrottle = p.packetThrottleLimit
			}
			p.incomingDataTotal = 0
			p.outgoingDataTotal = 0
		}
	}

	if h.recalculateBandwidthLimits {
		h.recalculateBandwidthLimits = false
		h.announceBandwidthLimits(peers, now)
	}
}

func (h *Host) announceBandwidthLimits(peers []*Peer, now uint32) {
	peersRemaining := uint64(h.connectedPeers)
	bandwidth := uint64(h.incomingBandwidth)
	var bandwidthLimit uint64

	if bandwidth != 0 {
		needsAdjustment := true
		for peersRemaining > 0 && needsAdjustment {
			needsAdjustment = false
			bandwidthLimit = bandwidth / peersRemaining

			for _, p := range peers {
				if !p.state.acceptsData() || p.incomingBandwidthThrottleEpoch == now {
					continue
				}
				if p.outgoingBandwidth > 0 && uint64(p.outgoingBandwidth) >= bandwidthLimit {
					continue
				}
				p.incomingBandwidthThrottleEpoch = now
				needsAdjustment = true
				peersRemaining--
				bandwidth = saturatingSub(bandwidth, uint64(p.outgoingBandwidth))
			}
		}
	}

	for _, p := range peers {
		if !p.state.acceptsData() {
			continue
		}
		incoming := uint32(bandwidthLimit)
		if p.incomingBandwidthThrottleEpoch == now {
			incoming = p.outgoingBandwidth
		}
		p.queueOutgoingCommand(&protocol.BandwidthLimit{
			CommandHeader: protocol.CommandHeader{
				Command:   uint8(protocol.CommandBandwidthLimit) | protocol.CommandFlagAcknowledge,
				ChannelID: peerLevelChannel,
			},
			IncomingBandwidth: incoming,
			OutgoingBandwidth: h.outgoingBandwidth,
		}, nil, 0, 0)
	}
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
