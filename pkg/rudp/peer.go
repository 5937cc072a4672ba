package rudp

import (
	"fmt"
	"net"
	"time"

	"github.com/skycoin/rudp/pkg/protocol"
)

// Peer is a remote endpoint of a Host.
type Peer struct {
	host *Host
	addr *net.UDPAddr

	state     PeerState
	listed    bool
	connectID uint32

	incomingPeerID    uint16
	outgoingPeerID    uint16
	incomingSessionID uint8
	outgoingSessionID uint8

	mtu        uint32
	windowSize uint32
	channels   []channel

	incomingBandwidth              uint32
	outgoingBandwidth              uint32
	incomingBandwidthThrottleEpoch uint32
	outgoingBandwidthThrottleEpoch uint32
	incomingDataTotal              uint32
	outgoingDataTotal              uint32

	lastSendTime    uint32
	lastReceiveTime uint32
	nextTimeout     uint32
	earliestTimeout uint32

	packetLossEpoch    uint32
	packetsSent        uint32
	packetsLost        uint32
	packetLoss         uint32
	packetLossVariance uint32

	packetThrottle             uint32
	packetThrottleLimit        uint32
	packetThrottleCounter      uint32
	packetThrottleEpoch        uint32
	packetThrottleAcceleration uint32
	packetThrottleDeceleration uint32
	packetThrottleInterval     uint32

	pingInterval   uint32
	timeoutLimit   uint32
	timeoutMinimum uint32
	timeoutMaximum uint32

	lastRoundTripTime            uint32
	lowestRoundTripTime          uint32
	lastRoundTripTimeVariance    uint32
	highestRoundTripTimeVariance uint32
	roundTripTime                uint32
	roundTripTimeVariance        uint32

	reliableDataInTransit uint32
	outgoingReliableSeq   uint16

	incomingUnsequencedGroup uint16
	outgoingUnsequencedGroup uint16
	unsequencedWindow        [unsequencedWindowSize / 32]uint32

	acknowledgements []*acknowledgement
	sentReliable     []*outgoingCommand
	outgoing         []*outgoingCommand
	dispatched       []*incomingCommand

	needsDispatch    bool
	continueSending  bool
	eventData        uint32
	totalWaitingData int

	totalDataSent     uint64
	totalDataReceived uint64
}

// PeerStats is a snapshot of a peer's link statistics.
type PeerStats struct {
	State                 PeerState
	RoundTripTime         time.Duration
	RoundTripTimeVariance time.Duration
	// PacketLoss is the mean packet loss scaled by 65536.
	PacketLoss            uint32
	PacketLossVariance    uint32
	PacketThrottle        uint32
	PacketThrottleLimit   uint32
	ReliableDataInTransit uint32
	WindowSize            uint32
	MTU                   uint32
	BytesSent             uint64
	BytesReceived         uint64
}

func newPeer(h *Host, addr *net.UDPAddr) *Peer {
	p := &Peer{host: h, addr: addr}
	p.resetFields()
	return p
}

func (p *Peer) resetFields() {
	p.outgoingPeerID = protocol.MaximumPeerID
	p.connectID = 0
	p.state = PeerStateDisconnected
	p.incomingSessionID = 0xFF
	p.outgoingSessionID = 0xFF

	p.incomingBandwidth = 0
	p.outgoingBandwidth = 0
	p.incomingBandwidthThrottleEpoch = 0
	p.outgoingBandwidthThrottleEpoch = 0
	p.incomingDataTotal = 0
	p.outgoingDataTotal = 0

	p.lastSendTime = 0
	p.lastReceiveTime = 0
	p.nextTimeout = 0
	p.earliestTimeout = 0

	p.packetLossEpoch = 0
	p.packetsSent = 0
	p.packetsLost = 0
	p.packetLoss = 0
	p.packetLossVariance = 0

	p.packetThrottle = defaultPacketThrottle
	p.packetThrottleLimit = packetThrottleScale
	p.packetThrottleCounter = 0
	p.packetThrottleEpoch = 0
	p.packetThrottleAcceleration = packetThrottleAcceleration
	p.packetThrottleDeceleration = packetThrottleDeceleration
	p.packetThrottleInterval = packetThrottleInterval

	p.pingInterval = pingInterval
	p.timeoutLimit = timeoutLimit
	p.timeoutMinimum = timeoutMinimum
	p.timeoutMaximum = timeoutMaximum

	p.lastRoundTripTime = defaultRoundTripTime
	p.lowestRoundTripTime = defaultRoundTripTime
	p.lastRoundTripTimeVariance = 0
	p.highestRoundTripTimeVariance = 0
	p.roundTripTime = defaultRoundTripTime
	p.roundTripTimeVariance = 0

	p.mtu = p.host.mtu
	p.windowSize = protocol.MaximumWindowSize
	p.reliableDataInTransit = 0
	p.outgoingReliableSeq = 0
	p.incomingUnsequencedGroup = 0
	p.outgoingUnsequencedGroup = 0
	p.unsequencedWindow = [unsequencedWindowSize / 32]uint32{}
	p.eventData = 0
	p.totalWaitingData = 0
}

// Addr returns the peer's address.
func (p *Peer) Addr() *net.UDPAddr { return p.addr }

// ID returns the peer id assigned by the local host.
func (p *Peer) ID() uint16 { return p.incomingPeerID }

// State returns the connection state.
func (p *Peer) State() PeerState { return p.state }

// ConnectID returns the random identifier of the current connection.
func (p *Peer) ConnectID() uint32 { return p.connectID }

// ChannelCount returns the number of channels of the connection.
func (p *Peer) ChannelCount() int { return len(p.channels) }

// MTU returns the negotiated MTU.
func (p *Peer) MTU() uint32 { return p.mtu }

// RoundTripTime returns the smoothed round trip time.
func (p *Peer) RoundTripTime() time.Duration {
	return time.Duration(p.roundTripTime) * time.Millisecond
}

// Stats returns the peer's link statistics.
func (p *Peer) Stats() PeerStats {
	return PeerStats{
		State:                 p.state,
		RoundTripTime:         time.Duration(p.roundTripTime) * time.Millisecond,
		RoundTripTimeVariance: time.Duration(p.roundTripTimeVariance) * time.Millisecond,
		PacketLoss:            p.packetLoss,
		PacketLossVariance:    p.packetLossVariance,
		PacketThrottle:        p.packetThrottle,
		PacketThrottleLimit:   p.packetThrottleLimit,
		ReliableDataInTransit: p.reliableDataInTransit,
		WindowSize:            p.windowSize,
		MTU:                   p.mtu,
		BytesSent:             p.totalDataSent,
		BytesReceived:         p.totalDataReceived,
	}
}

// String implements fmt.Stringer
func (p *Peer) String() string {
	return fmt.Sprintf("<id:%d><addr:%s><state:%s>", p.incomingPeerID, p.addr, p.state)
}

// Send queues packet for delivery on channelID. On success the peer holds
// its own reference to packet; the caller keeps the one it had.
func (p *Peer) Send(channelID uint8, packet *Packet) error {
	h := p.host
	if p.state != PeerStateConnected {
		return ErrNotConnected
	}
	if int(channelID) >= len(p.channels) {
		return ErrInvalidChannel
	}
	if len(packet.Data) > h.maximumPacketSize {
		return ErrPacketTooLarge
	}

	ch := &p.channels[channelID]
	dataLength := uint32(len(packet.Data))
	fragmentLength := p.mtu - protocol.HeaderMaxSize - uint32(protocol.CommandSize(protocol.CommandSendFragment))
	if h.checksum != nil {
		fragmentLength -= 4
	}

	if dataLength > fragmentLength {
		fragmentCount := (dataLength + fragmentLength - 1) / fragmentLength
		if fragmentCount > protocol.MaximumFragmentCount {
			return ErrTooManyFragments
		}

		unreliable := packet.Flags&(PacketFlagReliable|PacketFlagUnreliableFragments) == PacketFlagUnreliableFragments &&
			ch.outgoingUnreliableSeq < 0xFFFF
		commandNumber := uint8(protocol.CommandSendFragment) | protocol.CommandFlagAcknowledge
		startSeq := ch.outgoingReliableSeq + 1
		if unreliable {
			commandNumber = uint8(protocol.CommandSendUnreliableFragment)
			startSeq = ch.outgoingUnreliableSeq + 1
		}

		for number, offset := uint32(0), uint32(0); offset < dataLength; number, offset = number+1, offset+fragmentLength {
			if dataLength-offset < fragmentLength {
				fragmentLength = dataLength - offset
			}
			frag := protocol.SendFragment{
				CommandHeader:  protocol.CommandHeader{Command: commandNumber, ChannelID: channelID},
				StartSeq:       startSeq,
				DataLength:     uint16(fragmentLength),
				FragmentCount:  fragmentCount,
				FragmentNumber: number,
				TotalLength:    dataLength,
				FragmentOffset: offset,
			}
			var cmd protocol.Command = &frag
			if unreliable {
				cmd = &protocol.SendUnreliableFragment{SendFragment: frag}
			}
			p.queueOutgoingCommand(cmd, packet, offset, uint16(fragmentLength))
		}
		return nil
	}

	hdr := protocol.CommandHeader{ChannelID: channelID}
	var cmd protocol.Command
	switch {
	case packet.Flags&(PacketFlagReliable|PacketFlagUnsequenced) == PacketFlagUnsequenced:
		hdr.Command = uint8(protocol.CommandSendUnsequenced) | protocol.CommandFlagUnsequenced
		cmd = &protocol.SendUnsequenced{CommandHeader: hdr, DataLength: uint16(dataLength)}
	case packet.Flags&PacketFlagReliable != 0 || ch.outgoingUnreliableSeq >= 0xFFFF:
		hdr.Command = uint8(protocol.CommandSendReliable) | protocol.CommandFlagAcknowledge
		cmd = &protocol.SendReliable{CommandHeader: hdr, DataLength: uint16(dataLength)}
	default:
		hdr.Command = uint8(protocol.CommandSendUnreliable)
		cmd = &protocol.SendUnreliable{CommandHeader: hdr, DataLength: uint16(dataLength)}
	}
	p.queueOutgoingCommand(cmd, packet, 0, uint16(dataLength))
	return nil
}

// Ping queues a ping. Pings are also sent automatically at the ping interval.
func (p *Peer) Ping() {
	if p.state != PeerStateConnected {
		return
	}
	p.queueOutgoingCommand(&protocol.Ping{CommandHeader: protocol.CommandHeader{
		Command:   uint8(protocol.CommandPing) | protocol.CommandFlagAcknowledge,
		ChannelID: peerLevelChannel,
	}}, nil, 0, 0)
}

// PingInterval sets the interval at which an idle peer is pinged.
// Zero restores the default.
func (p *Peer) PingInterval(d time.Duration) {
	p.pingInterval = pingInterval
	if d > 0 {
		p.pingInterval = uint32(d / time.Millisecond)
	}
}

// Timeout sets the timeout parameters. Zero values restore the defaults.
func (p *Peer) Timeout(limit uint32, minimum, maximum time.Duration) {
	p.timeoutLimit = timeoutLimit
	if limit != 0 {
		p.timeoutLimit = limit
	}
	p.timeoutMinimum = timeoutMinimum
	if minimum != 0 {
		p.timeoutMinimum = uint32(minimum / time.Millisecond)
	}
	p.timeoutMaximum = timeoutMaximum
	if maximum != 0 {
		p.timeoutMaximum = uint32(maximum / time.Millisecond)
	}
}

// ThrottleConfigure sets the packet throttle parameters and sends them to
// the remote end.
func (p *Peer) ThrottleConfigure(interval time.Duration, acceleration, deceleration uint32) {
	p.packetThrottleInterval = uint32(interval / time.Millisecond)
	p.packetThrottleAcceleration = acceleration
	p.packetThrottleDeceleration = deceleration
	p.queueOutgoingCommand(&protocol.ThrottleConfigure{
		CommandHeader: protocol.CommandHeader{
			Command:   uint8(protocol.CommandThrottleConfigure) | protocol.CommandFlagAcknowledge,
			ChannelID: peerLevelChannel,
		},
		PacketThrottleInterval:     p.packetThrottleInterval,
		PacketThrottleAcceleration: acceleration,
		PacketThrottleDeceleration: deceleration,
	}, nil, 0, 0)
}

// Reset drops the peer without notifying the remote end.
func (p *Peer) Reset() {
	p.reset()
}

// DisconnectNow sends an unacknowledged disconnect and resets the peer at
// once. No disconnect event is produced.
func (p *Peer) DisconnectNow(data uint32) {
	if p.state == PeerStateDisconnected {
		return
	}
	if p.state != PeerStateZombie && p.state != PeerStateDisconnecting {
		p.resetQueues()
		p.queueDisconnect(data, false)
		p.host.flushQuietly()
	}
	p.reset()
}

// Disconnect requests a disconnection. A disconnect event is produced once
// the remote end acknowledges it or the peer times out.
func (p *Peer) Disconnect(data uint32) {
	switch p.state {
	case PeerStateDisconnecting, PeerStateDisconnected, PeerStateAcknowledgingDisconnect, PeerStateZombie:
		return
	}
	p.resetQueues()
	if p.state == PeerStateConnected || p.state == PeerStateDisconnectLater {
		p.queueDisconnect(data, true)
		p.onDisconnect()
		p.state = PeerStateDisconnecting
		return
	}
	p.queueDisconnect(data, false)
	p.host.flushQuietly()
	p.reset()
}

// DisconnectLater disconnects once all queued outgoing packets are sent.
func (p *Peer) DisconnectLater(data uint32) {
	if (p.state == PeerStateConnected || p.state == PeerStateDisconnectLater) &&
		(len(p.outgoing) > 0 || len(p.sentReliable) > 0) {
		p.state = PeerStateDisconnectLater
		p.eventData = data
		return
	}
	p.Disconnect(data)
}

func (p *Peer) queueDisconnect(data uint32, acknowledged bool) {
	flag := uint8(protocol.CommandFlagUnsequenced)
	if acknowledged {
		flag = protocol.CommandFlagAcknowledge
	}
	p.queueOutgoingCommand(&protocol.Disconnect{
		CommandHeader: protocol.CommandHeader{
			Command:   uint8(protocol.CommandDisconnect) | flag,
			ChannelID: peerLevelChannel,
		},
		Data: data,
	}, nil, 0, 0)
}

// throttle adapts the packet throttle to a new round trip sample. It
// returns 1 when the throttle opened, -1 when it closed and 0 otherwise.
func (p *Peer) throttle(rtt uint32) int {
	if p.lastRoundTripTime <= p.lastRoundTripTimeVariance {
		p.packetThrottle = p.packetThrottleLimit
		return 0
	}
	if rtt <= p.lastRoundTripTime {
		p.packetThrottle += p.packetThrottleAcceleration
		if p.packetThrottle > p.packetThrottleLimit {
			p.packetThrottle = p.packetThrottleLimit
		}
		return 1
	}
	if rtt > p.lastRoundTripTime+2*p.lastRoundTripTimeVariance {
		if p.packetThrottle > p.packetThrottleDeceleration {
			p.packetThrottle -= p.packetThrottleDeceleration
		} else {
			p.packetThrottle = 0
		}
		return -1
	}
	return 0
}

func (p *Peer) updateRoundTripTime(rtt uint32) {
	now := p.host.serviceTime
	if p.lastReceiveTime > 0 {
		p.throttle(rtt)
		p.roundTripTimeVariance -= p.roundTripTimeVariance / 4
		if rtt >= p.roundTripTime {
			diff := rtt - p.roundTripTime
			p.roundTripTimeVariance += diff / 4
			p.roundTripTime += diff / 8
		} else {
			diff := p.roundTripTime - rtt
			p.roundTripTimeVariance += diff / 4
			p.roundTripTime -= diff / 8
		}
	} else {
		p.roundTripTime = rtt
		p.roundTripTimeVariance = (rtt + 1) / 2
	}

	if p.roundTripTime < p.lowestRoundTripTime {
		p.lowestRoundTripTime = p.roundTripTime
	}
	if p.roundTripTimeVariance > p.highestRoundTripTimeVariance {
		p.highestRoundTripTimeVariance = p.roundTripTimeVariance
	}

	if p.packetThrottleEpoch == 0 || timeDifference(now, p.packetThrottleEpoch) >= p.packetThrottleInterval {
		p.lastRoundTripTime = p.lowestRoundTripTime
		p.lastRoundTripTimeVariance = maxUint32(p.highestRoundTripTimeVariance, 1)
		p.lowestRoundTripTime = p.roundTripTime
		p.highestRoundTripTimeVariance = p.roundTripTimeVariance
		p.packetThrottleEpoch = now
	}
}

func (p *Peer) onConnect() {
	if p.state == PeerStateConnected || p.state == PeerStateDisconnectLater {
		return
	}
	h := p.host
	if p.incomingBandwidth != 0 {
		h.bandwidthLimitedPeers++
	}
	h.connectedPeers++
}

func (p *Peer) onDisconnect() {
	if p.state != PeerStateConnected && p.state != PeerStateDisconnectLater {
		return
	}
	h := p.host
	if p.incomingBandwidth != 0 {
		h.bandwidthLimitedPeers--
	}
	h.connectedPeers--
}

func (p *Peer) changeState(state PeerState) {
	if state == PeerStateConnected || state == PeerStateDisconnectLater {
		p.onConnect()
	} else {
		p.onDisconnect()
	}
	p.state = state
}

func (p *Peer) dispatchState(state PeerState) {
	p.changeState(state)
	p.markDispatch()
}

func (p *Peer) markDispatch() {
	if p.needsDispatch {
		return
	}
	p.host.dispatchQueue = append(p.host.dispatchQueue, p)
	p.needsDispatch = true
}

func (p *Peer) notifyConnect() {
	p.host.recalculateBandwidthLimits = true
	if p.state == PeerStateConnecting {
		p.dispatchState(PeerStateConnectionSucceeded)
	} else {
		p.dispatchState(PeerStateConnectionPending)
	}
}

func (p *Peer) notifyDisconnect() {
	if p.state >= PeerStateConnectionPending {
		p.host.recalculateBandwidthLimits = true
	}
	if p.state != PeerStateConnecting && p.state < PeerStateConnectionSucceeded {
		p.reset()
		return
	}
	p.eventData = 0
	p.dispatchState(PeerStateZombie)
}

// reset returns the peer to its initial state and unlists it from the host.
func (p *Peer) reset() {
	p.onDisconnect()
	p.resetQueues()
	p.resetFields()
	if p.listed {
		p.host.peers.remove(p)
	}
}

func (p *Peer) resetQueues() {
	h := p.host
	if p.needsDispatch {
		for i, q := range h.dispatchQueue {
			if q == p {
				copy(h.dispatchQueue[i:], h.dispatchQueue[i+1:])
				h.dispatchQueue[len(h.dispatchQueue)-1] = nil
				h.dispatchQueue = h.dispatchQueue[:len(h.dispatchQueue)-1]
				break
			}
		}
		p.needsDispatch = false
	}

	for _, a := range p.acknowledgements {
		h.pools.putAck(a)
	}
	p.acknowledgements = dropAcks(p.acknowledgements, len(p.acknowledgements))

	for _, oc := range p.sentReliable {
		p.releaseOutgoing(oc)
	}
	p.sentReliable = dropOutgoing(p.sentReliable, len(p.sentReliable))
	for _, oc := range p.outgoing {
		p.releaseOutgoing(oc)
	}
	p.outgoing = dropOutgoing(p.outgoing, len(p.outgoing))

	for _, in := range p.dispatched {
		p.releaseIncoming(in)
	}
	p.dispatched = dropIncoming(p.dispatched, len(p.dispatched))

	for i := range p.channels {
		ch := &p.channels[i]
		for _, in := range ch.incomingReliable {
			p.releaseIncoming(in)
		}
		for _, in := range ch.incomingUnreliable {
			p.releaseIncoming(in)
		}
	}
	p.channels = nil
	p.totalWaitingData = 0
}

func (p *Peer) releaseOutgoing(oc *outgoingCommand) {
	if oc.packet != nil {
		oc.packet.Release()
	}
	p.host.pools.putOutgoing(oc)
}

func (p *Peer) releaseIncoming(in *incomingCommand) {
	if in.packet != nil {
		p.totalWaitingData -= len(in.packet.Data)
		in.packet.Release()
	}
	p.host.pools.putIncoming(in)
}

// queueOutgoingCommand queues cmd carrying the given slice of packet.
func (p *Peer) queueOutgoingCommand(cmd protocol.Command, packet *Packet, offset uint32, length uint16) *outgoingCommand {
	oc := p.host.pools.getOutgoing()
	oc.command = cmd
	oc.fragmentOffset = offset
	oc.fragmentLength = length
	oc.packet = packet
	if packet != nil {
		packet.Retain()
	}
	p.setupOutgoingCommand(oc)
	return oc
}

func (p *Peer) setupOutgoingCommand(oc *outgoingCommand) {
	hdr := oc.command.Header()
	p.outgoingDataTotal += uint32(protocol.Size(oc.command)) + uint32(oc.fragmentLength)

	if hdr.ChannelID == peerLevelChannel {
		p.outgoingReliableSeq++
		oc.reliableSeq = p.outgoingReliableSeq
		oc.unreliableSeq = 0
	} else {
		ch := &p.channels[hdr.ChannelID]
		switch {
		case hdr.Acknowledged():
			ch.outgoingReliableSeq++
			ch.outgoingUnreliableSeq = 0
			oc.reliableSeq = ch.outgoingReliableSeq
			oc.unreliableSeq = 0
		case hdr.Unsequenced():
			p.outgoingUnsequencedGroup++
			oc.reliableSeq = 0
			oc.unreliableSeq = 0
		default:
			if oc.fragmentOffset == 0 {
				ch.outgoingUnreliableSeq++
			}
			oc.reliableSeq = ch.outgoingReliableSeq
			oc.unreliableSeq = ch.outgoingUnreliableSeq
		}
	}

	oc.sendAttempts = 0
	oc.sentTime = 0
	oc.rtTimeout = 0
	oc.rtTimeoutLimit = 0
	hdr.ReliableSeq = oc.reliableSeq

	switch c := oc.command.(type) {
	case *protocol.SendUnreliable:
		c.UnreliableSeq = oc.unreliableSeq
	case *protocol.SendUnsequenced:
		c.UnsequencedGroup = p.outgoingUnsequencedGroup
	}

	p.outgoing = append(p.outgoing, oc)
}
