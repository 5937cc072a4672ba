package rudp

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/skycoin/rudp/pkg/protocol"
	"github.com/skycoin/rudp/pkg/socket"
)

// Service sends queued commands, receives datagrams and returns the events
// that occurred. It waits up to timeout for the first event; a zero
// timeout polls.
func (h *Host) Service(timeout time.Duration) ([]Event, error) {
	if h.closed {
		return nil, ErrHostClosed
	}
	h.events = h.events[:0]

	h.serviceTime = h.now()
	deadline := h.serviceTime + uint32(timeout/time.Millisecond)

	h.dispatchIncoming()
	if len(h.events) > 0 {
		return h.takeEvents(), nil
	}

	for {
		if timeDifference(h.serviceTime, h.bandwidthThrottleEpoch) >= BandwidthThrottleInterval {
			h.bandwidthThrottle()
		}
		if err := h.sendOutgoingCommands(true); err != nil {
			return h.takeEvents(), err
		}
		if err := h.receiveIncomingCommands(); err != nil {
			return h.takeEvents(), err
		}
		if err := h.sendOutgoingCommands(true); err != nil {
			return h.takeEvents(), err
		}
		h.dispatchIncoming()

		if len(h.events) > 0 || timeout <= 0 {
			break
		}
		h.serviceTime = h.now()
		if timeGreaterEqual(h.serviceTime, deadline) {
			break
		}

		wait := time.Duration(timeDifference(deadline, h.serviceTime)) * time.Millisecond
		if h.maxPollTime > 0 && wait > h.maxPollTime {
			wait = h.maxPollTime
		}
		n, addr, err := h.sock.Receive(h.receiveData[:], wait)
		h.serviceTime = h.now()
		switch err {
		case nil:
			h.handleDatagram(addr, h.receiveData[:n])
		case socket.ErrWouldBlock, socket.ErrTruncated:
		default:
			return h.takeEvents(), errors.Wrap(err, "failed to receive datagram")
		}
	}
	return h.takeEvents(), nil
}

func (h *Host) takeEvents() []Event {
	if len(h.events) == 0 {
		return nil
	}
	events := make([]Event, len(h.events))
	copy(events, h.events)
	for i := range h.events {
		h.events[i] = Event{}
	}
	h.events = h.events[:0]
	return events
}

func (h *Host) dispatchIncoming() {
	for len(h.dispatchQueue) > 0 {
		p := h.dispatchQueue[0]
		copy(h.dispatchQueue, h.dispatchQueue[1:])
		h.dispatchQueue[len(h.dispatchQueue)-1] = nil
		h.dispatchQueue = h.dispatchQueue[:len(h.dispatchQueue)-1]
		p.needsDispatch = false

		switch p.state {
		case PeerStateConnectionPending, PeerStateConnectionSucceeded:
			p.changeState(PeerStateConnected)
			h.log.Debugf("Peer %s connected", p)
			h.emit(Event{Type: EventConnect, Peer: p, Data: p.eventData})

		case PeerStateZombie:
			h.recalculateBandwidthLimits = true
			data := p.eventData
			h.log.Debugf("Peer %s disconnected", p)
			p.reset()
			h.emit(Event{Type: EventDisconnect, Peer: p, Data: data})

		case PeerStateConnected:
			for {
				channelID, packet, ok := p.receive()
				if !ok {
					break
				}
				h.emit(Event{Type: EventReceive, Peer: p, ChannelID: channelID, Packet: packet})
			}
		}
	}
}

func (h *Host) receiveIncomingCommands() error {
	for i := 0; i < receiveBatch; i++ {
		n, addr, err := h.sock.Receive(h.receiveData[:], 0)
		switch err {
		case nil:
		case socket.ErrWouldBlock:
			return nil
		case socket.ErrTruncated:
			continue
		default:
			return errors.Wrap(err, "failed to receive datagram")
		}
		h.handleDatagram(addr, h.receiveData[:n])
	}
	return nil
}

// handleDatagram validates one datagram and runs its commands.
func (h *Host) handleDatagram(addr *net.UDPAddr, data []byte) {
	h.totalReceivedData += uint64(len(data))
	h.totalReceivedPackets++
	if h.metrics != nil {
		h.metrics.DatagramReceived(len(data))
	}

	hdr, headerSize, err := protocol.ReadHeader(data)
	if err != nil {
		return
	}
	if h.checksum != nil {
		headerSize += 4
		if len(data) < headerSize {
			return
		}
	}

	var p *Peer
	if hdr.PeerID != protocol.MaximumPeerID {
		p = h.peers.find(addr, hdr.PeerID)
		if p == nil || p.state == PeerStateDisconnected || p.state == PeerStateZombie {
			return
		}
		if p.outgoingPeerID < protocol.MaximumPeerID && hdr.SessionID != p.incomingSessionID&sessionMask {
			return
		}
	}

	if hdr.Compressed() {
		if h.compressor == nil {
			return
		}
		n, err := h.compressor.Decompress(data[headerSize:], h.decompressData[headerSize:])
		if err != nil || n <= 0 {
			return
		}
		copy(h.decompressData[:headerSize], data[:headerSize])
		data = h.decompressData[:headerSize+n]
	}

	if h.checksum != nil {
		slot := data[headerSize-4 : headerSize]
		desired := binary.BigEndian.Uint32(slot)
		var seed uint32
		if p != nil {
			seed = p.connectID
		}
		binary.BigEndian.PutUint32(slot, seed)
		h.checksum.Begin()
		h.checksum.Sum(data[:headerSize])
		h.checksum.Sum(data[headerSize:])
		sum := h.checksum.End()
		h.checksum.Reset()
		if sum != desired {
			h.log.Debugf("Dropping datagram from %s: bad checksum", addr)
			return
		}
	}

	if p != nil {
		p.incomingDataTotal += uint32(len(data))
		p.totalDataReceived += uint64(len(data))
	}

	h.handleCommands(addr, hdr, p, data[headerSize:])
}

func (h *Host) handleCommands(addr *net.UDPAddr, hdr protocol.Header, p *Peer, data []byte) {
	for len(data) > 0 {
		cmd, n, err := protocol.ReadCommand(data)
		if err != nil {
			return
		}
		data = data[n:]

		ch := cmd.Header()
		if p == nil && ch.Type() != protocol.CommandConnect {
			return
		}

		var used int
		switch c := cmd.(type) {
		case *protocol.Acknowledge:
			err = p.handleAcknowledge(c)
		case *protocol.Connect:
			if p != nil {
				err = errMalformed
			} else if p = h.handleConnect(addr, c); p == nil {
				err = errRejected
			}
		case *protocol.VerifyConnect:
			err = p.handleVerifyConnect(c)
		case *protocol.Disconnect:
			err = p.handleDisconnect(c)
		case *protocol.Ping:
			err = p.handlePing()
		case *protocol.SendReliable:
			used, err = p.handleSendReliable(c, data)
		case *protocol.SendUnreliable:
			used, err = p.handleSendUnreliable(c, data)
		case *protocol.SendUnsequenced:
			used, err = p.handleSendUnsequenced(c, data)
		case *protocol.SendFragment:
			used, err = p.handleSendFragment(c, data)
		case *protocol.SendUnreliableFragment:
			used, err = p.handleSendUnreliableFragment(c, data)
		case *protocol.BandwidthLimit:
			err = p.handleBandwidthLimit(c)
		case *protocol.ThrottleConfigure:
			err = p.handleThrottleConfigure(c)
		default:
			err = errMalformed
		}
		if err != nil {
			h.log.WithError(err).Debugf("Dropping rest of datagram from %s at %s", addr, protocol.String(cmd))
			return
		}
		data = data[used:]

		if !ch.Acknowledged() {
			continue
		}
		if !hdr.HasSentTime() {
			return
		}
		switch p.state {
		case PeerStateDisconnecting, PeerStateAcknowledgingConnect, PeerStateDisconnected, PeerStateZombie:
		case PeerStateAcknowledgingDisconnect:
			if ch.Type() == protocol.CommandDisconnect {
				p.queueAcknowledgement(ch, hdr.SentTime)
			}
		default:
			p.queueAcknowledgement(ch, hdr.SentTime)
		}
	}
}

// handleConnect admits a new peer for a connect request, or returns nil
// when the request is refused or repeated.
func (h *Host) handleConnect(addr *net.UDPAddr, c *protocol.Connect) *Peer {
	channelCount := c.ChannelCount
	if channelCount < protocol.MinimumChannelCount || channelCount > protocol.MaximumChannelCount {
		return nil
	}

	duplicatePeers := 0
	for _, q := range h.peers.list {
		if q.state == PeerStateConnecting || !q.addr.IP.Equal(addr.IP) {
			continue
		}
		if q.addr.Port == addr.Port && q.connectID == c.ConnectID {
			return nil
		}
		duplicatePeers++
	}
	if duplicatePeers >= h.duplicatePeers {
		return nil
	}

	id, err := h.allocatePeerID()
	if err != nil {
		h.log.WithError(err).Debugf("Refusing connect from %s", addr)
		return nil
	}
	if channelCount > uint32(h.channelLimit) {
		channelCount = uint32(h.channelLimit)
	}

	p := newPeer(h, addr)
	p.incomingPeerID = id
	p.channels = make([]channel, channelCount)
	p.state = PeerStateAcknowledgingConnect
	p.connectID = c.ConnectID
	p.outgoingPeerID = c.OutgoingPeerID
	p.incomingBandwidth = c.IncomingBandwidth
	p.outgoingBandwidth = c.OutgoingBandwidth
	p.packetThrottleInterval = c.PacketThrottleInterval
	p.packetThrottleAcceleration = c.PacketThrottleAcceleration
	p.packetThrottleDeceleration = c.PacketThrottleDeceleration
	p.eventData = c.Data

	incomingSessionID := c.IncomingSessionID
	if incomingSessionID == 0xFF {
		incomingSessionID = p.outgoingSessionID
	}
	incomingSessionID = (incomingSessionID + 1) & sessionMask
	if incomingSessionID == p.outgoingSessionID&sessionMask {
		incomingSessionID = (incomingSessionID + 1) & sessionMask
	}
	p.outgoingSessionID = incomingSessionID

	outgoingSessionID := c.OutgoingSessionID
	if outgoingSessionID == 0xFF {
		outgoingSessionID = p.incomingSessionID
	}
	outgoingSessionID = (outgoingSessionID + 1) & sessionMask
	if outgoingSessionID == p.incomingSessionID&sessionMask {
		outgoingSessionID = (outgoingSessionID + 1) & sessionMask
	}
	p.incomingSessionID = outgoingSessionID

	mtu := clampUint32(c.MTU, protocol.MinimumMTU, protocol.MaximumMTU)
	if mtu < p.mtu {
		p.mtu = mtu
	}

	switch {
	case h.outgoingBandwidth == 0 && p.incomingBandwidth == 0:
		p.windowSize = protocol.MaximumWindowSize
	case h.outgoingBandwidth == 0 || p.incomingBandwidth == 0:
		p.windowSize = maxUint32(h.outgoingBandwidth, p.incomingBandwidth) / windowSizeScale * protocol.MinimumWindowSize
	default:
		lo := h.outgoingBandwidth
		if p.incomingBandwidth < lo {
			lo = p.incomingBandwidth
		}
		p.windowSize = lo / windowSizeScale * protocol.MinimumWindowSize
	}
	p.windowSize = clampUint32(p.windowSize, protocol.MinimumWindowSize, protocol.MaximumWindowSize)

	windowSize := uint32(protocol.MaximumWindowSize)
	if h.incomingBandwidth != 0 {
		windowSize = h.incomingBandwidth / windowSizeScale * protocol.MinimumWindowSize
	}
	if windowSize > c.WindowSize {
		windowSize = c.WindowSize
	}
	windowSize = clampUint32(windowSize, protocol.MinimumWindowSize, protocol.MaximumWindowSize)

	p.queueOutgoingCommand(&protocol.VerifyConnect{
		CommandHeader: protocol.CommandHeader{
			Command:   uint8(protocol.CommandVerifyConnect) | protocol.CommandFlagAcknowledge,
			ChannelID: peerLevelChannel,
		},
		OutgoingPeerID:             p.incomingPeerID,
		IncomingSessionID:          incomingSessionID,
		OutgoingSessionID:          outgoingSessionID,
		MTU:                        p.mtu,
		WindowSize:                 windowSize,
		ChannelCount:               channelCount,
		IncomingBandwidth:          h.incomingBandwidth,
		OutgoingBandwidth:          h.outgoingBandwidth,
		PacketThrottleInterval:     p.packetThrottleInterval,
		PacketThrottleAcceleration: p.packetThrottleAcceleration,
		PacketThrottleDeceleration: p.packetThrottleDeceleration,
		ConnectID:                  p.connectID,
	}, nil, 0, 0)

	h.peers.add(p)
	h.log.Debugf("Accepted connect from %s as peer %d", addr, id)
	return p
}

// queueAcknowledgement queues an acknowledgement of the command with
// header hdr. Commands in the window band just ahead of the free windows
// are left unacknowledged so that the sender retransmits them once the
// receiver has caught up. It reports whether the acknowledgement was queued.
func (p *Peer) queueAcknowledgement(hdr *protocol.CommandHeader, sentTime uint16) bool {
	if int(hdr.ChannelID) < len(p.channels) {
		ch := &p.channels[hdr.ChannelID]
		reliableWindow := hdr.ReliableSeq / reliableWindowSize
		currentWindow := ch.incomingReliableSeq / reliableWindowSize
		if hdr.ReliableSeq < ch.incomingReliableSeq {
			reliableWindow += reliableWindows
		}
		if reliableWindow >= currentWindow+freeReliableWindows-1 && reliableWindow <= currentWindow+freeReliableWindows {
			return false
		}
	}

	ack := p.host.pools.getAck()
	ack.sentTime = sentTime
	ack.command = *hdr
	p.outgoingDataTotal += uint32(protocol.CommandSize(protocol.CommandAcknowledge))
	p.acknowledgements = append(p.acknowledgements, ack)
	return true
}
