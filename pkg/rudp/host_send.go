package rudp

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/skycoin/rudp/pkg/protocol"
)

// freeReliableWindowMask covers the windows that must be unused before a
// command may open a new reliable window.
const freeReliableWindowMask = 1<<freeReliableWindows - 1

func (h *Host) sendOutgoingCommands(checkForTimeouts bool) error {
	h.peersScratch = h.peers.snapshot(h.peersScratch)
	peers := h.peersScratch

	for pass, lastPass := 0, 0; pass <= lastPass; pass++ {
		for _, p := range peers {
			if p.state == PeerStateDisconnected || p.state == PeerStateZombie {
				continue
			}
			if pass > 0 && !p.continueSending {
				continue
			}
			if err := h.sendPeer(p, checkForTimeouts); err != nil {
				return err
			}
			if p.continueSending {
				lastPass = pass + 1
			}
		}
	}
	return nil
}

// sendPeer packs one datagram for p and sends it.
func (h *Host) sendPeer(p *Peer, checkForTimeouts bool) error {
	p.continueSending = false
	h.headerFlags = 0
	h.commandCount = 0
	h.commandOffset = 0
	h.buffers = append(h.buffers[:0], nil)
	h.packetSize = protocol.HeaderMaxSize

	if len(p.acknowledgements) > 0 {
		h.sendAcknowledgements(p)
	}

	if checkForTimeouts && len(p.sentReliable) > 0 &&
		timeGreaterEqual(h.serviceTime, p.nextTimeout) && p.checkTimeouts() {
		return nil
	}

	if (len(p.outgoing) == 0 || h.checkOutgoingCommands(p)) &&
		len(p.sentReliable) == 0 &&
		timeDifference(h.serviceTime, p.lastReceiveTime) >= p.pingInterval &&
		p.mtu-h.packetSize >= uint32(protocol.CommandSize(protocol.CommandPing)) {
		p.Ping()
		h.checkOutgoingCommands(p)
	}

	if h.commandCount == 0 {
		return nil
	}
	return h.sendDatagram(p)
}

func (h *Host) appendCommand(cmd protocol.Command) {
	n, err := protocol.PutCommand(h.commandData[h.commandOffset:], cmd)
	if err != nil {
		panic(err)
	}
	h.buffers = append(h.buffers, h.commandData[h.commandOffset:h.commandOffset+n])
	h.commandOffset += n
	h.packetSize += uint32(n)
	h.commandCount++
}

func (h *Host) sendAcknowledgements(p *Peer) {
	ackSize := uint32(protocol.CommandSize(protocol.CommandAcknowledge))
	i := 0
	for ; i < len(p.acknowledgements); i++ {
		if h.commandCount >= protocol.MaximumPacketCommands ||
			len(h.buffers) >= bufferMaximum ||
			p.mtu-h.packetSize < ackSize {
			p.continueSending = true
			break
		}
		ack := p.acknowledgements[i]
		h.appendCommand(&protocol.Acknowledge{
			CommandHeader: protocol.CommandHeader{
				Command:     uint8(protocol.CommandAcknowledge),
				ChannelID:   ack.command.ChannelID,
				ReliableSeq: ack.command.ReliableSeq,
			},
			ReceivedReliableSeq: ack.command.ReliableSeq,
			ReceivedSentTime:    ack.sentTime,
		})
		if ack.command.Type() == protocol.CommandDisconnect {
			p.dispatchState(PeerStateZombie)
		}
		h.pools.putAck(ack)
	}
	p.acknowledgements = dropAcks(p.acknowledgements, i)
}

// checkTimeouts requeues reliable commands whose retransmission timeout
// expired. It reports whether the peer timed out and was disconnected.
func (p *Peer) checkTimeouts() bool {
	now := p.host.serviceTime
	insertAt := 0
	i := 0
	for i < len(p.sentReliable) {
		oc := p.sentReliable[i]
		if timeDifference(now, oc.sentTime) < oc.rtTimeout {
			i++
			continue
		}

		if p.earliestTimeout == 0 || timeLess(oc.sentTime, p.earliestTimeout) {
			p.earliestTimeout = oc.sentTime
		}
		if p.earliestTimeout != 0 &&
			(timeDifference(now, p.earliestTimeout) >= p.timeoutMaximum ||
				(oc.rtTimeout >= oc.rtTimeoutLimit && timeDifference(now, p.earliestTimeout) >= p.timeoutMinimum)) {
			p.host.log.Debugf("Peer %s timed out", p)
			p.notifyDisconnect()
			return true
		}

		p.packetsLost++
		oc.rtTimeout *= 2
		if oc.packet != nil {
			p.reliableDataInTransit -= uint32(oc.fragmentLength)
		}
		p.sentReliable = removeOutgoing(p.sentReliable, i)
		p.outgoing = insertOutgoing(p.outgoing, insertAt, oc)
		insertAt++

		if i == 0 && len(p.sentReliable) > 0 {
			first := p.sentReliable[0]
			p.nextTimeout = first.sentTime + first.rtTimeout
		}
	}
	return false
}

// checkOutgoingCommands packs queued commands into the datagram under
// construction. It reports whether a ping may still be added.
func (h *Host) checkOutgoingCommands(p *Peer) bool {
	var (
		windowWrap     bool
		windowExceeded bool
		canPing        = true
	)

	i := 0
	for i < len(p.outgoing) {
		oc := p.outgoing[i]
		hdr := oc.command.Header()

		var (
			ch             *channel
			reliableWindow uint16
		)
		if hdr.Acknowledged() {
			if int(hdr.ChannelID) < len(p.channels) {
				ch = &p.channels[hdr.ChannelID]
			}
			reliableWindow = oc.reliableSeq / reliableWindowSize
			if ch != nil {
				if !windowWrap && oc.sendAttempts < 1 && oc.reliableSeq%reliableWindowSize == 0 &&
					(ch.reliableWindows[(reliableWindow+reliableWindows-1)%reliableWindows] >= reliableWindowSize ||
						uint32(ch.usedReliableWindows)&(freeReliableWindowMask<<reliableWindow|freeReliableWindowMask>>(reliableWindows-reliableWindow)) != 0) {
					windowWrap = true
				}
				if windowWrap {
					i++
					continue
				}
			}
			if oc.packet != nil {
				if !windowExceeded {
					windowSize := p.packetThrottle * p.windowSize / packetThrottleScale
					if p.reliableDataInTransit+uint32(oc.fragmentLength) > maxUint32(windowSize, p.mtu) {
						windowExceeded = true
					}
				}
				if windowExceeded {
					i++
					continue
				}
			}
			canPing = false
		}

		commandSize := uint32(protocol.Size(oc.command))
		if h.commandCount >= protocol.MaximumPacketCommands ||
			len(h.buffers)+1 >= bufferMaximum ||
			p.mtu-h.packetSize < commandSize ||
			(oc.packet != nil && p.mtu-h.packetSize < commandSize+uint32(oc.fragmentLength)) {
			p.continueSending = true
			break
		}

		if hdr.Acknowledged() {
			if ch != nil && oc.sendAttempts < 1 {
				ch.usedReliableWindows |= 1 << reliableWindow
				ch.reliableWindows[reliableWindow]++
			}
			oc.sendAttempts++
			if oc.rtTimeout == 0 {
				oc.rtTimeout = p.roundTripTime + 4*p.roundTripTimeVariance
				oc.rtTimeoutLimit = p.timeoutLimit * oc.rtTimeout
			}
			if len(p.sentReliable) == 0 {
				p.nextTimeout = h.serviceTime + oc.rtTimeout
			}
			oc.sentTime = h.serviceTime
			p.outgoing = removeOutgoing(p.outgoing, i)
			p.sentReliable = append(p.sentReliable, oc)
			h.headerFlags |= protocol.HeaderFlagSentTime
			p.reliableDataInTransit += uint32(oc.fragmentLength)
		} else {
			if oc.packet != nil && oc.fragmentOffset == 0 {
				p.packetThrottleCounter += packetThrottleCounter
				p.packetThrottleCounter %= packetThrottleScale
				if p.packetThrottleCounter > p.packetThrottle {
					h.dropUnreliable(p, i)
					continue
				}
			}
			p.outgoing = removeOutgoing(p.outgoing, i)
			if oc.packet != nil {
				h.sentUnreliable = append(h.sentUnreliable, oc)
			}
		}

		h.appendCommand(oc.command)
		if oc.packet != nil {
			end := oc.fragmentOffset + uint32(oc.fragmentLength)
			h.buffers = append(h.buffers, oc.packet.Data[oc.fragmentOffset:end])
			h.packetSize += uint32(oc.fragmentLength)
		} else if !hdr.Acknowledged() {
			h.pools.putOutgoing(oc)
		}
		p.packetsSent++
	}

	if p.state == PeerStateDisconnectLater && len(p.outgoing) == 0 && len(p.sentReliable) == 0 {
		p.Disconnect(p.eventData)
	}
	return canPing
}

// dropUnreliable drops the throttled unreliable command at index i together
// with the remaining fragments of its packet.
func (h *Host) dropUnreliable(p *Peer, i int) {
	first := p.outgoing[i]
	reliableSeq, unreliableSeq := first.reliableSeq, first.unreliableSeq
	for i < len(p.outgoing) {
		oc := p.outgoing[i]
		if oc.reliableSeq != reliableSeq || oc.unreliableSeq != unreliableSeq {
			break
		}
		p.outgoing = removeOutgoing(p.outgoing, i)
		p.releaseOutgoing(oc)
	}
}

func (h *Host) sendDatagram(p *Peer) error {
	h.updatePacketLoss(p)

	hdr := protocol.Header{PeerID: p.outgoingPeerID, Flags: h.headerFlags}
	if hdr.HasSentTime() {
		hdr.SentTime = uint16(h.serviceTime)
	}
	if p.outgoingPeerID < protocol.MaximumPeerID {
		hdr.SessionID = p.outgoingSessionID
	}

	compressedSize := 0
	if h.compressor != nil {
		compressedSize = h.compress()
		if compressedSize > 0 {
			hdr.Flags |= protocol.HeaderFlagCompressed
		}
	}

	headerSize, err := hdr.Put(h.headerData[:])
	if err != nil {
		return errors.Wrap(err, "failed to encode header")
	}
	if h.checksum != nil {
		slot := h.headerData[headerSize : headerSize+4]
		var seed uint32
		if p.outgoingPeerID < protocol.MaximumPeerID {
			seed = p.connectID
		}
		binary.BigEndian.PutUint32(slot, seed)
		headerSize += 4

		h.checksum.Begin()
		h.checksum.Sum(h.headerData[:headerSize])
		for _, b := range h.buffers[1:] {
			h.checksum.Sum(b)
		}
		binary.BigEndian.PutUint32(slot, h.checksum.End())
		h.checksum.Reset()
	}

	h.buffers[0] = h.headerData[:headerSize]
	if compressedSize > 0 {
		h.buffers = append(h.buffers[:1], h.compressData[:compressedSize])
	}

	p.lastSendTime = h.serviceTime
	n, err := h.sock.Send(h.buffers, p.addr)
	h.removeSentUnreliableCommands(p)
	if err != nil {
		return errors.Wrapf(err, "failed to send datagram to %s", p.addr)
	}

	h.totalSentData += uint64(n)
	h.totalSentPackets++
	p.totalDataSent += uint64(n)
	if h.metrics != nil {
		h.metrics.DatagramSent(n)
	}
	return nil
}

// compress runs the compressor over the packed command stream and returns
// the compressed size, or 0 when compression did not help.
func (h *Host) compress() int {
	original := int(h.packetSize) - protocol.HeaderMaxSize
	defer h.compressor.Reset()

	h.compressor.Start(h.compressData[:original])
	for _, b := range h.buffers[1:] {
		if err := h.compressor.CompressChunk(b); err != nil {
			return 0
		}
	}
	n, err := h.compressor.End()
	if err != nil || n <= 0 || n >= original {
		return 0
	}
	return n
}

func (h *Host) updatePacketLoss(p *Peer) {
	now := h.serviceTime
	if p.packetLossEpoch == 0 {
		p.packetLossEpoch = now
		return
	}
	if timeDifference(now, p.packetLossEpoch) < packetLossInterval || p.packetsSent == 0 {
		return
	}

	loss := uint32(uint64(p.packetsLost) * packetLossScale / uint64(p.packetsSent))
	p.packetLossVariance = (p.packetLossVariance*3 + absDiff(loss, p.packetLoss)) / 4
	p.packetLoss = (p.packetLoss*7 + loss) / 8

	p.packetLossEpoch = now
	p.packetsSent = 0
	p.packetsLost = 0
}

func (h *Host) removeSentUnreliableCommands(p *Peer) {
	for i, oc := range h.sentUnreliable {
		oc.packet.releaseSent()
		oc.packet = nil
		h.pools.putOutgoing(oc)
		h.sentUnreliable[i] = nil
	}
	h.sentUnreliable = h.sentUnreliable[:0]

	if p.state == PeerStateDisconnectLater && len(p.outgoing) == 0 && len(p.sentReliable) == 0 {
		p.Disconnect(p.eventData)
	}
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
