package rudp

import (
	"github.com/pkg/errors"

	"github.com/skycoin/rudp/pkg/protocol"
)

var (
	errTooMuchWaitingData = errors.New("too much waiting data")
	errFragmentMismatch   = errors.New("fragment does not match its packet")
	errFragmentDiscarded  = errors.New("fragment discarded")
)

func (p *Peer) handleAcknowledge(c *protocol.Acknowledge) error {
	h := p.host
	if p.state == PeerStateDisconnected || p.state == PeerStateZombie {
		return nil
	}

	sentTime, ok := reconstructSentTime(h.serviceTime, c.ReceivedSentTime)
	if !ok {
		return nil
	}
	rtt := timeDifference(h.serviceTime, sentTime)
	if rtt < 1 {
		rtt = 1
	}
	p.updateRoundTripTime(rtt)
	if h.metrics != nil {
		h.metrics.RoundTrip(p.RoundTripTime())
	}

	p.lastReceiveTime = maxUint32(h.serviceTime, 1)
	p.earliestTimeout = 0

	ct := p.removeSentReliableCommand(c.ReceivedReliableSeq, c.ChannelID)

	switch p.state {
	case PeerStateAcknowledgingConnect:
		if ct != protocol.CommandVerifyConnect {
			return errMalformed
		}
		p.notifyConnect()
	case PeerStateDisconnecting:
		if ct != protocol.CommandDisconnect {
			return errMalformed
		}
		p.notifyDisconnect()
	case PeerStateDisconnectLater:
		if len(p.outgoing) == 0 && len(p.sentReliable) == 0 {
			p.Disconnect(p.eventData)
		}
	}
	return nil
}

// removeSentReliableCommand drops the command acknowledged by seq on
// channelID and returns its type, or CommandNone if it is not pending.
func (p *Peer) removeSentReliableCommand(seq uint16, channelID uint8) protocol.CommandType {
	var (
		oc      *outgoingCommand
		wasSent = true
	)
	for i, c := range p.sentReliable {
		if c.reliableSeq == seq && c.command.Header().ChannelID == channelID {
			oc = c
			p.sentReliable = removeOutgoing(p.sentReliable, i)
			break
		}
	}
	if oc == nil {
		for i, c := range p.outgoing {
			if !c.command.Header().Acknowledged() {
				continue
			}
			if c.sendAttempts < 1 {
				return protocol.CommandNone
			}
			if c.reliableSeq == seq && c.command.Header().ChannelID == channelID {
				oc = c
				p.outgoing = removeOutgoing(p.outgoing, i)
				break
			}
		}
		if oc == nil {
			return protocol.CommandNone
		}
		wasSent = false
	}

	if int(channelID) < len(p.channels) {
		ch := &p.channels[channelID]
		w := seq / reliableWindowSize
		if ch.reliableWindows[w] > 0 {
			ch.reliableWindows[w]--
			if ch.reliableWindows[w] == 0 {
				ch.usedReliableWindows &^= 1 << w
			}
		}
	}

	ct := oc.command.Header().Type()
	if oc.packet != nil {
		if wasSent {
			p.reliableDataInTransit -= uint32(oc.fragmentLength)
		}
		oc.packet.releaseSent()
		oc.packet = nil
	}
	p.host.pools.putOutgoing(oc)

	if len(p.sentReliable) > 0 {
		first := p.sentReliable[0]
		p.nextTimeout = first.sentTime + first.rtTimeout
	}
	return ct
}

func (p *Peer) handleVerifyConnect(c *protocol.VerifyConnect) error {
	if p.state != PeerStateConnecting {
		return nil
	}

	if c.ChannelCount < protocol.MinimumChannelCount || c.ChannelCount > protocol.MaximumChannelCount ||
		c.PacketThrottleInterval != p.packetThrottleInterval ||
		c.PacketThrottleAcceleration != p.packetThrottleAcceleration ||
		c.PacketThrottleDeceleration != p.packetThrottleDeceleration ||
		c.ConnectID != p.connectID {
		p.eventData = 0
		p.notifyDisconnect()
		return errRejected
	}

	p.removeSentReliableCommand(1, peerLevelChannel)

	if int(c.ChannelCount) < len(p.channels) {
		p.channels = p.channels[:c.ChannelCount]
	}
	p.outgoingPeerID = c.OutgoingPeerID
	p.incomingSessionID = c.IncomingSessionID
	p.outgoingSessionID = c.OutgoingSessionID

	mtu := clampUint32(c.MTU, protocol.MinimumMTU, protocol.MaximumMTU)
	if mtu < p.mtu {
		p.mtu = mtu
	}
	window := clampUint32(c.WindowSize, protocol.MinimumWindowSize, protocol.MaximumWindowSize)
	if window < p.windowSize {
		p.windowSize = window
	}
	p.incomingBandwidth = c.IncomingBandwidth
	p.outgoingBandwidth = c.OutgoingBandwidth

	p.notifyConnect()
	return nil
}

func (p *Peer) handleDisconnect(c *protocol.Disconnect) error {
	switch p.state {
	case PeerStateDisconnected, PeerStateZombie, PeerStateAcknowledgingDisconnect:
		return nil
	}

	p.resetQueues()

	switch {
	case p.state == PeerStateConnectionSucceeded || p.state == PeerStateDisconnecting || p.state == PeerStateConnecting:
		p.notifyDisconnect()
	case p.state != PeerStateConnected && p.state != PeerStateDisconnectLater:
		if p.state == PeerStateConnectionPending {
			p.host.recalculateBandwidthLimits = true
		}
		p.reset()
	case c.Acknowledged():
		p.changeState(PeerStateAcknowledgingDisconnect)
	default:
		p.notifyDisconnect()
	}

	if p.state != PeerStateDisconnected {
		p.eventData = c.Data
	}
	return nil
}

func (p *Peer) handlePing() error {
	if !p.state.acceptsData() {
		return errMalformed
	}
	return nil
}

func (p *Peer) handleBandwidthLimit(c *protocol.BandwidthLimit) error {
	h := p.host
	if !p.state.acceptsData() {
		return errMalformed
	}

	if p.incomingBandwidth != 0 {
		h.bandwidthLimitedPeers--
	}
	p.incomingBandwidth = c.IncomingBandwidth
	p.outgoingBandwidth = c.OutgoingBandwidth
	if p.incomingBandwidth != 0 {
		h.bandwidthLimitedPeers++
	}

	switch {
	case p.incomingBandwidth == 0 && h.outgoingBandwidth == 0:
		p.windowSize = protocol.MaximumWindowSize
	case p.incomingBandwidth == 0 || h.outgoingBandwidth == 0:
		p.windowSize = maxUint32(p.incomingBandwidth, h.outgoingBandwidth) / windowSizeScale * protocol.MinimumWindowSize
	default:
		lo := p.incomingBandwidth
		if h.outgoingBandwidth < lo {
			lo = h.outgoingBandwidth
		}
		p.windowSize = lo / windowSizeScale * protocol.MinimumWindowSize
	}
	p.windowSize = clampUint32(p.windowSize, protocol.MinimumWindowSize, protocol.MaximumWindowSize)
	return nil
}

func (p *Peer) handleThrottleConfigure(c *protocol.ThrottleConfigure) error {
	if !p.state.acceptsData() {
		return errMalformed
	}
	p.packetThrottleInterval = c.PacketThrottleInterval
	p.packetThrottleAcceleration = c.PacketThrottleAcceleration
	p.packetThrottleDeceleration = c.PacketThrottleDeceleration
	return nil
}

// checkData validates a send command and returns its payload.
func (p *Peer) checkData(hdr *protocol.CommandHeader, dataLength uint16, data []byte) ([]byte, error) {
	if int(hdr.ChannelID) >= len(p.channels) || !p.state.acceptsData() {
		return nil, errMalformed
	}
	n := int(dataLength)
	if n > p.host.maximumPacketSize || n > len(data) {
		return nil, errMalformed
	}
	return data[:n], nil
}

func (p *Peer) handleSendReliable(c *protocol.SendReliable, data []byte) (int, error) {
	payload, err := p.checkData(&c.CommandHeader, c.DataLength, data)
	if err != nil {
		return 0, err
	}
	if _, err := p.queueIncomingCommand(c, payload, len(payload), PacketFlagReliable, 0); err != nil {
		return 0, err
	}
	return len(payload), nil
}

func (p *Peer) handleSendUnreliable(c *protocol.SendUnreliable, data []byte) (int, error) {
	payload, err := p.checkData(&c.CommandHeader, c.DataLength, data)
	if err != nil {
		return 0, err
	}
	if _, err := p.queueIncomingCommand(c, payload, len(payload), 0, 0); err != nil {
		return 0, err
	}
	return len(payload), nil
}

func (p *Peer) handleSendUnsequenced(c *protocol.SendUnsequenced, data []byte) (int, error) {
	payload, err := p.checkData(&c.CommandHeader, c.DataLength, data)
	if err != nil {
		return 0, err
	}

	group := uint32(c.UnsequencedGroup)
	index := group % unsequencedWindowSize
	if group < uint32(p.incomingUnsequencedGroup) {
		group += 0x10000
	}
	if group >= uint32(p.incomingUnsequencedGroup)+freeUnsequencedWindows*unsequencedWindowSize {
		return len(payload), nil
	}

	group &= 0xFFFF
	if group-index != uint32(p.incomingUnsequencedGroup) {
		p.incomingUnsequencedGroup = uint16(group - index)
		p.unsequencedWindow = [unsequencedWindowSize / 32]uint32{}
	} else if p.unsequencedWindow[index/32]&(1<<(index%32)) != 0 {
		return len(payload), nil
	}

	in, err := p.queueIncomingCommand(c, payload, len(payload), PacketFlagUnsequenced, 0)
	if err != nil {
		return 0, err
	}
	if in != nil {
		p.unsequencedWindow[index/32] |= 1 << (index % 32)
	}
	return len(payload), nil
}

func (p *Peer) handleSendFragment(c *protocol.SendFragment, data []byte) (int, error) {
	payload, err := p.checkData(&c.CommandHeader, c.DataLength, data)
	if err != nil {
		return 0, err
	}
	ch := &p.channels[c.ChannelID]

	startSeq := c.StartSeq
	startWindow := startSeq / reliableWindowSize
	currentWindow := ch.incomingReliableSeq / reliableWindowSize
	if startSeq < ch.incomingReliableSeq {
		startWindow += reliableWindows
	}
	if startWindow < currentWindow || startWindow >= currentWindow+freeReliableWindows-1 {
		return len(payload), nil
	}

	if err := p.checkFragment(c, len(payload)); err != nil {
		return 0, err
	}

	var start *incomingCommand
	for i := len(ch.incomingReliable) - 1; i >= 0; i-- {
		in := ch.incomingReliable[i]
		if startSeq >= ch.incomingReliableSeq {
			if in.reliableSeq < ch.incomingReliableSeq {
				continue
			}
		} else if in.reliableSeq >= ch.incomingReliableSeq {
			break
		}
		if in.reliableSeq <= startSeq {
			if in.reliableSeq < startSeq {
				break
			}
			if in.commandType() != protocol.CommandSendFragment ||
				len(in.packet.Data) != int(c.TotalLength) || in.fragmentCount != c.FragmentCount {
				return 0, errFragmentMismatch
			}
			start = in
			break
		}
	}

	if start == nil {
		hostCommand := *c
		hostCommand.ReliableSeq = startSeq
		start, err = p.queueIncomingCommand(&hostCommand, nil, int(c.TotalLength), PacketFlagReliable, c.FragmentCount)
		if err != nil {
			return 0, err
		}
	}

	p.attachFragment(start, c, payload)
	if start.fragmentsRemaining == 0 {
		p.dispatchIncomingReliable(ch, nil)
	}
	return len(payload), nil
}

func (p *Peer) handleSendUnreliableFragment(c *protocol.SendUnreliableFragment, data []byte) (int, error) {
	payload, err := p.checkData(&c.CommandHeader, c.DataLength, data)
	if err != nil {
		return 0, err
	}
	ch := &p.channels[c.ChannelID]

	reliableSeq := c.ReliableSeq
	startSeq := c.StartSeq
	reliableWindow := reliableSeq / reliableWindowSize
	currentWindow := ch.incomingReliableSeq / reliableWindowSize
	if reliableSeq < ch.incomingReliableSeq {
		reliableWindow += reliableWindows
	}
	if reliableWindow < currentWindow || reliableWindow >= currentWindow+freeReliableWindows-1 {
		return len(payload), nil
	}
	if reliableSeq == ch.incomingReliableSeq && startSeq <= ch.incomingUnreliableSeq {
		return len(payload), nil
	}

	if err := p.checkFragment(&c.SendFragment, len(payload)); err != nil {
		return 0, err
	}

	var start *incomingCommand
	for i := len(ch.incomingUnreliable) - 1; i >= 0; i-- {
		in := ch.incomingUnreliable[i]
		if in.commandType() == protocol.CommandSendUnsequenced {
			continue
		}
		if reliableSeq >= ch.incomingReliableSeq {
			if in.reliableSeq < ch.incomingReliableSeq {
				continue
			}
		} else if in.reliableSeq >= ch.incomingReliableSeq {
			break
		}
		if in.reliableSeq < reliableSeq {
			break
		}
		if in.reliableSeq > reliableSeq {
			continue
		}
		if in.unreliableSeq <= startSeq {
			if in.unreliableSeq < startSeq {
				break
			}
			if in.commandType() != protocol.CommandSendUnreliableFragment ||
				len(in.packet.Data) != int(c.TotalLength) || in.fragmentCount != c.FragmentCount {
				return 0, errFragmentMismatch
			}
			start = in
			break
		}
	}

	if start == nil {
		start, err = p.queueIncomingCommand(c, nil, int(c.TotalLength), PacketFlagUnreliableFragments, c.FragmentCount)
		if err != nil {
			return 0, err
		}
	}

	p.attachFragment(start, &c.SendFragment, payload)
	if start.fragmentsRemaining == 0 {
		p.dispatchIncomingUnreliable(ch, nil)
	}
	return len(payload), nil
}

func (p *Peer) checkFragment(c *protocol.SendFragment, fragmentLength int) error {
	if c.FragmentCount > protocol.MaximumFragmentCount ||
		c.FragmentNumber >= c.FragmentCount ||
		int(c.TotalLength) > p.host.maximumPacketSize ||
		c.TotalLength < c.FragmentCount ||
		c.FragmentOffset >= c.TotalLength ||
		fragmentLength > int(c.TotalLength-c.FragmentOffset) {
		return errMalformed
	}
	return nil
}

// attachFragment copies a fragment into the packet being reassembled.
// Fragments already received are ignored.
func (p *Peer) attachFragment(start *incomingCommand, c *protocol.SendFragment, payload []byte) {
	n := c.FragmentNumber
	if start.fragments[n/32]&(1<<(n%32)) != 0 {
		return
	}
	start.fragmentsRemaining--
	start.fragments[n/32] |= 1 << (n % 32)
	copy(start.packet.Data[c.FragmentOffset:], payload)
}

// queueIncomingCommand places a received command in its channel queue and
// dispatches whatever became deliverable. Stale or duplicate commands are
// dropped and yield a nil command; a dropped fragment is an error.
func (p *Peer) queueIncomingCommand(cmd protocol.Command, data []byte, dataLength int, flags PacketFlags, fragmentCount uint32) (*incomingCommand, error) {
	h := p.host
	hdr := cmd.Header()
	ch := &p.channels[hdr.ChannelID]
	ct := hdr.Type()

	discard := func() (*incomingCommand, error) {
		if fragmentCount > 0 {
			return nil, errFragmentDiscarded
		}
		return nil, nil
	}

	if p.state == PeerStateDisconnectLater {
		return discard()
	}

	var reliableSeq, unreliableSeq uint16
	if ct != protocol.CommandSendUnsequenced {
		reliableSeq = hdr.ReliableSeq
		reliableWindow := reliableSeq / reliableWindowSize
		currentWindow := ch.incomingReliableSeq / reliableWindowSize
		if reliableSeq < ch.incomingReliableSeq {
			reliableWindow += reliableWindows
		}
		if reliableWindow < currentWindow || reliableWindow >= currentWindow+freeReliableWindows-1 {
			return discard()
		}
	}

	var (
		list     *[]*incomingCommand
		insertAt int
	)
	switch ct {
	case protocol.CommandSendFragment, protocol.CommandSendReliable:
		if reliableSeq == ch.incomingReliableSeq {
			return discard()
		}
		list = &ch.incomingReliable
		i := len(ch.incomingReliable) - 1
		for ; i >= 0; i-- {
			in := ch.incomingReliable[i]
			if reliableSeq >= ch.incomingReliableSeq {
				if in.reliableSeq < ch.incomingReliableSeq {
					continue
				}
			} else if in.reliableSeq >= ch.incomingReliableSeq {
				break
			}
			if in.reliableSeq <= reliableSeq {
				if in.reliableSeq < reliableSeq {
					break
				}
				return discard()
			}
		}
		insertAt = i + 1

	case protocol.CommandSendUnreliable, protocol.CommandSendUnreliableFragment:
		switch c := cmd.(type) {
		case *protocol.SendUnreliable:
			unreliableSeq = c.UnreliableSeq
		case *protocol.SendUnreliableFragment:
			unreliableSeq = c.StartSeq
		}
		if reliableSeq == ch.incomingReliableSeq && unreliableSeq <= ch.incomingUnreliableSeq {
			return discard()
		}
		list = &ch.incomingUnreliable
		i := len(ch.incomingUnreliable) - 1
		for ; i >= 0; i-- {
			in := ch.incomingUnreliable[i]
			if in.commandType() == protocol.CommandSendUnsequenced {
				continue
			}
			if reliableSeq >= ch.incomingReliableSeq {
				if in.reliableSeq < ch.incomingReliableSeq {
					continue
				}
			} else if in.reliableSeq >= ch.incomingReliableSeq {
				break
			}
			if in.reliableSeq < reliableSeq {
				break
			}
			if in.reliableSeq > reliableSeq {
				continue
			}
			if in.unreliableSeq <= unreliableSeq {
				if in.unreliableSeq < unreliableSeq {
					break
				}
				return discard()
			}
		}
		insertAt = i + 1

	case protocol.CommandSendUnsequenced:
		list = &ch.incomingUnreliable
		insertAt = 0

	default:
		return discard()
	}

	if p.totalWaitingData >= h.maximumWaitingData {
		return nil, errTooMuchWaitingData
	}

	var packet *Packet
	if data != nil {
		packet = NewPacket(data, flags)
	} else {
		packet = newPacketSize(dataLength, flags)
	}

	in := h.pools.getIncoming()
	in.reliableSeq = hdr.ReliableSeq
	in.unreliableSeq = unreliableSeq
	in.command = cmd
	in.fragmentCount = fragmentCount
	in.fragmentsRemaining = fragmentCount
	in.packet = packet
	if fragmentCount > 0 {
		in.fragments = make([]uint32, (fragmentCount+31)/32)
	}
	p.totalWaitingData += len(packet.Data)

	*list = insertIncoming(*list, insertAt, in)

	switch ct {
	case protocol.CommandSendFragment, protocol.CommandSendReliable:
		p.dispatchIncomingReliable(ch, in)
	default:
		p.dispatchIncomingUnreliable(ch, in)
	}
	return in, nil
}

// dispatchIncomingReliable moves the in-order prefix of the reliable queue
// to the dispatch queue.
func (p *Peer) dispatchIncomingReliable(ch *channel, queued *incomingCommand) {
	n := 0
	for _, in := range ch.incomingReliable {
		if in.fragmentsRemaining > 0 || in.reliableSeq != ch.incomingReliableSeq+1 {
			break
		}
		ch.incomingReliableSeq = in.reliableSeq
		if in.fragmentCount > 0 {
			ch.incomingReliableSeq += uint16(in.fragmentCount - 1)
		}
		n++
	}
	if n == 0 {
		return
	}

	ch.incomingUnreliableSeq = 0
	p.dispatched = append(p.dispatched, ch.incomingReliable[:n]...)
	ch.incomingReliable = dropIncoming(ch.incomingReliable, n)
	p.markDispatch()

	if len(ch.incomingUnreliable) > 0 {
		p.dispatchIncomingUnreliable(ch, queued)
	}
}

// dispatchIncomingUnreliable moves the deliverable runs of the unreliable
// queue to the dispatch queue and drops commands that can no longer be
// delivered. The command just queued is never dropped.
func (p *Peer) dispatchIncomingUnreliable(ch *channel, queued *incomingCommand) {
	list := ch.incomingUnreliable
	move := func(from, to int) {
		for k := from; k < to; k++ {
			p.dispatched = append(p.dispatched, list[k])
			list[k] = nil
		}
		p.markDispatch()
	}

	dropped, start, cur := 0, 0, 0
	for ; cur < len(list); cur++ {
		in := list[cur]
		if in.commandType() == protocol.CommandSendUnsequenced {
			continue
		}

		if in.reliableSeq == ch.incomingReliableSeq {
			if in.fragmentsRemaining == 0 {
				ch.incomingUnreliableSeq = in.unreliableSeq
				continue
			}
			if start != cur {
				move(start, cur)
				dropped = cur
			} else if dropped != cur {
				dropped = cur - 1
			}
		} else {
			reliableWindow := in.reliableSeq / reliableWindowSize
			currentWindow := ch.incomingReliableSeq / reliableWindowSize
			if in.reliableSeq < ch.incomingReliableSeq {
				reliableWindow += reliableWindows
			}
			if reliableWindow >= currentWindow && reliableWindow < currentWindow+freeReliableWindows-1 {
				break
			}
			dropped = cur + 1
			if start != cur {
				move(start, cur)
			}
		}
		start = cur + 1
	}
	if start != cur {
		move(start, cur)
		dropped = cur
	}

	kept := list[:0]
	for k, in := range list {
		if in == nil {
			continue
		}
		if k < dropped && in != queued {
			p.releaseIncoming(in)
			continue
		}
		kept = append(kept, in)
	}
	for k := len(kept); k < len(list); k++ {
		list[k] = nil
	}
	ch.incomingUnreliable = kept
}

// receive pops the next dispatched packet.
func (p *Peer) receive() (uint8, *Packet, bool) {
	if len(p.dispatched) == 0 {
		return 0, nil, false
	}
	in := p.dispatched[0]
	p.dispatched = dropIncoming(p.dispatched, 1)

	channelID := in.command.Header().ChannelID
	packet := in.packet
	in.packet = nil
	p.totalWaitingData -= len(packet.Data)
	p.host.pools.putIncoming(in)
	return channelID, packet, true
}
