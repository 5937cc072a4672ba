package rudp

import (
	"math/rand"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/rudp/pkg/protocol"
)

const maxCommandSize = 48

// Host is a local endpoint that peers connect to and through.
type Host struct {
	sock       Socket
	log        *logging.Logger
	compressor Compressor
	checksum   Checksum
	metrics    Metrics
	onEvent    func(Event)
	clock      func() time.Time
	epoch      time.Time
	rand       *rand.Rand

	peers          *peerSet
	peerCount      int
	channelLimit   int
	mtu            uint32
	duplicatePeers int
	maxPollTime    time.Duration

	incomingBandwidth          uint32
	outgoingBandwidth          uint32
	bandwidthThrottleEpoch     uint32
	recalculateBandwidthLimits bool
	bandwidthLimitedPeers      int
	connectedPeers             int

	maximumPacketSize  int
	maximumWaitingData int

	serviceTime   uint32
	dispatchQueue []*Peer
	events        []Event
	pools         commandPools

	// Outgoing datagram under construction.
	headerData     [protocol.HeaderMaxSize + 4]byte
	commandData    [protocol.MaximumPacketCommands * maxCommandSize]byte
	commandOffset  int
	commandCount   int
	buffers        [][]byte
	packetSize     uint32
	headerFlags    uint16
	sentUnreliable []*outgoingCommand
	compressData   [protocol.MaximumMTU]byte
	peersScratch   []*Peer

	receiveData    [protocol.MaximumMTU]byte
	decompressData [protocol.MaximumMTU]byte

	totalSentData        uint64
	totalSentPackets     uint64
	totalReceivedData    uint64
	totalReceivedPackets uint64

	closed bool
}

// HostStats is a snapshot of host counters.
type HostStats struct {
	Peers                int
	ConnectedPeers       int
	TotalSentData        uint64
	TotalSentPackets     uint64
	TotalReceivedData    uint64
	TotalReceivedPackets uint64
}

// NewHost creates a Host serving sock.
func NewHost(conf Config, sock Socket, opts ...Option) (*Host, error) {
	if err := conf.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid host config")
	}

	h := &Host{
		sock:               sock,
		log:                log,
		compressor:         defaultCompressor(conf),
		checksum:           defaultChecksum(conf),
		clock:              time.Now,
		peers:              newPeerSet(),
		peerCount:          conf.PeerCount,
		channelLimit:       conf.ChannelLimit,
		mtu:                uint32(conf.MTU),
		duplicatePeers:     conf.DuplicatePeers,
		maxPollTime:        conf.MaxPollTime,
		incomingBandwidth:  conf.IncomingBandwidth,
		outgoingBandwidth:  conf.OutgoingBandwidth,
		maximumPacketSize:  conf.MaximumPacketSize,
		maximumWaitingData: conf.MaximumWaitingData,
		pools:              newCommandPools(),
		buffers:            make([][]byte, 0, bufferMaximum),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.epoch = h.clock()
	h.rand = rand.New(rand.NewSource(h.epoch.UnixNano())) // nolint:gosec

	h.log.Infof("Host listening on %s: peers=%d mtu=%d compress=%t checksum=%t",
		sock.LocalAddr(), h.peerCount, h.mtu, h.compressor != nil, h.checksum != nil)
	return h, nil
}

// LocalAddr returns the address of the host socket.
func (h *Host) LocalAddr() net.Addr { return h.sock.LocalAddr() }

// now returns the service time in milliseconds. It starts at 1 so that
// zero can stand for an unset time.
func (h *Host) now() uint32 {
	return uint32(h.clock().Sub(h.epoch)/time.Millisecond) + 1
}

// Connect starts connecting to addr with channelCount channels. The
// connection completes with a connect event for the returned peer, or fails
// with a disconnect event.
func (h *Host) Connect(addr *net.UDPAddr, channelCount int, data uint32) (*Peer, error) {
	if h.closed {
		return nil, ErrHostClosed
	}
	if channelCount < protocol.MinimumChannelCount {
		channelCount = protocol.MinimumChannelCount
	} else if channelCount > protocol.MaximumChannelCount {
		channelCount = protocol.MaximumChannelCount
	}

	id, err := h.allocatePeerID()
	if err != nil {
		return nil, err
	}

	p := newPeer(h, addr)
	p.incomingPeerID = id
	p.channels = make([]channel, channelCount)
	p.state = PeerStateConnecting
	p.connectID = h.rand.Uint32()
	p.windowSize = h.initialWindowSize()

	p.queueOutgoingCommand(&protocol.Connect{
		CommandHeader: protocol.CommandHeader{
			Command:   uint8(protocol.CommandConnect) | protocol.CommandFlagAcknowledge,
			ChannelID: peerLevelChannel,
		},
		OutgoingPeerID:             p.incomingPeerID,
		IncomingSessionID:          p.incomingSessionID,
		OutgoingSessionID:          p.outgoingSessionID,
		MTU:                        p.mtu,
		WindowSize:                 p.windowSize,
		ChannelCount:               uint32(channelCount),
		IncomingBandwidth:          h.incomingBandwidth,
		OutgoingBandwidth:          h.outgoingBandwidth,
		PacketThrottleInterval:     p.packetThrottleInterval,
		PacketThrottleAcceleration: p.packetThrottleAcceleration,
		PacketThrottleDeceleration: p.packetThrottleDeceleration,
		ConnectID:                  p.connectID,
		Data:                       data,
	}, nil, 0, 0)

	h.peers.add(p)
	h.log.Debugf("Connecting to %s as peer %d", addr, id)
	return p, nil
}

func (h *Host) initialWindowSize() uint32 {
	if h.outgoingBandwidth == 0 {
		return protocol.MaximumWindowSize
	}
	w := h.outgoingBandwidth / windowSizeScale * protocol.MinimumWindowSize
	return clampUint32(w, protocol.MinimumWindowSize, protocol.MaximumWindowSize)
}

// allocatePeerID picks a random unused peer id.
func (h *Host) allocatePeerID() (uint16, error) {
	if h.peers.len() >= h.peerCount {
		return 0, ErrNoFreePeerID
	}
	for i := 0; i < 16; i++ {
		id := uint16(h.rand.Intn(protocol.MaximumPeerID))
		if !h.peers.has(id) {
			return id, nil
		}
	}
	for id := uint16(0); id < protocol.MaximumPeerID; id++ {
		if !h.peers.has(id) {
			return id, nil
		}
	}
	return 0, ErrNoFreePeerID
}

// Broadcast queues packet on channelID for every connected peer.
func (h *Host) Broadcast(channelID uint8, packet *Packet) {
	for _, p := range h.peers.snapshot(nil) {
		if p.state != PeerStateConnected {
			continue
		}
		if err := p.Send(channelID, packet); err != nil {
			h.log.WithError(err).Debugf("Broadcast to %s failed", p)
		}
	}
}

// ChannelLimit caps the channel count of future incoming connections.
// Zero means protocol.MaximumChannelCount.
func (h *Host) ChannelLimit(limit int) {
	if limit <= 0 || limit > protocol.MaximumChannelCount {
		limit = protocol.MaximumChannelCount
	} else if limit < protocol.MinimumChannelCount {
		limit = protocol.MinimumChannelCount
	}
	h.channelLimit = limit
}

// BandwidthLimit changes the host bandwidth in bytes per second and
// announces it to all peers on the next service.
func (h *Host) BandwidthLimit(incoming, outgoing uint32) {
	h.incomingBandwidth = incoming
	h.outgoingBandwidth = outgoing
	h.recalculateBandwidthLimits = true
}

// Peers returns the peers currently known to the host.
func (h *Host) Peers() []*Peer {
	return h.peers.snapshot(nil)
}

// Stats returns the host counters.
func (h *Host) Stats() HostStats {
	return HostStats{
		Peers:                h.peers.len(),
		ConnectedPeers:       h.connectedPeers,
		TotalSentData:        h.totalSentData,
		TotalSentPackets:     h.totalSentPackets,
		TotalReceivedData:    h.totalReceivedData,
		TotalReceivedPackets: h.totalReceivedPackets,
	}
}

// Flush sends all queued commands without receiving or dispatching.
func (h *Host) Flush() error {
	if h.closed {
		return ErrHostClosed
	}
	h.serviceTime = h.now()
	return h.sendOutgoingCommands(false)
}

func (h *Host) flushQuietly() {
	if err := h.Flush(); err != nil {
		h.log.WithError(err).Warn("Failed to flush host")
	}
}

// Close resets every peer and closes the socket.
func (h *Host) Close() error {
	if h.closed {
		return nil
	}
	for _, p := range h.peers.snapshot(nil) {
		p.reset()
	}
	h.closed = true
	if err := h.sock.Close(); err != nil {
		return errors.Wrap(err, "failed to close socket")
	}
	return nil
}

func (h *Host) emit(ev Event) {
	h.events = append(h.events, ev)
	if h.metrics != nil {
		h.metrics.PeerEvent(ev.Type.String())
	}
	if h.onEvent != nil {
		h.onEvent(ev)
	}
}
