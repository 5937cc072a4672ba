package rudp

import (
	"fmt"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/rudp/pkg/checksum"
	"github.com/skycoin/rudp/pkg/protocol"
	"github.com/skycoin/rudp/pkg/rangecoder"
)

// Config configures a Host.
type Config struct {
	// PeerCount is the maximum number of peers, at most protocol.MaximumPeerID.
	PeerCount int
	// ChannelLimit caps the channel count of incoming connections.
	// Zero means protocol.MaximumChannelCount.
	ChannelLimit int
	MTU          int

	// Bandwidths are in bytes per second. Zero means unlimited.
	IncomingBandwidth uint32
	OutgoingBandwidth uint32

	MaximumPacketSize  int
	MaximumWaitingData int
	// DuplicatePeers caps the number of peers sharing one IP address.
	DuplicatePeers int

	// MaxPollTime caps a single socket wait inside Service. Zero waits for
	// the whole service timeout at once.
	MaxPollTime time.Duration

	// Compress enables the range coder on outgoing datagrams.
	Compress bool
	// Checksum enables CRC32 checksums on all datagrams.
	Checksum bool
}

// DefaultConfig returns the default host configuration.
func DefaultConfig() Config {
	return Config{
		PeerCount:          DefaultPeerCount,
		ChannelLimit:       protocol.MaximumChannelCount,
		MTU:                DefaultMTU,
		MaximumPacketSize:  DefaultMaximumPacketSize,
		MaximumWaitingData: DefaultMaximumWaitingData,
		DuplicatePeers:     protocol.MaximumPeerID,
		MaxPollTime:        100 * time.Millisecond,
	}
}

func (c *Config) validate() error {
	if c.PeerCount < 1 || c.PeerCount > protocol.MaximumPeerID {
		return fmt.Errorf("peer count %d out of range [1, %d]", c.PeerCount, protocol.MaximumPeerID)
	}
	if c.MTU == 0 {
		c.MTU = DefaultMTU
	}
	if c.MTU < protocol.MinimumMTU || c.MTU > protocol.MaximumMTU {
		return fmt.Errorf("mtu %d out of range [%d, %d]", c.MTU, protocol.MinimumMTU, protocol.MaximumMTU)
	}
	if c.ChannelLimit == 0 || c.ChannelLimit > protocol.MaximumChannelCount {
		c.ChannelLimit = protocol.MaximumChannelCount
	}
	if c.MaximumPacketSize <= 0 {
		c.MaximumPacketSize = DefaultMaximumPacketSize
	}
	if c.MaximumWaitingData <= 0 {
		c.MaximumWaitingData = DefaultMaximumWaitingData
	}
	if c.DuplicatePeers <= 0 {
		c.DuplicatePeers = protocol.MaximumPeerID
	}
	return nil
}

// Option configures optional Host collaborators.
type Option func(*Host)

// WithCompressor sets the datagram compressor, replacing the range coder
// selected by Config.Compress. A nil compressor disables compression.
func WithCompressor(c Compressor) Option {
	return func(h *Host) { h.compressor = c }
}

// WithChecksum sets the datagram checksum, replacing the CRC32 selected by
// Config.Checksum. A nil checksum disables checksums.
func WithChecksum(c Checksum) Option {
	return func(h *Host) { h.checksum = c }
}

// WithLogger sets the host logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Host) { h.log = l }
}

// WithMetrics reports host statistics to m.
func WithMetrics(m Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithEventHandler calls fn for every event as it is produced, in addition
// to returning it from Service.
func WithEventHandler(fn func(Event)) Option {
	return func(h *Host) { h.onEvent = fn }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Host) { h.clock = now }
}

func defaultCompressor(c Config) Compressor {
	if !c.Compress {
		return nil
	}
	return rangecoder.New()
}

func defaultChecksum(c Config) Checksum {
	if !c.Checksum {
		return nil
	}
	return checksum.NewCRC32()
}
