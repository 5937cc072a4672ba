// Package node runs a rudp host as a long-lived service.
package node

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/skycoin/skycoin/src/util/logging"
	"golang.org/x/time/rate"

	"github.com/skycoin/rudp/internal/netutil"
	"github.com/skycoin/rudp/pkg/metrics"
	"github.com/skycoin/rudp/pkg/rudp"
	"github.com/skycoin/rudp/pkg/trafficlog"
)

const (
	probeHeaderSize     = 16
	trafficFlushEvery   = time.Second
	maxReconnectBackoff = 30 * time.Second
	subscriberBuffer    = 64
)

var (
	// ErrClosed occurs when a closed node is served.
	ErrClosed = errors.New("node closed")
)

// Event is a peer event as published to subscribers.
type Event struct {
	Type    string    `json:"type"`
	Peer    string    `json:"peer"`
	PeerID  uint16    `json:"peer_id"`
	Conn    uuid.UUID `json:"conn"`
	Channel uint8     `json:"channel"`
	Size    int       `json:"size,omitempty"`
	Data    uint32    `json:"data,omitempty"`
	Time    time.Time `json:"time"`
}

// PeerSummary describes a peer of the node host.
type PeerSummary struct {
	ID    uint16         `json:"id"`
	Addr  string         `json:"addr"`
	Conn  uuid.UUID      `json:"conn"`
	Stats rudp.PeerStats `json:"stats"`
}

type conn struct {
	id    uuid.UUID
	entry trafficlog.Entry
	dirty bool
}

// Node owns a rudp host and serves it from a single goroutine. In server
// mode it echoes every packet back to its sender; in client mode it keeps
// a connection to a remote node and sends it probes at a fixed rate.
// Everything else reads snapshots taken by the serving goroutine.
type Node struct {
	conf    Config
	logger  *logging.Logger
	host    *rudp.Host
	traffic trafficlog.Store
	metrics *metrics.Host

	// Owned by the serving goroutine.
	conns       map[*rudp.Peer]*conn
	remoteAddr  *net.UDPAddr
	remote      *rudp.Peer
	reconnectAt time.Time
	backoff     *netutil.Backoff
	limiter     *rate.Limiter
	probeSeq    uint64
	lastFlush   time.Time

	mu      sync.RWMutex
	peers   []PeerSummary
	stats   rudp.HostStats
	serving bool

	subsMu sync.Mutex
	subs   map[chan Event]struct{}

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates a Node serving sock. Metrics are registered with reg
// unless it is nil.
func New(conf *Config, sock rudp.Socket, masterLogger *logging.MasterLogger, reg prometheus.Registerer) (*Node, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	node := &Node{
		conf:    *conf,
		logger:  masterLogger.PackageLogger("node"),
		conns:   make(map[*rudp.Peer]*conn),
		subs:    make(map[chan Event]struct{}),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	if conf.Mode == ModeClient {
		addr, err := conf.RemoteAddr()
		if err != nil {
			return nil, errors.Wrap(err, "invalid remote address")
		}
		node.remoteAddr = addr
		node.backoff = netutil.NewBackoff(time.Duration(conf.Client.ReconnectDelay), maxReconnectBackoff, 2)
		if conf.Client.SendRate > 0 {
			burst := int(conf.Client.SendRate / 10)
			if burst < 1 {
				burst = 1
			}
			node.limiter = rate.NewLimiter(rate.Limit(conf.Client.SendRate), burst)
		}
	}

	traffic, err := conf.TrafficLogStore()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open traffic log")
	}
	node.traffic = traffic

	opts := []rudp.Option{rudp.WithLogger(masterLogger.PackageLogger("rudp"))}
	if reg != nil {
		node.metrics = metrics.NewHost(reg, "rudp")
		opts = append(opts, rudp.WithMetrics(node.metrics))
	}
	host, err := rudp.NewHost(conf.HostConfig(), sock, opts...)
	if err != nil {
		if cErr := traffic.Close(); cErr != nil {
			node.logger.WithError(cErr).Warn("Failed to close traffic log")
		}
		return nil, err
	}
	node.host = host
	return node, nil
}

// Serve runs the host until ctx is done or the node is closed.
func (node *Node) Serve(ctx context.Context) error {
	node.mu.Lock()
	select {
	case <-node.done:
		node.mu.Unlock()
		return ErrClosed
	default:
	}
	node.serving = true
	node.mu.Unlock()

	defer close(node.stopped)
	node.logger.Infof("Serving %s in %s mode", node.host.LocalAddr(), node.conf.Mode)

	pollInterval := time.Duration(node.conf.Host.PollInterval)
	for {
		select {
		case <-ctx.Done():
			node.closeErr = node.shutdown()
			return ctx.Err()
		case <-node.done:
			node.closeErr = node.shutdown()
			return nil
		default:
		}

		now := time.Now()
		if node.conf.Mode == ModeClient {
			node.maintainRemote(now)
		}

		events, err := node.host.Service(pollInterval)
		if err != nil {
			node.closeErr = node.shutdown()
			return errors.Wrap(err, "host service failed")
		}
		for _, ev := range events {
			node.handleEvent(ev)
		}

		if node.conf.Mode == ModeClient {
			node.sendProbes()
		}
		if now.Sub(node.lastFlush) >= trafficFlushEvery {
			node.flushTraffic()
			node.lastFlush = now
		}
		node.refreshSnapshot()
	}
}

// Close stops serving and releases the host, the socket and the traffic log.
func (node *Node) Close() error {
	node.closeOnce.Do(func() {
		close(node.done)

		node.mu.RLock()
		serving := node.serving
		node.mu.RUnlock()

		if serving {
			<-node.stopped
			return
		}
		node.closeErr = node.shutdown()
	})
	return node.closeErr
}

func (node *Node) shutdown() error {
	for _, p := range node.host.Peers() {
		p.DisconnectNow(0)
		node.endConn(p, time.Now())
	}
	node.flushTraffic()

	node.subsMu.Lock()
	for ch := range node.subs {
		close(ch)
		delete(node.subs, ch)
	}
	node.subsMu.Unlock()

	hostErr := node.host.Close()
	if err := node.traffic.Close(); err != nil {
		node.logger.WithError(err).Warn("Failed to close traffic log")
	}
	if hostErr != nil {
		return hostErr
	}
	node.logger.Info("Node closed")
	return nil
}

func (node *Node) handleEvent(ev rudp.Event) {
	now := time.Now()
	p := ev.Peer

	switch ev.Type {
	case rudp.EventConnect:
		c := &conn{
			id:    uuid.New(),
			entry: trafficlog.Entry{Peer: p.Addr().String(), ConnectedAt: now},
			dirty: true,
		}
		node.conns[p] = c
		if p == node.remote {
			node.backoff.Reset()
		}
		node.logger.WithField("conn", c.id).Infof("Peer %s connected", p.Addr())
		node.publish(ev, c.id, now)

	case rudp.EventDisconnect:
		id := node.endConn(p, now)
		if p == node.remote {
			node.remote = nil
			delay := node.backoff.Next()
			node.reconnectAt = now.Add(delay)
			node.logger.Infof("Lost %s, reconnecting in %s", p.Addr(), delay)
		}
		node.publish(ev, id, now)

	case rudp.EventReceive:
		defer ev.Packet.Release()
		c, ok := node.conns[p]
		if !ok {
			return
		}
		c.entry.AddReceived(len(ev.Packet.Data))
		c.dirty = true
		if node.conf.Mode == ModeServer {
			node.echo(p, c, ev)
		}
		node.publish(ev, c.id, now)
	}
}

func (node *Node) endConn(p *rudp.Peer, now time.Time) uuid.UUID {
	c, ok := node.conns[p]
	if !ok {
		return uuid.Nil
	}
	delete(node.conns, p)
	c.entry.DisconnectedAt = &now
	if err := node.traffic.Record(c.id, &c.entry); err != nil {
		node.logger.WithError(err).Warnf("Failed to record traffic of %s", c.id)
	}
	node.logger.WithField("conn", c.id).Infof("Peer %s disconnected", p.Addr())
	return c.id
}

func (node *Node) echo(p *rudp.Peer, c *conn, ev rudp.Event) {
	reply := rudp.NewPacket(ev.Packet.Data, ev.Packet.Flags&^rudp.PacketFlagSent)
	defer reply.Release()

	if err := p.Send(ev.ChannelID, reply); err != nil {
		node.logger.WithError(err).Debugf("Failed to echo to %s", p.Addr())
		return
	}
	c.entry.AddSent(len(reply.Data))
}

func (node *Node) maintainRemote(now time.Time) {
	if node.remote != nil || now.Before(node.reconnectAt) {
		return
	}
	p, err := node.host.Connect(node.remoteAddr, node.conf.Client.Channels, 0)
	if err != nil {
		delay := node.backoff.Next()
		node.reconnectAt = now.Add(delay)
		node.logger.WithError(err).Warnf("Failed to connect to %s, retrying in %s", node.remoteAddr, delay)
		return
	}
	node.remote = p
}

// sendProbes sends as many probes as the rate limiter allows. A probe
// carries its sequence number and send time followed by zero padding.
func (node *Node) sendProbes() {
	p := node.remote
	if p == nil || node.limiter == nil || p.State() != rudp.PeerStateConnected {
		return
	}
	c, ok := node.conns[p]
	if !ok {
		return
	}

	var flags rudp.PacketFlags
	if node.conf.Client.Reliable {
		flags = rudp.PacketFlagReliable
	}
	buf := make([]byte, node.conf.Client.PacketSize)
	for node.limiter.Allow() {
		node.probeSeq++
		binary.BigEndian.PutUint64(buf[0:8], node.probeSeq)
		binary.BigEndian.PutUint64(buf[8:16], uint64(time.Now().UnixNano()))

		pkt := rudp.NewPacket(buf, flags)
		err := p.Send(uint8(node.probeSeq%uint64(p.ChannelCount())), pkt)
		pkt.Release()
		if err != nil {
			node.logger.WithError(err).Debug("Failed to send probe")
			return
		}
		c.entry.AddSent(len(buf))
		c.dirty = true
	}
}

func (node *Node) flushTraffic() {
	for _, c := range node.conns {
		if !c.dirty {
			continue
		}
		if err := node.traffic.Record(c.id, &c.entry); err != nil {
			node.logger.WithError(err).Warnf("Failed to record traffic of %s", c.id)
			continue
		}
		c.dirty = false
	}
}

func (node *Node) refreshSnapshot() {
	peers := node.host.Peers()
	summaries := make([]PeerSummary, 0, len(peers))
	for _, p := range peers {
		s := PeerSummary{
			ID:    p.ID(),
			Addr:  p.Addr().String(),
			Stats: p.Stats(),
		}
		if c, ok := node.conns[p]; ok {
			s.Conn = c.id
		}
		summaries = append(summaries, s)
	}
	stats := node.host.Stats()
	if node.metrics != nil {
		node.metrics.SetPeers(stats.ConnectedPeers)
	}

	node.mu.Lock()
	node.peers = summaries
	node.stats = stats
	node.mu.Unlock()
}

func (node *Node) publish(ev rudp.Event, id uuid.UUID, now time.Time) {
	out := Event{
		Type:    ev.Type.String(),
		Peer:    ev.Peer.Addr().String(),
		PeerID:  ev.Peer.ID(),
		Conn:    id,
		Channel: ev.ChannelID,
		Data:    ev.Data,
		Time:    now,
	}
	if ev.Packet != nil {
		out.Size = len(ev.Packet.Data)
	}

	node.subsMu.Lock()
	for ch := range node.subs {
		select {
		case ch <- out:
		default:
		}
	}
	node.subsMu.Unlock()
}

// Subscribe returns a channel of peer events and a function that ends the
// subscription. Events are dropped while the channel is full. The channel
// is closed when the node closes.
func (node *Node) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	node.subsMu.Lock()
	node.subs[ch] = struct{}{}
	node.subsMu.Unlock()

	return ch, func() {
		node.subsMu.Lock()
		if _, ok := node.subs[ch]; ok {
			delete(node.subs, ch)
			close(ch)
		}
		node.subsMu.Unlock()
	}
}

// Peers returns the peers as of the last service round.
func (node *Node) Peers() []PeerSummary {
	node.mu.RLock()
	defer node.mu.RUnlock()
	return append([]PeerSummary(nil), node.peers...)
}

// Stats returns the host counters as of the last service round.
func (node *Node) Stats() rudp.HostStats {
	node.mu.RLock()
	defer node.mu.RUnlock()
	return node.stats
}

// Traffic returns the traffic entry of a connection.
func (node *Node) Traffic(id uuid.UUID) (*trafficlog.Entry, error) {
	return node.traffic.Entry(id)
}

// TrafficIDs returns the ids of all logged connections.
func (node *Node) TrafficIDs() ([]uuid.UUID, error) {
	return node.traffic.IDs()
}

// LocalAddr returns the address of the node socket.
func (node *Node) LocalAddr() net.Addr {
	return node.host.LocalAddr()
}
