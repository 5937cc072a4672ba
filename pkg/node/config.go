package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/skycoin/rudp/pkg/rudp"
	"github.com/skycoin/rudp/pkg/trafficlog"
)

// Version is the config version written by gen-config.
const Version = "1.0"

// Node modes.
const (
	ModeServer = "server"
	ModeClient = "client"
)

// HostFields configures the rudp host of a node.
type HostFields struct {
	PeerCount         int      `json:"peer_count"`
	ChannelLimit      int      `json:"channel_limit"`
	MTU               int      `json:"mtu"`
	IncomingBandwidth uint32   `json:"incoming_bandwidth"`
	OutgoingBandwidth uint32   `json:"outgoing_bandwidth"`
	DuplicatePeers    int      `json:"duplicate_peers"`
	Compress          bool     `json:"compress"`
	Checksum          bool     `json:"checksum"`
	PollInterval      Duration `json:"poll_interval"`
}

// ClientFields configures the probes sent in client mode.
type ClientFields struct {
	RemoteAddr     string   `json:"remote_addr"`
	Channels       int      `json:"channels"`
	SendRate       float64  `json:"send_rate"` // probes per second
	PacketSize     int      `json:"packet_size"`
	Reliable       bool     `json:"reliable"`
	ReconnectDelay Duration `json:"reconnect_delay"`
}

// TrafficLogFields selects the traffic log store.
type TrafficLogFields struct {
	Type     string `json:"type"`
	Location string `json:"location"`
}

// Config defines configuration parameters for Node.
type Config struct {
	Version    string           `json:"version"`
	ListenAddr string           `json:"listen_addr"`
	Mode       string           `json:"mode"`
	Host       HostFields       `json:"host"`
	Client     ClientFields     `json:"client"`
	TrafficLog TrafficLogFields `json:"traffic_log"`

	HTTPAddr        string   `json:"http_addr"` // leave blank to disable the HTTP API
	LogLevel        string   `json:"log_level"`
	LogFile         string   `json:"log_file"`
	ShutdownTimeout Duration `json:"shutdown_timeout"` // time value, examples: 10s, 1m, etc
}

// DefaultConfig returns a server config with default host settings.
func DefaultConfig() Config {
	host := rudp.DefaultConfig()
	conf := Config{
		Version:    Version,
		ListenAddr: ":7000",
		Mode:       ModeServer,
		Host: HostFields{
			PeerCount:         host.PeerCount,
			ChannelLimit:      host.ChannelLimit,
			MTU:               host.MTU,
			IncomingBandwidth: host.IncomingBandwidth,
			OutgoingBandwidth: host.OutgoingBandwidth,
			DuplicatePeers:    host.DuplicatePeers,
			PollInterval:      Duration(host.MaxPollTime),
		},
		Client: ClientFields{
			Channels:       2,
			SendRate:       10,
			PacketSize:     64,
			Reliable:       true,
			ReconnectDelay: Duration(time.Second),
		},
		HTTPAddr:        "localhost:7080",
		LogLevel:        "info",
		ShutdownTimeout: Duration(10 * time.Second),
	}
	conf.TrafficLog.Type = trafficlog.TypeMemory
	return conf
}

// Validate checks the config for values a node cannot run with.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeServer:
	case ModeClient:
		if c.Client.RemoteAddr == "" {
			return errors.New("client mode requires a remote address")
		}
		if c.Client.SendRate < 0 {
			return fmt.Errorf("invalid send rate %v", c.Client.SendRate)
		}
		if c.Client.PacketSize < probeHeaderSize {
			return fmt.Errorf("packet size %d is below %d", c.Client.PacketSize, probeHeaderSize)
		}
	default:
		return fmt.Errorf("unknown mode '%s'", c.Mode)
	}
	if c.ListenAddr == "" {
		return errors.New("empty listen address")
	}
	return nil
}

// HostConfig returns the rudp host configuration.
func (c *Config) HostConfig() rudp.Config {
	conf := rudp.DefaultConfig()
	conf.PeerCount = c.Host.PeerCount
	conf.ChannelLimit = c.Host.ChannelLimit
	conf.MTU = c.Host.MTU
	conf.IncomingBandwidth = c.Host.IncomingBandwidth
	conf.OutgoingBandwidth = c.Host.OutgoingBandwidth
	conf.DuplicatePeers = c.Host.DuplicatePeers
	conf.Compress = c.Host.Compress
	conf.Checksum = c.Host.Checksum
	if c.Host.PollInterval > 0 {
		conf.MaxPollTime = time.Duration(c.Host.PollInterval)
	}
	return conf
}

// RemoteAddr resolves the address a client connects to.
func (c *Config) RemoteAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", c.Client.RemoteAddr)
}

// TrafficLogStore returns the configured traffic log store.
func (c *Config) TrafficLogStore() (trafficlog.Store, error) {
	return trafficlog.New(c.TrafficLog.Type, c.TrafficLog.Location)
}

// Duration wraps around time.Duration to allow parsing from and to JSON
type Duration time.Duration

// MarshalJSON implements json marshaling
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements unmarshal from json
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return errors.New("invalid duration")
	}
}
