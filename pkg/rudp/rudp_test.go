package rudp

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/rudp/pkg/socket"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			panic(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}

	trackPools = true
	os.Exit(m.Run())
}

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1500000000, 0)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

var (
	clientAddr = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 7001}
	serverAddr = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 7002}
)

// harness drives a client and a server host over an in-memory network with
// a frozen clock.
type harness struct {
	t      *testing.T
	net    *socket.Network
	clock  *fakeClock
	client *Host
	server *Host
	events map[*Host][]Event
}

func newHarness(t *testing.T, conf Config) *harness {
	n := socket.NewNetwork()
	clock := newFakeClock()
	hs := &harness{
		t:      t,
		net:    n,
		clock:  clock,
		events: make(map[*Host][]Event),
	}
	hs.client = newTestHost(t, n.Listen(clientAddr), clock, conf)
	hs.server = newTestHost(t, n.Listen(serverAddr), clock, conf)
	return hs
}

func newTestHost(t *testing.T, sock Socket, clock *fakeClock, conf Config) *Host {
	h, err := NewHost(conf, sock, WithClock(clock.now))
	require.NoError(t, err)
	return h
}

func (hs *harness) pump(rounds int) {
	for i := 0; i < rounds; i++ {
		for _, h := range []*Host{hs.client, hs.server} {
			evs, err := h.Service(0)
			require.NoError(hs.t, err)
			hs.events[h] = append(hs.events[h], evs...)
		}
	}
}

func (hs *harness) take(h *Host) []Event {
	evs := hs.events[h]
	delete(hs.events, h)
	return evs
}

// connect completes a handshake and returns the client and server side peers.
func (hs *harness) connect(channels int, data uint32) (*Peer, *Peer) {
	cp, err := hs.client.Connect(serverAddr, channels, data)
	require.NoError(hs.t, err)
	hs.pump(3)

	cevs := hs.take(hs.client)
	require.Len(hs.t, cevs, 1)
	require.Equal(hs.t, EventConnect, cevs[0].Type)
	require.Equal(hs.t, cp, cevs[0].Peer)

	sevs := hs.take(hs.server)
	require.Len(hs.t, sevs, 1)
	require.Equal(hs.t, EventConnect, sevs[0].Type)
	require.Equal(hs.t, data, sevs[0].Data)
	return cp, sevs[0].Peer
}

func receives(evs []Event) []Event {
	var out []Event
	for _, ev := range evs {
		if ev.Type == EventReceive {
			out = append(out, ev)
		}
	}
	return out
}

func TestTimeHelpers(t *testing.T) {
	assert.True(t, timeLess(1, 2))
	assert.False(t, timeLess(2, 1))
	assert.True(t, timeLess(0xFFFFFFF0, 5), "wrapped clock")
	assert.True(t, timeGreaterEqual(5, 5))

	assert.Equal(t, uint32(3), timeDifference(5, 2))
	assert.Equal(t, uint32(3), timeDifference(2, 5))
	assert.Equal(t, uint32(0x15), timeDifference(5, 0xFFFFFFF0))
}

func TestReconstructSentTime(t *testing.T) {
	cases := []struct {
		name string
		now  uint32
		sent uint16
		want uint32
		ok   bool
	}{
		{"same epoch", 0x12345678, 0x5670, 0x12345670, true},
		{"low half", 0x00018001, 0x7FFF, 0x00017FFF, true},
		{"wrapped low bits", 0x00020005, 0xFFF0, 0x0001FFF0, true},
		{"in the future", 0x00020005, 0x0010, 0, false},
		{"equal", 0x00020005, 0x0005, 0x00020005, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := reconstructSentTime(tc.now, tc.sent)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	conf := DefaultConfig()
	require.NoError(t, conf.validate())

	conf.PeerCount = 0
	assert.Error(t, conf.validate())

	conf = DefaultConfig()
	conf.MTU = 100
	assert.Error(t, conf.validate())

	conf = Config{PeerCount: 1}
	require.NoError(t, conf.validate())
	assert.Equal(t, DefaultMTU, conf.MTU)
	assert.Equal(t, 255, conf.ChannelLimit)
	assert.Equal(t, DefaultMaximumPacketSize, conf.MaximumPacketSize)
}
