package socket

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
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

	os.Exit(m.Run())
}

func newLocalUDP(t *testing.T) *UDP {
	t.Helper()
	pc, err := nettest.NewLocalPacketListener("udp")
	require.NoError(t, err)
	conn, ok := pc.(*net.UDPConn)
	require.True(t, ok)
	return New(conn)
}

func TestUDP_SendReceive(t *testing.T) {
	a := newLocalUDP(t)
	b := newLocalUDP(t)
	defer func() {
		assert.NoError(t, a.Close())
		assert.NoError(t, b.Close())
	}()

	n, err := a.Send([][]byte{[]byte("head"), []byte("-"), []byte("payload")}, b.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	buf := make([]byte, MaxDatagramSize)
	n, from, err := b.Receive(buf, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "head-payload", string(buf[:n]))
	assert.Equal(t, a.LocalAddr().(*net.UDPAddr).Port, from.Port)
}

func TestUDP_ReceiveWouldBlock(t *testing.T) {
	s := newLocalUDP(t)
	defer func() { assert.NoError(t, s.Close()) }()

	_, _, err := s.Receive(make([]byte, 16), 0)
	assert.Equal(t, ErrWouldBlock, err)

	_, _, err = s.Receive(make([]byte, 16), 10*time.Millisecond)
	assert.Equal(t, ErrWouldBlock, err)
}

func TestUDP_Close(t *testing.T) {
	s := newLocalUDP(t)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	_, _, err := s.Receive(make([]byte, 16), time.Second)
	assert.Equal(t, ErrClosed, err)
}

func TestNetwork(t *testing.T) {
	n := NewNetwork()
	addrA := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1000}
	addrB := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 2000}
	a := n.Listen(addrA)
	b := n.Listen(addrB)

	buf := make([]byte, 64)

	t.Run("delivers gathered buffers", func(t *testing.T) {
		_, err := a.Send([][]byte{{1, 2}, {3}}, addrB)
		require.NoError(t, err)
		k, from, err := b.Receive(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, buf[:k])
		assert.Equal(t, addrA, from)
	})

	t.Run("filter drops and inject redelivers", func(t *testing.T) {
		var held [][]byte
		n.SetFilter(func(_, _ *net.UDPAddr, p []byte) bool {
			held = append(held, p)
			return false
		})
		_, err := a.Send([][]byte{{9}}, addrB)
		require.NoError(t, err)
		_, _, err = b.Receive(buf, 0)
		assert.Equal(t, ErrWouldBlock, err)

		n.SetFilter(nil)
		require.Len(t, held, 1)
		require.True(t, n.Inject(addrA, addrB, held[0]))
		k, _, err := b.Receive(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, []byte{9}, buf[:k])
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := a.Send([][]byte{{1, 2, 3, 4}}, addrB)
		require.NoError(t, err)
		k, _, err := b.Receive(buf[:2], 0)
		assert.Equal(t, ErrTruncated, err)
		assert.Equal(t, 2, k)
	})

	t.Run("closed", func(t *testing.T) {
		require.NoError(t, b.Close())
		_, _, err := b.Receive(buf, 0)
		assert.Equal(t, ErrClosed, err)
		assert.False(t, n.Inject(addrA, addrB, []byte{1}))
	})
}
