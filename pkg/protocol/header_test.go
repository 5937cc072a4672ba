package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader_PutRead(t *testing.T) {
	cases := []struct {
		name string
		h    Header
		size int
	}{
		{
			name: "all bits set",
			h:    Header{PeerID: 0xFFF, SessionID: 3, Flags: HeaderFlagMask, SentTime: 0xFFFF},
			size: 4,
		},
		{
			name: "zero",
			h:    Header{},
			size: 2,
		},
		{
			name: "mixed bits",
			h:    Header{PeerID: 0xA95, SessionID: 3, Flags: HeaderFlagSentTime | HeaderFlagCompressed, SentTime: 0xFFFF},
			size: 4,
		},
		{
			name: "compressed without sent time",
			h:    Header{PeerID: 7, SessionID: 1, Flags: HeaderFlagCompressed},
			size: 2,
		},
		{
			name: "sent time",
			h:    Header{PeerID: MaximumPeerID, SessionID: 2, Flags: HeaderFlagSentTime, SentTime: 123},
			size: 4,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := make([]byte, HeaderMaxSize)
			n, err := tc.h.Put(b)
			require.NoError(t, err)
			assert.Equal(t, tc.size, n)

			got, n, err := ReadHeader(b[:n])
			require.NoError(t, err)
			assert.Equal(t, tc.size, n)
			assert.Equal(t, tc.h, got)
		})
	}
}

func TestReadHeader(t *testing.T) {
	t.Run("sent time is read when flagged", func(t *testing.T) {
		h, n, err := ReadHeader([]byte{0x80, 0x00, 0xCC, 0x3A})
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, uint16(0xCC3A), h.SentTime)
	})

	t.Run("sent time is not read when not flagged", func(t *testing.T) {
		_, n, err := ReadHeader([]byte{0, 0, 0, 0})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("short buffer", func(t *testing.T) {
		_, _, err := ReadHeader([]byte{0})
		assert.Equal(t, ErrShortBuffer, err)
	})

	t.Run("sent time flagged but missing", func(t *testing.T) {
		_, _, err := ReadHeader([]byte{0x80, 0x00})
		assert.Equal(t, ErrShortBuffer, err)
	})
}

func TestHeader_PutShortBuffer(t *testing.T) {
	_, err := Header{Flags: HeaderFlagSentTime}.Put(make([]byte, 3))
	assert.Equal(t, ErrShortBuffer, err)
}
