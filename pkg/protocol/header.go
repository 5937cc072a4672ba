package protocol

import (
	"encoding/binary"
	"fmt"
)

// Header precedes the commands of every datagram.
type Header struct {
	PeerID    uint16 // 12 bits
	SessionID uint8  // 2 bits
	Flags     uint16 // HeaderFlagCompressed | HeaderFlagSentTime
	SentTime  uint16 // present only with HeaderFlagSentTime
}

// HasSentTime reports whether the header carries a sent time.
func (h Header) HasSentTime() bool { return h.Flags&HeaderFlagSentTime != 0 }

// Compressed reports whether the command stream following the header is compressed.
func (h Header) Compressed() bool { return h.Flags&HeaderFlagCompressed != 0 }

// Size returns the encoded header size.
func (h Header) Size() int {
	if h.HasSentTime() {
		return HeaderMaxSize
	}
	return HeaderMinSize
}

// Put encodes the header into b and returns the number of bytes written.
func (h Header) Put(b []byte) (int, error) {
	n := h.Size()
	if len(b) < n {
		return 0, ErrShortBuffer
	}
	word := h.PeerID&MaximumPeerID |
		uint16(h.SessionID)<<HeaderSessionShift&HeaderSessionMask |
		h.Flags&HeaderFlagMask
	binary.BigEndian.PutUint16(b[0:2], word)
	if h.HasSentTime() {
		binary.BigEndian.PutUint16(b[2:4], h.SentTime)
	}
	return n, nil
}

// ReadHeader decodes a header from the front of b.
// It returns the header and the number of bytes consumed.
func ReadHeader(b []byte) (Header, int, error) {
	if len(b) < HeaderMinSize {
		return Header{}, 0, ErrShortBuffer
	}
	word := binary.BigEndian.Uint16(b[0:2])
	h := Header{
		PeerID:    word & MaximumPeerID,
		SessionID: uint8(word & HeaderSessionMask >> HeaderSessionShift),
		Flags:     word & HeaderFlagMask,
	}
	if !h.HasSentTime() {
		return h, HeaderMinSize, nil
	}
	if len(b) < HeaderMaxSize {
		return Header{}, 0, ErrShortBuffer
	}
	h.SentTime = binary.BigEndian.Uint16(b[2:4])
	return h, HeaderMaxSize, nil
}

// String implements fmt.Stringer
func (h Header) String() string {
	return fmt.Sprintf("<peer:%d><session:%d><flags:%#x><sent:%d>", h.PeerID, h.SessionID, h.Flags, h.SentTime)
}
