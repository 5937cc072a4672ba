// Package checksum provides the datagram checksum used by rudp hosts.
package checksum

import (
	"hash"
	"hash/crc32"
	"math/bits"
)

// CRC32 is an incremental IEEE CRC32. End returns the sum with its bytes
// in network order, the value ENet peers put on the wire.
type CRC32 struct {
	h hash.Hash32
}

// NewCRC32 creates a CRC32.
func NewCRC32() *CRC32 {
	return &CRC32{h: crc32.NewIEEE()}
}

// Begin starts a new sum.
func (c *CRC32) Begin() { c.h.Reset() }

// Sum adds b to the running sum.
func (c *CRC32) Sum(b []byte) {
	_, _ = c.h.Write(b) // nolint: errcheck
}

// End returns the sum of everything passed to Sum since Begin.
func (c *CRC32) End() uint32 { return bits.ReverseBytes32(c.h.Sum32()) }

// Reset discards the running sum.
func (c *CRC32) Reset() { c.h.Reset() }
