package rudp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPacket_Refs(t *testing.T) {
	data := []byte("payload")
	p := NewPacket(data, PacketFlagReliable)
	data[0] = 'X'
	assert.Equal(t, "payload", string(p.Data), "packet owns a copy")
	assert.Equal(t, 1, p.Refs())

	p.Retain()
	p.releaseSent()
	assert.Zero(t, p.Flags&PacketFlagSent, "application still holds a reference")
	assert.Equal(t, 1, p.Refs())

	p.Retain()
	p.Release()
	p.releaseSent()
	assert.NotZero(t, p.Flags&PacketFlagSent)
	assert.Zero(t, p.Refs())
	assert.Nil(t, p.Data)

	assert.Panics(t, p.Release)
	assert.Panics(t, p.Retain)
}

func TestCommandPools_ForeignPut(t *testing.T) {
	pools := newCommandPools()

	oc := pools.getOutgoing()
	pools.putOutgoing(oc)
	assert.Panics(t, func() { pools.putOutgoing(oc) }, "returned twice")
	assert.Panics(t, func() { pools.putIncoming(new(incomingCommand)) })
	assert.Panics(t, func() { pools.putAck(new(acknowledgement)) })
}
