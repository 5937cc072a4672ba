package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	seq  uint16
	data []byte
}

func newRecordPool(track bool) *Pool {
	return New(
		func() interface{} { return new(record) },
		func(x interface{}) { *x.(*record) = record{} },
		track,
	)
}

func TestPool_Reuse(t *testing.T) {
	p := newRecordPool(true)

	r := p.Get().(*record)
	r.seq = 7
	r.data = []byte{1}
	assert.Equal(t, 1, p.Rented())

	require.NoError(t, p.Put(r))
	assert.Equal(t, 0, p.Rented())
	assert.Equal(t, 1, p.Free())

	r2 := p.Get().(*record)
	assert.True(t, r == r2)
	assert.Equal(t, record{}, *r2)
}

func TestPool_NotRented(t *testing.T) {
	p := newRecordPool(true)

	assert.Equal(t, ErrNotRented, p.Put(new(record)))

	r := p.Get()
	require.NoError(t, p.Put(r))
	assert.Equal(t, ErrNotRented, p.Put(r), "double put")

	other := newRecordPool(true)
	r = other.Get()
	assert.Equal(t, ErrNotRented, p.Put(r), "foreign object")
}

func TestPool_Untracked(t *testing.T) {
	p := newRecordPool(false)
	assert.NoError(t, p.Put(new(record)))
	assert.Equal(t, 1, p.Free())
	assert.Equal(t, 0, p.Rented())
}
