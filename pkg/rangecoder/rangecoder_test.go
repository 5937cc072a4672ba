package rangecoder

import (
	"bytes"
	"encoding/hex"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compress(t *testing.T, rc *RangeCoder, chunks ...[]byte) []byte {
	t.Helper()

	size := 16
	for _, c := range chunks {
		size += len(c) * 2
	}
	out := make([]byte, size)

	rc.Start(out)
	for _, c := range chunks {
		require.NoError(t, rc.CompressChunk(c))
	}
	n, err := rc.End()
	require.NoError(t, err)
	rc.Reset()

	return out[:n]
}

func TestRangeCoder_HelloWorld(t *testing.T) {
	rc := New()
	in := []byte("Hello World!")

	comp := compress(t, rc, in)
	assert.Equal(t, "491EB21F3D7045CFFC766F3FB493", strings.ToUpper(hex.EncodeToString(comp)))

	out := make([]byte, len(in)*4)
	n, err := rc.Decompress(comp, out)
	require.NoError(t, err)
	assert.Equal(t, in, out[:n])

	// The model is rebuilt for every run.
	assert.Equal(t, comp, compress(t, rc, in))
}

func TestRangeCoder_RoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	random := make([]byte, 3000)
	rnd.Read(random)

	text := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 200))

	cases := []struct {
		name string
		in   []byte
	}{
		{name: "single byte", in: []byte{0x7F}},
		{name: "zero byte", in: []byte{0}},
		{name: "max byte", in: []byte{0xFF}},
		{name: "repeated run", in: bytes.Repeat([]byte{'a'}, 4000)},
		{name: "two symbol run", in: bytes.Repeat([]byte{0x00, 0xFF}, 1000)},
		{name: "text", in: text},
		{name: "random", in: random},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rc := New()
			comp := compress(t, rc, tc.in)

			out := make([]byte, len(tc.in))
			n, err := rc.Decompress(comp, out)
			require.NoError(t, err)
			assert.Equal(t, tc.in, out[:n])
		})
	}
}

func TestRangeCoder_Empty(t *testing.T) {
	rc := New()
	comp := compress(t, rc, nil)
	assert.Len(t, comp, 0)

	n, err := rc.Decompress(comp, make([]byte, 8))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRangeCoder_Chunks(t *testing.T) {
	rc := New()
	whole := []byte("abcabcabcabc-header-and-some-payload-abcabcabc")

	oneShot := compress(t, rc, whole)
	chunked := compress(t, rc, whole[:4], whole[4:20], nil, whole[20:])
	assert.Equal(t, oneShot, chunked)
}

func TestRangeCoder_Shrinks(t *testing.T) {
	rc := New()
	in := bytes.Repeat([]byte("ping"), 300)
	comp := compress(t, rc, in)
	assert.True(t, len(comp) < len(in))
}

func TestRangeCoder_ModelReset(t *testing.T) {
	// Enough distinct contexts to exhaust the symbol arena several times.
	rnd := rand.New(rand.NewSource(7))
	in := make([]byte, 64*1024)
	rnd.Read(in)

	rc := New()
	comp := compress(t, rc, in)

	out := make([]byte, len(in))
	n, err := rc.Decompress(comp, out)
	require.NoError(t, err)
	assert.Equal(t, in, out[:n])
}

func TestRangeCoder_CompressOutputFull(t *testing.T) {
	rc := New()
	rc.Start(make([]byte, 4))
	err := rc.CompressChunk(bytes.Repeat([]byte("xyz"), 100))
	assert.Equal(t, ErrOutputFull, err)
	_, err = rc.End()
	assert.Equal(t, ErrOutputFull, err)
	rc.Reset()

	assert.Equal(t, ErrOutputFull, rc.CompressChunk([]byte{1}))
}

func TestRangeCoder_DecompressOutputFull(t *testing.T) {
	rc := New()
	in := []byte("Hello World!")
	comp := compress(t, rc, in)

	_, err := rc.Decompress(comp, make([]byte, len(in)-1))
	assert.Equal(t, ErrOutputFull, err)
}

func TestRangeCoder_DecompressGarbage(t *testing.T) {
	rc := New()
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		in := make([]byte, 1+rnd.Intn(64))
		rnd.Read(in)
		out := make([]byte, 256)
		assert.NotPanics(t, func() {
			_, _ = rc.Decompress(in, out) // nolint: errcheck
		})
	}
}
