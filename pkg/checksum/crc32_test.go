package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want uint32
	}{
		{name: "empty", in: []string{""}, want: 0},
		{name: "hello world", in: []string{"Hello World!"}, want: 2736531740},
		{name: "hello world in parts", in: []string{"Hello", " ", "World!"}, want: 2736531740},
	}

	c := NewCRC32()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c.Begin()
			for _, s := range tc.in {
				c.Sum([]byte(s))
			}
			assert.Equal(t, tc.want, c.End())
		})
	}
}

func TestCRC32_Reset(t *testing.T) {
	c := NewCRC32()
	c.Begin()
	c.Sum([]byte("garbage"))
	c.Reset()
	c.Sum([]byte("Hello World!"))
	assert.Equal(t, uint32(2736531740), c.End())
}
