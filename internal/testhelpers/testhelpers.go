// Package testhelpers provides helpers for testing.
package testhelpers

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Timeout bounds every wait of this package.
const Timeout = 5 * time.Second

// ErrTimeout is returned by WithinTimeout when nothing arrived in time.
var ErrTimeout = errors.New("timed out waiting for result")

// Go runs fn in a new goroutine and returns a channel that receives its
// result.
func Go(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

// WithinTimeout reads an error from ch, or returns ErrTimeout if none
// arrives within Timeout.
func WithinTimeout(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(Timeout):
		return ErrTimeout
	}
}

// NoErrorN performs require.NoError on multiple errors
func NoErrorN(t *testing.T, errs ...error) {
	for _, err := range errs {
		require.NoError(t, err)
	}
}
