// Package pool provides free-lists for short-lived protocol records.
package pool

import (
	"errors"
)

// ErrNotRented occurs when an object is returned to a pool that did not hand it out.
var ErrNotRented = errors.New("object was not rented from this pool")

// Pool is a free-list of *T. It is not safe for concurrent use.
// With tracking enabled every Put is checked against the set of objects
// handed out by Get.
type Pool struct {
	free   []interface{}
	rented map[interface{}]struct{}
	newFn  func() interface{}
	reset  func(interface{})
}

// New creates a Pool. newFn allocates a fresh object; reset clears an
// object before it is reused.
func New(newFn func() interface{}, reset func(interface{}), track bool) *Pool {
	p := &Pool{newFn: newFn, reset: reset}
	if track {
		p.rented = make(map[interface{}]struct{})
	}
	return p
}

// Get returns a cleared object.
func (p *Pool) Get() interface{} {
	var x interface{}
	if n := len(p.free); n > 0 {
		x = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	} else {
		x = p.newFn()
	}
	if p.rented != nil {
		p.rented[x] = struct{}{}
	}
	return x
}

// Put returns x to the pool.
func (p *Pool) Put(x interface{}) error {
	if p.rented != nil {
		if _, ok := p.rented[x]; !ok {
			return ErrNotRented
		}
		delete(p.rented, x)
	}
	p.reset(x)
	p.free = append(p.free, x)
	return nil
}

// Rented returns the number of objects handed out and not yet returned.
// It is only meaningful with tracking enabled.
func (p *Pool) Rented() int { return len(p.rented) }

// Free returns the number of objects ready for reuse.
func (p *Pool) Free() int { return len(p.free) }
