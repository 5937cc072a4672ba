// Package rangecoder implements an adaptive order-2 PPM range coder for
// datagram payloads. The output is compatible with the ENet range coder.
package rangecoder

import (
	"errors"
)

var (
	// ErrOutputFull occurs when the output buffer cannot take the next byte.
	ErrOutputFull = errors.New("range coder output buffer exhausted")

	// ErrInconsistentTree occurs when a compressed stream selects a symbol
	// that the decoder's model does not have.
	ErrInconsistentTree = errors.New("range coder model is inconsistent with input")
)

// RangeCoder compresses a stream of chunks into one output buffer and
// decompresses whole buffers. A RangeCoder is not safe for concurrent use.
type RangeCoder struct {
	enc model
	dec model

	out    []byte
	outPos int
	low    uint32
	rng    uint32
	err    error
}

// New creates a RangeCoder.
func New() *RangeCoder {
	return &RangeCoder{}
}

// Start begins a compression run writing into out.
func (rc *RangeCoder) Start(out []byte) {
	rc.out = out
	rc.outPos = 0
	rc.low = 0
	rc.rng = ^uint32(0)
	rc.err = nil
	rc.enc.reset()
}

// CompressChunk appends in to the current compression run.
func (rc *RangeCoder) CompressChunk(in []byte) error {
	if rc.out == nil {
		return ErrOutputFull
	}
	m := &rc.enc
	for _, value := range in {
		if rc.err != nil {
			return rc.err
		}
		rc.compressByte(m, value)
		m.advance()
	}
	return rc.err
}

func (rc *RangeCoder) compressByte(m *model, value uint8) {
	parent := &m.predicted
	for sub := m.predicted; sub != 0; sub = m.symbols[sub].parent {
		sym, under, count := m.encode(sub, value, subcontextSymbolDelta, 0)
		*parent = sym
		parent = &m.symbols[sym].parent

		s := &m.symbols[sub]
		total := s.total
		if count > 0 {
			rc.encode(s.escapes+under, count, total)
		} else {
			if s.escapes > 0 && s.escapes < total {
				rc.encode(0, s.escapes, total)
			}
			s.escapes += subcontextEscapeDelta
			s.total += subcontextEscapeDelta
		}
		s.total += subcontextSymbolDelta
		if count > 0xFF-2*subcontextSymbolDelta || s.total > rangeBottom-0x100 {
			m.rescale(sub, 0)
		}
		if count > 0 {
			return
		}
	}

	sym, under, count := m.encode(0, value, contextSymbolDelta, contextSymbolMinimum)
	*parent = sym

	root := &m.symbols[0]
	rc.encode(root.escapes+under, count, root.total)
	root.total += contextSymbolDelta
	if count > 0xFF-2*contextSymbolDelta+contextSymbolMinimum || root.total > rangeBottom-0x100 {
		m.rescale(0, contextSymbolMinimum)
	}
}

// End flushes the coder and returns the compressed length.
func (rc *RangeCoder) End() (int, error) {
	if rc.out == nil {
		return 0, ErrOutputFull
	}
	for rc.low != 0 && rc.err == nil {
		rc.output(uint8(rc.low >> 24))
		rc.low <<= 8
	}
	if rc.err != nil {
		return 0, rc.err
	}
	return rc.outPos, nil
}

// Reset drops the output buffer of the current run.
func (rc *RangeCoder) Reset() {
	rc.out = nil
	rc.outPos = 0
	rc.low = 0
	rc.rng = 0
	rc.err = nil
}

func (rc *RangeCoder) output(b uint8) {
	if rc.outPos >= len(rc.out) {
		rc.err = ErrOutputFull
		return
	}
	rc.out[rc.outPos] = b
	rc.outPos++
}

func (rc *RangeCoder) encode(under, count, total uint16) {
	rc.rng /= uint32(total)
	rc.low += uint32(under) * rc.rng
	rc.rng *= uint32(count)
	for {
		if rc.low^(rc.low+rc.rng) >= rangeTop {
			if rc.rng >= rangeBottom {
				return
			}
			rc.rng = -rc.low & (rangeBottom - 1)
		}
		rc.output(uint8(rc.low >> 24))
		rc.rng <<= 8
		rc.low <<= 8
	}
}

// Decompress decodes in into out and returns the number of bytes written.
func (rc *RangeCoder) Decompress(in, out []byte) (int, error) {
	if len(in) == 0 {
		return 0, nil
	}
	d := decoder{m: &rc.dec, in: in, out: out, rng: ^uint32(0)}
	d.m.reset()
	d.seed()
	return d.run()
}

type decoder struct {
	m      *model
	in     []byte
	inPos  int
	out    []byte
	outPos int
	low    uint32
	code   uint32
	rng    uint32
	broken bool
}

func (d *decoder) next() uint32 {
	if d.inPos >= len(d.in) {
		return 0
	}
	b := d.in[d.inPos]
	d.inPos++
	return uint32(b)
}

func (d *decoder) seed() {
	for shift := 24; shift >= 0; shift -= 8 {
		if d.inPos < len(d.in) {
			d.code |= d.next() << uint(shift)
		}
	}
}

func (d *decoder) read(total uint16) uint16 {
	d.rng /= uint32(total)
	if d.rng == 0 {
		d.broken = true
		return 0
	}
	return uint16((d.code - d.low) / d.rng)
}

func (d *decoder) decode(under, count, total uint16) {
	d.low += uint32(under) * d.rng
	d.rng *= uint32(count)
	for d.rng != 0 {
		if d.low^(d.low+d.rng) >= rangeTop {
			if d.rng >= rangeBottom {
				return
			}
			d.rng = -d.low & (rangeBottom - 1)
		}
		d.code = d.code<<8 | d.next()
		d.rng <<= 8
		d.low <<= 8
	}
	d.broken = true
}

func (d *decoder) run() (int, error) {
	m := d.m
	for {
		var (
			sym, under, count, total, code, bottom uint16
			value                                  uint8
			err                                    error
		)
		parent := &m.predicted

		sub := m.predicted
		for sub != 0 {
			s := &m.symbols[sub]
			if s.escapes == 0 || s.escapes >= s.total {
				sub = s.parent
				continue
			}
			total = s.total
			if code = d.read(total); d.broken {
				return 0, ErrInconsistentTree
			}
			if code < s.escapes {
				d.decode(0, s.escapes, total)
				sub = s.parent
				continue
			}
			code -= s.escapes
			if sym, value, under, count, err = m.tryDecode(sub, code, subcontextSymbolDelta, 0); err != nil {
				return 0, err
			}
			bottom = sym
			d.decode(s.escapes+under, count, total)
			s.total += subcontextSymbolDelta
			if count > 0xFF-2*subcontextSymbolDelta || s.total > rangeBottom-0x100 {
				m.rescale(sub, 0)
			}
			break
		}

		if sub == 0 {
			root := &m.symbols[0]
			total = root.total
			if code = d.read(total); d.broken {
				return 0, ErrInconsistentTree
			}
			if code < root.escapes {
				d.decode(0, root.escapes, total)
				return d.outPos, nil
			}
			code -= root.escapes
			sym, value, under, count = m.rootDecode(code, contextSymbolDelta, contextSymbolMinimum)
			bottom = sym
			d.decode(root.escapes+under, count, total)
			root.total += contextSymbolDelta
			if count > 0xFF-2*contextSymbolDelta+contextSymbolMinimum || root.total > rangeBottom-0x100 {
				m.rescale(0, contextSymbolMinimum)
			}
		}

		// Teach the value to every higher-order context that escaped.
		for patch := m.predicted; patch != sub; patch = m.symbols[patch].parent {
			sym, _, count = m.encode(patch, value, subcontextSymbolDelta, 0)
			*parent = sym
			parent = &m.symbols[sym].parent
			p := &m.symbols[patch]
			if count == 0 {
				p.escapes += subcontextEscapeDelta
				p.total += subcontextEscapeDelta
			}
			p.total += subcontextSymbolDelta
			if count > 0xFF-2*subcontextSymbolDelta || p.total > rangeBottom-0x100 {
				m.rescale(patch, 0)
			}
		}
		*parent = bottom

		if d.broken {
			return 0, ErrInconsistentTree
		}
		if d.outPos >= len(d.out) {
			return 0, ErrOutputFull
		}
		d.out[d.outPos] = value
		d.outPos++

		m.advance()
	}
}
