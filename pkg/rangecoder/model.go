package rangecoder

const (
	rangeTop    = 1 << 24
	rangeBottom = 1 << 16

	contextSymbolDelta    = 3
	contextSymbolMinimum  = 1
	contextEscapeMinimum  = 1
	subcontextOrder       = 2
	subcontextSymbolDelta = 2
	subcontextEscapeDelta = 5

	maxSymbols = 4096
)

// symbol is a node of a context tree. A node is also a context of its own
// when it has children in symbols.
// left, right, symbols and parent are arena indices; 0 is the root context
// and can never be a child, so it doubles as "none".
type symbol struct {
	value   uint8
	count   uint8
	under   uint16
	left    uint16
	right   uint16
	symbols uint16
	escapes uint16
	total   uint16
	parent  uint16
}

// model is the adaptive order-2 context model shared by the encoder and the decoder.
type model struct {
	symbols    [maxSymbols]symbol
	nextSymbol int
	predicted  uint16
	order      int
}

func (m *model) reset() {
	m.nextSymbol = 0
	m.create(contextEscapeMinimum, contextSymbolMinimum)
	m.predicted = 0
	m.order = 0
}

// freeSymbols starts over once the arena cannot take another input byte.
func (m *model) freeSymbols() {
	if m.nextSymbol >= maxSymbols-subcontextOrder {
		m.reset()
	}
}

func (m *model) advance() {
	if m.order >= subcontextOrder {
		m.predicted = m.symbols[m.predicted].parent
	} else {
		m.order++
	}
	m.freeSymbols()
}

func (m *model) create(escapes, minimum uint16) uint16 {
	c := m.symbolCreate(0, 0)
	m.symbols[c].escapes = escapes
	m.symbols[c].total = escapes + 256*minimum
	m.symbols[c].symbols = 0
	return c
}

func (m *model) symbolCreate(value, count uint8) uint16 {
	i := uint16(m.nextSymbol)
	m.nextSymbol++
	m.symbols[i] = symbol{value: value, count: count, under: uint16(count)}
	return i
}

// rescaleTree halves the counts of the tree rooted at i and returns its new total.
func (m *model) rescaleTree(i uint16) uint16 {
	var total uint16
	for {
		s := &m.symbols[i]
		s.count -= s.count >> 1
		s.under = uint16(s.count)
		if s.left != 0 {
			s.under += m.rescaleTree(s.left)
		}
		total += s.under
		if s.right == 0 {
			return total
		}
		i = s.right
	}
}

func (m *model) rescale(ctx uint16, minimum uint16) {
	c := &m.symbols[ctx]
	if c.symbols != 0 {
		c.total = m.rescaleTree(c.symbols)
	} else {
		c.total = 0
	}
	c.escapes -= c.escapes >> 1
	c.total += c.escapes + 256*minimum
}

// encode finds or inserts value in the context and returns its node together
// with its cumulative count and count. A zero count means the value was new.
func (m *model) encode(ctx uint16, value, update uint8, minimum uint16) (sym, under, count uint16) {
	under = uint16(value) * minimum
	count = minimum
	if m.symbols[ctx].symbols == 0 {
		sym = m.symbolCreate(value, update)
		m.symbols[ctx].symbols = sym
		return sym, under, count
	}
	node := m.symbols[ctx].symbols
	for {
		n := &m.symbols[node]
		switch {
		case value < n.value:
			n.under += uint16(update)
			if n.left != 0 {
				node = n.left
				continue
			}
			sym = m.symbolCreate(value, update)
			n.left = sym
		case value > n.value:
			under += n.under
			if n.right != 0 {
				node = n.right
				continue
			}
			sym = m.symbolCreate(value, update)
			n.right = sym
		default:
			count += uint16(n.count)
			under += n.under - uint16(n.count)
			n.under += uint16(update)
			n.count += update
			sym = node
		}
		return sym, under, count
	}
}

// tryDecode looks up the node whose interval holds code in a subcontext.
func (m *model) tryDecode(ctx, code uint16, update uint8, minimum uint16) (sym uint16, value uint8, under, count uint16, err error) {
	count = minimum
	node := m.symbols[ctx].symbols
	if node == 0 {
		return 0, 0, 0, 0, ErrInconsistentTree
	}
	for {
		n := &m.symbols[node]
		after := under + n.under + (uint16(n.value)+1)*minimum
		before := uint16(n.count) + minimum
		switch {
		case code >= after:
			under += n.under
			if n.right != 0 {
				node = n.right
				continue
			}
			return 0, 0, 0, 0, ErrInconsistentTree
		case code < after-before:
			n.under += uint16(update)
			if n.left != 0 {
				node = n.left
				continue
			}
			return 0, 0, 0, 0, ErrInconsistentTree
		default:
			value = n.value
			count += uint16(n.count)
			under = after - before
			n.under += uint16(update)
			n.count += update
			return node, value, under, count, nil
		}
	}
}

// rootDecode looks up code in the root context, which holds every byte value
// implicitly, inserting the node if the value has not been seen yet.
func (m *model) rootDecode(code uint16, update uint8, minimum uint16) (sym uint16, value uint8, under, count uint16) {
	count = minimum
	if m.symbols[0].symbols == 0 {
		value = uint8(code / minimum)
		under = code - code%minimum
		sym = m.symbolCreate(value, update)
		m.symbols[0].symbols = sym
		return sym, value, under, count
	}
	node := m.symbols[0].symbols
	for {
		n := &m.symbols[node]
		after := under + n.under + (uint16(n.value)+1)*minimum
		before := uint16(n.count) + minimum
		switch {
		case code >= after:
			under += n.under
			if n.right != 0 {
				node = n.right
				continue
			}
			value = n.value + 1 + uint8((code-after)/minimum)
			under = code - (code-after)%minimum
			sym = m.symbolCreate(value, update)
			n.right = sym
		case code < after-before:
			n.under += uint16(update)
			if n.left != 0 {
				node = n.left
				continue
			}
			value = n.value - 1 - uint8((after-before-code-1)/minimum)
			under = code - (after-before-code-1)%minimum
			sym = m.symbolCreate(value, update)
			n.left = sym
		default:
			value = n.value
			count += uint16(n.count)
			under = after - before
			n.under += uint16(update)
			n.count += update
			sym = node
		}
		return sym, value, under, count
	}
}
