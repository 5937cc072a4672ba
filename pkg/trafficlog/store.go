// Package trafficlog records per-connection traffic of a node.
package trafficlog

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("trafficlog")

// Store types.
const (
	TypeMemory = "memory"
	TypeBoltDB = "boltdb"
)

var (
	// ErrNotFound occurs when no entry is stored under an id.
	ErrNotFound = errors.New("traffic entry not found")
	// ErrUnknownType occurs when a store type is not supported.
	ErrUnknownType = errors.New("unknown traffic log type")
)

// Entry is the traffic record of one connection.
// It is updated while the connection lives and kept after it ends.
type Entry struct {
	Peer            string     `json:"peer"`
	ConnectedAt     time.Time  `json:"connected_at"`
	DisconnectedAt  *time.Time `json:"disconnected_at,omitempty"`
	SentBytes       uint64     `json:"sent"`
	ReceivedBytes   uint64     `json:"received"`
	SentPackets     uint64     `json:"sent_packets"`
	ReceivedPackets uint64     `json:"received_packets"`
}

// AddSent accounts for a sent packet of n bytes.
func (e *Entry) AddSent(n int) {
	e.SentPackets++
	e.SentBytes += uint64(n)
}

// AddReceived accounts for a received packet of n bytes.
func (e *Entry) AddReceived(n int) {
	e.ReceivedPackets++
	e.ReceivedBytes += uint64(n)
}

// Store stores traffic entries.
type Store interface {
	Entry(id uuid.UUID) (*Entry, error)
	Record(id uuid.UUID, entry *Entry) error
	IDs() ([]uuid.UUID, error)
	Close() error
}

// New creates a store of the given type. Location is the database file
// of a boltdb store and is ignored otherwise.
func New(typ, location string) (Store, error) {
	switch typ {
	case TypeMemory, "":
		return InMemoryStore(), nil
	case TypeBoltDB:
		return BoltDBStore(location)
	default:
		return nil, ErrUnknownType
	}
}

type inMemoryStore struct {
	entries map[uuid.UUID]Entry
	mu      sync.Mutex
}

// InMemoryStore implements an in-memory Store.
func InMemoryStore() Store {
	return &inMemoryStore{
		entries: make(map[uuid.UUID]Entry),
	}
}

func (s *inMemoryStore) Entry(id uuid.UUID) (*Entry, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *inMemoryStore) Record(id uuid.UUID, entry *Entry) error {
	s.mu.Lock()
	s.entries[id] = *entry
	s.mu.Unlock()
	return nil
}

func (s *inMemoryStore) IDs() ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *inMemoryStore) Close() error { return nil }
