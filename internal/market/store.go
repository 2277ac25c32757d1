package market

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/marketfeed/internal/metrics"
	"github.com/rickgao/marketfeed/internal/model"
)

// DefaultSubscriberCapacity is the initial capacity of a subscriber buffer.
const DefaultSubscriberCapacity = 64

// ChangeKind distinguishes full replacements from single-record merges.
type ChangeKind int

const (
	ChangeReplace ChangeKind = iota
	ChangeUpsert
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeReplace:
		return "replace"
	case ChangeUpsert:
		return "upsert"
	default:
		return "unknown"
	}
}

// Change describes a store mutation.
type Change struct {
	Kind    ChangeKind
	Markets []model.Market // full list for replace, single record for upsert
	At      time.Time
}

// Store is the shared, ordered market collection.
type Store struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	markets []model.Market
	index   map[model.Key][]int // key -> positions in markets

	subsMu sync.Mutex
	subs   map[string]*GrowableBuffer[Change]
	closed bool
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger, m *metrics.Metrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:  logger,
		metrics: m,
		index:   make(map[model.Key][]int),
		subs:    make(map[string]*GrowableBuffer[Change]),
	}
}

// SetMarkets replaces the store contents with markets, exactly and in order.
func (s *Store) SetMarkets(markets []model.Market) {
	list := make([]model.Market, len(markets))
	copy(list, markets)

	index := make(map[model.Key][]int, len(list))
	for i, m := range list {
		k := m.Key()
		index[k] = append(index[k], i)
	}

	s.mu.Lock()
	s.markets = list
	s.index = index
	n := len(list)
	s.mu.Unlock()

	s.metrics.SetStoreSize(n)

	snapshot := make([]model.Market, len(list))
	copy(snapshot, list)
	s.publish(Change{Kind: ChangeReplace, Markets: snapshot, At: time.Now()})
}

// Upsert replaces the record with the same (platform, id), or appends it when
// the identity is new. Other records are untouched. Returns true when the
// record was appended.
func (s *Store) Upsert(m model.Market) bool {
	k := m.Key()

	s.mu.Lock()
	positions, exists := s.index[k]
	if exists {
		unchanged := true
		for _, i := range positions {
			if !s.markets[i].Equal(m) {
				unchanged = false
			}
			s.markets[i] = m
		}
		if unchanged {
			s.mu.Unlock()
			return false
		}
	} else {
		s.index[k] = []int{len(s.markets)}
		s.markets = append(s.markets, m)
	}
	n := len(s.markets)
	s.mu.Unlock()

	s.metrics.SetStoreSize(n)
	s.publish(Change{Kind: ChangeUpsert, Markets: []model.Market{m}, At: time.Now()})

	return !exists
}

// Markets returns a copy of all records in order.
func (s *Store) Markets() []model.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Market, len(s.markets))
	copy(result, s.markets)
	return result
}

// Get returns the record for k.
func (s *Store) Get(k model.Key) (model.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions, ok := s.index[k]
	if !ok {
		return model.Market{}, false
	}
	return s.markets[positions[0]], true
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markets)
}

// Subscribe registers a named change subscriber. Subscribing twice with the
// same name returns the existing buffer.
func (s *Store) Subscribe(name string, capacity int) *GrowableBuffer[Change] {
	if capacity < 1 {
		capacity = DefaultSubscriberCapacity
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if buf, ok := s.subs[name]; ok {
		return buf
	}

	buf := NewGrowableBuffer[Change](capacity)
	if s.closed {
		buf.Close()
	}
	s.subs[name] = buf
	return buf
}

// Unsubscribe removes and closes a subscriber.
func (s *Store) Unsubscribe(name string) {
	s.subsMu.Lock()
	buf, ok := s.subs[name]
	delete(s.subs, name)
	s.subsMu.Unlock()

	if ok {
		buf.Close()
	}
}

// Close closes all subscriber buffers. Mutations after Close still update
// the store but are no longer fanned out.
func (s *Store) Close() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.closed = true
	for _, buf := range s.subs {
		buf.Close()
	}
}

func (s *Store) publish(c Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for name, buf := range s.subs {
		if !buf.Send(c) {
			s.logger.Debug("subscriber closed, dropping change", "subscriber", name, "kind", c.Kind)
		}
	}
}
