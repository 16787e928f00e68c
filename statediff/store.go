// Package statediff implements the per-table overlay of pending write
// statements applied to rows flowing back to proxy clients, plus the small
// predicate evaluator used to decide which overlay entries apply to a given
// row and whether a SELECT's WHERE clause still admits the rewritten row.
package statediff

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"vitess.io/vitess/go/vt/sqlparser"
)

// Entry is one pending write overlaid onto matching rows of its table. A
// single UPDATE statement produces one Entry.
type Entry struct {
	ID          string
	Seq         uint64
	Predicate   sqlparser.Expr // nil means "applies unconditionally"
	Assignments map[string]*string
}

type record struct {
	entry     Entry
	expiresAt time.Time // zero means never expires
}

type tableCache struct {
	mu      sync.Mutex
	entries map[string]*record
}

// Store is the process-wide, concurrent table→overlay map. Writers
// (write interception) insert under a table key; readers (row rewrite)
// fetch a snapshot of that table's entries, ordered oldest-to-newest so
// "most recently inserted matching entry wins" is a simple last-write
// loop over the snapshot rather than relying on map iteration order.
type Store struct {
	ttl time.Duration

	mu     sync.RWMutex
	tables map[string]*tableCache

	seqMu sync.Mutex
	seq   uint64
}

// NewStore creates a Store whose entries expire after ttl. A zero ttl means
// entries never expire, matching DIFF_TTL's "0 or unset" contract.
func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, tables: make(map[string]*tableCache)}
}

func (s *Store) nextSeq() uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

func (s *Store) table(name string) *tableCache {
	s.mu.RLock()
	tc, ok := s.tables[name]
	s.mu.RUnlock()
	if ok {
		return tc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tc, ok = s.tables[name]; ok {
		return tc
	}
	tc = &tableCache{entries: make(map[string]*record)}
	s.tables[name] = tc
	return tc
}

// Insert adds a new overlay entry for table, returning its generated ID.
func (s *Store) Insert(table string, predicate sqlparser.Expr, assignments map[string]*string) string {
	id := uuid.New().String()
	entry := Entry{ID: id, Seq: s.nextSeq(), Predicate: predicate, Assignments: assignments}

	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = time.Now().Add(s.ttl)
	}

	tc := s.table(table)
	tc.mu.Lock()
	tc.entries[id] = &record{entry: entry, expiresAt: expiresAt}
	tc.mu.Unlock()
	return id
}

// Entries returns table's current overlay entries ordered by insertion
// sequence (oldest first), lazily evicting anything past its TTL.
func (s *Store) Entries(table string) []Entry {
	s.mu.RLock()
	tc, ok := s.tables[table]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	now := time.Now()
	tc.mu.Lock()
	defer tc.mu.Unlock()

	out := make([]Entry, 0, len(tc.entries))
	for id, rec := range tc.entries {
		if !rec.expiresAt.IsZero() && now.After(rec.expiresAt) {
			delete(tc.entries, id)
			continue
		}
		out = append(out, rec.entry)
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Seq > out[j].Seq; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
