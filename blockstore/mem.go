package blockstore

import (
	"sync"

	"github.com/kevin-bruhwiler/Kowloon/build"
)

type memRow struct {
	name  string
	time  int64
	value []byte
}

// MemStore is an in-memory Store used by tests that need to exercise
// blockgrid/sweeper logic without a real bolt database, and by tests of
// Retrying itself, which need to flip ErrThrottled on and off
// deterministically via Disrupt.
type MemStore struct {
	mu    sync.Mutex
	deps  Dependencies
	rows  map[Table][]memRow
}

// NewMemStore returns an empty MemStore with no fault injection.
func NewMemStore() *MemStore {
	return NewMemStoreWithDependencies(ProductionDependencies{})
}

// NewMemStoreWithDependencies returns an empty MemStore whose Disrupt hook
// is deps, letting a test force ErrThrottled on specific calls.
func NewMemStoreWithDependencies(deps Dependencies) *MemStore {
	return &MemStore{
		deps: deps,
		rows: map[Table][]memRow{Assets: nil, Grid: nil},
	}
}

func (m *MemStore) PutChunk(table Table, key Key, value []byte) error {
	if m.deps.Disrupt("MemStore.PutChunk") {
		return ErrThrottled
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[table]; !ok {
		build.Critical("blockstore: PutChunk called with unknown table", table)
		return ErrUnknownTable
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	for i, r := range m.rows[table] {
		if r.name == key.Name && (table != Assets || r.time == key.Time) {
			m.rows[table][i].value = cp
			return nil
		}
	}
	m.rows[table] = append(m.rows[table], memRow{name: key.Name, time: key.Time, value: cp})
	return nil
}

func (m *MemStore) QueryChunks(table Table, name string, afterTime int64) ([]Chunk, error) {
	if m.deps.Disrupt("MemStore.QueryChunks") {
		return nil, ErrThrottled
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[table]; !ok {
		build.Critical("blockstore: QueryChunks called with unknown table", table)
		return nil, ErrUnknownTable
	}
	var out []Chunk
	for _, r := range m.rows[table] {
		if r.name != name {
			continue
		}
		if table == Assets && r.time <= afterTime {
			continue
		}
		cp := make([]byte, len(r.value))
		copy(cp, r.value)
		out = append(out, Chunk{Key: Key{Name: r.name, Time: r.time}, Value: cp})
	}
	return out, nil
}

func (m *MemStore) ScanKeys(table Table, pageToken string) ([]string, string, error) {
	if m.deps.Disrupt("MemStore.ScanKeys") {
		return nil, "", ErrThrottled
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[table]; !ok {
		build.Critical("blockstore: ScanKeys called with unknown table", table)
		return nil, "", ErrUnknownTable
	}
	seen := make(map[string]bool)
	var names []string
	for _, r := range m.rows[table] {
		if !seen[r.name] {
			seen[r.name] = true
			names = append(names, r.name)
		}
	}
	// MemStore is only ever used against small test fixtures; it returns
	// every name in a single page.
	return names, "", nil
}

func (m *MemStore) DeleteKey(table Table, name string) error {
	if m.deps.Disrupt("MemStore.DeleteKey") {
		return ErrThrottled
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[table]; !ok {
		build.Critical("blockstore: DeleteKey called with unknown table", table)
		return ErrUnknownTable
	}
	kept := m.rows[table][:0]
	for _, r := range m.rows[table] {
		if r.name != name {
			kept = append(kept, r)
		}
	}
	m.rows[table] = kept
	return nil
}

// Close is a no-op for MemStore.
func (m *MemStore) Close() error { return nil }
