// Package blockstore implements the chunked key-value contract the grid and
// its asset bundles persist through: two logical tables, Assets (bundle
// chunks keyed by name and upload time) and Grid (serialized cell chunks
// keyed by a formatted index string), both subject to a throttling error
// that a caller-transparent retry wrapper hides from everyone above it.
package blockstore

import (
	"github.com/NebulousLabs/errors"
)

// Table names one of the store's two logical tables.
type Table string

const (
	// Assets holds bundle chunks: rows keyed by (name, time), value is raw
	// bundle bytes up to 400,000 bytes per chunk.
	Assets Table = "Assets"

	// Grid holds serialized cell chunks: rows keyed by a single formatted
	// string ("x:y:z_n"), value is a JSON text fragment up to 100,000
	// characters.
	Grid Table = "Grid"
)

// MaxChunkBytes is the chunk size callers split bundles into before writing
// them to the Assets table. PutChunk itself does not check value sizes.
const MaxChunkBytes = 400000

// MaxGridChunkChars is the fragment size callers split serialized cells
// into before writing them to the Grid table. PutChunk itself does not
// check value sizes.
const MaxGridChunkChars = 100000

var (
	// ErrThrottled indicates the durable store rejected a request because
	// provisioned throughput was exceeded. Retrying wraps this away from
	// every caller above it; no other part of this codebase should ever
	// see it returned from a Store obtained via Retrying.
	ErrThrottled = errors.New("blockstore: request throttled, provisioned throughput exceeded")

	// ErrUnknownTable is returned when a Table value the store does not
	// recognize is used.
	ErrUnknownTable = errors.New("blockstore: unknown table")
)

// Key addresses a row. Name is always present; Time is meaningful only for
// the Assets table, where it is the chunk's upload timestamp in
// milliseconds and forms part of the row's identity alongside Name.
type Key struct {
	Name string
	Time int64
}

// Chunk is one row returned by QueryChunks.
type Chunk struct {
	Key   Key
	Value []byte
}

// Store is the abstract chunked KV contract. Every method may return
// ErrThrottled; callers are expected to go through Retrying rather than
// handle that themselves.
type Store interface {
	// PutChunk idempotently upserts value under key in table.
	PutChunk(table Table, key Key, value []byte) error

	// QueryChunks returns every row in table whose Name equals name and
	// whose Time is strictly greater than afterTime. afterTime is ignored
	// for the Grid table, which has no time component; pass -1 there, or
	// anywhere a caller wants every row regardless of time.
	QueryChunks(table Table, name string, afterTime int64) ([]Chunk, error)

	// ScanKeys performs one page of a full scan over table, projecting only
	// each row's Name, deduplicated within the page. pageToken is "" for the
	// first page; a non-empty nextPageToken means more pages remain.
	ScanKeys(table Table, pageToken string) (names []string, nextPageToken string, err error)

	// DeleteKey idempotently removes every row in table whose Name equals
	// name, regardless of Time.
	DeleteKey(table Table, name string) error

	// Close releases any resources held by the store.
	Close() error
}

// Dependencies lets tests inject store faults, mirroring this codebase's
// usual modules.Dependencies shape.
type Dependencies interface {
	Disrupt(string) bool
}

// ProductionDependencies never disrupts anything; embed it to get a no-op
// Dependencies implementation and override only the hooks a test needs.
type ProductionDependencies struct{}

// Disrupt always returns false in production.
func (ProductionDependencies) Disrupt(string) bool { return false }
