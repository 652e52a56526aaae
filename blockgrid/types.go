// Package blockgrid implements the core data model: a 3-D lattice of cells,
// each a block in the cryptocurrency sense, and the mining/signing/
// transaction protocol, validation rules, and multi-node merge algorithm
// that operate over it.
package blockgrid

import (
	"log"
	"sync"

	"github.com/NebulousLabs/demotemutex"
	"github.com/kevin-bruhwiler/Kowloon/blockstore"
	"github.com/kevin-bruhwiler/Kowloon/hasher"
	"github.com/kevin-bruhwiler/Kowloon/signer"
)

// Index is a 3-D integer grid coordinate, comparable and usable directly as
// a map key. It is a type alias for hasher.Index so cells convert to hash
// inputs without a field-by-field copy.
type Index = hasher.Index

// Entry is one signed data item appended to a cell's Data list.
type Entry struct {
	Data      string `json:"data"`
	Signature string `json:"signature"`
	Updated   int64  `json:"updated"`
	Approved  bool   `json:"approved"`
}

// Cell is one record in the grid: a block at a particular index.
//
// Owner is "" and Proof is nil until the cell is mined; the two are
// always set or cleared together.
type Cell struct {
	Index         Index   `json:"index"`
	Timestamp     int64   `json:"timestamp"`
	Updated       int64   `json:"updated"`
	PreviousIndex Index   `json:"previous_index"`
	PreviousHash  string  `json:"previous_hash"`
	Owner         string  `json:"owner"`
	Proof         *uint64 `json:"proof"`
	Data          []Entry `json:"data"`

	// version is bumped on every persisted write and never serialized; it
	// is the optimistic-concurrency signal destructive edits retry against.
	version uint64
}

// Clone returns a deep copy of c, safe to mutate without affecting the
// grid's stored cell.
func (c *Cell) Clone() *Cell {
	clone := *c
	clone.Data = make([]Entry, len(c.Data))
	copy(clone.Data, c.Data)
	return &clone
}

// Mined reports whether c has been mined (owner and proof both set).
func (c *Cell) Mined() bool {
	return c.Owner != "" && c.Proof != nil
}

// hashBlock projects c into the fixed-field-order input hasher.Hash and
// hasher.HashWithoutProof consume.
func (c *Cell) hashBlock() hasher.Block {
	return hasher.Block{
		Index:         c.Index,
		Owner:         c.Owner,
		PreviousHash:  c.PreviousHash,
		PreviousIndex: c.PreviousIndex,
		Proof:         c.Proof,
		Timestamp:     c.Timestamp,
	}
}

// Hash returns the chaining digest of c (excludes Data and Updated).
func (c *Cell) Hash() string {
	return hasher.Hash(c.hashBlock())
}

// HashWithoutProof returns the proof-of-work challenge digest of c.
func (c *Cell) HashWithoutProof() string {
	return hasher.HashWithoutProof(c.hashBlock())
}

// Grid maps an index to its cell. Population grows outward from the origin
// as cells are mined.
type Grid map[Index]*Cell

// NodeSet is the flat set of peer base URLs participating in
// reconciliation.
type NodeSet map[string]struct{}

// Genesis is the origin cell's coordinate.
var Genesis = Index{0, 0, 0}

// Blockgrid owns the in-memory grid, the node set, and the durable store
// both are persisted through. A demotemutex.DemoteMutex guards the grid's
// structural shape: read-only accessors (Cell, Snapshot, Len, CompareGrids)
// take a read lock, operations that mutate a cell (NewBlock,
// NewTransaction, SignBlock) take the write lock, and a wholesale grid
// replacement (reconciliation) takes the write lock and demotes once
// the swap is installed so blocked readers drain without waiting on the
// next full write. destructiveMu additionally serializes destructive
// moderator edits end to end.
type Blockgrid struct {
	mu            demotemutex.DemoteMutex
	destructiveMu sync.Mutex

	nodesMu sync.RWMutex
	nodes   NodeSet

	grid  Grid
	store *blockstore.Retrying

	serverKey signer.PrivateKey
	log       *log.Logger
}
