package blockgrid

import (
	"log"
	"time"

	"github.com/kevin-bruhwiler/Kowloon/blockstore"
	"github.com/kevin-bruhwiler/Kowloon/pow"
	"github.com/kevin-bruhwiler/Kowloon/signer"
)

// New opens (or creates) a Blockgrid backed by store. If store contains no
// cells, a fresh genesis cell is created and persisted. serverKey signs the
// moderated/unsigned transactions the entry submission pipeline produces.
func New(store blockstore.Store, serverKey signer.PrivateKey, logger *log.Logger) (*Blockgrid, error) {
	bg := &Blockgrid{
		store:     blockstore.NewRetrying(store),
		serverKey: serverKey,
		log:       logger,
		nodes:     make(NodeSet),
	}

	grid, err := bg.loadGrid()
	if err != nil {
		return nil, err
	}
	bg.grid = grid

	if len(bg.grid) == 0 {
		genesis := &Cell{
			Index:         Genesis,
			Timestamp:     nowMillis(),
			Updated:       nowMillis(),
			PreviousIndex: Genesis,
			PreviousHash:  "0",
			Data:          []Entry{},
		}
		if err := bg.saveCell(genesis); err != nil {
			return nil, err
		}
		bg.grid[Genesis] = genesis
	}

	return bg, nil
}

func nowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// NewBlock creates and persists an empty, unmined cell at index. index must
// not already be present in the grid.
func (bg *Blockgrid) NewBlock(index, previousIndex Index, previousHash string) (*Cell, error) {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	return bg.newBlockLocked(index, previousIndex, previousHash)
}

// newBlockLocked is NewBlock's body, callable while bg.mu is already held
// for writing (used by SignBlock to materialize neighbours).
func (bg *Blockgrid) newBlockLocked(index, previousIndex Index, previousHash string) (*Cell, error) {
	if _, exists := bg.grid[index]; exists {
		return nil, ErrCellExists
	}
	now := nowMillis()
	cell := &Cell{
		Index:         index,
		Timestamp:     now,
		Updated:       now,
		PreviousIndex: previousIndex,
		PreviousHash:  previousHash,
		Data:          []Entry{},
	}
	if err := bg.saveCell(cell); err != nil {
		return nil, err
	}
	bg.grid[index] = cell
	return cell, nil
}

// NewTransaction appends an entry to the cell at index, bumping its Updated
// timestamp, and persists it. index must already be present in the grid.
// No signature verification happens here; that is deferred to ValidGrid.
func (bg *Blockgrid) NewTransaction(index Index, data, signature string, updatedMillis int64, approved bool) (Index, error) {
	bg.mu.Lock()
	defer bg.mu.Unlock()

	cell, ok := bg.grid[index]
	if !ok {
		return Index{}, ErrCellNotFound
	}
	cell.Data = append(cell.Data, Entry{
		Data:      data,
		Signature: signature,
		Updated:   updatedMillis,
		Approved:  approved,
	})
	cell.Updated = updatedMillis
	if err := bg.saveCell(cell); err != nil {
		return Index{}, err
	}
	return index, nil
}

// SignBlock mines the cell at index: it requires the cell to exist and be
// currently unmined, and that proof is a valid proof-of-work for the
// challenge derived from the cell with owner set. It atomically assigns
// owner and proof, persists the cell, then materializes any of its up to
// six neighbours not yet present in the grid, each chained to this cell.
func (bg *Blockgrid) SignBlock(index Index, proof uint64, owner string) error {
	bg.mu.Lock()
	defer bg.mu.Unlock()

	cell, ok := bg.grid[index]
	if !ok {
		return ErrPreviousNotMined
	}
	if cell.Mined() {
		return ErrAlreadyMined
	}

	candidate := cell.Clone()
	candidate.Owner = owner
	challenge := candidate.HashWithoutProof()
	if !pow.ValidProof(challenge, proof, pow.Index(index)) {
		return ErrValidationFailed
	}

	cell.Owner = owner
	cell.Proof = &proof
	if err := bg.saveCell(cell); err != nil {
		return err
	}

	previousHash := cell.Hash()
	for axis := 0; axis < 3; axis++ {
		for _, delta := range [2]int64{-1, 1} {
			neighbour := index
			neighbour[axis] += delta
			if _, exists := bg.grid[neighbour]; exists {
				continue
			}
			if _, err := bg.newBlockLocked(neighbour, index, previousHash); err != nil {
				return err
			}
		}
	}
	return nil
}

// Store returns the retrying blockstore this Blockgrid persists through, so
// that other long-lived components (the maintenance sweeper) can share the
// same durable store and throttle-retry policy rather than open a second
// connection to it.
func (bg *Blockgrid) Store() *blockstore.Retrying {
	return bg.store
}

// RegisterNode adds address to the node set used by reconciliation.
func (bg *Blockgrid) RegisterNode(address string) {
	bg.nodesMu.Lock()
	defer bg.nodesMu.Unlock()
	bg.nodes[address] = struct{}{}
}

// Nodes returns a snapshot of the registered peer node set.
func (bg *Blockgrid) Nodes() []string {
	bg.nodesMu.RLock()
	defer bg.nodesMu.RUnlock()
	out := make([]string, 0, len(bg.nodes))
	for n := range bg.nodes {
		out = append(out, n)
	}
	return out
}

// Cell returns a clone of the cell at index, or ok=false if absent.
func (bg *Blockgrid) Cell(index Index) (*Cell, bool) {
	bg.mu.RLock()
	defer bg.mu.RUnlock()
	cell, ok := bg.grid[index]
	if !ok {
		return nil, false
	}
	return cell.Clone(), true
}

// Snapshot returns a deep copy of the live grid.
func (bg *Blockgrid) Snapshot() Grid {
	bg.mu.RLock()
	defer bg.mu.RUnlock()
	out := make(Grid, len(bg.grid))
	for idx, cell := range bg.grid {
		out[idx] = cell.Clone()
	}
	return out
}

// Len returns the number of cells currently in the grid.
func (bg *Blockgrid) Len() int {
	bg.mu.RLock()
	defer bg.mu.RUnlock()
	return len(bg.grid)
}

// ReplaceGrid overwrites the live grid wholesale, primarily for tests and
// for the HTTP /grid/replace endpoint.
func (bg *Blockgrid) ReplaceGrid(grid Grid) {
	bg.mu.Lock()
	bg.grid = grid
	bg.mu.Demote()
	bg.mu.DemotedUnlock()
}

// ReplaceGridAndPersist overwrites the live grid wholesale and persists
// every cell in it, for callers (reconciliation) whose merge result must
// survive a restart rather than live only in memory. Persistence happens
// before the lock demotes, since saveCell mutates each cell's version and
// must not race with a concurrently-reading Clone.
func (bg *Blockgrid) ReplaceGridAndPersist(grid Grid) error {
	bg.mu.Lock()
	bg.grid = grid
	for _, cell := range grid {
		if err := bg.saveCell(cell); err != nil {
			bg.mu.Unlock()
			return err
		}
	}
	bg.mu.Demote()
	bg.mu.DemotedUnlock()
	return nil
}
