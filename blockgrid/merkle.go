package blockgrid

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/NebulousLabs/merkletree"
)

// DataMerkleRoot returns the hex-encoded Merkle root committing to every
// Entry in c.Data, in order. It is the per-cell analogue of the teacher's
// crypto.MerkleRoot (crypto/merkle.go): instead of committing to a file's
// upload segments for a storage proof, it commits to a cell's accumulated
// entries: recomputing the root over a received Data slice and comparing
// it shows whether any entry was altered, dropped or reordered. Only the
// root is computed here; no per-entry Merkle proofs are produced. An empty
// cell's root is merkletree's own empty-tree root.
func (c *Cell) DataMerkleRoot() string {
	tree := merkletree.New(sha256.New())
	for _, entry := range c.Data {
		tree.Push([]byte(entry.Data + entry.Signature))
	}
	return hex.EncodeToString(tree.Root())
}
