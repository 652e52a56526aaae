package blockgrid

import (
	"encoding/base64"

	"github.com/kevin-bruhwiler/Kowloon/pow"
	"github.com/kevin-bruhwiler/Kowloon/signer"
)

// ValidGrid reports whether every cell in g satisfies the chaining,
// proof-of-work, and signature rules. The genesis cell is trusted
// unconditionally.
func ValidGrid(g Grid) bool {
	for idx, cell := range g {
		if idx == Genesis {
			continue
		}

		prev, ok := g[cell.PreviousIndex]
		if !ok {
			return false
		}
		if cell.PreviousHash != prev.Hash() {
			return false
		}

		if cell.Owner == "" && len(cell.Data) == 0 {
			continue
		}
		// An unmined cell with pending data has no nonce to validate; such
		// a cell is never accepted as part of a foreign grid.
		if !cell.Mined() {
			return false
		}
		if !pow.ValidProof(cell.HashWithoutProof(), *cell.Proof, pow.Index(idx)) {
			return false
		}

		pub, err := signer.ParsePublicKey(cell.Owner)
		if err != nil {
			return false
		}
		for _, entry := range cell.Data {
			sig, err := base64.StdEncoding.DecodeString(entry.Signature)
			if err != nil {
				return false
			}
			if !signer.Verify(pub, []byte(entry.Data), sig) {
				return false
			}
		}
	}
	return true
}

// CompareGrids reports whether other is more authoritative than bg's live
// grid: valid, and strictly longer.
func (bg *Blockgrid) CompareGrids(other Grid) bool {
	bg.mu.RLock()
	defer bg.mu.RUnlock()
	return ValidGrid(other) && len(other) > len(bg.grid)
}

// UpdateGrid merges shorter's valid, newer data into a copy of longer and
// returns the result. For each cell in shorter: if longer already has that
// index, shorter's data replaces it only when shorter's proof is valid,
// the owners agree, and shorter's data is newer; if longer lacks that
// index entirely, shorter's cell is inserted outright. UpdateGrid is a
// pure function — it does not touch the durable store; callers that want
// the result persisted do so themselves.
func UpdateGrid(longer, shorter Grid) Grid {
	merged := make(Grid, len(longer))
	for idx, cell := range longer {
		merged[idx] = cell.Clone()
	}

	for idx, cell := range shorter {
		existing, ok := merged[idx]
		if !ok {
			merged[idx] = cell.Clone()
			continue
		}
		if cell.Proof == nil {
			continue
		}
		if !pow.ValidProof(cell.HashWithoutProof(), *cell.Proof, pow.Index(idx)) {
			continue
		}
		if cell.Owner != existing.Owner {
			continue
		}
		if cell.Updated > existing.Updated {
			existing.Data = append([]Entry(nil), cell.Data...)
			existing.Updated = cell.Updated
		}
	}
	return merged
}
