package blockgrid

import (
	"encoding/base64"
	"io/ioutil"
	"log"
	"testing"

	"github.com/kevin-bruhwiler/Kowloon/blockstore"
	"github.com/kevin-bruhwiler/Kowloon/pow"
	"github.com/kevin-bruhwiler/Kowloon/signer"
)

func discardLogger() *log.Logger {
	return log.New(ioutil.Discard, "", 0)
}

func newTestBlockgrid(t *testing.T) (*Blockgrid, signer.PrivateKey) {
	t.Helper()
	priv, _, err := signer.GenerateKeys()
	if err != nil {
		t.Fatal(err)
	}
	bg, err := New(blockstore.NewMemStore(), priv, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return bg, priv
}

// mine computes and returns the proof for cell at idx under owner; it does
// not sign the cell.
func mine(t *testing.T, bg *Blockgrid, idx Index, owner signer.PublicKey) uint64 {
	t.Helper()
	cell, ok := bg.Cell(idx)
	if !ok {
		t.Fatalf("cell %v not found", idx)
	}
	candidate := cell.Clone()
	candidate.Owner = owner.String()
	challenge := candidate.HashWithoutProof()
	return pow.Mine(challenge, pow.Index(idx))
}

func TestGenesisExists(t *testing.T) {
	bg, _ := newTestBlockgrid(t)
	cell, ok := bg.Cell(Genesis)
	if !ok {
		t.Fatal("genesis cell missing")
	}
	if cell.PreviousHash != "0" {
		t.Fatalf("genesis previous_hash = %q, want 0", cell.PreviousHash)
	}
	if cell.PreviousIndex != Genesis {
		t.Fatalf("genesis previous_index = %v, want %v", cell.PreviousIndex, Genesis)
	}
}

func TestSignBlockMaterializesNeighbours(t *testing.T) {
	bg, _, owner := newSignedOwner(t)

	proof := mine(t, bg, Genesis, owner)
	if err := bg.SignBlock(Genesis, proof, owner.String()); err != nil {
		t.Fatal(err)
	}

	genesisCell, _ := bg.Cell(Genesis)

	// P-chain: every newly created neighbour's previous_hash equals
	// Hash(grid[Genesis]) as of mining.
	for _, axis := range []Index{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}} {
		n, ok := bg.Cell(axis)
		if !ok {
			t.Fatalf("expected neighbour %v to be materialized", axis)
		}
		if n.PreviousHash != genesisCell.Hash() {
			t.Fatalf("neighbour %v previous_hash = %q, want %q", axis, n.PreviousHash, genesisCell.Hash())
		}
		if n.PreviousIndex != Genesis {
			t.Fatalf("neighbour %v previous_index = %v, want %v", axis, n.PreviousIndex, Genesis)
		}
		if n.Mined() {
			t.Fatalf("neighbour %v should be unmined", axis)
		}
	}
	if bg.Len() != 7 {
		t.Fatalf("expected 7 cells (genesis + 6 neighbours), got %d", bg.Len())
	}
}

func TestSignBlockRejectsAlreadyMined(t *testing.T) {
	bg, _, owner := newSignedOwner(t)

	proof := mine(t, bg, Genesis, owner)
	if err := bg.SignBlock(Genesis, proof, owner.String()); err != nil {
		t.Fatal(err)
	}
	if err := bg.SignBlock(Genesis, proof, owner.String()); err != ErrAlreadyMined {
		t.Fatalf("expected ErrAlreadyMined, got %v", err)
	}
}

func TestSignBlockRejectsInvalidProof(t *testing.T) {
	bg, _, pubA := newSignedOwner(t)
	_, pubB, err := signer.GenerateKeys()
	if err != nil {
		t.Fatal(err)
	}
	// Genesis has difficulty 0 and accepts any nonce, so the proof check is
	// exercised at (1,0,0), which mining genesis materializes.
	if err := bg.SignBlock(Genesis, mine(t, bg, Genesis, pubA), pubA.String()); err != nil {
		t.Fatal(err)
	}
	idx := Index{1, 0, 0}
	// Start from a proof mined for pubA's challenge and step past any nonce
	// that also happens to satisfy pubB's differently-hashed challenge.
	proofForA := mine(t, bg, idx, pubA)
	cell, _ := bg.Cell(idx)
	candidate := cell.Clone()
	candidate.Owner = pubB.String()
	for pow.ValidProof(candidate.HashWithoutProof(), proofForA, pow.Index(idx)) {
		proofForA++
	}
	if err := bg.SignBlock(idx, proofForA, pubB.String()); err != ErrValidationFailed {
		t.Fatalf("expected ErrValidationFailed for a proof mined against a different owner's challenge, got %v", err)
	}
}

func TestSignBlockRequiresExistingCell(t *testing.T) {
	bg, _, owner := newSignedOwner(t)
	if err := bg.SignBlock(Index{9, 9, 9}, 0, owner.String()); err != ErrPreviousNotMined {
		t.Fatalf("expected ErrPreviousNotMined, got %v", err)
	}
}

func TestNewBlockRejectsExistingIndex(t *testing.T) {
	bg, _ := newTestBlockgrid(t)
	if _, err := bg.NewBlock(Genesis, Genesis, "0"); err != ErrCellExists {
		t.Fatalf("expected ErrCellExists, got %v", err)
	}
}

func TestNewTransactionRequiresExistingCell(t *testing.T) {
	bg, _ := newTestBlockgrid(t)
	if _, err := bg.NewTransaction(Index{3, 3, 3}, "{}", "sig", 1, true); err != ErrCellNotFound {
		t.Fatalf("expected ErrCellNotFound, got %v", err)
	}
}

func TestNewTransactionAppendsAndBumpsUpdated(t *testing.T) {
	bg, _ := newTestBlockgrid(t)
	if _, err := bg.NewTransaction(Genesis, `{"a":1}`, "sig", 42, true); err != nil {
		t.Fatal(err)
	}
	cell, _ := bg.Cell(Genesis)
	if len(cell.Data) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(cell.Data))
	}
	if cell.Updated != 42 {
		t.Fatalf("Updated = %d, want 42", cell.Updated)
	}
	if cell.Data[0].Approved != true {
		t.Fatal("expected Approved to carry through")
	}
}

// newSignedOwner returns a fresh Blockgrid and its paired owner keys.
func newSignedOwner(t *testing.T) (*Blockgrid, signer.PrivateKey, signer.PublicKey) {
	t.Helper()
	bg, _ := newTestBlockgrid(t)
	priv, pub, err := signer.GenerateKeys()
	if err != nil {
		t.Fatal(err)
	}
	return bg, priv, pub
}

// signedEntry signs data with priv and returns a base64 signature ready for
// NewTransaction/ValidGrid.
func signedEntry(t *testing.T, priv signer.PrivateKey, data string) string {
	t.Helper()
	sig, err := signer.Sign(priv, []byte(data))
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

func TestValidGridAcceptsFreshGenesisOnly(t *testing.T) {
	bg, _ := newTestBlockgrid(t)
	if !ValidGrid(bg.Snapshot()) {
		t.Fatal("a fresh genesis-only grid must be valid")
	}
}

func TestValidGridRejectsBadSignature(t *testing.T) {
	bg, priv, pub := newSignedOwner(t)
	proof := mine(t, bg, Genesis, pub)
	if err := bg.SignBlock(Genesis, proof, pub.String()); err != nil {
		t.Fatal(err)
	}
	// ValidGrid trusts genesis unconditionally, so the badly signed entry
	// goes on the mined non-genesis cell (1,0,0).
	idx := Index{1, 0, 0}
	if err := bg.SignBlock(idx, mine(t, bg, idx, pub), pub.String()); err != nil {
		t.Fatal(err)
	}
	if _, err := bg.NewTransaction(idx, `{"a":1}`, signedEntry(t, priv, "different data"), 1, true); err != nil {
		t.Fatal(err)
	}
	if ValidGrid(bg.Snapshot()) {
		t.Fatal("grid with a mismatched signature must not validate")
	}
}

func TestValidGridAcceptsGoodSignature(t *testing.T) {
	bg, priv, pub := newSignedOwner(t)
	proof := mine(t, bg, Genesis, pub)
	if err := bg.SignBlock(Genesis, proof, pub.String()); err != nil {
		t.Fatal(err)
	}
	payload := `{"a":1}`
	if _, err := bg.NewTransaction(Genesis, payload, signedEntry(t, priv, payload), 1, true); err != nil {
		t.Fatal(err)
	}
	if !ValidGrid(bg.Snapshot()) {
		t.Fatal("grid with a correctly signed entry should validate")
	}
}

// TestCompareGridsAuthority covers P-authority and scenario 1 from the
// testable properties: a strictly longer, valid grid is authoritative; an
// equal-or-shorter one is not.
func TestCompareGridsAuthority(t *testing.T) {
	bg, _, pub := newSignedOwner(t)
	longer := bg.Snapshot()
	proof := mine(t, bg, Genesis, pub)

	if !bg.CompareGrids(extendedGrid(t, longer, pub, proof)) {
		t.Fatal("a valid, strictly longer grid must be authoritative")
	}
	if bg.CompareGrids(longer) {
		t.Fatal("an equal-length grid must not be authoritative")
	}
}

// extendedGrid returns a clone of base with Genesis mined under pub/proof
// and its six neighbours materialized, exactly as SignBlock would produce.
func extendedGrid(t *testing.T, base Grid, pub signer.PublicKey, proof uint64) Grid {
	t.Helper()
	out := make(Grid, len(base)+6)
	for idx, cell := range base {
		out[idx] = cell.Clone()
	}
	genesis := out[Genesis]
	genesis.Owner = pub.String()
	genesis.Proof = &proof
	previousHash := genesis.Hash()
	for axis := 0; axis < 3; axis++ {
		for _, delta := range [2]int64{-1, 1} {
			n := Genesis
			n[axis] += delta
			out[n] = &Cell{
				Index:         n,
				PreviousIndex: Genesis,
				PreviousHash:  previousHash,
				Data:          []Entry{},
			}
		}
	}
	return out
}

// TestUpdateGridMergeLengthMonotone covers P-merge-length-monotone.
func TestUpdateGridMergeLengthMonotone(t *testing.T) {
	bg, _, pub := newSignedOwner(t)
	proof := mine(t, bg, Genesis, pub)
	longer := extendedGrid(t, bg.Snapshot(), pub, proof)
	shorter := bg.Snapshot()

	merged := UpdateGrid(longer, shorter)
	if len(merged) < len(longer) {
		t.Fatalf("UpdateGrid shrank the grid: %d < %d", len(merged), len(longer))
	}
}

// TestUpdateGridIdempotent covers P-merge-idempotent.
func TestUpdateGridIdempotent(t *testing.T) {
	bg, _, pub := newSignedOwner(t)
	proof := mine(t, bg, Genesis, pub)
	longer := extendedGrid(t, bg.Snapshot(), pub, proof)
	shorter := bg.Snapshot()

	once := UpdateGrid(longer, shorter)
	twice := UpdateGrid(once, shorter)

	if len(once) != len(twice) {
		t.Fatalf("UpdateGrid is not idempotent: len %d != %d", len(once), len(twice))
	}
	for idx, cell := range once {
		other, ok := twice[idx]
		if !ok {
			t.Fatalf("cell %v missing after second merge", idx)
		}
		if cell.Updated != other.Updated || len(cell.Data) != len(other.Data) {
			t.Fatalf("cell %v diverged across repeated merges", idx)
		}
	}
}

// TestUpdateGridNewerDataWins covers scenario 2: same-length grids, newer
// signed data on one side wins the merge.
func TestUpdateGridNewerDataWins(t *testing.T) {
	bg, priv, pub := newSignedOwner(t)
	proof := mine(t, bg, Genesis, pub)
	if err := bg.SignBlock(Genesis, proof, pub.String()); err != nil {
		t.Fatal(err)
	}

	a := bg.Snapshot()

	// The entry must be newer than genesis's own Updated (set from the wall
	// clock when the grid was created) for the merge to take it.
	newer := a[Genesis].Updated + 100
	payload := `{"a":1}`
	if _, err := bg.NewTransaction(Genesis, payload, signedEntry(t, priv, payload), newer, true); err != nil {
		t.Fatal(err)
	}
	b := bg.Snapshot()

	merged := UpdateGrid(a, b)
	mergedGenesis := merged[Genesis]
	if len(mergedGenesis.Data) != 1 {
		t.Fatalf("expected the newer entry to win, got %d entries", len(mergedGenesis.Data))
	}
	if mergedGenesis.Updated != newer {
		t.Fatalf("Updated = %d, want %d", mergedGenesis.Updated, newer)
	}
}

func TestUpdateGridRejectsOwnerMismatch(t *testing.T) {
	bgA, _, pubA := newSignedOwner(t)
	proofA := mine(t, bgA, Genesis, pubA)
	if err := bgA.SignBlock(Genesis, proofA, pubA.String()); err != nil {
		t.Fatal(err)
	}
	a := bgA.Snapshot()

	bgB, _, pubB := newSignedOwner(t)
	proofB := mine(t, bgB, Genesis, pubB)
	if err := bgB.SignBlock(Genesis, proofB, pubB.String()); err != nil {
		t.Fatal(err)
	}
	b := bgB.Snapshot()
	b[Genesis].Updated = a[Genesis].Updated + 1000

	merged := UpdateGrid(a, b)
	if merged[Genesis].Owner != pubA.String() {
		t.Fatal("UpdateGrid must not adopt a differently-owned cell's data over an existing owner")
	}
}
