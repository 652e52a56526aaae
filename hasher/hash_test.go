package hasher

import "testing"

func testBlock() Block {
	proof := uint64(42)
	return Block{
		Index:         Index{1, 0, 0},
		Owner:         "owner-pubkey",
		PreviousHash:  "deadbeef",
		PreviousIndex: Index{0, 0, 0},
		Proof:         &proof,
		Timestamp:     1000,
	}
}

// TestHashDeterministic covers P-hash-det: two freshly-serialized copies of
// the same block hash identically.
func TestHashDeterministic(t *testing.T) {
	b1 := testBlock()
	b2 := testBlock()
	if Hash(b1) != Hash(b2) {
		t.Fatal("Hash is not deterministic across identical blocks")
	}
	if HashWithoutProof(b1) != HashWithoutProof(b2) {
		t.Fatal("HashWithoutProof is not deterministic across identical blocks")
	}
}

func TestHashChangesWithProof(t *testing.T) {
	b1 := testBlock()
	b2 := testBlock()
	p := uint64(43)
	b2.Proof = &p
	if Hash(b1) == Hash(b2) {
		t.Fatal("Hash did not change when proof changed")
	}
}

func TestHashWithoutProofIgnoresProof(t *testing.T) {
	b1 := testBlock()
	b2 := testBlock()
	p := uint64(9999)
	b2.Proof = &p
	if HashWithoutProof(b1) != HashWithoutProof(b2) {
		t.Fatal("HashWithoutProof must not depend on proof")
	}
}

func TestHashWithoutProofIgnoresPreviousIndexAndTimestamp(t *testing.T) {
	b1 := testBlock()
	b2 := testBlock()
	b2.PreviousIndex = Index{5, 5, 5}
	b2.Timestamp = 999999
	if HashWithoutProof(b1) != HashWithoutProof(b2) {
		t.Fatal("HashWithoutProof must only depend on owner, index, previous_hash")
	}
}

func TestHashIsHexSHA256Digest(t *testing.T) {
	b := testBlock()
	enc := Hash(b)
	if len(enc) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(enc))
	}
}
