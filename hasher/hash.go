// Package hasher computes the two canonical digests used throughout
// blockgrid: the chaining hash of a cell, and the proof-of-work challenge
// derived from a reduced subset of a cell's fields. Both digests must be
// byte-identical across independently-running nodes, so serialization goes
// through a pair of fixed-field-order structs instead of a generic,
// map-based key sort: encoding/json marshals struct fields in declaration
// order, and the fields below are declared in the exact alphabetical order
// of their JSON tags, which gives sorted-key output deterministically.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Index is a 3-D integer grid coordinate. It is also used, unmodified, as
// the JSON encoding of a cell's index/previous_index fields: a 3-element
// array of decimal integers.
type Index [3]int64

// Block carries the fields of a cell needed to compute either digest. It is
// deliberately decoupled from any concrete cell type so this package has no
// dependency on the blockgrid package; callers project their cell into a
// Block immediately before hashing.
type Block struct {
	Index         Index
	Owner         string
	PreviousHash  string
	PreviousIndex Index
	Proof         *uint64
	Timestamp     int64
}

// fullBlock is the canonical encoding for Hash: every field of a cell
// except data and updated. Field order is alphabetical by JSON tag:
// index, owner, previous_hash, previous_index, proof, timestamp.
type fullBlock struct {
	Index         Index   `json:"index"`
	Owner         string  `json:"owner"`
	PreviousHash  string  `json:"previous_hash"`
	PreviousIndex Index   `json:"previous_index"`
	Proof         *uint64 `json:"proof"`
	Timestamp     int64   `json:"timestamp"`
}

// challengeBlock is the canonical encoding for HashWithoutProof: the
// {owner, index, previous_hash} subset, alphabetical by JSON tag.
type challengeBlock struct {
	Index        Index  `json:"index"`
	Owner        string `json:"owner"`
	PreviousHash string `json:"previous_hash"`
}

// Hash returns the chaining digest of a block: SHA-256 of the canonical
// encoding of every field except data and updated.
func Hash(b Block) string {
	return hashJSON(fullBlock{
		Index:         b.Index,
		Owner:         b.Owner,
		PreviousHash:  b.PreviousHash,
		PreviousIndex: b.PreviousIndex,
		Proof:         b.Proof,
		Timestamp:     b.Timestamp,
	})
}

// HashWithoutProof returns the proof-of-work challenge digest: SHA-256 of
// the canonical encoding of only {owner, index, previous_hash}.
func HashWithoutProof(b Block) string {
	return hashJSON(challengeBlock{
		Index:        b.Index,
		Owner:        b.Owner,
		PreviousHash: b.PreviousHash,
	})
}

func hashJSON(v interface{}) string {
	enc, err := json.Marshal(v)
	if err != nil {
		// v is always one of the two structs above; encoding them can never
		// fail.
		panic("hasher: canonical encode failed: " + err.Error())
	}
	sum := sha256.Sum256(enc)
	return hex.EncodeToString(sum[:])
}
