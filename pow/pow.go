// Package pow implements the proof-of-work discipline that gates mining a
// cell: difficulty rises with Chebyshev distance from the grid's origin, and
// a valid proof is a nonce whose hash has that many leading hex zeros.
package pow

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Index mirrors hasher.Index; it is redeclared here rather than imported so
// this package stays a leaf with no dependency on the hashing package.
type Index [3]int64

// Difficulty returns the number of leading hex zeros a valid proof at index
// must produce: the Chebyshev distance from the origin.
func Difficulty(index Index) int {
	d := 0
	for _, c := range index {
		if c < 0 {
			c = -c
		}
		if int(c) > d {
			d = int(c)
		}
	}
	return d
}

// ValidProof reports whether nonce satisfies the proof-of-work challenge:
// hex(SHA-256(challenge || decimal(nonce))) begins with Difficulty(index)
// zero characters. challenge and nonce are concatenated as decimal text
// with no separator; this exact concatenation is load-bearing across peers.
func ValidProof(challenge string, nonce uint64, index Index) bool {
	guess := challenge + strconv.FormatUint(nonce, 10)
	sum := sha256.Sum256([]byte(guess))
	digest := hex.EncodeToString(sum[:])
	diff := Difficulty(index)
	if diff > len(digest) {
		return false
	}
	for i := 0; i < diff; i++ {
		if digest[i] != '0' {
			return false
		}
	}
	return true
}

// Mine performs an ascending scan from 0 for the smallest nonce satisfying
// ValidProof at index.
func Mine(challenge string, index Index) uint64 {
	var nonce uint64
	for !ValidProof(challenge, nonce, index) {
		nonce++
	}
	return nonce
}
