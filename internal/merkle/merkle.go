// Package merkle builds the hash-summary of an ordered list of transactions
// used to commit a block to its transaction set without hashing them all
// directly into the block header.
package merkle

import "github.com/labchain-go/node/internal/cryptoprim"

// Hashable is anything that can contribute a leaf to a merkle tree.
type Hashable interface {
	Hash() cryptoprim.Hash
}

// emptyTreeHash is the well-known root of an empty tree: the hash of two
// empty children concatenated is simply the hash of nothing, matching
// MerkleNode(None, None).get_hash() in the original labchain implementation
// (both v1_hash and v2_hash are b'' there, so the hasher absorbs zero
// bytes).
var emptyTreeHash = cryptoprim.Sum256(nil)

// Empty is the well-known root of an empty tree, exposed for callers (e.g.
// a fixed genesis block) that need it without a typed empty slice to pass
// through Root.
func Empty() cryptoprim.Hash { return emptyTreeHash }

// Root builds pairs left-to-right, pairing a final odd element with an
// empty sentinel sibling rather than a duplicate of itself, and recurses
// until one node remains. An empty input returns the well-known empty-tree
// hash. The result depends on input order: permuting leaves changes the
// root.
func Root[T Hashable](items []T) cryptoprim.Hash {
	if len(items) == 0 {
		return emptyTreeHash
	}

	level := make([]cryptoprim.Hash, len(items))
	for i, it := range items {
		level[i] = it.Hash()
	}

	for len(level) > 1 {
		var next []cryptoprim.Hash
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, pairHash(level[i][:], level[i+1][:]))
			} else {
				// Odd node out: pair with an empty sentinel rather than a
				// duplicate, matching MerkleNode(v, None) in the original
				// implementation (v2_hash is b'' there, not re-hashed).
				next = append(next, pairHash(level[i][:], nil))
			}
		}
		level = next
	}
	return level[0]
}

func pairHash(left, right []byte) cryptoprim.Hash {
	h := cryptoprim.NewHasher()
	h.Write(left)
	h.Write(right)
	return h.Sum()
}
