// Package pow implements the proof-of-work nonce search (spec.md C7): given
// a block's partial hash (every header field absorbed except the nonce)
// and a target, find a nonce making the full hash strictly less than the
// target.
package pow

import (
	"context"
	"math/big"

	"github.com/labchain-go/node/internal/cryptoprim"
)

// batchSize is how many nonces are tried between checks of ctx.Done(). A
// cancelled search (because a competing block arrived, or the miner is
// shutting down) is noticed within one batch, not after exhausting a
// nonce space that at realistic difficulties is never exhausted anyway.
const batchSize = 1 << 16

// Partial is the subset of a block's hashing behavior the search needs: a
// pre-absorbed hasher it can cheaply clone per nonce attempt. chain.Block
// satisfies this via GetPartialHash.
type Partial interface {
	GetPartialHash() *cryptoprim.Hasher
}

// Result is a winning nonce and the full block hash it produces.
type Result struct {
	Nonce uint64
	Hash  cryptoprim.Hash
}

// Search tries nonces starting at startNonce until one yields a hash
// strictly less than target, or ctx is done. It clones the block's partial
// hash state per attempt rather than recomputing the whole header hash, the
// optimization the original labchain miner's get_partial_hash/get_hash
// split exists for.
func Search(ctx context.Context, b Partial, target *big.Int, startNonce uint64) (Result, bool) {
	partial := b.GetPartialHash()
	nonce := startNonce

	for {
		for i := 0; i < batchSize; i++ {
			attempt := partial.Clone()
			attempt.Write(cryptoprim.SerializeUint(nonce))
			hash := attempt.Sum()

			if hash.Int().Cmp(target) < 0 {
				return Result{Nonce: nonce, Hash: hash}, true
			}
			nonce++
		}

		select {
		case <-ctx.Done():
			return Result{}, false
		default:
		}
	}
}
