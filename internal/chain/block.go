package chain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/labchain-go/node/internal/config"
	"github.com/labchain-go/node/internal/cryptoprim"
	"github.com/labchain-go/node/internal/merkle"
	"github.com/labchain-go/node/internal/nodeerr"
)

// Block is one entry in the chain: a header (everything needed to compute
// its hash and verify its proof of work) plus the transactions it commits
// to via MerkleRoot.
type Block struct {
	PrevBlockHash cryptoprim.Hash `json:"prev_block_hash"`
	MerkleRoot    cryptoprim.Hash `json:"merkle_root_hash"`
	Time          time.Time       `json:"timestamp"`
	Nonce         uint64          `json:"nonce"`
	Height        uint64          `json:"height"`
	Target        *big.Int        `json:"target"`
	Transactions  []*Transaction  `json:"transactions"`
}

// partialHasher absorbs every header field the committed hash covers except
// the nonce: prev hash, merkle root, timestamp at microsecond precision, and
// target. Height is a header field but is not part of the hash. Cloning this
// per nonce attempt (internal/pow) avoids re-hashing the whole header on
// every attempt, mirroring get_partial_hash in the original labchain Block.
func (b *Block) partialHasher() *cryptoprim.Hasher {
	h := cryptoprim.NewHasher()
	h.Write(b.PrevBlockHash[:])
	h.Write(b.MerkleRoot[:])
	h.Write(cryptoprim.SerializeUint(uint64(b.Time.UnixMicro())))
	h.Write(cryptoprim.SerializeInt(b.Target))
	return h
}

// GetPartialHash exposes the pre-nonce hash state to internal/pow.
func (b *Block) GetPartialHash() *cryptoprim.Hasher {
	return b.partialHasher()
}

// ComputeHash derives the block's identity: the partial hash with the
// nonce absorbed last.
func (b *Block) ComputeHash() cryptoprim.Hash {
	h := b.partialHasher()
	h.Write(cryptoprim.SerializeUint(b.Nonce))
	return h.Sum()
}

// VerifyProofOfWork reports whether the block's hash, interpreted as an
// unsigned big-endian integer, is strictly less than its target.
func (b *Block) VerifyProofOfWork() bool {
	return b.ComputeHash().Int().Cmp(b.Target) < 0
}

// VerifyMerkle reports whether MerkleRoot commits to exactly the block's
// transaction list, in order.
func (b *Block) VerifyMerkle() bool {
	return merkle.Root(b.Transactions) == b.MerkleRoot
}

// VerifyTime reports whether the block's timestamp is strictly after the
// previous block's and not further in the future than MaxFutureDrift.
func (b *Block) VerifyTime(prevTime time.Time) bool {
	if !b.Time.After(prevTime) {
		return false
	}
	return !b.Time.After(time.Now().Add(config.MaxFutureDrift))
}

// VerifyPrev reports whether the block correctly extends prev: its
// prev-hash field matches prev's hash and its height is exactly one more.
func (b *Block) VerifyPrev(prev *Block) bool {
	return b.PrevBlockHash == prev.ComputeHash() && b.Height == prev.Height+1
}

// VerifyTransactions implements spec.md §4.5's per-block transaction
// rules: the first transaction must be a coinbase and the only one; no two
// transactions (coinbase excluded) may spend the same output; every
// non-coinbase transaction must validate against utxo; and the coinbase's
// total output may not exceed the block reward for height plus the sum of
// all fees collected. It returns the total fees collected.
func (b *Block) VerifyTransactions(utxo UTXOView) (uint64, error) {
	if len(b.Transactions) == 0 || !b.Transactions[0].IsCoinbase() {
		return 0, fmt.Errorf("block has no leading coinbase transaction: %w", nodeerr.ErrInvalidBlock)
	}

	rest := b.Transactions[1:]
	for i, tx := range rest {
		if tx.IsCoinbase() {
			return 0, fmt.Errorf("coinbase transaction at position %d, want 0: %w", i+1, nodeerr.ErrInvalidBlock)
		}
		if tx.CheckConflict(rest[:i]) {
			return 0, fmt.Errorf("transaction double spends within block: %w", nodeerr.ErrDoubleSpend)
		}
	}

	var totalFees uint64
	for _, tx := range rest {
		fee, err := tx.Validate(utxo)
		if err != nil {
			return 0, err
		}
		totalFees += fee
	}

	var coinbaseOut uint64
	for _, t := range b.Transactions[0].Targets {
		coinbaseOut += t.Amount
	}
	if coinbaseOut > config.BlockReward(b.Height)+totalFees {
		return 0, fmt.Errorf("coinbase claims %d, max is reward %d + fees %d: %w",
			coinbaseOut, config.BlockReward(b.Height), totalFees, nodeerr.ErrInvalidBlock)
	}

	return totalFees, nil
}
