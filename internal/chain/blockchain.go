package chain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/labchain-go/node/internal/config"
	"github.com/labchain-go/node/internal/cryptoprim"
	"github.com/labchain-go/node/internal/nodeerr"
)

// Blockchain is a persistent value: TryAppend never mutates the receiver,
// it returns a new Blockchain that shares as much structure as possible
// with the old one (spec.md's Design Notes on structural sharing). Any
// caller still holding a reference to an older Blockchain keeps a valid,
// unaffected view of the chain at that point.
type Blockchain struct {
	Blocks     []*Block
	BlockIndex map[cryptoprim.Hash]*Block
	UTXO       *UTXOSet
	TotalWork  *big.Int
}

// NewBlockchain builds the initial chain from a genesis block: its proof
// of work and Merkle root are checked like any other block, but it carries
// no transactions (spec.md §6) so the coinbase/fee rules of
// VerifyTransactions do not apply to it, and VerifyPrev is skipped (genesis
// has no predecessor).
func NewBlockchain(genesis *Block) (*Blockchain, error) {
	if !genesis.VerifyProofOfWork() {
		return nil, fmt.Errorf("genesis block: %w", nodeerr.ErrInvalidBlock)
	}
	if !genesis.VerifyMerkle() {
		return nil, fmt.Errorf("genesis block merkle root mismatch: %w", nodeerr.ErrInvalidBlock)
	}

	utxo := NewUTXOSet().Apply(genesis)

	return &Blockchain{
		Blocks:     []*Block{genesis},
		BlockIndex: map[cryptoprim.Hash]*Block{genesis.ComputeHash(): genesis},
		UTXO:       utxo,
		TotalWork:  blockWork(genesis.Target),
	}, nil
}

// Tip returns the chain's current head.
func (bc *Blockchain) Tip() *Block { return bc.Blocks[len(bc.Blocks)-1] }

// Height returns the height of the tip (genesis is height 0).
func (bc *Blockchain) Height() uint64 { return bc.Tip().Height }

// Contains reports whether a block with the given hash is already part of
// this chain.
func (bc *Blockchain) Contains(hash cryptoprim.Hash) bool {
	_, ok := bc.BlockIndex[hash]
	return ok
}

// TransactionByHash scans confirmed blocks for a transaction, newest block
// first. Used by mempool admission to reject a transaction that has
// already been confirmed. O(chain length); acceptable here since it runs
// once per newly-seen transaction, not in any per-block hot path.
func (bc *Blockchain) TransactionByHash(hash cryptoprim.Hash) (*Transaction, bool) {
	for i := len(bc.Blocks) - 1; i >= 0; i-- {
		for _, tx := range bc.Blocks[i].Transactions {
			if tx.Hash() == hash {
				return tx, true
			}
		}
	}
	return nil, false
}

// NextTarget computes the proof-of-work target the next block must use:
// unchanged except every DifficultyBlockInterval blocks, when it is
// retargeted against how long the most recent window actually took,
// clamped to never become easier than the genesis target (spec.md §4.3,
// §6).
func (bc *Blockchain) NextTarget() *big.Int {
	tip := bc.Tip()
	nextHeight := tip.Height + 1
	if nextHeight%config.DifficultyBlockInterval != 0 || len(bc.Blocks) < int(config.DifficultyBlockInterval) {
		return tip.Target
	}

	windowStart := bc.Blocks[len(bc.Blocks)-int(config.DifficultyBlockInterval)]
	actual := tip.Time.Sub(windowStart.Time)
	if actual <= 0 {
		actual = 1
	}
	targetSpan := config.DifficultyTargetTimedelta * time.Duration(config.DifficultyBlockInterval)

	next := new(big.Int).Mul(tip.Target, big.NewInt(int64(actual)))
	next.Div(next, big.NewInt(int64(targetSpan)))

	if next.Cmp(config.GenesisTarget()) > 0 {
		next = config.GenesisTarget()
	}
	return next
}

// TryAppend validates candidate as an extension of the chain's current
// tip and, if every check passes, returns a new Blockchain reflecting it.
// The receiver is never modified. This implements the full per-block
// validation sequence of spec.md §4.5, in this order: linkage and height,
// target, proof of work, merkle commitment, ordering-in-time, and
// transactions.
func (bc *Blockchain) TryAppend(candidate *Block) (*Blockchain, error) {
	tip := bc.Tip()

	if !candidate.VerifyPrev(tip) {
		return nil, fmt.Errorf("block does not extend tip: %w", nodeerr.ErrInvalidBlock)
	}

	if candidate.Target.Cmp(bc.NextTarget()) != 0 {
		return nil, fmt.Errorf("block uses wrong difficulty target: %w", nodeerr.ErrInvalidBlock)
	}

	if !candidate.VerifyProofOfWork() {
		return nil, fmt.Errorf("block hash does not satisfy target: %w", nodeerr.ErrInvalidBlock)
	}

	if !candidate.VerifyMerkle() {
		return nil, fmt.Errorf("merkle root mismatch: %w", nodeerr.ErrInvalidBlock)
	}

	if !candidate.VerifyTime(tip.Time) {
		return nil, fmt.Errorf("block timestamp out of range: %w", nodeerr.ErrInvalidBlock)
	}

	if _, err := candidate.VerifyTransactions(bc.UTXO); err != nil {
		return nil, err
	}

	newBlocks := make([]*Block, len(bc.Blocks)+1)
	copy(newBlocks, bc.Blocks)
	newBlocks[len(bc.Blocks)] = candidate

	newIndex := make(map[cryptoprim.Hash]*Block, len(bc.BlockIndex)+1)
	for k, v := range bc.BlockIndex {
		newIndex[k] = v
	}
	newIndex[candidate.ComputeHash()] = candidate

	return &Blockchain{
		Blocks:     newBlocks,
		BlockIndex: newIndex,
		UTXO:       bc.UTXO.Apply(candidate),
		TotalWork:  new(big.Int).Add(bc.TotalWork, blockWork(candidate.Target)),
	}, nil
}

// blockWork is the expected number of hash attempts a target represents:
// 2^256 / (target+1). Summed over a chain this is its total accumulated
// work, the quantity chain selection maximizes (spec.md §4.9 "heaviest
// chain wins", not merely longest).
func blockWork(target *big.Int) *big.Int {
	numerator := new(big.Int).Lsh(big.NewInt(1), 256)
	denom := new(big.Int).Add(target, big.NewInt(1))
	return numerator.Div(numerator, denom)
}
