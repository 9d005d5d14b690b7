package chain

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labchain-go/node/internal/config"
	"github.com/labchain-go/node/internal/cryptoprim"
	"github.com/labchain-go/node/internal/merkle"
)

func coinbaseFor(t *testing.T, height uint64, key cryptoprim.Key, amount uint64) *Transaction {
	t.Helper()
	return &Transaction{
		Inputs:  []TransactionInput{{OutputIndex: CoinbaseOutputIndex}},
		Targets: []TransactionTarget{NewPayToPubKeyTarget(key.PublicKeyHex(), amount)},
	}
}

func appendMined(t *testing.T, bc *Blockchain, txs []*Transaction) (*Blockchain, *Block) {
	t.Helper()
	tip := bc.Tip()
	target := bc.NextTarget()

	b := &Block{
		PrevBlockHash: tip.ComputeHash(),
		MerkleRoot:    merkle.Root(txs),
		Time:          tip.Time.Add(time.Second),
		Height:        tip.Height + 1,
		Target:        target,
		Transactions:  txs,
	}
	for nonce := uint64(0); ; nonce++ {
		b.Nonce = nonce
		if b.VerifyProofOfWork() {
			break
		}
		require.Less(t, nonce, uint64(1<<20), "failed to find a nonce against target")
	}

	next, err := bc.TryAppend(b)
	require.NoError(t, err)
	return next, b
}

func newTestChain(t *testing.T) (*Blockchain, cryptoprim.Key) {
	t.Helper()
	key, err := cryptoprim.GenerateKey()
	require.NoError(t, err)

	bc, err := NewBlockchain(Genesis())
	require.NoError(t, err)
	return bc, key
}

func TestTryAppendExtendsChainAndUTXO(t *testing.T) {
	bc, key := newTestChain(t)

	cb := coinbaseFor(t, 1, key, config.BlockReward(1))
	next, mined := appendMined(t, bc, []*Transaction{cb})

	assert.Equal(t, uint64(1), next.Height())
	assert.True(t, next.Contains(mined.ComputeHash()))

	_, ok := next.UTXO.Get(OutputRef{TxHash: cb.Hash(), OutputIndex: 0})
	assert.True(t, ok)
}

func TestTryAppendDoesNotMutateParent(t *testing.T) {
	bc, key := newTestChain(t)
	cb := coinbaseFor(t, 1, key, config.BlockReward(1))
	next, _ := appendMined(t, bc, []*Transaction{cb})

	assert.Equal(t, uint64(0), bc.Height(), "parent Blockchain value must remain at its original height")
	_, ok := bc.UTXO.Get(OutputRef{TxHash: cb.Hash(), OutputIndex: 0})
	assert.False(t, ok, "parent UTXO set must not see the child's new output")

	assert.Equal(t, uint64(1), next.Height())
}

func TestTryAppendRejectsWrongHeight(t *testing.T) {
	bc, key := newTestChain(t)
	tip := bc.Tip()
	cb := coinbaseFor(t, 1, key, config.BlockReward(1))

	b := &Block{
		PrevBlockHash: tip.ComputeHash(),
		MerkleRoot:    merkle.Root([]*Transaction{cb}),
		Time:          tip.Time.Add(time.Second),
		Height:        5, // wrong: should be 1
		Target:        bc.NextTarget(),
		Transactions:  []*Transaction{cb},
	}
	for nonce := uint64(0); ; nonce++ {
		b.Nonce = nonce
		if b.VerifyProofOfWork() {
			break
		}
	}

	_, err := bc.TryAppend(b)
	assert.Error(t, err)
}

func TestTryAppendRejectsWrongDifficultyTarget(t *testing.T) {
	bc, key := newTestChain(t)
	tip := bc.Tip()
	cb := coinbaseFor(t, 1, key, config.BlockReward(1))

	wrongTarget := new(big.Int).Rsh(bc.NextTarget(), 8) // a different (harder) target than required

	b := &Block{
		PrevBlockHash: tip.ComputeHash(),
		MerkleRoot:    merkle.Root([]*Transaction{cb}),
		Time:          tip.Time.Add(time.Second),
		Height:        1,
		Target:        wrongTarget,
		Transactions:  []*Transaction{cb},
	}
	b.Nonce = 0

	_, err := bc.TryAppend(b)
	assert.Error(t, err)
}

func TestTryAppendRejectsDoubleSpendAcrossBlocks(t *testing.T) {
	bc, key := newTestChain(t)

	cb := coinbaseFor(t, 1, key, config.BlockReward(1))
	bc, _ = appendMined(t, bc, []*Transaction{cb})

	spend := signedSpend(t, key, cb.Hash(), 0, []TransactionTarget{{Script: "dest", Amount: config.BlockReward(1)}})
	cb2 := coinbaseFor(t, 2, key, config.BlockReward(2))
	bc, _ = appendMined(t, bc, []*Transaction{cb2, spend})

	// Re-spending the same now-spent coin in a later block must fail.
	respend := signedSpend(t, key, cb.Hash(), 0, []TransactionTarget{{Script: "dest2", Amount: 1}})
	cb3 := coinbaseFor(t, 3, key, config.BlockReward(3))

	tip := bc.Tip()
	b := &Block{
		PrevBlockHash: tip.ComputeHash(),
		MerkleRoot:    merkle.Root([]*Transaction{cb3, respend}),
		Time:          tip.Time.Add(time.Second),
		Height:        tip.Height + 1,
		Target:        bc.NextTarget(),
		Transactions:  []*Transaction{cb3, respend},
	}
	for nonce := uint64(0); ; nonce++ {
		b.Nonce = nonce
		if b.VerifyProofOfWork() {
			break
		}
	}

	_, err := bc.TryAppend(b)
	assert.Error(t, err)
}

func TestTryAppendRejectsMoneyCreation(t *testing.T) {
	bc, key := newTestChain(t)
	tip := bc.Tip()

	cb := &Transaction{
		Inputs:  []TransactionInput{{OutputIndex: CoinbaseOutputIndex}},
		Targets: []TransactionTarget{{Script: key.PublicKeyHex() + " OP_CHECKSIG", Amount: config.BlockReward(1) * 2}},
	}

	b := &Block{
		PrevBlockHash: tip.ComputeHash(),
		MerkleRoot:    merkle.Root([]*Transaction{cb}),
		Time:          tip.Time.Add(time.Second),
		Height:        1,
		Target:        bc.NextTarget(),
		Transactions:  []*Transaction{cb},
	}
	for nonce := uint64(0); ; nonce++ {
		b.Nonce = nonce
		if b.VerifyProofOfWork() {
			break
		}
	}

	_, err := bc.TryAppend(b)
	assert.Error(t, err)
}

func TestNextTargetUnchangedBetweenRetargets(t *testing.T) {
	bc, key := newTestChain(t)
	for h := uint64(1); h < config.DifficultyBlockInterval; h++ {
		before := bc.NextTarget()
		cb := coinbaseFor(t, h, key, config.BlockReward(h))
		bc, _ = appendMined(t, bc, []*Transaction{cb})
		assert.Equal(t, 0, before.Cmp(bc.Tip().Target), "target must not change except at a retarget boundary")
	}
}
