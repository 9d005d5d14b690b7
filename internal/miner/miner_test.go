package miner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labchain-go/node/internal/chain"
	"github.com/labchain-go/node/internal/config"
	"github.com/labchain-go/node/internal/cryptoprim"
	"github.com/labchain-go/node/internal/merkle"
)

type fakeChainBuilder struct {
	primary   *chain.Blockchain
	pending   []*chain.Transaction
	submitted chan *chain.Block
}

func newFakeChainBuilder(t *testing.T) *fakeChainBuilder {
	t.Helper()
	bc, err := chain.NewBlockchain(chain.Genesis())
	require.NoError(t, err)
	return &fakeChainBuilder{primary: bc, submitted: make(chan *chain.Block, 1)}
}

func (f *fakeChainBuilder) Primary() *chain.Blockchain   { return f.primary }
func (f *fakeChainBuilder) Pending() []*chain.Transaction { return f.pending }
func (f *fakeChainBuilder) SubmitBlock(b *chain.Block)    { f.submitted <- b }

func signedSpendFrom(t *testing.T, key cryptoprim.Key, prevHash cryptoprim.Hash, outputIndex int32, amount uint64) *chain.Transaction {
	t.Helper()
	tx := &chain.Transaction{
		Inputs:  []chain.TransactionInput{{PrevTxHash: prevHash, OutputIndex: outputIndex}},
		Targets: []chain.TransactionTarget{{Script: "dest", Amount: amount}},
	}
	sig, err := key.Sign(tx.Hash())
	require.NoError(t, err)
	tx.Inputs[0].UnlockScript = chain.NewUnlockScript(sig)
	return tx
}

func TestAssembleBuildsLeadingCoinbaseClaimingRewardOnly(t *testing.T) {
	cb := newFakeChainBuilder(t)
	key, err := cryptoprim.GenerateKey()
	require.NoError(t, err)

	m := New(cb, key, zap.NewNop().Sugar())
	block := m.assemble(cb.primary)

	require.Len(t, block.Transactions, 1)
	require.True(t, block.Transactions[0].IsCoinbase())
	assert.Equal(t, config.BlockReward(1), block.Transactions[0].Targets[0].Amount)
	assert.Equal(t, uint64(1), block.Height)
}

func TestAssembleAddsCollectedFeesToCoinbase(t *testing.T) {
	cb := newFakeChainBuilder(t)
	key, err := cryptoprim.GenerateKey()
	require.NoError(t, err)

	// Seed the chain with a spendable coin via a real mined block so the
	// assembled candidate's mempool transactions have something genuine to
	// reference against cb.primary.UTXO.
	coin := &chain.Transaction{
		Inputs:  []chain.TransactionInput{{OutputIndex: chain.CoinbaseOutputIndex}},
		Targets: []chain.TransactionTarget{chain.NewPayToPubKeyTarget(key.PublicKeyHex(), 1000)},
	}
	genesisChild := mineChildWithTx(t, cb.primary, coin)
	next, err := cb.primary.TryAppend(genesisChild)
	require.NoError(t, err)
	cb.primary = next

	lowFee := signedSpendFrom(t, key, coin.Hash(), 0, 990) // fee 10
	cb.pending = []*chain.Transaction{lowFee}

	m := New(cb, key, zap.NewNop().Sugar())
	block := m.assemble(cb.primary)

	require.Len(t, block.Transactions, 2)
	assert.Equal(t, lowFee.Hash(), block.Transactions[1].Hash())
	assert.Equal(t, config.BlockReward(2)+10, block.Transactions[0].Targets[0].Amount)
}

func TestAssembleOrdersSelectedTransactionsByDescendingFee(t *testing.T) {
	cb := newFakeChainBuilder(t)
	key, err := cryptoprim.GenerateKey()
	require.NoError(t, err)

	// A single coinbase with two outputs stands in for two independent
	// spendable coins, so each spend below references a distinct input
	// and neither conflicts with the other.
	coin := &chain.Transaction{
		Inputs: []chain.TransactionInput{{OutputIndex: chain.CoinbaseOutputIndex}},
		Targets: []chain.TransactionTarget{
			chain.NewPayToPubKeyTarget(key.PublicKeyHex(), 1000),
			chain.NewPayToPubKeyTarget(key.PublicKeyHex(), 1000),
		},
	}
	genesisChild := mineChildWithTx(t, cb.primary, coin)
	next, err := cb.primary.TryAppend(genesisChild)
	require.NoError(t, err)
	cb.primary = next

	lowFee := signedSpendFrom(t, key, coin.Hash(), 0, 990)  // fee 10
	highFee := signedSpendFrom(t, key, coin.Hash(), 1, 900) // fee 100
	cb.pending = []*chain.Transaction{lowFee, highFee}

	m := New(cb, key, zap.NewNop().Sugar())
	block := m.assemble(cb.primary)

	require.Len(t, block.Transactions, 3)
	assert.Equal(t, highFee.Hash(), block.Transactions[1].Hash(), "higher-fee transaction must be selected first")
	assert.Equal(t, lowFee.Hash(), block.Transactions[2].Hash())
}

func TestAssembleSkipsConflictingMempoolTransactions(t *testing.T) {
	cb := newFakeChainBuilder(t)
	key, err := cryptoprim.GenerateKey()
	require.NoError(t, err)

	coin := &chain.Transaction{
		Inputs:  []chain.TransactionInput{{OutputIndex: chain.CoinbaseOutputIndex}},
		Targets: []chain.TransactionTarget{chain.NewPayToPubKeyTarget(key.PublicKeyHex(), 1000)},
	}
	genesisChild := mineChildWithTx(t, cb.primary, coin)
	next, err := cb.primary.TryAppend(genesisChild)
	require.NoError(t, err)
	cb.primary = next

	a := signedSpendFrom(t, key, coin.Hash(), 0, 950) // fee 50
	b := signedSpendFrom(t, key, coin.Hash(), 0, 900) // fee 100, conflicts with a's input
	// b has the higher fee and sorts first; a must be dropped once b wins.
	cb.pending = []*chain.Transaction{a, b}

	m := New(cb, key, zap.NewNop().Sugar())
	block := m.assemble(cb.primary)

	require.Len(t, block.Transactions, 2)
	assert.Equal(t, b.Hash(), block.Transactions[1].Hash())
}

func TestMinePublishesWinningBlockThatExtendsPrimary(t *testing.T) {
	cb := newFakeChainBuilder(t)
	key, err := cryptoprim.GenerateKey()
	require.NoError(t, err)

	m := New(cb, key, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go m.mine(ctx, cb.primary)

	select {
	case b := <-cb.submitted:
		_, err := cb.primary.TryAppend(b)
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("miner never submitted a block against the genesis-easy target")
	}
}

func mineChildWithTx(t *testing.T, bc *chain.Blockchain, coinbase *chain.Transaction) *chain.Block {
	t.Helper()
	tip := bc.Tip()
	txs := []*chain.Transaction{coinbase}
	b := &chain.Block{
		PrevBlockHash: tip.ComputeHash(),
		MerkleRoot:    merkle.Root(txs),
		Time:          tip.Time.Add(time.Second),
		Height:        tip.Height + 1,
		Target:        bc.NextTarget(),
		Transactions:  txs,
	}
	for nonce := uint64(0); ; nonce++ {
		b.Nonce = nonce
		if b.VerifyProofOfWork() {
			break
		}
		require.Less(t, nonce, uint64(1<<20))
	}
	return b
}
