// Package miner implements the proof-of-work miner (C10): a listener on the
// chain builder's primary-changed notifications that assembles a candidate
// block, drives internal/pow against it, and hands a winning block back to
// the chain builder for broadcast.
package miner

import (
	"context"
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/labchain-go/node/internal/chain"
	"github.com/labchain-go/node/internal/chainbuilder"
	"github.com/labchain-go/node/internal/config"
	"github.com/labchain-go/node/internal/cryptoprim"
	"github.com/labchain-go/node/internal/merkle"
	"github.com/labchain-go/node/internal/pow"
)

// coinbaseIVSize is the size of the random value differentiating otherwise
// identical reward claims (two coinbases paying the same key the same
// amount at the same height would otherwise hash identically).
const coinbaseIVSize = 16

// ChainBuilder is the subset of *chainbuilder.ChainBuilder the miner needs.
// Kept as an interface so tests can substitute a fake without standing up a
// whole event loop.
type ChainBuilder interface {
	Primary() *chain.Blockchain
	Pending() []*chain.Transaction
	SubmitBlock(b *chain.Block)
}

var _ chainbuilder.Listener = (*Miner)(nil)

// Miner mines at most one candidate at a time. A new PrimaryChanged
// notification aborts whatever session is in flight before starting the
// next, per spec.md §4.9's "instruct any previous C7 session to abort".
type Miner struct {
	log       *zap.SugaredLogger
	cb        ChainBuilder
	rewardKey cryptoprim.Key

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a miner that pays block rewards to rewardKey's public half.
func New(cb ChainBuilder, rewardKey cryptoprim.Key, log *zap.SugaredLogger) *Miner {
	return &Miner{cb: cb, rewardKey: rewardKey, log: log}
}

// Start begins mining against the chain builder's current head. Call once
// at startup; subsequent restarts happen automatically through
// PrimaryChanged.
func (m *Miner) Start() {
	m.PrimaryChanged(m.cb.Primary())
}

// PrimaryChanged implements chainbuilder.Listener.
func (m *Miner) PrimaryChanged(bc *chain.Blockchain) {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	go m.mine(ctx, bc)
}

func (m *Miner) mine(ctx context.Context, bc *chain.Blockchain) {
	candidate := m.assemble(bc)

	result, ok := pow.Search(ctx, candidate, candidate.Target, 0)
	if !ok || ctx.Err() != nil {
		return
	}
	candidate.Nonce = result.Nonce

	m.log.Infow("miner: found block", "height", candidate.Height, "hash", result.Hash.String())
	m.cb.SubmitBlock(candidate)
}

// assemble builds a candidate block extending bc's tip: a leading coinbase
// claiming the block reward plus every fee collected, followed by mempool
// transactions selected by descending fee, skipping any that no longer
// validate against bc's UTXO snapshot or that conflict with an
// already-selected transaction (spec.md §4.9).
func (m *Miner) assemble(bc *chain.Blockchain) *chain.Block {
	type candidate struct {
		tx  *chain.Transaction
		fee uint64
	}

	var scored []candidate
	for _, tx := range m.cb.Pending() {
		fee, err := tx.Validate(bc.UTXO)
		if err != nil {
			continue
		}
		scored = append(scored, candidate{tx: tx, fee: fee})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].fee > scored[j].fee })

	var selected []*chain.Transaction
	var totalFees uint64
	for _, c := range scored {
		if c.tx.CheckConflict(selected) {
			continue
		}
		selected = append(selected, c.tx)
		totalFees += c.fee
	}

	height := bc.Height() + 1
	coinbase := &chain.Transaction{
		Inputs: []chain.TransactionInput{{OutputIndex: chain.CoinbaseOutputIndex}},
		Targets: []chain.TransactionTarget{
			chain.NewPayToPubKeyTarget(m.rewardKey.PublicKeyHex(), config.BlockReward(height)+totalFees),
		},
		Timestamp: time.Now(),
		IV:        randomIV(),
	}

	transactions := make([]*chain.Transaction, 0, len(selected)+1)
	transactions = append(transactions, coinbase)
	transactions = append(transactions, selected...)

	return &chain.Block{
		PrevBlockHash: bc.Tip().ComputeHash(),
		MerkleRoot:    merkle.Root(transactions),
		Time:          time.Now(),
		Height:        height,
		Target:        bc.NextTarget(),
		Transactions:  transactions,
	}
}

func randomIV() []byte {
	iv := make([]byte, coinbaseIVSize)
	if _, err := rand.Read(iv); err != nil {
		panic("miner: reading random coinbase IV: " + err.Error())
	}
	return iv
}
