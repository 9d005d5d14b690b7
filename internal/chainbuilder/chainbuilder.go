// Package chainbuilder implements the chain builder (C9): the single
// stateful component coordinating the blockchain (C6), the peer protocol
// (C8), and the miner (C10). All of its state (the primary chain, the
// block cache, the mempool, checkpoints, and the block-request table) is
// owned by one event-loop goroutine; every other goroutine (peer readers,
// the miner) interacts with it only by enqueuing events, per spec.md §5.
package chainbuilder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/labchain-go/node/internal/chain"
	"github.com/labchain-go/node/internal/cryptoprim"
)

// Broadcaster is the chain builder's outbound view of the peer protocol
// (C8): announcing new chain heads and transactions, and asking the
// network for a block we don't have.
type Broadcaster interface {
	BroadcastBlock(b *chain.Block)
	BroadcastTransaction(tx *chain.Transaction)
	RequestBlock(hash cryptoprim.Hash)
}

// Listener is notified when the primary chain changes. The miner (C10)
// implements this to restart mining against the new head.
type Listener interface {
	PrimaryChanged(bc *chain.Blockchain)
}

// retryCheckInterval is how often the background ticker checks the block
// request table for expired entries, independent of block arrivals.
const retryCheckInterval = 5 * time.Second

// ChainBuilder is the event-loop-owned state described in spec.md §4.8.
// Every field under "event-thread-owned state" is read and written
// exclusively by the goroutine running Run; the listener list and the
// snapshot are guarded by their own mutexes. External access goes through
// the exported methods, which only enqueue events, register listeners, or
// read the mutex-guarded snapshot.
type ChainBuilder struct {
	log         *zap.SugaredLogger
	broadcaster Broadcaster
	queue       *eventQueue

	listenersMu sync.Mutex
	listeners   []Listener

	snapshotMu sync.RWMutex
	snapshot   *chain.Blockchain

	// event-thread-owned state
	primary     *chain.Blockchain
	history     []*chain.Blockchain // history[h] is the chain whose tip is at height h
	blockCache  map[cryptoprim.Hash]*chain.Block
	mempool     map[cryptoprim.Hash]*chain.Transaction
	checkpoints map[cryptoprim.Hash]*chain.Blockchain
	requests    requestTable
}

// New builds a chain builder rooted at genesis.
func New(genesis *chain.Block, broadcaster Broadcaster, log *zap.SugaredLogger) (*ChainBuilder, error) {
	primary, err := chain.NewBlockchain(genesis)
	if err != nil {
		return nil, fmt.Errorf("chainbuilder: genesis: %w", err)
	}

	cb := &ChainBuilder{
		log:         log,
		broadcaster: broadcaster,
		queue:       newEventQueue(),
		primary:     primary,
		history:     []*chain.Blockchain{primary},
		blockCache:  map[cryptoprim.Hash]*chain.Block{genesis.ComputeHash(): genesis},
		mempool:     map[cryptoprim.Hash]*chain.Transaction{},
		checkpoints: map[cryptoprim.Hash]*chain.Blockchain{genesis.ComputeHash(): primary},
		requests:    requestTable{},
	}
	cb.setSnapshot(primary)
	return cb, nil
}

// AddListener registers l for primary-chain-changed notifications.
func (cb *ChainBuilder) AddListener(l Listener) {
	cb.listenersMu.Lock()
	defer cb.listenersMu.Unlock()
	cb.listeners = append(cb.listeners, l)
}

// Primary returns the current primary chain. Safe for concurrent use.
func (cb *ChainBuilder) Primary() *chain.Blockchain {
	cb.snapshotMu.RLock()
	defer cb.snapshotMu.RUnlock()
	return cb.snapshot
}

func (cb *ChainBuilder) setSnapshot(bc *chain.Blockchain) {
	cb.snapshotMu.Lock()
	cb.snapshot = bc
	cb.snapshotMu.Unlock()
}

// Pending returns a snapshot of the transactions currently in the mempool.
// Call only from outside the event loop (e.g. the miner assembling a
// candidate block); it takes no lock of its own, so it enqueues a request
// and waits for the event thread to answer it, keeping mempool access
// exclusively on that thread per spec.md §5.
func (cb *ChainBuilder) Pending() []*chain.Transaction {
	result := make(chan []*chain.Transaction, 1)
	cb.queue.push(PriorityLocal, pendingQuery{reply: result})
	return <-result
}

// SubmitBlock enqueues a locally produced block (e.g. freshly mined) at
// the highest priority.
func (cb *ChainBuilder) SubmitBlock(b *chain.Block) {
	cb.queue.push(PriorityLocal, blockEvent{block: b})
}

// ReceiveBlock enqueues a block received from a peer.
func (cb *ChainBuilder) ReceiveBlock(b *chain.Block) {
	cb.queue.push(PriorityRemote, blockEvent{block: b})
}

// SubmitTransaction enqueues a locally submitted transaction.
func (cb *ChainBuilder) SubmitTransaction(tx *chain.Transaction) {
	cb.queue.push(PriorityLocal, transactionEvent{tx: tx})
}

// ReceiveTransaction enqueues a transaction received from a peer.
func (cb *ChainBuilder) ReceiveTransaction(tx *chain.Transaction) {
	cb.queue.push(PriorityRemote, transactionEvent{tx: tx})
}

// HandleGetBlock enqueues a peer's request for a block; respond is called
// from the event thread with the block if cached, nil otherwise.
func (cb *ChainBuilder) HandleGetBlock(hash cryptoprim.Hash, respond func(*chain.Block)) {
	cb.queue.push(PriorityRemote, getBlockEvent{hash: hash, respond: respond})
}

// Run drains the event queue until ctx is cancelled. It is meant to run on
// its own goroutine for the node's lifetime.
func (cb *ChainBuilder) Run(ctx context.Context) {
	ticker := time.NewTicker(retryCheckInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				cb.queue.close()
				return
			case <-ticker.C:
				cb.queue.push(PriorityRemote, retryTick{})
			}
		}
	}()

	for {
		ev, ok := cb.queue.pop()
		if !ok {
			return
		}
		cb.handle(ev)
	}
}

func (cb *ChainBuilder) handle(ev event) {
	switch e := ev.(type) {
	case blockEvent:
		cb.onBlock(e.block)
	case transactionEvent:
		cb.onTransaction(e.tx)
	case getBlockEvent:
		e.respond(cb.blockCache[e.hash])
	case retryTick:
		cb.processDueRequests()
	case pendingQuery:
		e.reply <- pendingAsSlice(cb.mempool)
	default:
		cb.log.Errorw("chainbuilder: unknown event type", "type", fmt.Sprintf("%T", ev))
	}
}

type pendingQuery struct {
	reply chan []*chain.Transaction
}
