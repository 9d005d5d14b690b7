package chainbuilder

import (
	"time"

	"github.com/labchain-go/node/internal/chain"
	"github.com/labchain-go/node/internal/cryptoprim"
)

// onBlock implements the block arrival algorithm of spec.md §4.8.
func (cb *ChainBuilder) onBlock(b *chain.Block) {
	hash := b.ComputeHash()
	if _, ok := cb.blockCache[hash]; ok {
		return
	}
	if !b.VerifyProofOfWork() || !b.VerifyMerkle() {
		cb.log.Warnw("chainbuilder: dropping structurally invalid block", "hash", hash)
		return
	}
	cb.blockCache[hash] = b
	cb.processDueRequests()

	req, awaited := cb.requests[hash]
	if !awaited && b.Height <= cb.primary.Height() {
		// Can't possibly beat the current primary; don't pursue it.
		return
	}

	var chains []partialChain
	if awaited {
		delete(cb.requests, hash)
		for _, pc := range req.waiting {
			extended := make(partialChain, len(pc)+1)
			copy(extended, pc)
			extended[len(pc)] = b
			chains = append(chains, extended)
		}
	} else {
		chains = []partialChain{{b}}
	}

	for _, pc := range chains {
		cb.pursue(pc)
	}
}

// pursue walks a partial chain (youngest-first) back through the block
// cache until it reaches a checkpoint (try to materialize) or an unknown
// predecessor (register a block request and, if due, ask the network).
func (cb *ChainBuilder) pursue(pc partialChain) {
	for {
		oldest := pc[len(pc)-1]

		if base, ok := cb.checkpoints[oldest.PrevBlockHash]; ok {
			cb.materialize(base, pc)
			return
		}

		pred, ok := cb.blockCache[oldest.PrevBlockHash]
		if !ok {
			cb.awaitAncestor(oldest.PrevBlockHash, pc)
			return
		}
		pc = append(pc, pred)
	}
}

// awaitAncestor registers pc as waiting on hash, sending (or resending, if
// due) a getblock request for it.
func (cb *ChainBuilder) awaitAncestor(hash cryptoprim.Hash, pc partialChain) {
	req, ok := cb.requests[hash]
	if !ok {
		req = &blockRequest{}
		cb.requests[hash] = req
	}
	req.waiting = append(req.waiting, pc)

	if req.attempts == 0 || req.expired(time.Now()) {
		cb.broadcaster.RequestBlock(hash)
		req.lastRequested = time.Now()
		req.attempts++
	}
}

// processDueRequests retries expired block requests and abandons any that
// have exhausted their retry budget, dropping their dependent partial
// chains (spec.md §4.8).
func (cb *ChainBuilder) processDueRequests() {
	now := time.Now()
	for hash, req := range cb.requests {
		if req.exhausted() {
			cb.log.Warnw("chainbuilder: abandoning block request", "hash", hash, "attempts", req.attempts)
			delete(cb.requests, hash)
			continue
		}
		if req.expired(now) {
			cb.broadcaster.RequestBlock(hash)
			req.lastRequested = now
			req.attempts++
		}
	}
}

// materialize folds try_append over pc, oldest block first, on top of
// base. If the result strictly exceeds the current primary's total work,
// it becomes the new primary.
func (cb *ChainBuilder) materialize(base *chain.Blockchain, pc partialChain) {
	cur := base
	segment := make([]*chain.Blockchain, 0, len(pc))
	for i := len(pc) - 1; i >= 0; i-- {
		next, err := cur.TryAppend(pc[i])
		if err != nil {
			cb.log.Warnw("chainbuilder: candidate chain rejected", "err", err)
			return
		}
		cur = next
		segment = append(segment, cur)
	}

	if cur.TotalWork.Cmp(cb.primary.TotalWork) <= 0 {
		return
	}
	cb.swapPrimary(base, segment)
}

// swapPrimary implements the "Primary swap" procedure of spec.md §4.8.
func (cb *ChainBuilder) swapPrimary(base *chain.Blockchain, segment []*chain.Blockchain) {
	newHistory := make([]*chain.Blockchain, base.Height()+1, base.Height()+1+len(segment))
	copy(newHistory, cb.history[:base.Height()+1])
	newHistory = append(newHistory, segment...)
	cb.history = newHistory

	newPrimary := segment[len(segment)-1]
	cb.primary = newPrimary
	cb.setSnapshot(newPrimary)

	for hash, tx := range cb.mempool {
		if _, err := tx.Validate(newPrimary.UTXO); err != nil {
			delete(cb.mempool, hash)
		}
	}

	cb.recomputeCheckpoints()

	cb.log.Infow("chainbuilder: adopted new primary chain",
		"height", newPrimary.Height(), "total_work", newPrimary.TotalWork.String())

	cb.listenersMu.Lock()
	listeners := append([]Listener(nil), cb.listeners...)
	cb.listenersMu.Unlock()
	for _, l := range listeners {
		// Dispatched on its own goroutine: a listener (the miner) calling
		// back into the chain builder (e.g. Pending()) must not block
		// this event thread, which is the only thing that can answer it.
		go l.PrimaryChanged(newPrimary)
	}

	cb.broadcaster.BroadcastBlock(newPrimary.Tip())
}

// recomputeCheckpoints rebuilds the checkpoint table from history after a
// primary swap, per the selection algorithm in spec.md §4.8.
func (cb *ChainBuilder) recomputeCheckpoints() {
	indices := checkpointIndices(len(cb.history))
	next := make(map[cryptoprim.Hash]*chain.Blockchain, len(indices))
	for _, idx := range indices {
		bc := cb.history[idx]
		next[bc.Tip().ComputeHash()] = bc
	}
	cb.checkpoints = next
}

// onTransaction implements mempool admission (spec.md §4.8): drop if
// already confirmed or already pending; otherwise require every input to
// resolve against either the confirmed UTXO set or a pending mempool
// output (no script execution here, that is authoritative only at block
// inclusion).
func (cb *ChainBuilder) onTransaction(tx *chain.Transaction) {
	hash := tx.Hash()
	if _, ok := cb.primary.TransactionByHash(hash); ok {
		return
	}
	if _, ok := cb.mempool[hash]; ok {
		return
	}
	if tx.CheckConflict(pendingAsSlice(cb.mempool)) {
		cb.log.Debugw("chainbuilder: dropping conflicting pending transaction", "hash", hash)
		return
	}

	view := pendingView{confirmed: cb.primary.UTXO, pending: buildPendingOutputs(cb.mempool)}
	for _, in := range tx.Inputs {
		if _, ok := view.Get(chain.OutputRef{TxHash: in.PrevTxHash, OutputIndex: in.OutputIndex}); !ok {
			cb.log.Debugw("chainbuilder: dropping transaction with unresolved input", "hash", hash)
			return
		}
	}

	cb.mempool[hash] = tx
	cb.broadcaster.BroadcastTransaction(tx)
}
