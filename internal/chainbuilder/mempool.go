package chainbuilder

import (
	"github.com/labchain-go/node/internal/chain"
	"github.com/labchain-go/node/internal/cryptoprim"
)

// pendingView lets a prospective transaction's inputs resolve against
// outputs created by other transactions still sitting in the mempool, in
// addition to the confirmed UTXO set, exactly the admission rule of
// spec.md §4.8 ("every input resolves either to a confirmed unspent coin
// or to an output of a pending mempool transaction").
type pendingView struct {
	confirmed chain.UTXOView
	pending   map[chain.OutputRef]chain.TransactionTarget
}

func (v pendingView) Get(ref chain.OutputRef) (chain.TransactionTarget, bool) {
	if t, ok := v.pending[ref]; ok {
		return t, true
	}
	return v.confirmed.Get(ref)
}

// buildPendingOutputs indexes every non-burn output of every transaction
// currently in the mempool, for use by pendingView.
func buildPendingOutputs(txs map[cryptoprim.Hash]*chain.Transaction) map[chain.OutputRef]chain.TransactionTarget {
	out := make(map[chain.OutputRef]chain.TransactionTarget)
	for _, tx := range txs {
		txHash := tx.Hash()
		for i, t := range tx.Targets {
			if chain.IsBurnScript(t.Script) {
				continue
			}
			out[chain.OutputRef{TxHash: txHash, OutputIndex: int32(i)}] = t
		}
	}
	return out
}

// pendingAsSlice is a small helper for CheckConflict, which wants a slice
// of *Transaction rather than a map.
func pendingAsSlice(txs map[cryptoprim.Hash]*chain.Transaction) []*chain.Transaction {
	out := make([]*chain.Transaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx)
	}
	return out
}
