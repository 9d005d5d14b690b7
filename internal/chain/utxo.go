package chain

// UTXOSet is the ledger's only economic state: which transaction outputs
// are still unspent. It is represented as a persistent overlay over a
// parent set rather than a single mutable map, so that extending the
// chain by one block never mutates the UTXO set any other in-memory
// Blockchain value is still holding a reference to (spec.md's "Design
// Notes" on structural sharing). Get walks up the parent chain until it
// finds the reference removed, added, or exhausts the chain.
type UTXOSet struct {
	parent  *UTXOSet
	added   map[OutputRef]TransactionTarget
	removed map[OutputRef]struct{}
}

// NewUTXOSet returns an empty UTXO set, the state before any block (not
// even genesis) has been applied.
func NewUTXOSet() *UTXOSet {
	return &UTXOSet{
		added:   make(map[OutputRef]TransactionTarget),
		removed: make(map[OutputRef]struct{}),
	}
}

// Get retrieves an unspent output if it exists, satisfying chain.UTXOView.
func (u *UTXOSet) Get(ref OutputRef) (TransactionTarget, bool) {
	for s := u; s != nil; s = s.parent {
		if _, gone := s.removed[ref]; gone {
			return TransactionTarget{}, false
		}
		if t, ok := s.added[ref]; ok {
			return t, true
		}
	}
	return TransactionTarget{}, false
}

// Apply returns a new UTXO set reflecting block b applied on top of u: all
// referenced inputs spent, and every non-burn output of every transaction
// added. u itself is untouched, so callers holding the old chain state
// keep seeing the old UTXO set.
func (u *UTXOSet) Apply(b *Block) *UTXOSet {
	next := &UTXOSet{
		parent:  u,
		added:   make(map[OutputRef]TransactionTarget),
		removed: make(map[OutputRef]struct{}),
	}

	for _, tx := range b.Transactions {
		txHash := tx.Hash()
		for _, in := range tx.Inputs {
			if in.IsCoinbase() {
				continue
			}
			next.removed[in.ref()] = struct{}{}
		}
		for i, t := range tx.Targets {
			if IsBurnScript(t.Script) {
				continue
			}
			next.added[OutputRef{TxHash: txHash, OutputIndex: int32(i)}] = t
		}
	}

	return next
}
