// Package chain implements the typed records and validation rules at the
// center of consensus: transactions (C4), blocks (C5), and the blockchain
// plus its derived UTXO set (C6).
package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/labchain-go/node/internal/cryptoprim"
	"github.com/labchain-go/node/internal/nodeerr"
	"github.com/labchain-go/node/internal/script"
)

// CoinbaseOutputIndex is the sentinel output index marking a transaction
// input as a coinbase (block reward / fee claim) input rather than a
// reference to a previous output.
const CoinbaseOutputIndex int32 = -1

// TransactionTarget is one recipient of a transaction: a lock script that
// must be satisfied to spend it, and the amount it carries.
type TransactionTarget struct {
	Script string `json:"pubkey_script"`
	Amount uint64 `json:"amount"`
}

// TransactionInput references a previous output being spent (or, for a
// coinbase input, claims the block reward).
type TransactionInput struct {
	PrevTxHash   cryptoprim.Hash `json:"prev_tx_hash"`
	OutputIndex  int32           `json:"output_idx"`
	UnlockScript string          `json:"sig_script"`
}

// IsCoinbase reports whether this input is the reward-claiming sentinel
// input of a coinbase transaction.
func (in TransactionInput) IsCoinbase() bool { return in.OutputIndex == CoinbaseOutputIndex }

// OutputRef identifies one output uniquely: the hash of the transaction
// that created it and its position within that transaction's target list.
type OutputRef struct {
	TxHash      cryptoprim.Hash
	OutputIndex int32
}

func (in TransactionInput) ref() OutputRef {
	return OutputRef{TxHash: in.PrevTxHash, OutputIndex: in.OutputIndex}
}

// Transaction is a typed record of inputs consumed and targets created. Its
// hash is derived from everything except signatures and unlock scripts, so
// that a spender can sign the hash and only then fill in the unlocking
// script that reproduces it (spec.md §4.4).
type Transaction struct {
	Inputs    []TransactionInput  `json:"inputs"`
	Targets   []TransactionTarget `json:"targets"`
	Timestamp time.Time           `json:"timestamp"`
	IV        []byte              `json:"iv,omitempty"`
}

// IsCoinbase reports whether this transaction is a coinbase transaction: a
// single coinbase input and nothing else.
func (tx Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].IsCoinbase()
}

// Hash derives the transaction's identity. The IV (present only on coinbase
// transactions) differentiates otherwise-identical reward claims; targets
// contribute their amount and script; inputs contribute their previous
// transaction hash and output index. Signatures and unlock scripts are
// deliberately excluded.
func (tx Transaction) Hash() cryptoprim.Hash {
	h := cryptoprim.NewHasher()
	if len(tx.IV) > 0 {
		h.Write(tx.IV)
	}
	for _, t := range tx.Targets {
		h.Write(cryptoprim.SerializeUint(t.Amount))
		h.Write([]byte(t.Script))
	}
	for _, in := range tx.Inputs {
		h.Write(in.PrevTxHash[:])
		h.Write(cryptoprim.SerializeInt(big.NewInt(int64(in.OutputIndex))))
	}
	return h.Sum()
}

// CheckConflict reports whether this transaction shares an input (the
// same (prev_tx_hash, output_index) pair) with any transaction in others.
// Used both for mempool admission and for rejecting blocks that double
// spend within themselves.
func (tx Transaction) CheckConflict(others []*Transaction) bool {
	mine := make(map[OutputRef]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		mine[in.ref()] = struct{}{}
	}
	for _, other := range others {
		for _, in := range other.Inputs {
			if _, ok := mine[in.ref()]; ok {
				return true
			}
		}
	}
	return false
}

// UTXOView is the minimal read interface transaction validation needs from
// a UTXO set: looking up the target a given input references.
type UTXOView interface {
	Get(ref OutputRef) (TransactionTarget, bool)
}

// Validate implements spec.md §4.4: a coinbase input is accepted here
// unconditionally (the enclosing block enforces the reward+fees cap);
// every non-coinbase input must reference a coin present in utxo and its
// unlock script concatenated with that coin's lock script must evaluate to
// exactly "1"; and outputs may not exceed inputs. It returns the fee
// (inputs minus outputs) for non-coinbase transactions.
func (tx Transaction) Validate(utxo UTXOView) (fee uint64, err error) {
	if tx.IsCoinbase() {
		return 0, nil
	}

	txHash := tx.Hash()
	var inputSum uint64
	for _, in := range tx.Inputs {
		if in.IsCoinbase() {
			return 0, fmt.Errorf("coinbase input mixed with other inputs: %w", nodeerr.ErrInvalidTransaction)
		}

		prevTarget, ok := utxo.Get(in.ref())
		if !ok {
			return 0, fmt.Errorf("input %s:%d: %w", in.PrevTxHash, in.OutputIndex, nodeerr.ErrUnknownCoin)
		}

		if !script.Execute(in.UnlockScript, prevTarget.Script, txHash, nil) {
			return 0, fmt.Errorf("script did not authorize input %s:%d: %w", in.PrevTxHash, in.OutputIndex, nodeerr.ErrInvalidTransaction)
		}

		inputSum += prevTarget.Amount
	}

	var outputSum uint64
	for _, t := range tx.Targets {
		outputSum += t.Amount
	}

	if outputSum > inputSum {
		return 0, fmt.Errorf("outputs %d exceed inputs %d: %w", outputSum, inputSum, nodeerr.ErrInvalidTransaction)
	}

	return inputSum - outputSum, nil
}

// IsBurnScript reports whether a lock script is a pure OP_RETURN burn: its
// first token is OP_RETURN, which unconditionally fails script execution
// and therefore makes the output provably unspendable. Burn outputs are
// deliberately not added to the UTXO set (spec.md §4.5, §9).
func IsBurnScript(lockScript string) bool {
	fields := strings.Fields(lockScript)
	return len(fields) > 0 && fields[0] == "OP_RETURN"
}

// NewPayToPubKeyTarget builds the lock script for a standard payment to the
// holder of a keypair: the recipient's public key followed by OP_CHECKSIG.
// Spending it supplies only a signature as the unlock script.
func NewPayToPubKeyTarget(recipientPubKeyHex string, amount uint64) TransactionTarget {
	return TransactionTarget{Script: recipientPubKeyHex + " OP_CHECKSIG", Amount: amount}
}

// NewTimelockedTarget is the timelocked variant of a pay-to-pubkey target:
// it additionally requires the current time to have reached lockUntil
// before the signature check is attempted.
func NewTimelockedTarget(recipientPubKeyHex string, amount uint64, lockUntil time.Time) TransactionTarget {
	return TransactionTarget{
		Script: fmt.Sprintf("%d OP_CHECKLOCKTIME %s OP_CHECKSIG", lockUntil.Unix(), recipientPubKeyHex),
		Amount: amount,
	}
}

// NewUnlockScript builds the unlock script for spending a pay-to-pubkey (or
// timelocked) output: just the hex-encoded signature.
func NewUnlockScript(sig []byte) string {
	return hex.EncodeToString(sig)
}
