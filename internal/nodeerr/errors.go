// Package nodeerr collects the sentinel errors used to classify failures
// the way the node's error-handling taxonomy requires: malformed input and
// invalid blocks/transactions are dropped and logged, missing predecessors
// drive the block-request state machine rather than being treated as
// errors, and I/O failures close connections. Only programmer-invariant
// violations are fatal, and those are raised with plain panics rather than
// a sentinel here.
package nodeerr

import "errors"

var (
	// ErrMalformedMessage marks framing/JSON/handshake failures. The
	// connection that produced it must be closed.
	ErrMalformedMessage = errors.New("malformed peer message")

	// ErrInvalidBlock marks a structurally parseable block that fails
	// proof-of-work, Merkle, time, or transaction validation. The block is
	// dropped; the peer connection stays open.
	ErrInvalidBlock = errors.New("invalid block")

	// ErrInvalidTransaction marks a transaction that fails script, double
	// spend, or conservation checks.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrUnknownCoin is returned when a transaction input references a coin
	// absent from the UTXO snapshot it is validated against.
	ErrUnknownCoin = errors.New("referenced coin not found in UTXO set")

	// ErrDoubleSpend is returned when two inputs in the same validation
	// scope reference the same coin.
	ErrDoubleSpend = errors.New("coin already spent")

	// ErrConflictingMempoolTx classifies a transaction that conflicts with
	// one already pending. Mempool admission drops and logs such a
	// transaction without returning this error.
	ErrConflictingMempoolTx = errors.New("conflicts with a pending transaction")

	// ErrPeerLimitReached classifies an inbound connection that arrives
	// after MaxPeers has been reached. The p2p server closes and logs such
	// a connection without returning this error.
	ErrPeerLimitReached = errors.New("peer limit reached")

	// ErrUnknownAncestor signals a block's predecessor is not in the
	// block cache; callers should enter the block-request flow, this is
	// not an application error.
	ErrUnknownAncestor = errors.New("ancestor block not known")
)
