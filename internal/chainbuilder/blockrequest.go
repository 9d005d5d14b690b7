package chainbuilder

import (
	"time"

	"github.com/labchain-go/node/internal/chain"
	"github.com/labchain-go/node/internal/config"
	"github.com/labchain-go/node/internal/cryptoprim"
)

// partialChain is a contiguous run of received blocks not yet attached to
// a known ancestor, stored youngest-first (the most recently received
// block is index 0; its still-missing predecessor is what the chain is
// waiting on).
type partialChain []*chain.Block

// blockRequest tracks every partial chain blocked on the same missing
// ancestor, and the retry/timeout bookkeeping for re-asking the network
// for it (spec.md §4.8).
type blockRequest struct {
	waiting       []partialChain
	lastRequested time.Time
	attempts      int
}

// expired reports whether it is time to retry this request.
func (r *blockRequest) expired(now time.Time) bool {
	return now.Sub(r.lastRequested) >= config.BlockRequestRetryInterval
}

// exhausted reports whether this request has been retried as many times
// as spec.md §4.8 allows before the dependent partial chains are dropped.
func (r *blockRequest) exhausted() bool {
	return r.attempts >= config.BlockRequestRetryCount
}

// requestTable is keyed by the hash of the block being awaited.
type requestTable map[cryptoprim.Hash]*blockRequest
