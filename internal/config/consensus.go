// Package config holds the consensus constants that every node on a
// network must agree on bit-for-bit (spec.md §6 "Consensus constants"), and
// the per-node runtime configuration loaded by cmd/node.
package config

import (
	"math/big"
	"time"
)

// Consensus parameters. Changing any of these values produces a
// network-incompatible node: the genesis block's hash, and therefore every
// descendant hash, depends on DifficultyBlockInterval and
// DifficultyTargetTimedelta through the genesis prev-hash domain separator
// (spec.md §6 "Genesis block").
const (
	// GenesisReward is the block reward available starting at height 0.
	GenesisReward uint64 = 1000

	// RewardHalfLife is the number of blocks after which the block reward
	// halves: reward(h) = GenesisReward >> (h / RewardHalfLife).
	RewardHalfLife uint64 = 10000

	// DifficultyBlockInterval is the number of blocks between difficulty
	// retargets.
	DifficultyBlockInterval uint64 = 10

	// DifficultyTargetTimedelta is the wall-clock duration a
	// DifficultyBlockInterval-sized window is supposed to take to mine.
	DifficultyTargetTimedelta = 6 * time.Second

	// BlockRequestRetryInterval is the approximate interval after which an
	// outstanding getblock request is retried.
	BlockRequestRetryInterval = 30 * time.Second

	// BlockRequestRetryCount is the number of retries attempted before a
	// block request and its dependent partial chains are abandoned.
	BlockRequestRetryCount = 3

	// MaxPeers bounds the number of simultaneous peer connections; inbound
	// connections beyond this are rejected.
	MaxPeers = 10

	// SocketTimeout bounds peer socket reads and writes.
	SocketTimeout = 30 * time.Second

	// MaxFutureDrift bounds how far into the future a block's timestamp may
	// be before it is rejected as not-yet-valid.
	MaxFutureDrift = 2 * time.Hour

	// HandshakeBannerPrefix is the fixed ASCII prefix of the handshake
	// banner; the remaining 30 hex characters are a fingerprint of the
	// genesis block hash (spec.md §6).
	HandshakeBannerPrefix = "bl0ckch41n"

	// HandshakeGenesisHexLen is the number of hex characters of the genesis
	// hash embedded in the handshake banner.
	HandshakeGenesisHexLen = 30
)

// GenesisTarget returns the proof-of-work target of the genesis block: the
// largest possible 256-bit value, i.e. the easiest possible difficulty.
// Every later target is clamped to never become easier than this.
func GenesisTarget() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return max.Sub(max, big.NewInt(1))
}

// BlockReward computes the coinbase reward available at the given height,
// halving every RewardHalfLife blocks.
func BlockReward(height uint64) uint64 {
	shift := height / RewardHalfLife
	if shift >= 64 {
		return 0
	}
	return GenesisReward >> shift
}
