package chain

import (
	"fmt"
	"time"

	"github.com/labchain-go/node/internal/config"
	"github.com/labchain-go/node/internal/cryptoprim"
	"github.com/labchain-go/node/internal/merkle"
)

// genesisTime is genesis's fixed timestamp, identical on every network that
// shares these consensus constants (spec.md §6).
var genesisTime = time.Date(2017, time.March, 3, 10, 35, 26, 922898000, time.UTC)

// genesisPrevHash is not the hash of any real block. It is domain
// separation text, "None; " followed by the difficulty parameters,
// stored directly as the prev_block_hash field's bytes, so that two
// networks configured with different consensus constants produce
// different, non-interoperable genesis hashes (spec.md §6).
func genesisPrevHash() cryptoprim.Hash {
	text := fmt.Sprintf("None; %d %s", config.DifficultyBlockInterval, config.DifficultyTargetTimedelta)
	return cryptoprim.HashFromBytes([]byte(text))
}

// Genesis is the fixed, bit-for-bit identical height-0 block every node on
// a network must agree on: no transactions, the maximal (easiest)
// proof-of-work target, and a fixed timestamp predating any real block a
// miner could produce. A node computing a different genesis hash is,
// operationally, on a different network.
func Genesis() *Block {
	b := &Block{
		PrevBlockHash: genesisPrevHash(),
		MerkleRoot:    merkle.Empty(),
		Time:          genesisTime,
		Nonce:         0,
		Height:        0,
		Target:        config.GenesisTarget(),
		Transactions:  nil,
	}
	return b
}
