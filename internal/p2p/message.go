package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/labchain-go/node/internal/chain"
	"github.com/labchain-go/node/internal/config"
	"github.com/labchain-go/node/internal/cryptoprim"
	"github.com/labchain-go/node/internal/nodeerr"
)

// messageType tags the JSON payload of a steady-state frame, per the table
// in spec.md §4.10. msgHello is an addition used only during the
// handshake's third step (head + peer-list exchange); it is never sent
// after a connection reaches steady state.
type messageType string

const (
	msgBlock       messageType = "block"
	msgTransaction messageType = "transaction"
	msgGetBlock    messageType = "getblock"
	msgPeer        messageType = "peer"
	msgMyPort      messageType = "myport"
	msgID          messageType = "id"
	msgHello       messageType = "hello"
)

// envelope is the wire shape of every message: a type tag and a
// type-specific JSON payload, matching `{msg_type, msg_param}` in spec.md
// §4.10.
type envelope struct {
	MsgType  messageType     `json:"msg_type"`
	MsgParam json.RawMessage `json:"msg_param"`
}

func encodeEnvelope(t messageType, param interface{}) ([]byte, error) {
	raw, err := json.Marshal(param)
	if err != nil {
		return nil, fmt.Errorf("p2p: encode %s payload: %w", t, err)
	}
	frame, err := json.Marshal(envelope{MsgType: t, MsgParam: raw})
	if err != nil {
		return nil, fmt.Errorf("p2p: encode envelope: %w", err)
	}
	return frame, nil
}

func decodePayload(env envelope, v interface{}) error {
	if err := json.Unmarshal(env.MsgParam, v); err != nil {
		return fmt.Errorf("p2p: decode %s payload: %w", env.MsgType, nodeerr.ErrMalformedMessage)
	}
	return nil
}

// block, transaction, getblock, peer, myport, and id payloads are not
// wrapped in their own envelope: msg_param carries the literal shape spec.md
// §6 specifies (the block/transaction JSON itself, a bare hex hash, a bare
// [host, port] pair, a bare integer, a bare UUID string), so these types are
// unwrapped Go values rather than structs, with one exception: hello carries
// two fields unrelated to any spec.md wire format (it exists only for this
// node's own handshake step 3) and is free to use whatever shape is
// convenient.

// helloParam carries handshake step 3: the sender's current primary head
// and its known-peer address list.
type helloParam struct {
	Head  *chain.Block `json:"head"`
	Peers []string     `json:"peers"`
}

// handshakeBanner derives the fixed banner both sides exchange first, so
// that peers on an incompatible fork (different genesis) fail to
// interoperate (spec.md §4.10 step 1, §6).
func handshakeBanner(genesisHash cryptoprim.Hash) []byte {
	hex := genesisHash.String()
	if len(hex) > config.HandshakeGenesisHexLen {
		hex = hex[:config.HandshakeGenesisHexLen]
	}
	return []byte(config.HandshakeBannerPrefix + hex + "\n")
}
