package cryptoprim

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Key is an asymmetric keypair usable for the signing/verification the
// script VM's OP_CHECKSIG relies on. A Key may carry only the public half
// (as decoded out of a script or a peer-supplied target) or both halves (as
// held by a wallet able to spend). Two keys are equal iff their public
// components are equal, matching spec.md §3.
type Key struct {
	priv *btcec.PrivateKey // nil if this Key only knows the public half
	pub  *btcec.PublicKey
}

// GenerateKey creates a fresh secp256k1 keypair.
func GenerateKey() (Key, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return Key{}, fmt.Errorf("generate key: %w", err)
	}
	return Key{priv: priv, pub: priv.PubKey()}, nil
}

// PublicKeyBytes returns the canonical 33-byte compressed serialization of
// the public key. This is the byte form embedded in unlock/lock scripts and
// used for public-key hashing elsewhere in the node.
func (k Key) PublicKeyBytes() []byte {
	return k.pub.SerializeCompressed()
}

// PublicKeyHex is the hex encoding of PublicKeyBytes, the form scripts and
// JSON messages carry as plain tokens/strings.
func (k Key) PublicKeyHex() string {
	return hex.EncodeToString(k.PublicKeyBytes())
}

// KeyFromPublicHex decodes a hex-encoded compressed public key into a
// public-only Key, as happens when the VM resolves a pubkey token out of a
// lock script.
func KeyFromPublicHex(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("decode public key hex: %w", err)
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return Key{}, fmt.Errorf("parse public key: %w", err)
	}
	return Key{pub: pub}, nil
}

// HasPrivate reports whether this Key can sign.
func (k Key) HasPrivate() bool { return k.priv != nil }

// PrivateKeyHex returns the hex encoding of the private scalar, the form a
// reward key is persisted to disk in. Panics if this Key only knows its
// public half.
func (k Key) PrivateKeyHex() string {
	if k.priv == nil {
		panic("cryptoprim: key has no private half to serialize")
	}
	return hex.EncodeToString(k.priv.Serialize())
}

// KeyFromPrivateHex decodes a hex-encoded secp256k1 private scalar (as
// written by PrivateKeyHex) into a full keypair.
func KeyFromPrivateHex(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("decode private key hex: %w", err)
	}
	priv, pub := btcec.PrivKeyFromBytes(b)
	return Key{priv: priv, pub: pub}, nil
}

// Sign produces a deterministic (RFC6979) ECDSA signature over hash's bytes.
// Returns an error if the Key has no private half; callers can check
// HasPrivate first.
func (k Key) Sign(hash Hash) ([]byte, error) {
	if k.priv == nil {
		return nil, fmt.Errorf("cryptoprim: key has no private half to sign with")
	}
	sig := ecdsa.Sign(k.priv, hash[:])
	return sig.Serialize(), nil
}

// Verify checks a DER-encoded ECDSA signature against hash and this Key's
// public component.
func (k Key) Verify(hash Hash, sig []byte) bool {
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(hash[:], k.pub)
}

// Equal reports whether two keys share the same public component, per
// spec.md §3 ("Two keys are equal iff their public components are equal").
func (k Key) Equal(other Key) bool {
	if k.pub == nil || other.pub == nil {
		return false
	}
	return k.pub.IsEqual(other.pub)
}

// RandomReader exposes crypto/rand's CSPRNG as a var. GenerateKey does not
// read from it (btcec.NewPrivateKey draws its own randomness), so replacing
// it does not change the keys GenerateKey produces.
var RandomReader = rand.Reader
