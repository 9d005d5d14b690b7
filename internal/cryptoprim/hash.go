// Package cryptoprim implements the cryptographic primitives shared across
// the node: a single hash function with cheap incremental state cloning
// (needed by the proof-of-work nonce search) and a secp256k1 keypair with
// canonical public-key byte serialization.
package cryptoprim

import (
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
)

// HashSize is the width of a digest produced by Hasher.
const HashSize = sha256.Size

// Hash is a fixed-width opaque digest. Hashes are compared as unsigned
// big-endian integers, matching the proof-of-work predicate in spec.md §4.3.
type Hash [HashSize]byte

// ZeroHash is the all-zero digest, used as a sentinel in contexts that need
// a hash-shaped "nothing" value (never a valid block or genesis hash).
var ZeroHash Hash

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Hex is an alias for String, named for call sites that want to be explicit
// about the encoding.
func (h Hash) Hex() string { return h.String() }

// Bytes returns a copy of the digest bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// Int interprets the digest as an unsigned big-endian integer, the
// representation the proof-of-work and difficulty-retargeting predicates
// compare against a target.
func (h Hash) Int() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

// Less reports whether h sorts before other when both are interpreted as
// big-endian unsigned integers.
func (h Hash) Less(other Hash) bool {
	return h.Int().Cmp(other.Int()) < 0
}

// IsZero reports whether h is the all-zero sentinel.
func (h Hash) IsZero() bool { return h == ZeroHash }

// MarshalJSON encodes a Hash as a hex string, the wire form every block and
// transaction field carrying a Hash uses when serialized to JSON for the
// peer protocol (spec.md §4.10).
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("unmarshal hash: %w", err)
	}
	decoded, err := HashFromHex(s)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// HashFromHex decodes a lowercase-hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decode hash hex: %w", err)
	}
	var h Hash
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash has wrong length: got %d want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// HashFromBytes copies raw bytes into a Hash. Used for genesis, whose
// prev-block-hash field is domain-separation text rather than a real digest
// but is still carried in a Hash-shaped field for JSON round-tripping.
func HashFromBytes(b []byte) Hash {
	var h Hash
	copy(h[:], b)
	return h
}

// Hasher wraps a sha256 state that can be cheaply cloned. Block mining
// (internal/pow) computes the "partial hash" once, absorbing every header
// field except the nonce, then clones it on every nonce attempt instead of
// re-hashing the whole header, exactly mirroring get_partial_hash/get_hash
// in the original labchain Block implementation.
type Hasher struct {
	h hashState
}

// hashState is satisfied by crypto/sha256's internal digest type, which
// implements BinaryMarshaler/BinaryUnmarshaler for exactly this purpose
// (it is how TLS resumes hash state). Cloning is done by round-tripping
// through that encoding rather than reflecting into the unexported struct.
type hashState interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// NewHasher returns an empty incremental hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New().(hashState)}
}

// Write absorbs more data into the running hash.
func (hs *Hasher) Write(p []byte) {
	if _, err := hs.h.Write(p); err != nil {
		panic(fmt.Errorf("cryptoprim: hasher write: %w", err)) // sha256.digest.Write never errors
	}
}

// Clone returns an independent copy of the hasher's current state. Mutating
// the clone does not affect the receiver.
func (hs *Hasher) Clone() *Hasher {
	state, err := hs.h.MarshalBinary()
	if err != nil {
		panic(fmt.Errorf("cryptoprim: hasher marshal: %w", err))
	}
	clone := sha256.New().(hashState)
	if err := clone.UnmarshalBinary(state); err != nil {
		panic(fmt.Errorf("cryptoprim: hasher unmarshal: %w", err))
	}
	return &Hasher{h: clone}
}

// Sum finalizes the hash without mutating the receiver's state.
func (hs *Hasher) Sum() Hash {
	var out Hash
	copy(out[:], hs.h.Sum(nil))
	return out
}

// Sum256 hashes a single byte slice in one call.
func Sum256(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// SerializeUint serializes a non-negative integer the way spec.md §6
// requires for anything that is hashed: an 8-byte little-endian length
// L = bit_length(v)+1, followed by L bytes of v in two's-complement
// little-endian form. The extra sign bit of headroom is what prevents
// (0xffff, 0x00) from colliding with (0xff, 0xff00) under naive
// concatenation.
func SerializeUint(v uint64) []byte {
	return SerializeInt(new(big.Int).SetUint64(v))
}

// SerializeInt is the big.Int generalization of SerializeUint. It accepts
// negative values too (the transaction input field output_index is -1 for
// a coinbase input, and it is hashed like any other field). L is defined as
// v.bit_length()+1 (bit_length() of the magnitude, Python semantics), used
// directly as a byte count, not L/8:
// `l = val.bit_length() + 1; pack("<Q", l) + val.to_bytes(l, 'little', signed=True)`.
// This makes L generous (roughly 8x the bytes actually needed for large v)
// but every node must
// agree on it bit-for-bit to agree on hashes.
func SerializeInt(v *big.Int) []byte {
	l := v.BitLen() + 1
	out := make([]byte, 8+l)
	putUint64LE(out[:8], uint64(l))

	if v.Sign() >= 0 {
		magnitude := v.Bytes() // big-endian, no leading zero byte
		for i := 0; i < len(magnitude) && i < l; i++ {
			out[8+i] = magnitude[len(magnitude)-1-i]
		}
		return out
	}

	// Two's complement: encode 2^(8l) + v as an unsigned magnitude, which
	// is guaranteed non-negative and to fit in l bytes because l was sized
	// with one bit of headroom over the magnitude's bit length.
	mod := new(big.Int).Lsh(big.NewInt(1), uint(8*l))
	twos := new(big.Int).Add(mod, v)
	magnitude := twos.Bytes()
	for i := 0; i < len(magnitude) && i < l; i++ {
		out[8+i] = magnitude[len(magnitude)-1-i]
	}
	return out
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
