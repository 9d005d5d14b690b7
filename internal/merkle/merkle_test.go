package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/labchain-go/node/internal/cryptoprim"
)

type leaf cryptoprim.Hash

func (l leaf) Hash() cryptoprim.Hash { return cryptoprim.Hash(l) }

func leaves(data ...string) []leaf {
	out := make([]leaf, len(data))
	for i, d := range data {
		out[i] = leaf(cryptoprim.Sum256([]byte(d)))
	}
	return out
}

func TestRootOfEmptyListIsEmptyTreeHash(t *testing.T) {
	assert.Equal(t, Empty(), Root([]leaf(nil)))
	assert.Equal(t, cryptoprim.Sum256(nil), Empty())
}

func TestRootOfSingleLeafIsTheLeafHashUnpaired(t *testing.T) {
	l := leaves("only")
	got := Root(l)

	assert.Equal(t, l[0].Hash(), got)
}

func TestRootIsOrderSensitive(t *testing.T) {
	a := leaves("one", "two", "three")
	b := leaves("two", "one", "three")
	assert.NotEqual(t, Root(a), Root(b))
}

func TestRootIsDeterministic(t *testing.T) {
	a := leaves("x", "y", "z", "w")
	b := leaves("x", "y", "z", "w")
	assert.Equal(t, Root(a), Root(b))
}

func TestRootDiffersFromDuplicateOddHandling(t *testing.T) {
	// The lone node at an odd level pairs with an empty sentinel, not a
	// duplicate of itself. A tree that duplicated instead would produce a
	// different root.
	odd := leaves("a", "b", "c")
	got := Root(odd)

	h01 := pairHash(odd[0].Hash().Bytes(), odd[1].Hash().Bytes())
	sentinelPaired := pairHash(odd[2].Hash().Bytes(), nil)
	duplicatePaired := pairHash(odd[2].Hash().Bytes(), odd[2].Hash().Bytes())

	want := pairHash(h01[:], sentinelPaired[:])
	notWant := pairHash(h01[:], duplicatePaired[:])

	assert.Equal(t, want, got)
	assert.NotEqual(t, notWant, got)
}
