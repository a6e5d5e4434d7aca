package roughtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroFiller() ([64]byte, error) {
	return [64]byte{}, nil
}

func TestMerkleSingleLeaf(t *testing.T) {
	nonce := []byte("a single 64-byte nonce padded out to exactly the right length!!!")
	tree, err := buildMerkleTree([][]byte{nonce}, zeroFiller)
	require.NoError(t, err)

	leaf := hashLeaf(nonce)
	assert.Equal(t, leaf, tree.root(), "single-leaf tree root should equal the leaf hash itself")
	assert.Empty(t, tree.path(0), "single-leaf tree path should be empty")
}

func TestMerklePathReconstructsRoot(t *testing.T) {
	nonces := make([][]byte, 5)
	for i := range nonces {
		nonces[i] = []byte{byte(i), 'x', 'x', 'x'}
	}
	tree, err := buildMerkleTree(nonces, zeroFiller)
	require.NoError(t, err)

	for i, n := range nonces {
		leaf := hashLeaf(n)
		path := tree.path(i)
		root, remaining := reconstructMerkleRoot(leaf, path, uint32(i))
		assert.Zerof(t, remaining, "leaf %d: remaining index bits", i)
		assert.Equalf(t, tree.root(), root, "leaf %d: reconstructed root does not match tree root", i)
	}
}

func TestMerklePathRejectsWrongIndex(t *testing.T) {
	nonces := [][]byte{{1, 1, 1, 1}, {2, 2, 2, 2}, {3, 3, 3, 3}, {4, 4, 4, 4}}
	tree, err := buildMerkleTree(nonces, zeroFiller)
	require.NoError(t, err)

	leaf := hashLeaf(nonces[0])
	path := tree.path(0)
	root, _ := reconstructMerkleRoot(leaf, path, 1) // wrong index for this leaf
	assert.NotEqual(t, tree.root(), root, "reconstructing with the wrong index should not reproduce the tree root")
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 8: 8, 9: 16}
	for in, want := range cases {
		assert.Equalf(t, want, nextPowerOfTwo(in), "nextPowerOfTwo(%d)", in)
	}
}
