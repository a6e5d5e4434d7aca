package roughtime

// merkleTree holds every level of a constructed tree, leaves first, so a
// per-leaf authentication path can be extracted after the fact. It is
// written leaf-count-agnostic: today the server always calls
// buildMerkleTree with a single nonce, but a caller batching several
// requests into one tree per tick can use the exact same builder.
type merkleTree struct {
	levels [][][64]byte // levels[0] = leaves (padded to a power of two)
}

// buildMerkleTree hashes nonces into leaves, pads them with random fillers
// up to the next power of two, and builds the tree bottom-up. randFiller
// is called once per padding leaf needed; tests supply a deterministic
// stand-in, production code wires it to crypto/rand.
func buildMerkleTree(nonces [][]byte, randFiller func() ([64]byte, error)) (*merkleTree, error) {
	leaves := make([][64]byte, len(nonces))
	for i, n := range nonces {
		leaves[i] = hashLeaf(n)
	}
	size := nextPowerOfTwo(len(leaves))
	for len(leaves) < size {
		filler, err := randFiller()
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, filler)
	}

	t := &merkleTree{levels: [][][64]byte{leaves}}
	level := leaves
	for len(level) > 1 {
		next := make([][64]byte, len(level)/2)
		for i := range next {
			next[i] = hashNode(level[2*i], level[2*i+1])
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t, nil
}

// root returns the tree's root hash.
func (t *merkleTree) root() [64]byte {
	return t.levels[len(t.levels)-1][0]
}

// path returns the authentication path for leaf index, bottom-up: one
// sibling hash per level below the root.
func (t *merkleTree) path(index int) [][64]byte {
	var path [][64]byte
	for _, level := range t.levels[:len(t.levels)-1] {
		path = append(path, level[index^1])
		index >>= 1
	}
	return path
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	x := n - 1
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	return x + 1
}
