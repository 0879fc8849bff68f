// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package forest implements the Merkle forest committed to by storage
// providers: a full-depth sparse Merkle trie over 32-byte file keys, hashed
// with blake2b-256. Empty subtrees hash to zero, which keeps single-key
// proofs compact and makes non-inclusion proofs a first-class operation.
package forest

import (
	"github.com/pkg/errors"

	"github.com/storagehub/hub/hub"
	"github.com/storagehub/hub/kv"
)

// KeyBits is the trie depth. Every leaf sits at the bottom level.
const KeyBits = 256

var (
	leafTag = []byte{0x00}
	nodeTag = []byte{0x01}
)

// Mutation is a staged change to a provider's forest, produced by proof
// verification and applied by the caller to derive the new committed root.
type Mutation struct {
	Key    hub.Bytes32 `json:"key"`
	Remove bool        `json:"remove"`
}

// leafHash hashes a leaf for the given key/value pair.
func leafHash(key, value hub.Bytes32) hub.Bytes32 {
	return hub.Blake2b(leafTag, key.Bytes(), value.Bytes())
}

// nodeHash hashes an internal node. An all-empty pair collapses to the empty
// hash so that untouched subtrees stay zero at every level.
func nodeHash(left, right hub.Bytes32) hub.Bytes32 {
	if left.IsZero() && right.IsZero() {
		return hub.Bytes32{}
	}
	return hub.Blake2b(nodeTag, left.Bytes(), right.Bytes())
}

// bit returns the key bit at the given depth, MSB first.
func bit(key hub.Bytes32, depth int) byte {
	return (key[depth/8] >> (7 - depth%8)) & 1
}

// Tree is a forest backed by a content-addressed node store. Stale nodes are
// left behind on update, the way a block chain keeps historical trie nodes;
// any previously committed root stays fully readable.
type Tree struct {
	store kv.GetPutter
	root  hub.Bytes32
}

// NewTree wraps the given node store. A zero root denotes the empty forest.
func NewTree(store kv.GetPutter, root hub.Bytes32) *Tree {
	return &Tree{store: store, root: root}
}

// Root returns the current root commitment.
func (t *Tree) Root() hub.Bytes32 {
	return t.root
}

type node struct {
	leaf        bool
	key, value  hub.Bytes32 // leaf payload
	left, right hub.Bytes32 // children
}

func (t *Tree) loadNode(hash hub.Bytes32) (*node, error) {
	data, err := t.store.Get(hash.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "load forest node")
	}
	if len(data) != 65 {
		return nil, errors.New("corrupted forest node")
	}
	n := &node{leaf: data[0] == leafTag[0]}
	if n.leaf {
		n.key = hub.BytesToBytes32(data[1:33])
		n.value = hub.BytesToBytes32(data[33:65])
	} else {
		n.left = hub.BytesToBytes32(data[1:33])
		n.right = hub.BytesToBytes32(data[33:65])
	}
	return n, nil
}

func (t *Tree) saveLeaf(hash, key, value hub.Bytes32) error {
	data := make([]byte, 0, 65)
	data = append(data, leafTag...)
	data = append(data, key.Bytes()...)
	data = append(data, value.Bytes()...)
	return t.store.Put(hash.Bytes(), data)
}

func (t *Tree) saveNode(hash, left, right hub.Bytes32) error {
	data := make([]byte, 0, 65)
	data = append(data, nodeTag...)
	data = append(data, left.Bytes()...)
	data = append(data, right.Bytes()...)
	return t.store.Put(hash.Bytes(), data)
}

// walk descends from the root along the key path, returning the sibling hash
// at every level and the leaf value, if present.
func (t *Tree) walk(key hub.Bytes32) (siblings [KeyBits]hub.Bytes32, value *hub.Bytes32, err error) {
	cur := t.root
	for depth := 0; depth < KeyBits; depth++ {
		if cur.IsZero() {
			// empty subtree, all remaining siblings stay zero
			return siblings, nil, nil
		}
		n, err := t.loadNode(cur)
		if err != nil {
			return siblings, nil, err
		}
		if n.leaf {
			return siblings, nil, errors.New("forest leaf above bottom level")
		}
		if bit(key, depth) == 0 {
			siblings[depth] = n.right
			cur = n.left
		} else {
			siblings[depth] = n.left
			cur = n.right
		}
	}
	if cur.IsZero() {
		return siblings, nil, nil
	}
	n, err := t.loadNode(cur)
	if err != nil {
		return siblings, nil, err
	}
	if !n.leaf || n.key != key {
		return siblings, nil, errors.New("corrupted forest leaf")
	}
	v := n.value
	return siblings, &v, nil
}

// update recomputes the path for the given leaf hash and commits the new root.
func (t *Tree) update(key hub.Bytes32, siblings [KeyBits]hub.Bytes32, leaf hub.Bytes32) error {
	h := leaf
	for depth := KeyBits - 1; depth >= 0; depth-- {
		var left, right hub.Bytes32
		if bit(key, depth) == 0 {
			left, right = h, siblings[depth]
		} else {
			left, right = siblings[depth], h
		}
		h = nodeHash(left, right)
		if !h.IsZero() {
			if err := t.saveNode(h, left, right); err != nil {
				return err
			}
		}
	}
	t.root = h
	return nil
}

// Insert adds or replaces the value for the given key.
func (t *Tree) Insert(key, value hub.Bytes32) error {
	siblings, _, err := t.walk(key)
	if err != nil {
		return err
	}
	leaf := leafHash(key, value)
	if err := t.saveLeaf(leaf, key, value); err != nil {
		return err
	}
	return t.update(key, siblings, leaf)
}

// Remove deletes the key. Removing an absent key is a no-op.
func (t *Tree) Remove(key hub.Bytes32) error {
	siblings, value, err := t.walk(key)
	if err != nil {
		return err
	}
	if value == nil {
		return nil
	}
	return t.update(key, siblings, hub.Bytes32{})
}

// Get returns the value for the key, or nil if absent.
func (t *Tree) Get(key hub.Bytes32) (*hub.Bytes32, error) {
	_, value, err := t.walk(key)
	return value, err
}

// Prove builds an inclusion proof for a present key, or a non-inclusion proof
// for an absent one, against the current root.
func (t *Tree) Prove(key hub.Bytes32) (*Proof, error) {
	siblings, value, err := t.walk(key)
	if err != nil {
		return nil, err
	}
	return newProof(siblings, value), nil
}
