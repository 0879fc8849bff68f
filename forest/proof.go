// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package forest

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/storagehub/hub/hub"
)

// Proof is a compact Merkle path for a single key. Zero siblings are elided:
// bit i of Bitmap marks a non-zero sibling at depth i, and Siblings lists
// them in depth order. A nil Value claims the key is absent, making the proof
// a non-inclusion proof.
//
// A proof is self-contained enough to recompute the root for a replacement
// leaf, which is how remove mutations are applied without the full trie.
type Proof struct {
	Bitmap   [32]byte      `json:"bitmap"`
	Siblings []hub.Bytes32 `json:"siblings"`
	Value    *hub.Bytes32  `json:"value,omitempty"`
}

func newProof(siblings [KeyBits]hub.Bytes32, value *hub.Bytes32) *Proof {
	p := &Proof{Value: value}
	for depth, sib := range siblings {
		if !sib.IsZero() {
			p.Bitmap[depth/8] |= 1 << (7 - depth%8)
			p.Siblings = append(p.Siblings, sib)
		}
	}
	return p
}

func (p *Proof) popcount() int {
	n := 0
	for _, b := range p.Bitmap {
		n += bits.OnesCount8(b)
	}
	return n
}

// ComputeRoot folds the proof path with the given leaf value in place of the
// proven one. A nil value folds an empty leaf, so passing nil computes the
// root with the key removed.
func (p *Proof) ComputeRoot(key hub.Bytes32, value *hub.Bytes32) hub.Bytes32 {
	var h hub.Bytes32
	if value != nil {
		h = leafHash(key, *value)
	}
	idx := len(p.Siblings)
	for depth := KeyBits - 1; depth >= 0; depth-- {
		var sib hub.Bytes32
		if p.Bitmap[depth/8]&(1<<(7-depth%8)) != 0 {
			idx--
			sib = p.Siblings[idx]
		}
		if bit(key, depth) == 0 {
			h = nodeHash(h, sib)
		} else {
			h = nodeHash(sib, h)
		}
	}
	return h
}

// Verify checks the proof against the given root. It reports whether the key
// is present and, if so, its value.
func (p *Proof) Verify(root, key hub.Bytes32) (bool, hub.Bytes32, error) {
	if p.popcount() != len(p.Siblings) {
		return false, hub.Bytes32{}, errors.New("sibling count mismatches bitmap")
	}
	if p.ComputeRoot(key, p.Value) != root {
		return false, hub.Bytes32{}, errors.New("root mismatch")
	}
	if p.Value == nil {
		return false, hub.Bytes32{}, nil
	}
	return true, *p.Value, nil
}
