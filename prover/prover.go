// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package prover assembles proof submissions on the provider side, from the
// provider's local forest and file data.
package prover

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/storagehub/hub/forest"
	"github.com/storagehub/hub/hub"
	"github.com/storagehub/hub/keyproof"
	"github.com/storagehub/hub/proofsdealer"
)

// File is a stored file with its committed metadata.
type File struct {
	Metadata keyproof.FileMetadata
	Data     []byte
}

// Prover tracks a provider's forest and files and answers challenge sets.
// Not safe for concurrent use.
type Prover struct {
	tree  *forest.Tree
	files map[hub.Bytes32]*File
}

// New creates a prover over the given forest.
func New(tree *forest.Tree) *Prover {
	return &Prover{
		tree:  tree,
		files: make(map[hub.Bytes32]*File),
	}
}

// Root returns the current forest root.
func (p *Prover) Root() hub.Bytes32 {
	return p.tree.Root()
}

// AddFile fingerprints the data, commits the file into the forest and
// returns its file key.
func (p *Prover) AddFile(meta keyproof.FileMetadata, data []byte) (hub.Bytes32, error) {
	if meta.Size != uint64(len(data)) {
		return hub.Bytes32{}, errors.New("metadata size does not match data length")
	}
	fingerprint, err := keyproof.Fingerprint(data)
	if err != nil {
		return hub.Bytes32{}, err
	}
	meta.Fingerprint = fingerprint
	key := meta.FileKey()
	if err := p.tree.Insert(key, fingerprint); err != nil {
		return hub.Bytes32{}, err
	}
	p.files[key] = &File{Metadata: meta, Data: bytes.Clone(data)}
	return key, nil
}

// RemoveFile drops a file from the forest and the local set.
func (p *Prover) RemoveFile(key hub.Bytes32) error {
	if _, ok := p.files[key]; !ok {
		return errors.New("file not stored")
	}
	if err := p.tree.Remove(key); err != nil {
		return err
	}
	delete(p.files, key)
	return nil
}

// closestFile picks the stored file key closest to the challenged key by
// big-endian XOR distance. Deterministic, so repeated challenges pick the
// same file.
func (p *Prover) closestFile(key hub.Bytes32) (hub.Bytes32, bool) {
	var (
		best     hub.Bytes32
		bestDist [32]byte
		found    bool
	)
	for fk := range p.files {
		var dist [32]byte
		for i := range dist {
			dist[i] = fk[i] ^ key[i]
		}
		if !found || bytes.Compare(dist[:], bestDist[:]) < 0 {
			best, bestDist, found = fk, dist, true
		}
	}
	return best, found
}

// answer builds the key proof for one challenge.
func (p *Prover) answer(ch proofsdealer.Challenge) (*proofsdealer.KeyProof, error) {
	fileKey := ch.Key
	if _, ok := p.files[fileKey]; !ok {
		if ch.ShouldRemove {
			// The key is not stored; prove its absence.
			fp, err := p.tree.Prove(ch.Key)
			if err != nil {
				return nil, err
			}
			return &proofsdealer.KeyProof{
				FileKey:        ch.Key,
				Forest:         fp,
				ChallengeCount: ch.Count,
			}, nil
		}
		closest, ok := p.closestFile(ch.Key)
		if !ok {
			return nil, errors.New("no stored file to answer challenge with")
		}
		fileKey = closest
	}

	file := p.files[fileKey]
	fp, err := p.tree.Prove(fileKey)
	if err != nil {
		return nil, err
	}
	inner, err := keyproof.Generate(file.Metadata, file.Data, ch.Key, ch.Count)
	if err != nil {
		return nil, err
	}
	return &proofsdealer.KeyProof{
		FileKey:        fileKey,
		Forest:         fp,
		Inner:          inner,
		ChallengeCount: ch.Count,
	}, nil
}

// Prove assembles a submission answering the expected challenge set.
func (p *Prover) Prove(challenges []proofsdealer.Challenge) (*proofsdealer.Proof, error) {
	proof := &proofsdealer.Proof{
		KeyProofs: make(map[hub.Bytes32]*proofsdealer.KeyProof, len(challenges)),
	}
	for _, ch := range challenges {
		kp, err := p.answer(ch)
		if err != nil {
			return nil, errors.Wrapf(err, "answer challenge %v", ch.Key)
		}
		proof.KeyProofs[ch.Key] = kp
	}
	return proof, nil
}
