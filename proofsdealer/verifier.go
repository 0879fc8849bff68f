// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package proofsdealer

import (
	"github.com/pkg/errors"

	"github.com/storagehub/hub/forest"
	"github.com/storagehub/hub/hub"
	"github.com/storagehub/hub/keyproof"
)

// KeyProof answers one challenged key.
//
// A presence answer names a committed file key, proves its forest membership
// and carries an inner file proof over chunks derived from the challenged
// key. An absence answer proves the challenged key itself is not in the
// forest and has no inner proof.
type KeyProof struct {
	FileKey        hub.Bytes32     `json:"fileKey"`
	Forest         *forest.Proof   `json:"forest"`
	Inner          *keyproof.Proof `json:"inner,omitempty"`
	ChallengeCount uint32          `json:"challengeCount"`
}

// Proof is a submitted proof artifact, keyed by challenged key. It is
// consumed during verification and never persisted.
type Proof struct {
	KeyProofs map[hub.Bytes32]*KeyProof `json:"keyProofs"`
}

// verifyProof checks a proof against the provider's committed root and the
// expected challenge set. Pure apart from the returned staged mutations;
// committing them is the caller's job.
//
// Returns the ordered staged mutations and the number of challenges
// answered.
func verifyProof(root hub.Bytes32, proof *Proof, expected []Challenge) ([]forest.Mutation, int, error) {
	if root.IsZero() {
		return nil, 0, ErrZeroRoot
	}
	if proof == nil || len(proof.KeyProofs) == 0 {
		return nil, 0, ErrEmptyKeyProofs
	}

	var (
		mutations []forest.Mutation
		answered  int
	)
	for _, ch := range expected {
		kp, ok := proof.KeyProofs[ch.Key]
		if !ok {
			return nil, 0, errors.Wrapf(ErrKeyProofNotFound, "key %v", ch.Key)
		}
		if kp.ChallengeCount != ch.Count {
			return nil, 0, errors.Wrapf(ErrIncorrectNumberOfProofs, "key %v: got %d, want %d", ch.Key, kp.ChallengeCount, ch.Count)
		}
		if kp.Forest == nil {
			return nil, 0, errors.Wrapf(ErrForestProofVerificationFailed, "key %v: missing forest proof", ch.Key)
		}

		if kp.Inner == nil {
			// Absence answer. Only remove-flagged challenges may be answered
			// with absence; everything else must demonstrate possession of a
			// committed file.
			if !ch.ShouldRemove {
				return nil, 0, errors.Wrapf(ErrKeyProofVerificationFailed, "key %v: absence answer to a possession challenge", ch.Key)
			}
			if kp.FileKey != ch.Key {
				return nil, 0, errors.Wrapf(ErrKeyProofVerificationFailed, "key %v: absence answer for foreign key", ch.Key)
			}
			present, _, err := kp.Forest.Verify(root, ch.Key)
			if err != nil {
				return nil, 0, errors.Wrapf(ErrForestProofVerificationFailed, "key %v: %v", ch.Key, err)
			}
			if present {
				return nil, 0, errors.Wrapf(ErrKeyProofVerificationFailed, "key %v: present but answered as absent", ch.Key)
			}
			if ch.ShouldRemove {
				mutations = append(mutations, forest.Mutation{Key: ch.Key, Remove: true})
			}
		} else {
			// Presence answer.
			present, fingerprint, err := kp.Forest.Verify(root, kp.FileKey)
			if err != nil {
				return nil, 0, errors.Wrapf(ErrForestProofVerificationFailed, "key %v: %v", ch.Key, err)
			}
			if !present {
				return nil, 0, errors.Wrapf(ErrForestProofVerificationFailed, "key %v: file key %v not committed", ch.Key, kp.FileKey)
			}
			if kp.Inner.Metadata.FileKey() != kp.FileKey {
				return nil, 0, errors.Wrapf(ErrKeyProofVerificationFailed, "key %v: metadata does not match file key", ch.Key)
			}
			if kp.Inner.Metadata.Fingerprint != fingerprint {
				return nil, 0, errors.Wrapf(ErrKeyProofVerificationFailed, "key %v: fingerprint does not match committed leaf", ch.Key)
			}
			if err := kp.Inner.Verify(ch.Key, ch.Count); err != nil {
				return nil, 0, errors.Wrapf(ErrKeyProofVerificationFailed, "key %v: %v", ch.Key, err)
			}
		}
		answered += int(ch.Count)
	}
	return mutations, answered, nil
}

// applyMutations folds staged removals into a new root using the absence
// proofs carried by the submission.
func applyMutations(root hub.Bytes32, proof *Proof, mutations []forest.Mutation) (hub.Bytes32, error) {
	newRoot := root
	for _, m := range mutations {
		kp, ok := proof.KeyProofs[m.Key]
		if !ok || kp.Forest == nil {
			return hub.Bytes32{}, errors.Wrapf(ErrFailedToApplyDelta, "key %v: no proof to apply against", m.Key)
		}
		present, _, err := kp.Forest.Verify(newRoot, m.Key)
		if err != nil {
			return hub.Bytes32{}, errors.Wrapf(ErrFailedToApplyDelta, "key %v: %v", m.Key, err)
		}
		if present {
			return hub.Bytes32{}, errors.Wrapf(ErrFailedToApplyDelta, "key %v: cannot remove a present key", m.Key)
		}
		newRoot = kp.Forest.ComputeRoot(m.Key, nil)
	}
	return newRoot, nil
}
