// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package proofsdealer

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storagehub/hub/forest"
	"github.com/storagehub/hub/hub"
	"github.com/storagehub/hub/keyproof"
	"github.com/storagehub/hub/kv"
)

type testFile struct {
	meta keyproof.FileMetadata
	data []byte
}

// commitFiles builds a forest with a few committed files.
func commitFiles(t *testing.T) (*forest.Tree, map[hub.Bytes32]*testFile) {
	store := kv.NewMem()
	t.Cleanup(func() { store.Close() })

	tree := forest.NewTree(store, hub.Bytes32{})
	files := make(map[hub.Bytes32]*testFile)
	for i, location := range []string{"a/report.pdf", "b/photo.jpg", "c/backup.tar"} {
		data := bytes.Repeat([]byte{byte(i + 1)}, 300+100*i)
		meta := keyproof.FileMetadata{
			Owner:    hub.BytesToAddress([]byte("owner")),
			Bucket:   hub.Blake2b([]byte("bucket")),
			Location: location,
			Size:     uint64(len(data)),
		}
		fingerprint, err := keyproof.Fingerprint(data)
		require.NoError(t, err)
		meta.Fingerprint = fingerprint

		key := meta.FileKey()
		require.NoError(t, tree.Insert(key, fingerprint))
		files[key] = &testFile{meta: meta, data: data}
	}
	return tree, files
}

func anyFile(files map[hub.Bytes32]*testFile) (hub.Bytes32, *testFile) {
	for k, f := range files {
		return k, f
	}
	panic("no files")
}

func presenceProof(t *testing.T, tree *forest.Tree, fileKey hub.Bytes32, f *testFile, challenged hub.Bytes32, count uint32) *KeyProof {
	fp, err := tree.Prove(fileKey)
	require.NoError(t, err)
	inner, err := keyproof.Generate(f.meta, f.data, challenged, count)
	require.NoError(t, err)
	return &KeyProof{FileKey: fileKey, Forest: fp, Inner: inner, ChallengeCount: count}
}

func TestVerifyProofPresence(t *testing.T) {
	tree, files := commitFiles(t)
	root := tree.Root()
	fileKey, f := anyFile(files)

	// The file key itself challenged twice in one round.
	expected := []Challenge{{Key: fileKey, Count: 2}}
	proof := &Proof{KeyProofs: map[hub.Bytes32]*KeyProof{
		fileKey: presenceProof(t, tree, fileKey, f, fileKey, 2),
	}}

	mutations, answered, err := verifyProof(root, proof, expected)
	require.NoError(t, err)
	assert.Empty(t, mutations)
	assert.Equal(t, 2, answered)

	// A random challenge answered with a committed file.
	random := hub.Blake2b([]byte("random challenge"))
	expected = []Challenge{{Key: random, Count: 1}}
	proof = &Proof{KeyProofs: map[hub.Bytes32]*KeyProof{
		random: presenceProof(t, tree, fileKey, f, random, 1),
	}}
	mutations, answered, err = verifyProof(root, proof, expected)
	require.NoError(t, err)
	assert.Empty(t, mutations)
	assert.Equal(t, 1, answered)
}

func TestVerifyProofRejections(t *testing.T) {
	tree, files := commitFiles(t)
	root := tree.Root()
	fileKey, f := anyFile(files)
	expected := []Challenge{{Key: fileKey, Count: 1}}

	_, _, err := verifyProof(hub.Bytes32{}, &Proof{}, expected)
	assert.True(t, errors.Is(err, ErrZeroRoot))

	_, _, err = verifyProof(root, &Proof{}, expected)
	assert.True(t, errors.Is(err, ErrEmptyKeyProofs))

	// Proof for a different key than challenged.
	other := hub.Blake2b([]byte("other"))
	proof := &Proof{KeyProofs: map[hub.Bytes32]*KeyProof{
		other: presenceProof(t, tree, fileKey, f, other, 1),
	}}
	_, _, err = verifyProof(root, proof, expected)
	assert.True(t, errors.Is(err, ErrKeyProofNotFound))

	// Challenge count mismatch.
	proof = &Proof{KeyProofs: map[hub.Bytes32]*KeyProof{
		fileKey: presenceProof(t, tree, fileKey, f, fileKey, 2),
	}}
	_, _, err = verifyProof(root, proof, expected)
	assert.True(t, errors.Is(err, ErrIncorrectNumberOfProofs))

	// Forest proof against the wrong root.
	wrongRoot := hub.Blake2b([]byte("wrong root"))
	proof = &Proof{KeyProofs: map[hub.Bytes32]*KeyProof{
		fileKey: presenceProof(t, tree, fileKey, f, fileKey, 1),
	}}
	_, _, err = verifyProof(wrongRoot, proof, expected)
	assert.Error(t, err)

	// An absence answer is no way out of a possession challenge.
	absent := hub.Blake2b([]byte("absent"))
	fp, err := tree.Prove(absent)
	require.NoError(t, err)
	proof = &Proof{KeyProofs: map[hub.Bytes32]*KeyProof{
		absent: {FileKey: absent, Forest: fp, ChallengeCount: 1},
	}}
	_, _, err = verifyProof(root, proof, []Challenge{{Key: absent, Count: 1}})
	assert.True(t, errors.Is(err, ErrKeyProofVerificationFailed))

	// Tampered inner proof data.
	kp := presenceProof(t, tree, fileKey, f, fileKey, 1)
	kp.Inner.Chunks[0].Data = append([]byte{0xff}, kp.Inner.Chunks[0].Data...)
	proof = &Proof{KeyProofs: map[hub.Bytes32]*KeyProof{fileKey: kp}}
	_, _, err = verifyProof(root, proof, expected)
	assert.True(t, errors.Is(err, ErrKeyProofVerificationFailed))
}

func TestVerifyProofRemoveFlag(t *testing.T) {
	tree, files := commitFiles(t)
	root := tree.Root()
	absent := hub.Blake2b([]byte("deleted file key"))

	fp, err := tree.Prove(absent)
	require.NoError(t, err)
	expected := []Challenge{{Key: absent, Count: 1, ShouldRemove: true}}
	proof := &Proof{KeyProofs: map[hub.Bytes32]*KeyProof{
		absent: {FileKey: absent, Forest: fp, ChallengeCount: 1},
	}}

	mutations, answered, err := verifyProof(root, proof, expected)
	require.NoError(t, err)
	assert.Equal(t, []forest.Mutation{{Key: absent, Remove: true}}, mutations)
	assert.Equal(t, 1, answered)

	// Removing an already absent key leaves the root untouched.
	newRoot, err := applyMutations(root, proof, mutations)
	require.NoError(t, err)
	assert.Equal(t, root, newRoot)

	// A still-present flagged key is answered with possession instead and
	// stages no mutation.
	fileKey, f := anyFile(files)
	expected = []Challenge{{Key: fileKey, Count: 1, ShouldRemove: true}}
	proof = &Proof{KeyProofs: map[hub.Bytes32]*KeyProof{
		fileKey: presenceProof(t, tree, fileKey, f, fileKey, 1),
	}}
	mutations, _, err = verifyProof(root, proof, expected)
	require.NoError(t, err)
	assert.Empty(t, mutations)
}
