// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package prover

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storagehub/hub/forest"
	"github.com/storagehub/hub/hub"
	"github.com/storagehub/hub/keyproof"
	"github.com/storagehub/hub/kv"
	"github.com/storagehub/hub/proofsdealer"
)

func newFile(i int) (keyproof.FileMetadata, []byte) {
	data := bytes.Repeat([]byte{byte(i + 1)}, 300+40*i)
	return keyproof.FileMetadata{
		Owner:    hub.BytesToAddress([]byte("owner")),
		Bucket:   hub.Blake2b([]byte("bucket")),
		Location: string(rune('a'+i)) + ".dat",
		Size:     uint64(len(data)),
	}, data
}

func TestAddRemoveFile(t *testing.T) {
	store := kv.NewMem()
	defer store.Close()
	p := New(forest.NewTree(store, hub.Bytes32{}))

	assert.True(t, p.Root().IsZero())

	meta, data := newFile(0)
	key, err := p.AddFile(meta, data)
	require.NoError(t, err)
	root1 := p.Root()
	assert.False(t, root1.IsZero())

	meta2, data2 := newFile(1)
	_, err = p.AddFile(meta2, data2)
	require.NoError(t, err)
	assert.NotEqual(t, root1, p.Root())

	// Size mismatch is rejected.
	meta3, data3 := newFile(2)
	meta3.Size++
	_, err = p.AddFile(meta3, data3)
	assert.Error(t, err)

	require.NoError(t, p.RemoveFile(key))
	assert.Error(t, p.RemoveFile(key))
}

func TestProveAnswersChallenges(t *testing.T) {
	store := kv.NewMem()
	defer store.Close()
	p := New(forest.NewTree(store, hub.Bytes32{}))

	var keys []hub.Bytes32
	for i := 0; i < 3; i++ {
		meta, data := newFile(i)
		key, err := p.AddFile(meta, data)
		require.NoError(t, err)
		keys = append(keys, key)
	}
	root := p.Root()

	challenges := []proofsdealer.Challenge{
		{Key: keys[0], Count: 2},                                            // exact hit
		{Key: hub.Blake2b([]byte("random")), Count: 1},                      // answered by closest file
		{Key: hub.Blake2b([]byte("gone")), Count: 1, ShouldRemove: true},    // absence
		{Key: keys[1], Count: 1, ShouldRemove: true},                        // flagged but still stored
	}
	proof, err := p.Prove(challenges)
	require.NoError(t, err)
	require.Len(t, proof.KeyProofs, 4)

	// Exact hit proves the challenged file itself.
	kp := proof.KeyProofs[keys[0]]
	assert.Equal(t, keys[0], kp.FileKey)
	require.NotNil(t, kp.Inner)
	present, _, err := kp.Forest.Verify(root, kp.FileKey)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Nil(t, kp.Inner.Verify(keys[0], 2))

	// The random challenge is answered with some committed file.
	kp = proof.KeyProofs[hub.Blake2b([]byte("random"))]
	require.NotNil(t, kp.Inner)
	present, _, err = kp.Forest.Verify(root, kp.FileKey)
	require.NoError(t, err)
	assert.True(t, present)

	// The absent flagged key gets an absence proof.
	kp = proof.KeyProofs[hub.Blake2b([]byte("gone"))]
	assert.Nil(t, kp.Inner)
	present, _, err = kp.Forest.Verify(root, kp.FileKey)
	require.NoError(t, err)
	assert.False(t, present)

	// The stored flagged key is answered with possession.
	kp = proof.KeyProofs[keys[1]]
	require.NotNil(t, kp.Inner)
	assert.Equal(t, keys[1], kp.FileKey)
}

func TestProveWithoutFiles(t *testing.T) {
	store := kv.NewMem()
	defer store.Close()
	p := New(forest.NewTree(store, hub.Bytes32{}))

	_, err := p.Prove([]proofsdealer.Challenge{{Key: hub.Blake2b([]byte("x")), Count: 1}})
	assert.Error(t, err)
}
