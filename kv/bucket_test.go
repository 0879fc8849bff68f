// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucket(t *testing.T) {
	db := NewMem()
	defer db.Close()

	b1 := Bucket("b1-").NewStore(db)
	b2 := Bucket("b2-").NewStore(db)

	assert.NoError(t, b1.Put([]byte("k"), []byte("v1")))
	assert.NoError(t, b2.Put([]byte("k"), []byte("v2")))

	v, err := b1.Get([]byte("k"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	v, err = b2.Get([]byte("k"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	// raw keys carry the bucket prefix
	v, err = db.Get([]byte("b1-k"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	_, err = b1.Get([]byte("missing"))
	assert.True(t, b1.IsNotFound(err))

	assert.NoError(t, b1.Delete([]byte("k")))
	has, err := b1.Has([]byte("k"))
	assert.NoError(t, err)
	assert.False(t, has)
}

func TestBucketIterate(t *testing.T) {
	db := NewMem()
	defer db.Close()

	b := Bucket("x-").NewStore(db)
	assert.NoError(t, b.Put([]byte{1}, []byte("a")))
	assert.NoError(t, b.Put([]byte{2}, []byte("b")))
	assert.NoError(t, b.Put([]byte{3}, []byte("c")))
	// entries of other buckets must not leak in
	assert.NoError(t, db.Put([]byte("y-k"), []byte("d")))

	var keys [][]byte
	it := b.NewIterator(Range{})
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	it.Release()
	assert.NoError(t, it.Error())
	assert.Equal(t, [][]byte{{1}, {2}, {3}}, keys)

	// bounded range
	it = b.NewIterator(Range{Start: []byte{2}})
	n := 0
	for it.Next() {
		n++
	}
	it.Release()
	assert.Equal(t, 2, n)
}

func TestBucketBatch(t *testing.T) {
	db := NewMem()
	defer db.Close()

	b := Bucket("z-").NewStore(db)
	batch := b.NewBatch()
	assert.NoError(t, batch.Put([]byte("a"), []byte("1")))
	assert.NoError(t, batch.Put([]byte("b"), []byte("2")))
	assert.Equal(t, 2, batch.Len())

	// nothing visible before write
	has, err := b.Has([]byte("a"))
	assert.NoError(t, err)
	assert.False(t, has)

	assert.NoError(t, batch.Write())
	v, err := b.Get([]byte("a"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}
