// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package keyproof builds and verifies file-key proofs: the inner part of a
// challenge response showing that a provider actually holds the data behind
// a file key. A file's fingerprint is the Merkle root over its chunks; a key
// proof carries the file metadata plus one chunk path per challenge.
package keyproof

import (
	"bytes"
	"encoding/binary"

	"github.com/cbergoon/merkletree"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/storagehub/hub/hub"
)

// ChunkSize is the fixed chunk length files are fingerprinted with. The last
// chunk may be shorter.
const ChunkSize = 256

// FileMetadata describes a stored file. Its hash is the file key committed
// into the owner's forest.
type FileMetadata struct {
	Owner       hub.Address `json:"owner"`
	Bucket      hub.Bytes32 `json:"bucket"`
	Location    string      `json:"location"`
	Size        uint64      `json:"size"`
	Fingerprint hub.Bytes32 `json:"fingerprint"`
}

// FileKey computes the file key, the blake2b hash of the RLP encoded metadata.
func (m *FileMetadata) FileKey() hub.Bytes32 {
	data, err := rlp.EncodeToBytes(m)
	if err != nil {
		// all field types are RLP encodable
		panic(errors.Wrap(err, "encode file metadata"))
	}
	return hub.Blake2b(data)
}

// NumChunks returns the chunk count for a file of the given size. An empty
// file still has one (empty) chunk.
func NumChunks(size uint64) uint64 {
	if size == 0 {
		return 1
	}
	return (size + ChunkSize - 1) / ChunkSize
}

// ChunkChallenges derives the chunk indices a key proof must answer for a
// challenged key, one per challenge. Deterministic, so verifier and prover
// agree without extra coordination.
func ChunkChallenges(key hub.Bytes32, count uint32, chunks uint64) []uint64 {
	indices := make([]uint64, 0, count)
	for i := uint32(0); i < count; i++ {
		var seq [4]byte
		binary.BigEndian.PutUint32(seq[:], i)
		h := hub.Blake2b(key.Bytes(), seq[:])
		indices = append(indices, binary.BigEndian.Uint64(h[:8])%chunks)
	}
	return indices
}

// ChunkProof is a Merkle path from one chunk to the file's fingerprint.
type ChunkProof struct {
	Index  uint64   `json:"index"`
	Data   []byte   `json:"data"`
	Hashes [][]byte `json:"hashes"`
	Orders []int64  `json:"orders"`
}

// Proof proves possession of the file behind a challenged key.
type Proof struct {
	Metadata FileMetadata `json:"metadata"`
	Chunks   []ChunkProof `json:"chunks"`
}

type chunk struct {
	data []byte
}

func (c chunk) CalculateHash() ([]byte, error) {
	h := hub.Blake2b(c.data)
	return h.Bytes(), nil
}

func (c chunk) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(chunk)
	if !ok {
		return false, errors.New("content type mismatch")
	}
	return bytes.Equal(c.data, o.data), nil
}

func split(data []byte) []merkletree.Content {
	n := NumChunks(uint64(len(data)))
	contents := make([]merkletree.Content, 0, n)
	for i := uint64(0); i < n; i++ {
		start := i * ChunkSize
		end := min(start+ChunkSize, uint64(len(data)))
		contents = append(contents, chunk{data: data[start:end]})
	}
	return contents
}

// Fingerprint computes the chunk-tree root for the given file content.
func Fingerprint(data []byte) (hub.Bytes32, error) {
	tree, err := merkletree.NewTreeWithHashStrategy(split(data), hub.NewBlake2b)
	if err != nil {
		return hub.Bytes32{}, errors.Wrap(err, "build chunk tree")
	}
	return hub.BytesToBytes32(tree.MerkleRoot()), nil
}

// Generate builds a key proof answering count challenges on the challenged
// key, from the full file content.
func Generate(meta FileMetadata, data []byte, key hub.Bytes32, count uint32) (*Proof, error) {
	if meta.Size != uint64(len(data)) {
		return nil, errors.New("metadata size mismatches content")
	}
	contents := split(data)
	tree, err := merkletree.NewTreeWithHashStrategy(contents, hub.NewBlake2b)
	if err != nil {
		return nil, errors.Wrap(err, "build chunk tree")
	}
	if hub.BytesToBytes32(tree.MerkleRoot()) != meta.Fingerprint {
		return nil, errors.New("fingerprint mismatches content")
	}

	proof := &Proof{Metadata: meta}
	for _, idx := range ChunkChallenges(key, count, uint64(len(contents))) {
		hashes, orders, err := tree.GetMerklePath(contents[idx])
		if err != nil {
			return nil, errors.Wrap(err, "chunk merkle path")
		}
		proof.Chunks = append(proof.Chunks, ChunkProof{
			Index:  idx,
			Data:   contents[idx].(chunk).data,
			Hashes: hashes,
			Orders: orders,
		})
	}
	return proof, nil
}

// Verify checks the proof answers count challenges on the challenged key.
// The challenged key only selects the chunk indices; the proven file may be
// any file, so the caller is expected to bind the metadata to the forest,
// i.e. check that FileKey matches the proven leaf.
func (p *Proof) Verify(key hub.Bytes32, count uint32) error {
	indices := ChunkChallenges(key, count, NumChunks(p.Metadata.Size))
	if len(p.Chunks) != len(indices) {
		return errors.New("chunk proof count mismatch")
	}
	for i, cp := range p.Chunks {
		if cp.Index != indices[i] {
			return errors.Errorf("chunk proof %d answers wrong index", i)
		}
		if len(cp.Data) > ChunkSize {
			return errors.Errorf("chunk proof %d oversized", i)
		}
		if len(cp.Hashes) != len(cp.Orders) {
			return errors.Errorf("chunk proof %d malformed path", i)
		}
		h := hub.Blake2b(cp.Data)
		for j, sib := range cp.Hashes {
			if cp.Orders[j] == 1 {
				h = hub.Blake2b(h.Bytes(), sib)
			} else {
				h = hub.Blake2b(sib, h.Bytes())
			}
		}
		if h != p.Metadata.Fingerprint {
			return errors.Errorf("chunk proof %d mismatches fingerprint", i)
		}
	}
	return nil
}
