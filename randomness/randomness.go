// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package randomness supplies the per-tick seeds the challenge generator
// derives random challenges from.
package randomness

import (
	"crypto/ecdsa"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/vechain/go-ecvrf"

	"github.com/storagehub/hub/hub"
)

// Source produces the seed for a given tick.
type Source interface {
	SeedForTick(tick uint32) (hub.Bytes32, error)
}

var alphaPrefix = []byte("storagehub-tick-seed")

func alpha(tick uint32) []byte {
	buf := make([]byte, 0, len(alphaPrefix)+4)
	buf = append(buf, alphaPrefix...)
	buf = binary.BigEndian.AppendUint32(buf, tick)
	return buf
}

// Beacon derives seeds from an ECVRF over the tick number, keyed by a local
// secret. Seeds are unpredictable without the key, yet any holder of the
// public key and proof can verify them.
type Beacon struct {
	sk *ecdsa.PrivateKey
}

// NewBeacon creates a beacon from an existing secp256k1 key.
func NewBeacon(sk *ecdsa.PrivateKey) *Beacon {
	return &Beacon{sk: sk}
}

// GenerateBeacon creates a beacon with a fresh key.
func GenerateBeacon() (*Beacon, error) {
	sk, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate beacon key")
	}
	return &Beacon{sk: sk}, nil
}

// PublicKey returns the beacon's public key for external verification.
func (b *Beacon) PublicKey() *ecdsa.PublicKey {
	return &b.sk.PublicKey
}

// SeedForTick implements Source.
func (b *Beacon) SeedForTick(tick uint32) (hub.Bytes32, error) {
	seed, _, err := b.SeedWithProof(tick)
	return seed, err
}

// SeedWithProof returns the seed along with the VRF proof for the tick.
func (b *Beacon) SeedWithProof(tick uint32) (hub.Bytes32, []byte, error) {
	beta, pi, err := ecvrf.Secp256k1Sha256Tai.Prove(b.sk, alpha(tick))
	if err != nil {
		return hub.Bytes32{}, nil, errors.Wrap(err, "vrf prove")
	}
	return hub.Blake2b(beta), pi, nil
}

// VerifySeed checks a proof produced by SeedWithProof against the beacon's
// public key and returns the seed it commits to.
func VerifySeed(pk *ecdsa.PublicKey, tick uint32, pi []byte) (hub.Bytes32, error) {
	beta, err := ecvrf.Secp256k1Sha256Tai.Verify(pk, alpha(tick), pi)
	if err != nil {
		return hub.Bytes32{}, errors.Wrap(err, "vrf verify")
	}
	return hub.Blake2b(beta), nil
}

// Fixed is a deterministic source for tests and local setups.
type Fixed struct {
	Salt []byte
}

// SeedForTick implements Source.
func (f Fixed) SeedForTick(tick uint32) (hub.Bytes32, error) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], tick)
	return hub.Blake2b(f.Salt, buf[:]), nil
}
