// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytes32(t *testing.T) {
	b := BytesToBytes32([]byte("provider-1"))
	assert.False(t, b.IsZero())
	assert.True(t, Bytes32{}.IsZero())

	parsed, err := ParseBytes32(b.String())
	assert.NoError(t, err)
	assert.Equal(t, b, parsed)

	_, err = ParseBytes32("0x1234")
	assert.Error(t, err)

	data, err := json.Marshal(&b)
	assert.NoError(t, err)
	var decoded Bytes32
	assert.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, b, decoded)
}

func TestBlake2b(t *testing.T) {
	// multi-part hashing must match the single buffer version
	h1 := Blake2b([]byte("forest"), []byte("key"))
	h2 := Blake2b([]byte("forestkey"))
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, Blake2b([]byte("forest")))
}
