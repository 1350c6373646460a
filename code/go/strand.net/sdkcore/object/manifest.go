// Package object implements the slab pipeline: plaintext is consumed in
// fixed-size slabs, each slab is erasure-coded into n shards (k data,
// n-k parity), every shard is encrypted and placed on a distinct host,
// and the resulting manifest is the only durable handle returned to the
// caller. Download inverts the pipeline from the manifest alone.
package object

import (
	"encoding/json"
	"fmt"

	"github.com/0chain/errors"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
)

// ManifestVersion is the serialization version written by this package.
const ManifestVersion = 1

// Shard records where one erasure-coded piece of a slab lives: the host
// holding it, the content root the host acknowledged, and the ciphertext
// length in bytes.
type Shard struct {
	Host   encryption.PublicKey `json:"host"`
	Root   encryption.Hash256   `json:"root"`
	Length uint32               `json:"length"`
}

// Slab describes one erasure-coded stripe of the object. It is
// self-describing: given at least MinShards retrievable shards the
// plaintext bytes it covers are recoverable with no other state.
type Slab struct {
	Index     uint32         `json:"index"`
	Length    uint32         `json:"length"` // plaintext bytes covered
	MinShards uint8          `json:"min_shards"`
	Key       encryption.Key `json:"key"`
	Shards    []Shard        `json:"shards"`
}

// Manifest is the ordered sequence of slabs covering one logical object.
// Concatenating the decoded slabs in order yields the original bytes.
type Manifest struct {
	Version int    `json:"version"`
	Slabs   []Slab `json:"slabs"`
}

// Length returns the total plaintext length covered by the manifest.
func (m Manifest) Length() uint64 {
	var total uint64
	for _, s := range m.Slabs {
		total += uint64(s.Length)
	}
	return total
}

// Validate checks structural integrity: supported version, contiguous
// slab indexes, sane erasure parameters and pairwise-distinct hosts
// within every slab.
func (m Manifest) Validate() error {
	if m.Version != ManifestVersion {
		return errors.Throw(common.ErrInvalidConfig,
			fmt.Sprintf("unsupported manifest version %d", m.Version))
	}
	for i, slab := range m.Slabs {
		if slab.Index != uint32(i) {
			return errors.Throw(common.ErrInvalidConfig,
				fmt.Sprintf("slab %d carries index %d", i, slab.Index))
		}
		if slab.MinShards == 0 {
			return errors.Throw(common.ErrInvalidConfig,
				fmt.Sprintf("slab %d has zero min shards", i))
		}
		if int(slab.MinShards) > len(slab.Shards) {
			return errors.Throw(common.ErrInvalidConfig,
				fmt.Sprintf("slab %d needs %d of %d shards", i, slab.MinShards, len(slab.Shards)))
		}
		seen := make(map[encryption.PublicKey]struct{}, len(slab.Shards))
		for j, shard := range slab.Shards {
			if shard.Length == 0 {
				return errors.Throw(common.ErrInvalidConfig,
					fmt.Sprintf("slab %d shard %d has zero length", i, j))
			}
			if _, dup := seen[shard.Host]; dup {
				return errors.Throw(common.ErrInvalidConfig,
					fmt.Sprintf("slab %d stores two shards on host %s", i, shard.Host))
			}
			seen[shard.Host] = struct{}{}
		}
	}
	return nil
}

// EncodeManifest serializes m. The version field makes the encoding
// forward-portable; DecodeManifest refuses versions it does not know.
func EncodeManifest(m Manifest) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, common.ErrInvalidConfig)
	}
	return b, nil
}

// DecodeManifest parses and validates a serialized manifest.
func DecodeManifest(b []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, errors.Wrap(err, common.ErrInvalidConfig)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}
