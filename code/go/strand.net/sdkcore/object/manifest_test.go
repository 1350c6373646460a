package object

import (
	"testing"

	"github.com/0chain/errors"
	"github.com/stretchr/testify/require"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
)

func testKey(b byte) encryption.PublicKey {
	var pk encryption.PublicKey
	pk[0] = b
	return pk
}

func testManifest() Manifest {
	return Manifest{
		Version: ManifestVersion,
		Slabs: []Slab{
			{
				Index:     0,
				Length:    1024,
				MinShards: 2,
				Key:       encryption.NewKey(),
				Shards: []Shard{
					{Host: testKey(1), Root: encryption.Hash256{1}, Length: 512},
					{Host: testKey(2), Root: encryption.Hash256{2}, Length: 512},
					{Host: testKey(3), Root: encryption.Hash256{3}, Length: 512},
				},
			},
			{
				Index:     1,
				Length:    100,
				MinShards: 2,
				Key:       encryption.NewKey(),
				Shards: []Shard{
					{Host: testKey(1), Root: encryption.Hash256{4}, Length: 512},
					{Host: testKey(2), Root: encryption.Hash256{5}, Length: 512},
					{Host: testKey(4), Root: encryption.Hash256{6}, Length: 512},
				},
			},
		},
	}
}

func TestManifestRoundTrip(t *testing.T) {
	m := testManifest()

	b, err := EncodeManifest(m)
	require.NoError(t, err)

	got, err := DecodeManifest(b)
	require.NoError(t, err)
	require.Equal(t, m, got)
	require.Equal(t, uint64(1124), got.Length())
}

func TestManifestVersionRejected(t *testing.T) {
	m := testManifest()
	m.Version = 2

	require.True(t, errors.Is(m.Validate(), common.ErrInvalidConfig))

	_, err := DecodeManifest([]byte(`{"version":99,"slabs":[]}`))
	require.True(t, errors.Is(err, common.ErrInvalidConfig))
}

func TestManifestDuplicateHostRejected(t *testing.T) {
	m := testManifest()
	m.Slabs[0].Shards[2].Host = m.Slabs[0].Shards[0].Host

	err := m.Validate()
	require.True(t, errors.Is(err, common.ErrInvalidConfig))
	require.Contains(t, err.Error(), "two shards")
}

func TestManifestShapeChecks(t *testing.T) {
	m := testManifest()
	m.Slabs[1].Index = 7
	require.True(t, errors.Is(m.Validate(), common.ErrInvalidConfig))

	m = testManifest()
	m.Slabs[0].MinShards = 0
	require.True(t, errors.Is(m.Validate(), common.ErrInvalidConfig))

	m = testManifest()
	m.Slabs[0].MinShards = 4
	require.True(t, errors.Is(m.Validate(), common.ErrInvalidConfig))

	m = testManifest()
	m.Slabs[0].Shards[1].Length = 0
	require.True(t, errors.Is(m.Validate(), common.ErrInvalidConfig))

	// an empty object is a valid manifest
	require.NoError(t, Manifest{Version: ManifestVersion}.Validate())
}
