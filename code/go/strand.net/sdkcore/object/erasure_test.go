package object

import (
	"bytes"
	"testing"

	"github.com/0chain/errors"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
)

func TestCodecGeometry(t *testing.T) {
	_, err := newCodec(0, 3)
	require.True(t, errors.Is(err, common.ErrInvalidConfig))

	_, err = newCodec(4, 3)
	require.True(t, errors.Is(err, common.ErrInvalidConfig))

	c, err := newCodec(2, 5)
	require.NoError(t, err)

	_, err = c.encode(make([]byte, 5)) // not a multiple of k
	require.True(t, errors.Is(err, common.ErrInvalidConfig))
}

func TestCodecRoundTrip(t *testing.T) {
	const (
		k         = 3
		n         = 7
		shardSize = 512
	)
	c, err := newCodec(k, n)
	require.NoError(t, err)

	plain := frand.Bytes(k * shardSize)
	padded := append([]byte(nil), plain...)
	shards, err := c.encode(padded)
	require.NoError(t, err)
	require.Len(t, shards, n)
	for _, s := range shards {
		require.Len(t, s, shardSize)
	}

	var out bytes.Buffer
	require.NoError(t, c.reconstruct(shards, len(plain), &out))
	require.Equal(t, plain, out.Bytes())
}

func TestCodecRecoversFromAnyLoss(t *testing.T) {
	const (
		k         = 3
		n         = 6
		shardSize = 128
	)
	c, err := newCodec(k, n)
	require.NoError(t, err)

	plain := frand.Bytes(k * shardSize)

	// losing any n-k shards still recovers; data and parity alike
	lossPatterns := [][]int{
		{0, 1, 2},
		{3, 4, 5},
		{0, 3, 5},
		{1, 2, 4},
	}
	for _, lost := range lossPatterns {
		padded := append([]byte(nil), plain...)
		shards, err := c.encode(padded)
		require.NoError(t, err)
		for _, i := range lost {
			shards[i] = nil
		}

		var out bytes.Buffer
		require.NoError(t, c.reconstruct(shards, len(plain), &out))
		require.Equal(t, plain, out.Bytes(), "lost %v", lost)
	}
}

func TestCodecFailsBelowMinimum(t *testing.T) {
	const (
		k         = 3
		n         = 6
		shardSize = 128
	)
	c, err := newCodec(k, n)
	require.NoError(t, err)

	padded := frand.Bytes(k * shardSize)
	shards, err := c.encode(padded)
	require.NoError(t, err)

	// n-k+1 losses make the slab unrecoverable
	for _, i := range []int{0, 2, 3, 5} {
		shards[i] = nil
	}
	var out bytes.Buffer
	err = c.reconstruct(shards, k*shardSize, &out)
	require.True(t, errors.Is(err, common.ErrUnrecoverable))
}

func TestCodecTruncatesPadding(t *testing.T) {
	const (
		k         = 2
		n         = 4
		shardSize = 64
	)
	c, err := newCodec(k, n)
	require.NoError(t, err)

	// 50 plaintext bytes in a 128 byte slab
	plain := frand.Bytes(50)
	padded := make([]byte, k*shardSize)
	copy(padded, plain)

	shards, err := c.encode(padded)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, c.reconstruct(shards, len(plain), &out))
	require.Equal(t, plain, out.Bytes())
}
