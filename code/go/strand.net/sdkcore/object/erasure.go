package object

import (
	"io"

	"github.com/0chain/errors"
	"github.com/klauspost/reedsolomon"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
)

// codec wraps a systematic Reed-Solomon encoder for one (k, n) geometry.
type codec struct {
	k, n int
	enc  reedsolomon.Encoder
}

func newCodec(k, n int) (*codec, error) {
	if k <= 0 || n < k {
		return nil, errors.Throw(common.ErrInvalidConfig,
			"erasure geometry requires 0 < data shards <= total shards")
	}
	enc, err := reedsolomon.New(k, n-k)
	if err != nil {
		return nil, errors.Wrap(err, common.ErrInvalidConfig)
	}
	return &codec{k: k, n: n, enc: enc}, nil
}

// encode splits a padded slab into k equal data shards and computes the
// n-k parity shards. Data shards alias the slab buffer; the caller owns
// all n slices and may mutate them.
func (c *codec) encode(padded []byte) ([][]byte, error) {
	if len(padded) == 0 || len(padded)%c.k != 0 {
		return nil, errors.Throw(common.ErrInvalidConfig,
			"slab must be padded to a multiple of the data shard count")
	}
	shardSize := len(padded) / c.k
	shards := make([][]byte, c.n)
	for i := 0; i < c.k; i++ {
		shards[i] = padded[i*shardSize : (i+1)*shardSize]
	}
	for i := c.k; i < c.n; i++ {
		shards[i] = make([]byte, shardSize)
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, errors.Wrap(err, common.ErrUnrecoverable)
	}
	return shards, nil
}

// reconstruct rebuilds the missing data shards from any k present ones
// (nil marks a missing shard) and writes length plaintext bytes to w,
// dropping the padding.
func (c *codec) reconstruct(shards [][]byte, length int, w io.Writer) error {
	if err := c.enc.ReconstructData(shards); err != nil {
		return errors.Wrap(err, common.ErrUnrecoverable)
	}
	if err := c.enc.Join(w, shards, length); err != nil {
		return errors.Wrap(err, common.ErrUnrecoverable)
	}
	return nil
}
