package object

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/0chain/errors"
	"github.com/lithammer/shortuuid/v3"
	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/logging"
	"github.com/strandnet/strand/code/go/strand.net/core/util"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/dialer"
)

// Downloader drives the download half of the pipeline. Slabs are fetched
// concurrently up to the window but written to the destination strictly
// in manifest order.
type Downloader struct {
	dialer *dialer.Dialer
	log    *zap.Logger

	poolSize   int
	slabWindow int
}

// DownloaderOption tweaks a Downloader at construction.
type DownloaderOption func(*Downloader)

// WithDownloadPool caps simultaneous shard fetches across the transfer.
func WithDownloadPool(n int) DownloaderOption {
	return func(d *Downloader) {
		if n > 0 {
			d.poolSize = n
		}
	}
}

// WithDownloadWindow caps how many slabs are in flight ahead of the
// write frontier.
func WithDownloadWindow(n int) DownloaderOption {
	return func(d *Downloader) {
		if n > 0 {
			d.slabWindow = n
		}
	}
}

// WithDownloadLogger routes download logs through log.
func WithDownloadLogger(log *zap.Logger) DownloaderOption {
	return func(d *Downloader) { d.log = log }
}

// NewDownloader creates a downloader fetching shards through dl.
func NewDownloader(dl *dialer.Dialer, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		dialer:     dl,
		log:        logging.Logger,
		poolSize:   DefaultDownloadPool,
		slabWindow: DefaultSlabWindow,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download recovers the object described by m and writes it to w. Each
// slab needs any MinShards of its shards to verify; the remaining fetches
// are cancelled once enough arrived. On failure the output is truncated
// at the last fully written slab boundary.
func (d *Downloader) Download(ctx context.Context, w io.Writer, m Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}

	transfer := shortuuid.New()
	d.log.Info("download started",
		zap.String("transfer", transfer),
		zap.Int("slabs", len(m.Slabs)),
		zap.Uint64("length", m.Length()))

	pool := sizedwaitgroup.New(d.poolSize)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(d.slabWindow)
	sw := newSeqWriter(egCtx, w)

	for i := range m.Slabs {
		i := i
		slab := m.Slabs[i]
		eg.Go(func() error {
			data, err := d.downloadSlab(egCtx, &pool, slab)
			if err != nil {
				return err
			}
			return sw.push(egCtx, i, data)
		})
	}
	err := eg.Wait()

	switch {
	case ctx.Err() != nil:
		d.log.Info("download cancelled", zap.String("transfer", transfer))
		return errors.Throw(common.ErrCancelled, ctx.Err().Error())
	case err != nil:
		return err
	}
	d.log.Info("download complete", zap.String("transfer", transfer))
	return nil
}

// downloadSlab races all shard fetches of one slab and returns its
// plaintext once any MinShards verified. A root mismatch counts the same
// as a network failure; the host is not singled out.
func (d *Downloader) downloadSlab(ctx context.Context, pool *sizedwaitgroup.SizedWaitGroup, slab Slab) ([]byte, error) {
	n := len(slab.Shards)
	k := int(slab.MinShards)

	slabCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		index int
		data  []byte
		err   error
	}
	results := make(chan result, n)
	for i := range slab.Shards {
		i := i
		shard := slab.Shards[i]
		go func() {
			if err := pool.AddWithContext(slabCtx); err != nil {
				results <- result{index: i, err: errors.Throw(common.ErrCancelled, err.Error())}
				return
			}
			defer pool.Done()
			data, err := d.fetchShard(slabCtx, shard)
			results <- result{index: i, data: data, err: err}
		}()
	}

	shards := make([][]byte, n)
	got, failed := 0, 0
	for done := 0; done < n && got < k; done++ {
		res := <-results
		if res.err != nil {
			if ctx.Err() != nil {
				return nil, errors.Throw(common.ErrCancelled, ctx.Err().Error())
			}
			d.log.Debug("shard fetch failed",
				zap.Uint32("slab", slab.Index),
				zap.Int("shard", res.index),
				zap.Error(res.err))
			failed++
			if failed > n-k {
				break
			}
			continue
		}
		shards[res.index] = res.data
		got++
	}
	if got < k {
		return nil, errors.Throw(common.ErrUnrecoverable,
			fmt.Sprintf("slab %d: %d of %d shards recovered, %d needed", slab.Index, got, n, k))
	}
	cancel() // the laggards are no longer needed

	for i := range shards {
		if shards[i] != nil {
			DecryptShard(slab.Key, uint64(slab.Index), uint32(i), shards[i])
		}
	}
	codec, err := newCodec(k, n)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(int(slab.Length))
	if err := codec.reconstruct(shards, int(slab.Length), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Downloader) fetchShard(ctx context.Context, shard Shard) ([]byte, error) {
	conn, err := d.dialer.Dial(ctx, shard.Host)
	if err != nil {
		return nil, err
	}
	data, err := conn.FetchShard(ctx, shard.Root, 0, shard.Length)
	if err != nil {
		return nil, err
	}
	if !util.VerifyContentRoot(data, shard.Root) {
		return nil, errors.Throw(common.ErrIntegrityFailure,
			fmt.Sprintf("shard root mismatch from host %s", shard.Host))
	}
	return data, nil
}
