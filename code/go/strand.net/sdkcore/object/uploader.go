package object

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/0chain/errors"
	"github.com/lithammer/shortuuid/v3"
	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
	"github.com/strandnet/strand/code/go/strand.net/core/logging"
	"github.com/strandnet/strand/code/go/strand.net/core/util"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/dialer"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/rhp"
)

// Pipeline defaults.
const (
	DefaultUploadPool   = 5
	DefaultDownloadPool = 30
	DefaultShardRetries = 3
	DefaultSlabWindow   = 4
)

// Uploader drives the upload half of the pipeline. One Uploader is safe
// for concurrent transfers; each Upload call gets its own shard pool and
// host usage accounting.
type Uploader struct {
	dialer *dialer.Dialer
	log    *zap.Logger

	poolSize     int
	shardRetries int
	slabWindow   int
	sectorSize   int
}

// UploaderOption tweaks an Uploader at construction.
type UploaderOption func(*Uploader)

// WithUploadPool caps simultaneous shard stores across the transfer.
func WithUploadPool(n int) UploaderOption {
	return func(u *Uploader) {
		if n > 0 {
			u.poolSize = n
		}
	}
}

// WithShardRetries bounds the attempts per shard; every retry picks a
// different host.
func WithShardRetries(n int) UploaderOption {
	return func(u *Uploader) {
		if n > 0 {
			u.shardRetries = n
		}
	}
}

// WithUploadWindow caps how many slabs are buffered in flight.
func WithUploadWindow(n int) UploaderOption {
	return func(u *Uploader) {
		if n > 0 {
			u.slabWindow = n
		}
	}
}

// WithSectorSize overrides the shard payload size. Useful for exercising
// multi-slab behavior on small inputs; must not exceed the wire limit.
func WithSectorSize(n int) UploaderOption {
	return func(u *Uploader) {
		if n > 0 {
			u.sectorSize = n
		}
	}
}

// WithUploadLogger routes upload logs through log.
func WithUploadLogger(log *zap.Logger) UploaderOption {
	return func(u *Uploader) { u.log = log }
}

// NewUploader creates an uploader placing shards through d.
func NewUploader(d *dialer.Dialer, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		dialer:       d,
		log:          logging.Logger,
		poolSize:     DefaultUploadPool,
		shardRetries: DefaultShardRetries,
		slabWindow:   DefaultSlabWindow,
		sectorSize:   rhp.SectorSize,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload consumes r in slabs of k sectors, erasure-codes each slab into n
// shards, encrypts them under encKey and places one shard per distinct
// host. It returns the manifest only when every shard of every slab has
// a verified acknowledgment; no partial manifest is ever returned.
func (u *Uploader) Upload(ctx context.Context, r io.Reader, encKey encryption.Key, k, n uint8) (Manifest, error) {
	if k == 0 || k > n {
		return Manifest{}, errors.Throw(common.ErrInvalidConfig,
			fmt.Sprintf("redundancy %d of %d is not usable", k, n))
	}
	if u.sectorSize <= 0 || u.sectorSize > rhp.SectorSize {
		return Manifest{}, errors.Throw(common.ErrInvalidConfig,
			fmt.Sprintf("sector size %d exceeds wire limit %d", u.sectorSize, rhp.SectorSize))
	}
	hosts := u.dialer.Hosts()
	if int(n) > len(hosts) {
		return Manifest{}, errors.Throw(common.ErrInsufficientHosts,
			fmt.Sprintf("%d shards per slab, %d hosts known", n, len(hosts)))
	}
	codec, err := newCodec(int(k), int(n))
	if err != nil {
		return Manifest{}, err
	}

	transfer := shortuuid.New()
	sel := newHostSelector(hosts)
	pool := sizedwaitgroup.New(u.poolSize)
	slabSize := int(k) * u.sectorSize
	u.log.Info("upload started",
		zap.String("transfer", transfer),
		zap.Uint8("data_shards", k),
		zap.Uint8("total_shards", n),
		zap.Int("hosts", len(hosts)),
		zap.Int("slab_size", slabSize))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(u.slabWindow)

	var (
		mu      sync.Mutex
		done    = make(map[uint32]Slab)
		readErr error
		count   int
	)
	for index := uint32(0); egCtx.Err() == nil; index++ {
		// The slab buffer is zero-filled, so a short final read is
		// already padded to the slab boundary.
		buf := make([]byte, slabSize)
		read, err := io.ReadFull(r, buf)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			readErr = errors.Wrap(err, common.ErrIO)
			break
		}
		count++
		index := index
		eg.Go(func() error {
			slab, err := u.uploadSlab(egCtx, &pool, codec, sel, index, buf, read, encKey, k)
			if err != nil {
				return err
			}
			mu.Lock()
			done[index] = slab
			mu.Unlock()
			return nil
		})
		if read < slabSize {
			break
		}
	}
	werr := eg.Wait()

	switch {
	case ctx.Err() != nil:
		u.log.Info("upload cancelled", zap.String("transfer", transfer))
		return Manifest{}, errors.Throw(common.ErrCancelled, ctx.Err().Error())
	case readErr != nil:
		return Manifest{}, readErr
	case werr != nil:
		return Manifest{}, werr
	}

	slabs := make([]Slab, count)
	for i := range slabs {
		slabs[i] = done[uint32(i)]
	}
	m := Manifest{Version: ManifestVersion, Slabs: slabs}
	u.log.Info("upload complete",
		zap.String("transfer", transfer),
		zap.Int("slabs", count),
		zap.Uint64("length", m.Length()))
	return m, nil
}

func (u *Uploader) uploadSlab(ctx context.Context, pool *sizedwaitgroup.SizedWaitGroup,
	codec *codec, sel *hostSelector, index uint32, padded []byte, length int,
	key encryption.Key, minShards uint8) (Slab, error) {

	shards, err := codec.encode(padded)
	if err != nil {
		return Slab{}, err
	}
	n := len(shards)
	roots := make([]encryption.Hash256, n)
	for i := range shards {
		EncryptShard(key, uint64(index), uint32(i), shards[i])
		roots[i] = util.ContentRoot(shards[i])
	}

	hosts, err := sel.pick(n, nil)
	if err != nil {
		return Slab{}, err
	}
	placement := newSlabPlacement(hosts)

	results := make([]Shard, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := pool.AddWithContext(gctx); err != nil {
				return errors.Throw(common.ErrCancelled, err.Error())
			}
			defer pool.Done()
			shard, err := u.placeShard(gctx, sel, placement, i, shards[i], roots[i])
			if err != nil {
				return err
			}
			results[i] = shard
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Slab{}, err
	}
	return Slab{
		Index:     index,
		Length:    uint32(length),
		MinShards: minShards,
		Key:       key,
		Shards:    results,
	}, nil
}

// placeShard stores one shard, moving to a fresh host on every failure
// until the retry budget runs out.
func (u *Uploader) placeShard(ctx context.Context, sel *hostSelector, placement *slabPlacement,
	shardIndex int, data []byte, root encryption.Hash256) (Shard, error) {

	host := placement.hostFor(shardIndex)
	var lastErr error
	for attempt := 0; attempt < u.shardRetries; attempt++ {
		if ctx.Err() != nil {
			return Shard{}, errors.Throw(common.ErrCancelled, ctx.Err().Error())
		}
		err := u.storeOn(ctx, host, data, root)
		if err == nil {
			return Shard{Host: host, Root: root, Length: uint32(len(data))}, nil
		}
		if errors.Is(err, common.ErrCancelled) {
			return Shard{}, err
		}
		lastErr = err
		u.log.Debug("shard store failed",
			zap.Int("shard", shardIndex),
			zap.String("host", host.String()),
			zap.Error(err))
		sel.markFailed(host)
		next, pickErr := placement.replace(shardIndex, sel)
		if pickErr != nil {
			return Shard{}, errors.Wrap(lastErr, common.ErrInsufficientHosts)
		}
		host = next
	}
	return Shard{}, errors.Wrap(lastErr, common.ErrInsufficientHosts)
}

func (u *Uploader) storeOn(ctx context.Context, host encryption.PublicKey,
	data []byte, root encryption.Hash256) error {

	conn, err := u.dialer.Dial(ctx, host)
	if err != nil {
		return err
	}
	_, err = conn.StoreShard(ctx, data, root)
	return err
}

// slabPlacement tracks which host carries which shard of one slab so
// retries never violate the distinct-host invariant. Hosts that failed
// stay excluded: they may hold partial writes.
type slabPlacement struct {
	mu      sync.Mutex
	byShard []encryption.PublicKey
	used    map[encryption.PublicKey]struct{}
}

func newSlabPlacement(hosts []encryption.PublicKey) *slabPlacement {
	used := make(map[encryption.PublicKey]struct{}, len(hosts))
	for _, pk := range hosts {
		used[pk] = struct{}{}
	}
	return &slabPlacement{byShard: hosts, used: used}
}

func (p *slabPlacement) hostFor(i int) encryption.PublicKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byShard[i]
}

func (p *slabPlacement) replace(i int, sel *hostSelector) (encryption.PublicKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := sel.replacement(p.used)
	if err != nil {
		return encryption.PublicKey{}, err
	}
	p.byShard[i] = next
	p.used[next] = struct{}{}
	return next, nil
}
