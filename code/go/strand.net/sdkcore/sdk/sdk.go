// Package sdk is the porcelain over the strand client stack. It wires the
// gateway client, the host dialer and the object pipeline together behind
// the two calls most programs need: Upload and Download. Programs with
// more exotic needs use the underlying packages directly.
package sdk

import (
	"context"
	"crypto/tls"
	"io"

	"github.com/0chain/errors"
	"github.com/lithammer/shortuuid/v3"
	"go.uber.org/zap"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
	"github.com/strandnet/strand/code/go/strand.net/core/logging"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/dialer"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/gateway"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/object"
)

// Default redundancy. One slab survives the loss of half its shards.
const (
	DefaultDataShards   = 10
	DefaultParityShards = 10
)

// Object is the durable result of an upload. The manifest is everything a
// later Download needs; the caller is responsible for keeping it.
type Object struct {
	ID       string          `json:"id"`
	Manifest object.Manifest `json:"manifest"`
	Length   uint64          `json:"length"`
}

// SDK bundles one application identity, one gateway and one host pool. It
// is safe for concurrent transfers.
type SDK struct {
	log *zap.Logger

	gw     *gateway.Client
	dialer *dialer.Dialer

	uploader   *object.Uploader
	downloader *object.Downloader

	dataShards   int
	parityShards int
}

// Option tweaks the SDK at construction.
type Option func(*options)

type options struct {
	log          *zap.Logger
	tlsConf      *tls.Config
	dataShards   int
	parityShards int
	uploadPool   int
	downloadPool int
	sectorSize   int
	gatewayOpts  []gateway.Option
	dialerOpts   []dialer.Option
}

// WithLogger routes all SDK logs through log.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRedundancy sets the default erasure geometry for uploads: data shards
// needed to recover, parity shards of overhead.
func WithRedundancy(data, parity int) Option {
	return func(o *options) {
		o.dataShards = data
		o.parityShards = parity
	}
}

// WithUploadPool caps simultaneous shard stores per upload.
func WithUploadPool(n int) Option {
	return func(o *options) { o.uploadPool = n }
}

// WithDownloadPool caps simultaneous shard fetches per download.
func WithDownloadPool(n int) Option {
	return func(o *options) { o.downloadPool = n }
}

// WithDialerTLS substitutes the TLS configuration used towards hosts. The
// default trusts the platform root store.
func WithDialerTLS(conf *tls.Config) Option {
	return func(o *options) { o.tlsConf = conf }
}

// WithSectorSize overrides the shard payload size of uploads, mostly to
// exercise multi-slab behavior on small inputs.
func WithSectorSize(n int) Option {
	return func(o *options) { o.sectorSize = n }
}

// WithGatewayOptions forwards options to the underlying gateway client.
func WithGatewayOptions(opts ...gateway.Option) Option {
	return func(o *options) { o.gatewayOpts = append(o.gatewayOpts, opts...) }
}

// WithDialerOptions forwards options to the underlying host dialer.
func WithDialerOptions(opts ...dialer.Option) Option {
	return func(o *options) { o.dialerOpts = append(o.dialerOpts, opts...) }
}

// NewSDK creates a client stack for the gateway at gatewayURL, signing as
// the identity behind key. The identity must already be approved; use
// Connect first when it may not be.
func NewSDK(gatewayURL string, key encryption.PrivateKey, opts ...Option) (*SDK, error) {
	o := &options{
		dataShards:   DefaultDataShards,
		parityShards: DefaultParityShards,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logging.Logger
	}
	if o.dataShards <= 0 || o.parityShards < 0 || o.dataShards+o.parityShards > 255 {
		return nil, errors.Throw(common.ErrInvalidConfig,
			"redundancy must satisfy 0 < data and data+parity <= 255")
	}

	gw, err := gateway.New(gatewayURL, key,
		append([]gateway.Option{gateway.WithLogger(o.log.Named("gateway"))}, o.gatewayOpts...)...)
	if err != nil {
		return nil, err
	}

	d, err := dialer.New(o.tlsConf, key,
		append([]dialer.Option{dialer.WithLogger(o.log.Named("dialer"))}, o.dialerOpts...)...)
	if err != nil {
		return nil, err
	}

	upOpts := []object.UploaderOption{object.WithUploadLogger(o.log.Named("upload"))}
	if o.uploadPool > 0 {
		upOpts = append(upOpts, object.WithUploadPool(o.uploadPool))
	}
	if o.sectorSize > 0 {
		upOpts = append(upOpts, object.WithSectorSize(o.sectorSize))
	}
	downOpts := []object.DownloaderOption{object.WithDownloadLogger(o.log.Named("download"))}
	if o.downloadPool > 0 {
		downOpts = append(downOpts, object.WithDownloadPool(o.downloadPool))
	}

	return &SDK{
		log:          o.log,
		gw:           gw,
		dialer:       d,
		uploader:     object.NewUploader(d, upOpts...),
		downloader:   object.NewDownloader(d, downOpts...),
		dataShards:   o.dataShards,
		parityShards: o.parityShards,
	}, nil
}

// PublicKey returns the application identity the SDK signs with.
func (s *SDK) PublicKey() encryption.PublicKey {
	return s.gw.PublicKey()
}

// RefreshHosts pulls the current host set from the gateway into the dialer
// and reports how many hosts are dialable.
func (s *SDK) RefreshHosts(ctx context.Context) (int, error) {
	hosts, err := s.gw.RefreshHosts(ctx)
	if err != nil {
		return 0, err
	}
	s.dialer.UpdateHosts(hosts)
	return len(hosts), nil
}

// Close tears down the host connection pool. The SDK must not be used
// afterwards.
func (s *SDK) Close() error {
	return s.dialer.Close()
}

// UploadOption tweaks one Upload call.
type UploadOption func(*uploadConfig)

type uploadConfig struct {
	data   int
	parity int
	key    encryption.Key
	keySet bool
}

// WithUploadRedundancy overrides the SDK's erasure geometry for this
// upload only.
func WithUploadRedundancy(data, parity int) UploadOption {
	return func(c *uploadConfig) {
		c.data = data
		c.parity = parity
	}
}

// WithEncryptionKey pins the content key instead of generating a fresh
// one. Re-running an upload with the same key and input reproduces the
// same shard ciphertexts, which makes interrupted uploads cheap to retry.
func WithEncryptionKey(key encryption.Key) UploadOption {
	return func(c *uploadConfig) {
		c.key = key
		c.keySet = true
	}
}

// Upload reads r to EOF and places it on the network. The host set is
// refreshed from the gateway first, so a freshly approved application can
// upload without further ceremony.
func (s *SDK) Upload(ctx context.Context, r io.Reader, opts ...UploadOption) (*Object, error) {
	cfg := uploadConfig{data: s.dataShards, parity: s.parityShards}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.data <= 0 || cfg.parity < 0 || cfg.data+cfg.parity > 255 {
		return nil, errors.Throw(common.ErrInvalidConfig,
			"redundancy must satisfy 0 < data and data+parity <= 255")
	}
	if !cfg.keySet {
		cfg.key = encryption.NewKey()
	}

	hosts, err := s.gw.Hosts(ctx)
	if err != nil {
		return nil, err
	}
	s.dialer.UpdateHosts(hosts)

	manifest, err := s.uploader.Upload(ctx, r, cfg.key,
		uint8(cfg.data), uint8(cfg.data+cfg.parity))
	if err != nil {
		return nil, err
	}
	return &Object{
		ID:       shortuuid.New(),
		Manifest: manifest,
		Length:   manifest.Length(),
	}, nil
}

// Download recovers the object described by manifest into w.
func (s *SDK) Download(ctx context.Context, w io.Writer, manifest object.Manifest) error {
	hosts, err := s.gw.Hosts(ctx)
	if err != nil {
		return err
	}
	s.dialer.UpdateHosts(hosts)

	return s.downloader.Download(ctx, w, manifest)
}
