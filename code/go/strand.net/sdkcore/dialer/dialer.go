// Package dialer converts host public keys into live, authenticated host
// connections. It owns the client's view of the host set and a bounded
// pool of open connections; the object pipeline never dials raw addresses
// itself.
package dialer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"sync"
	"time"

	"github.com/0chain/errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
	"github.com/strandnet/strand/code/go/strand.net/core/logging"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/gateway"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/rhp"
)

// Pool defaults.
const (
	DefaultMaxIdleConns = 64
	DefaultIdleTimeout  = 5 * time.Minute
)

var errClosed = errors.New("dialer_closed", "dialer is closed")

// Platform trust roots are loaded once per process, concurrently safe on
// first use.
var (
	systemRootsOnce sync.Once
	systemRoots     *x509.CertPool
	systemRootsErr  error
)

func systemRootsPool() (*x509.CertPool, error) {
	systemRootsOnce.Do(func() {
		systemRoots, systemRootsErr = x509.SystemCertPool()
	})
	return systemRoots, systemRootsErr
}

// Dialer maintains the known-host snapshot and a connection pool keyed by
// host public key. All methods are safe for concurrent use.
type Dialer struct {
	log    *zap.Logger
	appKey encryption.PrivateKey

	tlsTemplate *tls.Config
	quicConf    *quic.Config

	handshakeTimeout time.Duration
	transferTimeout  time.Duration

	group singleflight.Group
	conns *lru.Cache[encryption.PublicKey, *rhp.Conn]

	mu     sync.RWMutex
	hosts  gateway.HostSet
	closed bool
}

// Option tweaks a Dialer at construction.
type Option func(*opts)

type opts struct {
	log              *zap.Logger
	maxIdleConns     int
	idleTimeout      time.Duration
	handshakeTimeout time.Duration
	transferTimeout  time.Duration
}

// WithLogger routes the dialer's logs through log.
func WithLogger(log *zap.Logger) Option {
	return func(o *opts) { o.log = log }
}

// WithMaxIdleConns caps the pool; the least recently used connection is
// closed when the cap is exceeded.
func WithMaxIdleConns(n int) Option {
	return func(o *opts) { o.maxIdleConns = n }
}

// WithIdleTimeout closes connections with no stream activity for d at the
// transport layer.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *opts) { o.idleTimeout = d }
}

// WithHandshakeTimeout bounds the identity exchange on new connections.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *opts) { o.handshakeTimeout = d }
}

// WithTransferTimeout bounds each shard store or fetch stream.
func WithTransferTimeout(d time.Duration) Option {
	return func(o *opts) { o.transferTimeout = d }
}

// New creates a dialer that authenticates hosts with appKey. A nil tlsConf
// uses the platform trust store; self-signed host deployments must pass a
// config trusting their roots. Host identities are additionally bound by
// the post-TLS key handshake either way.
func New(tlsConf *tls.Config, appKey encryption.PrivateKey, options ...Option) (*Dialer, error) {
	if len(appKey) == 0 {
		return nil, errors.Throw(common.ErrInvalidConfig, "application key is required")
	}

	o := &opts{
		maxIdleConns:     DefaultMaxIdleConns,
		idleTimeout:      DefaultIdleTimeout,
		handshakeTimeout: rhp.DefaultHandshakeTimeout,
		transferTimeout:  rhp.DefaultTransferTimeout,
	}
	for _, opt := range options {
		opt(o)
	}
	if o.log == nil {
		o.log = logging.Logger
	}
	if o.maxIdleConns <= 0 {
		o.maxIdleConns = DefaultMaxIdleConns
	}

	if tlsConf == nil {
		roots, err := systemRootsPool()
		if err != nil {
			return nil, errors.Wrap(err, errors.New("trust_store", "load platform trust roots"))
		}
		tlsConf = &tls.Config{RootCAs: roots}
	} else {
		tlsConf = tlsConf.Clone()
	}
	tlsConf.NextProtos = []string{rhp.ALPN}
	if tlsConf.MinVersion < tls.VersionTLS13 {
		tlsConf.MinVersion = tls.VersionTLS13
	}

	conns, err := lru.NewWithEvict[encryption.PublicKey, *rhp.Conn](o.maxIdleConns,
		func(_ encryption.PublicKey, conn *rhp.Conn) {
			_ = conn.Close()
		})
	if err != nil {
		return nil, errors.Wrap(err, errors.New("conn_pool", "create connection pool"))
	}

	return &Dialer{
		log:         o.log,
		appKey:      appKey,
		tlsTemplate: tlsConf,
		quicConf: &quic.Config{
			HandshakeIdleTimeout: o.handshakeTimeout,
			MaxIdleTimeout:       o.idleTimeout,
		},
		handshakeTimeout: o.handshakeTimeout,
		transferTimeout:  o.transferTimeout,
		conns:            conns,
		hosts:            gateway.HostSet{},
	}, nil
}

// UpdateHosts replaces the known-host snapshot. Open connections to hosts
// that disappeared stay usable for their current borrowers but are no
// longer handed to new callers.
func (d *Dialer) UpdateHosts(hs gateway.HostSet) {
	snapshot := hs.Clone()
	d.mu.Lock()
	d.hosts = snapshot
	d.mu.Unlock()
	d.log.Debug("updated host set", zap.Int("hosts", len(snapshot)))
}

// Hosts returns the current host snapshot.
func (d *Dialer) Hosts() gateway.HostSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hosts.Clone()
}

// Dial returns an authenticated connection to the host, reusing an open
// one when possible. At most one connect attempt per host is in flight;
// concurrent callers share its outcome.
func (d *Dialer) Dial(ctx context.Context, hostKey encryption.PublicKey) (*rhp.Conn, error) {
	d.mu.RLock()
	closed := d.closed
	host, known := d.hosts[hostKey]
	d.mu.RUnlock()

	if closed {
		return nil, errClosed
	}
	if !known {
		return nil, errors.Throw(common.ErrUnknownHost, hostKey.String())
	}

	if conn, ok := d.conns.Get(hostKey); ok && conn.Alive() {
		return conn, nil
	}

	dial := func() (interface{}, error) {
		if conn, ok := d.conns.Get(hostKey); ok {
			if conn.Alive() {
				return conn, nil
			}
			d.conns.Remove(hostKey)
		}
		return d.connect(ctx, host)
	}

	v, err, _ := d.group.Do(string(hostKey[:]), dial)
	if err != nil && errors.Is(err, common.ErrCancelled) && ctx.Err() == nil {
		// The in-flight dial we joined was cancelled by its initiator,
		// not by us; try once with our own context.
		v, err, _ = d.group.Do(string(hostKey[:]), dial)
	}
	if err != nil {
		return nil, err
	}
	return v.(*rhp.Conn), nil
}

// Close tears down the pool. In-flight requests fail; the host snapshot is
// kept so callers can observe what was known.
func (d *Dialer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.conns.Purge()
	return nil
}

func (d *Dialer) connect(ctx context.Context, host gateway.HostDescriptor) (*rhp.Conn, error) {
	tlsConf := d.tlsTemplate.Clone()
	if tlsConf.ServerName == "" {
		if name, _, err := net.SplitHostPort(host.NetAddress); err == nil {
			tlsConf.ServerName = name
		}
	}

	qc, err := quic.DialAddr(ctx, host.NetAddress, tlsConf, d.quicConf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Throw(common.ErrCancelled, ctx.Err().Error())
		}
		return nil, errors.Wrap(err, common.ErrHostUnreachable)
	}

	conn, err := rhp.NewConn(ctx, qc, d.appKey, host.PublicKey,
		d.handshakeTimeout, d.transferTimeout)
	if err != nil {
		_ = qc.CloseWithError(1, "handshake failed")
		return nil, err
	}

	d.conns.Add(host.PublicKey, conn)
	d.log.Debug("dialed host",
		zap.String("host", host.PublicKey.String()),
		zap.String("address", host.NetAddress))
	return conn, nil
}
