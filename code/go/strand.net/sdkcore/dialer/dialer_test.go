package dialer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/0chain/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
	"github.com/strandnet/strand/code/go/strand.net/core/logging"
	"github.com/strandnet/strand/code/go/strand.net/dev"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/dialer"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/gateway"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/rhp"
)

func init() {
	logging.Logger = zap.NewNop()
}

func dialerKey(b byte) encryption.PrivateKey {
	var seed [32]byte
	seed[0] = b
	return encryption.KeyFromSeed(&seed, 0)
}

func testDialer(t *testing.T, hosts gateway.HostSet, options ...dialer.Option) *dialer.Dialer {
	t.Helper()
	tlsConf, err := dev.ClientTLS()
	require.NoError(t, err)

	options = append([]dialer.Option{dialer.WithLogger(zap.NewNop())}, options...)
	d, err := dialer.New(tlsConf, dialerKey(1), options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	d.UpdateHosts(hosts)
	return d
}

func hostSetOf(hosts ...*dev.Host) gateway.HostSet {
	hs := gateway.HostSet{}
	for _, h := range hosts {
		hs[h.PublicKey()] = h.Descriptor()
	}
	return hs
}

func TestNewRequiresAppKey(t *testing.T) {
	_, err := dialer.New(nil, nil)
	require.True(t, errors.Is(err, common.ErrInvalidConfig))
}

func TestDialReusesConnection(t *testing.T) {
	h, err := dev.StartHost()
	require.NoError(t, err)
	defer h.Close()

	d := testDialer(t, hostSetOf(h))
	ctx := context.Background()

	conn1, err := d.Dial(ctx, h.PublicKey())
	require.NoError(t, err)
	require.Equal(t, h.PublicKey(), conn1.HostKey())

	conn2, err := d.Dial(ctx, h.PublicKey())
	require.NoError(t, err)
	require.Same(t, conn1, conn2)
}

func TestDialUnknownHost(t *testing.T) {
	h, err := dev.StartHost()
	require.NoError(t, err)
	defer h.Close()

	d := testDialer(t, hostSetOf(h))
	_, err = d.Dial(context.Background(), dialerKey(42).Public())
	require.True(t, errors.Is(err, common.ErrUnknownHost))
}

func TestDialWrongIdentity(t *testing.T) {
	h, err := dev.StartHost(dev.WithWrongIdentity())
	require.NoError(t, err)
	defer h.Close()

	d := testDialer(t, hostSetOf(h))
	_, err = d.Dial(context.Background(), h.PublicKey())
	require.True(t, errors.Is(err, common.ErrHandshakeFailed))
}

func TestDialVersionMismatch(t *testing.T) {
	h, err := dev.StartHost(dev.WithHostVersion(2))
	require.NoError(t, err)
	defer h.Close()

	d := testDialer(t, hostSetOf(h))
	_, err = d.Dial(context.Background(), h.PublicKey())
	require.True(t, errors.Is(err, common.ErrVersionMismatch))
}

func TestDialDownedHost(t *testing.T) {
	h, err := dev.StartHost()
	require.NoError(t, err)
	hosts := hostSetOf(h)
	require.NoError(t, h.Close())

	d := testDialer(t, hosts, dialer.WithHandshakeTimeout(500*time.Millisecond))
	_, err = d.Dial(context.Background(), h.PublicKey())
	require.True(t, errors.Is(err, common.ErrHostUnreachable))
}

func TestDialAfterClose(t *testing.T) {
	h, err := dev.StartHost()
	require.NoError(t, err)
	defer h.Close()

	d := testDialer(t, hostSetOf(h))
	require.NoError(t, d.Close())

	_, err = d.Dial(context.Background(), h.PublicKey())
	require.Error(t, err)
	require.Contains(t, err.Error(), "dialer_closed")
}

func TestUpdateHostsSwapsSnapshot(t *testing.T) {
	fleet, err := dev.StartFleet(2)
	require.NoError(t, err)
	defer fleet.Close()

	h0, h1 := fleet.Hosts[0], fleet.Hosts[1]
	d := testDialer(t, hostSetOf(h0, h1))
	ctx := context.Background()

	conn, err := d.Dial(ctx, h0.PublicKey())
	require.NoError(t, err)

	d.UpdateHosts(hostSetOf(h1))
	require.Len(t, d.Hosts(), 1)

	// The removed host no longer resolves, but its open connection keeps
	// serving current borrowers.
	_, err = d.Dial(ctx, h0.PublicKey())
	require.True(t, errors.Is(err, common.ErrUnknownHost))
	require.True(t, conn.Alive())

	_, err = d.Dial(ctx, h1.PublicKey())
	require.NoError(t, err)
}

func TestDialReplacesDeadConnection(t *testing.T) {
	h, err := dev.StartHost()
	require.NoError(t, err)
	defer h.Close()

	d := testDialer(t, hostSetOf(h))
	ctx := context.Background()

	conn1, err := d.Dial(ctx, h.PublicKey())
	require.NoError(t, err)
	require.NoError(t, conn1.Close())

	conn2, err := d.Dial(ctx, h.PublicKey())
	require.NoError(t, err)
	require.NotSame(t, conn1, conn2)
	require.True(t, conn2.Alive())
}

func TestConcurrentDialsShareConnection(t *testing.T) {
	h, err := dev.StartHost()
	require.NoError(t, err)
	defer h.Close()

	d := testDialer(t, hostSetOf(h))
	ctx := context.Background()

	const callers = 8
	conns := make([]*rhp.Conn, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = d.Dial(ctx, h.PublicKey())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Same(t, conns[0], conns[i])
	}
}
