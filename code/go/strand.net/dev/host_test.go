package dev

import (
	"context"
	"testing"
	"time"

	"github.com/0chain/errors"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
	"github.com/strandnet/strand/code/go/strand.net/core/util"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/rhp"
)

func testAppKey(b byte) encryption.PrivateKey {
	var seed [32]byte
	seed[0] = b
	return encryption.KeyFromSeed(&seed, 0)
}

func dialHost(t *testing.T, h *Host) (*rhp.Conn, error) {
	t.Helper()
	tlsConf, err := ClientTLS()
	require.NoError(t, err)
	tlsConf.NextProtos = []string{rhp.ALPN}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	qc, err := quic.DialAddr(ctx, h.Addr(), tlsConf, nil)
	require.NoError(t, err)

	conn, err := rhp.NewConn(ctx, qc, testAppKey(1), h.PublicKey(),
		5*time.Second, 10*time.Second)
	if err != nil {
		_ = qc.CloseWithError(1, "handshake failed")
		return nil, err
	}
	return conn, nil
}

func TestHostStoreFetchRoundTrip(t *testing.T) {
	h, err := StartHost()
	require.NoError(t, err)
	defer h.Close()

	conn, err := dialHost(t, h)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, h.PublicKey(), conn.HostKey())

	data := frand.Bytes(util.LeafSize + 123)
	root := util.ContentRoot(data)

	ctx := context.Background()
	_, err = conn.StoreShard(ctx, data, root)
	require.NoError(t, err)
	require.True(t, h.HasShard(root))
	require.Equal(t, 1, h.ShardCount())

	got, err := conn.FetchShard(ctx, root, 0, 0)
	require.NoError(t, err)
	require.Equal(t, data, got)

	// Partial reads honor offset and length.
	part, err := conn.FetchShard(ctx, root, 100, 50)
	require.NoError(t, err)
	require.Equal(t, data[100:150], part)
}

func TestHostRejectsRootMismatch(t *testing.T) {
	h, err := StartHost()
	require.NoError(t, err)
	defer h.Close()

	conn, err := dialHost(t, h)
	require.NoError(t, err)
	defer conn.Close()

	data := frand.Bytes(512)
	wrong := util.ContentRoot([]byte("something else"))
	_, err = conn.StoreShard(context.Background(), data, wrong)
	require.True(t, errors.Is(err, common.ErrIntegrityFailure))
	require.Equal(t, 0, h.ShardCount())
}

func TestHostRefusesStore(t *testing.T) {
	h, err := StartHost(WithRefuseStore())
	require.NoError(t, err)
	defer h.Close()

	conn, err := dialHost(t, h)
	require.NoError(t, err)
	defer conn.Close()

	data := frand.Bytes(512)
	_, err = conn.StoreShard(context.Background(), data, util.ContentRoot(data))
	require.Error(t, err)
	require.Contains(t, err.Error(), "store_refused")
}

func TestHostCorruptFetch(t *testing.T) {
	h, err := StartHost(WithCorruptFetch())
	require.NoError(t, err)
	defer h.Close()

	conn, err := dialHost(t, h)
	require.NoError(t, err)
	defer conn.Close()

	data := frand.Bytes(2048)
	root := util.ContentRoot(data)
	ctx := context.Background()
	_, err = conn.StoreShard(ctx, data, root)
	require.NoError(t, err)

	got, err := conn.FetchShard(ctx, root, 0, 0)
	require.NoError(t, err)
	require.NotEqual(t, data, got)
	require.False(t, util.VerifyContentRoot(got, root))
}

func TestHostFetchUnknownRoot(t *testing.T) {
	h, err := StartHost()
	require.NoError(t, err)
	defer h.Close()

	conn, err := dialHost(t, h)
	require.NoError(t, err)
	defer conn.Close()

	var root encryption.Hash256
	frand.Read(root[:])
	_, err = conn.FetchShard(context.Background(), root, 0, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "shard_not_found")
}

func TestHostFetchOutOfRange(t *testing.T) {
	h, err := StartHost()
	require.NoError(t, err)
	defer h.Close()

	conn, err := dialHost(t, h)
	require.NoError(t, err)
	defer conn.Close()

	data := frand.Bytes(256)
	root := util.ContentRoot(data)
	ctx := context.Background()
	_, err = conn.StoreShard(ctx, data, root)
	require.NoError(t, err)

	_, err = conn.FetchShard(ctx, root, 300, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "out_of_range")

	_, err = conn.FetchShard(ctx, root, 200, 100)
	require.Error(t, err)
	require.Contains(t, err.Error(), "out_of_range")
}

func TestHostVersionMismatch(t *testing.T) {
	h, err := StartHost(WithHostVersion(rhp.ProtocolVersion + 1))
	require.NoError(t, err)
	defer h.Close()

	_, err = dialHost(t, h)
	require.True(t, errors.Is(err, common.ErrVersionMismatch))
}

func TestHostWrongIdentity(t *testing.T) {
	h, err := StartHost(WithWrongIdentity())
	require.NoError(t, err)
	defer h.Close()

	_, err = dialHost(t, h)
	require.True(t, errors.Is(err, common.ErrHandshakeFailed))
}

func TestHostDescriptorCapabilities(t *testing.T) {
	h, err := StartHost()
	require.NoError(t, err)
	defer h.Close()

	d := h.Descriptor()
	require.Equal(t, h.PublicKey(), d.PublicKey)
	require.Equal(t, rhp.ProtocolVersion, d.Version)

	caps, err := d.DecodeCapabilities()
	require.NoError(t, err)
	require.Equal(t, uint64(rhp.SectorSize), caps.MaxShardSize)
	require.Contains(t, caps.Features, "store")
	require.Contains(t, caps.Features, "fetch")
}

func TestHostCloseTearsDownConns(t *testing.T) {
	h, err := StartHost()
	require.NoError(t, err)

	conn, err := dialHost(t, h)
	require.NoError(t, err)
	require.True(t, conn.Alive())

	require.NoError(t, h.Close())
	require.Eventually(t, func() bool { return !conn.Alive() },
		2*time.Second, 20*time.Millisecond)
}
