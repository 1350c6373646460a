package rhp

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/0chain/errors"
	"github.com/quic-go/quic-go"
	"lukechampine.com/frand"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
)

// Default stream deadlines. The dialer may override both.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultTransferTimeout  = 2 * time.Minute
)

// Conn is an authenticated connection to one host. Requests multiplex over
// the underlying QUIC connection; each request owns its stream exclusively
// for the duration of the exchange, so a Conn is safe for concurrent use.
type Conn struct {
	qc      *quic.Conn
	hostKey encryption.PublicKey
	appKey  encryption.PrivateKey

	transferTimeout time.Duration
}

// NewConn runs the mutual identity handshake over qc and returns the
// authenticated connection. The host must present hostKey and prove it by
// signing the client challenge; the application proves its own identity by
// signing the host challenge in return.
func NewConn(ctx context.Context, qc *quic.Conn, appKey encryption.PrivateKey,
	hostKey encryption.PublicKey, handshakeTimeout, transferTimeout time.Duration) (*Conn, error) {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	if transferTimeout <= 0 {
		transferTimeout = DefaultTransferTimeout
	}

	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, errors.Wrap(err, common.ErrHostUnreachable)
	}
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

	var challenge encryption.Hash256
	frand.Read(challenge[:])

	req := HandshakeRequest{
		Version:   ProtocolVersion,
		AppKey:    appKey.Public(),
		Challenge: challenge,
	}
	if err := WriteJSONFrame(stream, FrameHandshake, &req); err != nil {
		return nil, errors.Wrap(err, common.ErrHandshakeFailed)
	}

	var resp HandshakeResponse
	if err := readExpected(stream, FrameHandshakeResp, MaxControlPayload, &resp); err != nil {
		if errors.Is(err, common.ErrVersionMismatch) {
			return nil, err
		}
		return nil, errors.Wrap(err, common.ErrHandshakeFailed)
	}

	if resp.Version != ProtocolVersion {
		return nil, errors.Throw(common.ErrVersionMismatch,
			"host speaks version "+strconv.Itoa(int(resp.Version))+
				", want "+strconv.Itoa(int(ProtocolVersion)))
	}
	if resp.HostKey != hostKey {
		return nil, errors.Throw(common.ErrHandshakeFailed,
			"host presented key "+resp.HostKey.String()+", dialed "+hostKey.String())
	}
	sigHash := HandshakeSigHash(challenge, req.AppKey)
	if !hostKey.Verify(sigHash[:], resp.Signature) {
		return nil, errors.Throw(common.ErrHandshakeFailed, "host identity proof did not verify")
	}

	confirmHash := HandshakeSigHash(resp.Challenge, hostKey)
	confirm := HandshakeConfirm{Signature: appKey.Sign(confirmHash[:])}
	if err := WriteJSONFrame(stream, FrameHandshakeConfirm, &confirm); err != nil {
		return nil, errors.Wrap(err, common.ErrHandshakeFailed)
	}

	return &Conn{
		qc:              qc,
		hostKey:         hostKey,
		appKey:          appKey,
		transferTimeout: transferTimeout,
	}, nil
}

// HostKey returns the verified identity of the peer.
func (c *Conn) HostKey() encryption.PublicKey { return c.hostKey }

// Alive reports whether the underlying connection is still open.
func (c *Conn) Alive() bool { return c.qc.Context().Err() == nil }

// Close tears down the connection and every stream on it.
func (c *Conn) Close() error {
	return c.qc.CloseWithError(0, "client closed")
}

// StoreShard uploads data under the claimed root and returns the host's
// signed acknowledgment. The ack signature is verified here: an
// unverifiable receipt is worthless to the uploader and is treated as a
// failed store.
func (c *Conn) StoreShard(ctx context.Context, data []byte, root encryption.Hash256) (StoreShardAck, error) {
	var ack StoreShardAck
	err := c.withStream(ctx, func(stream *quic.Stream) error {
		req := StoreShardRequest{Root: root, Length: uint32(len(data))}
		if err := WriteJSONFrame(stream, FrameStoreShard, &req); err != nil {
			return err
		}
		if _, err := stream.Write(data); err != nil {
			return err
		}
		return readExpected(stream, FrameAck, MaxControlPayload, &ack)
	})
	if err != nil {
		return StoreShardAck{}, err
	}

	sigHash := AckSigHash(root, c.appKey.Public())
	if !c.hostKey.Verify(sigHash[:], ack.Signature) {
		return StoreShardAck{}, errors.Throw(common.ErrIntegrityFailure,
			"host acknowledgment signature did not verify")
	}
	return ack, nil
}

// FetchShard retrieves length bytes of the shard at offset. A zero length
// asks for the remainder of the shard. The caller verifies the content
// root; this layer only moves bytes.
func (c *Conn) FetchShard(ctx context.Context, root encryption.Hash256, offset, length uint32) ([]byte, error) {
	var data []byte
	err := c.withStream(ctx, func(stream *quic.Stream) error {
		req := FetchShardRequest{Root: root, Offset: offset, Length: length}
		if err := WriteJSONFrame(stream, FrameFetchShard, &req); err != nil {
			return err
		}
		typ, payload, err := ReadFrame(stream, SectorSize)
		if err != nil {
			return err
		}
		switch typ {
		case FrameData:
			data = payload
			return nil
		case FrameError:
			var rpcErr RPCError
			if jsonErr := json.Unmarshal(payload, &rpcErr); jsonErr != nil {
				return errors.New("bad_error_frame", "undecodable host error frame")
			}
			return rpcErr.asKind()
		default:
			return errors.Newf("unexpected_frame", "host sent %s, expected %s", typ, FrameData)
		}
	})
	if err != nil {
		return nil, err
	}
	if length > 0 && uint32(len(data)) != length {
		return nil, errors.Newf("short_fetch",
			"host returned %d bytes, requested %d", len(data), length)
	}
	return data, nil
}

// withStream opens a dedicated stream for one request. The context watcher
// converts caller cancellation into an immediate stream deadline so a
// blocked read or write wakes up promptly.
func (c *Conn) withStream(ctx context.Context, fn func(*quic.Stream) error) error {
	stream, err := c.qc.OpenStreamSync(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Throw(common.ErrCancelled, ctx.Err().Error())
		}
		return errors.Wrap(err, common.ErrHostUnreachable)
	}
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(c.transferTimeout))

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.SetDeadline(time.Now())
		case <-watchDone:
		}
	}()

	if err := fn(stream); err != nil {
		if ctx.Err() != nil {
			return errors.Throw(common.ErrCancelled, ctx.Err().Error())
		}
		return err
	}
	return nil
}
