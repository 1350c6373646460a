package dev

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/0chain/errors"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"
	"lukechampine.com/frand"

	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
	"github.com/strandnet/strand/code/go/strand.net/core/util"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/gateway"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/rhp"
)

// hostStorageTotal is what a dev host advertises as its capacity.
const hostStorageTotal = 1 << 32

// Host is an in-process storage host. It listens on a loopback QUIC
// socket, runs the real handshake and stores shards in memory, so client
// code exercises the same wire path it uses against production hosts.
type Host struct {
	identity encryption.PrivateKey
	claimKey encryption.PublicKey
	version  uint8
	log      *zap.Logger

	wrongIdentity bool
	corruptFetch  bool
	refuseStore   bool

	ln     *quic.Listener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	shards map[encryption.Hash256][]byte
	conns  map[*quic.Conn]struct{}
	closed bool
}

// HostOption tweaks a host at construction, including deliberate faults
// for exercising client failure handling.
type HostOption func(*Host)

// WithHostKey fixes the host identity instead of generating one.
func WithHostKey(key encryption.PrivateKey) HostOption {
	return func(h *Host) { h.identity = key }
}

// WithHostVersion makes the host speak protocol version v. Anything other
// than the client's version gets registrations rejected during handshake.
func WithHostVersion(v uint8) HostOption {
	return func(h *Host) { h.version = v }
}

// WithWrongIdentity makes the host present its advertised key but sign
// with a different one, impersonating a host it is not.
func WithWrongIdentity() HostOption {
	return func(h *Host) { h.wrongIdentity = true }
}

// WithCorruptFetch flips a byte of every fetched shard.
func WithCorruptFetch() HostOption {
	return func(h *Host) { h.corruptFetch = true }
}

// WithRefuseStore rejects every store request.
func WithRefuseStore() HostOption {
	return func(h *Host) { h.refuseStore = true }
}

// WithHostLogger routes the host's logs through log.
func WithHostLogger(log *zap.Logger) HostOption {
	return func(h *Host) { h.log = log }
}

// StartHost listens on an ephemeral loopback port and serves until Close.
func StartHost(opts ...HostOption) (*Host, error) {
	h := &Host{
		version: rhp.ProtocolVersion,
		log:     zap.NewNop(),
		shards:  map[encryption.Hash256][]byte{},
		conns:   map[*quic.Conn]struct{}{},
	}
	for _, opt := range opts {
		opt(h)
	}
	if len(h.identity) == 0 {
		var seed [32]byte
		frand.Read(seed[:])
		h.identity = encryption.KeyFromSeed(&seed, 0)
	}
	h.claimKey = h.identity.Public()
	if h.wrongIdentity {
		// Keep advertising the original key but sign with a fresh one.
		var seed [32]byte
		frand.Read(seed[:])
		h.identity = encryption.KeyFromSeed(&seed, 0)
	}

	tlsConf, err := serverTLS()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr("127.0.0.1:0", tlsConf, &quic.Config{
		MaxIdleTimeout: 2 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	h.ln = ln
	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.wg.Add(1)
	go h.serve()
	return h, nil
}

// PublicKey is the identity clients should dial.
func (h *Host) PublicKey() encryption.PublicKey { return h.claimKey }

// Addr is the loopback address the host listens on.
func (h *Host) Addr() string { return h.ln.Addr().String() }

// Descriptor returns the host as a gateway would advertise it.
func (h *Host) Descriptor() gateway.HostDescriptor {
	h.mu.Lock()
	used := uint64(0)
	for _, data := range h.shards {
		used += uint64(len(data))
	}
	h.mu.Unlock()

	return gateway.HostDescriptor{
		PublicKey:  h.claimKey,
		NetAddress: h.ln.Addr().String(),
		Version:    h.version,
		Capabilities: map[string]interface{}{
			"storage_total":     uint64(hostStorageTotal),
			"storage_remaining": uint64(hostStorageTotal) - used,
			"max_shard_size":    uint64(rhp.SectorSize),
			"features":          []string{"store", "fetch"},
		},
	}
}

// ShardCount reports how many shards the host holds.
func (h *Host) ShardCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.shards)
}

// HasShard reports whether the host holds a shard with the given root.
func (h *Host) HasShard(root encryption.Hash256) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.shards[root]
	return ok
}

// Close stops the listener, tears down every open connection and waits
// for the serving goroutines to drain.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*quic.Conn, 0, len(h.conns))
	for qc := range h.conns {
		conns = append(conns, qc)
	}
	h.mu.Unlock()

	h.cancel()
	err := h.ln.Close()
	for _, qc := range conns {
		_ = qc.CloseWithError(0, "host shutting down")
	}
	h.wg.Wait()
	return err
}

func (h *Host) serve() {
	defer h.wg.Done()
	for {
		qc, err := h.ln.Accept(h.ctx)
		if err != nil {
			return
		}
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			_ = qc.CloseWithError(0, "host shutting down")
			return
		}
		h.conns[qc] = struct{}{}
		h.mu.Unlock()

		h.wg.Add(1)
		go h.handleConn(qc)
	}
}

func (h *Host) handleConn(qc *quic.Conn) {
	defer h.wg.Done()
	defer func() {
		h.mu.Lock()
		delete(h.conns, qc)
		h.mu.Unlock()
	}()

	appKey, err := h.handshake(qc)
	if err != nil {
		h.log.Debug("handshake failed", zap.Error(err))
		_ = qc.CloseWithError(1, "handshake failed")
		return
	}

	for {
		stream, err := qc.AcceptStream(h.ctx)
		if err != nil {
			return
		}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			defer stream.Close()
			h.handleStream(stream, appKey)
		}()
	}
}

// handshake runs the host side of the identity exchange and returns the
// application key the peer proved it owns.
func (h *Host) handshake(qc *quic.Conn) (encryption.PublicKey, error) {
	stream, err := qc.AcceptStream(h.ctx)
	if err != nil {
		return encryption.PublicKey{}, err
	}
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(rhp.DefaultHandshakeTimeout))

	typ, payload, err := rhp.ReadFrame(stream, rhp.MaxControlPayload)
	if err != nil {
		return encryption.PublicKey{}, err
	}
	if typ != rhp.FrameHandshake {
		_ = rhp.WriteErrorFrame(stream, "handshake_failed", "expected handshake frame")
		return encryption.PublicKey{}, errors.Newf("unexpected_frame", "peer sent %s first", typ)
	}
	var req rhp.HandshakeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		_ = rhp.WriteErrorFrame(stream, "handshake_failed", "undecodable handshake")
		return encryption.PublicKey{}, err
	}
	if req.Version != h.version {
		_ = rhp.WriteErrorFrame(stream, "version_mismatch", "unsupported protocol version")
		return encryption.PublicKey{}, errors.Newf("version_mismatch", "peer speaks version %d", req.Version)
	}

	var challenge encryption.Hash256
	frand.Read(challenge[:])

	sigHash := rhp.HandshakeSigHash(req.Challenge, req.AppKey)
	resp := rhp.HandshakeResponse{
		Version:   h.version,
		HostKey:   h.claimKey,
		Signature: h.identity.Sign(sigHash[:]),
		Challenge: challenge,
	}
	if err := rhp.WriteJSONFrame(stream, rhp.FrameHandshakeResp, &resp); err != nil {
		return encryption.PublicKey{}, err
	}

	typ, payload, err = rhp.ReadFrame(stream, rhp.MaxControlPayload)
	if err != nil {
		return encryption.PublicKey{}, err
	}
	if typ != rhp.FrameHandshakeConfirm {
		return encryption.PublicKey{}, errors.Newf("unexpected_frame", "peer sent %s, expected confirm", typ)
	}
	var confirm rhp.HandshakeConfirm
	if err := json.Unmarshal(payload, &confirm); err != nil {
		return encryption.PublicKey{}, err
	}
	confirmHash := rhp.HandshakeSigHash(challenge, h.claimKey)
	if !req.AppKey.Verify(confirmHash[:], confirm.Signature) {
		return encryption.PublicKey{}, errors.New("handshake_failed", "application identity proof did not verify")
	}
	return req.AppKey, nil
}

func (h *Host) handleStream(stream *quic.Stream, appKey encryption.PublicKey) {
	_ = stream.SetDeadline(time.Now().Add(rhp.DefaultTransferTimeout))

	typ, payload, err := rhp.ReadFrame(stream, rhp.MaxControlPayload)
	if err != nil {
		return
	}
	switch typ {
	case rhp.FrameStoreShard:
		h.storeShard(stream, payload, appKey)
	case rhp.FrameFetchShard:
		h.fetchShard(stream, payload)
	default:
		_ = rhp.WriteErrorFrame(stream, "unexpected_frame", "unsupported request "+typ.String())
	}
}

func (h *Host) storeShard(stream *quic.Stream, payload []byte, appKey encryption.PublicKey) {
	var req rhp.StoreShardRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		_ = rhp.WriteErrorFrame(stream, "invalid_request", "undecodable store request")
		return
	}
	if h.refuseStore {
		_ = rhp.WriteErrorFrame(stream, "store_refused", "host is not accepting shards")
		return
	}
	if req.Length == 0 || req.Length > rhp.SectorSize {
		_ = rhp.WriteErrorFrame(stream, "invalid_request", "shard length out of range")
		return
	}

	data := make([]byte, req.Length)
	if _, err := io.ReadFull(stream, data); err != nil {
		return
	}
	if util.ContentRoot(data) != req.Root {
		_ = rhp.WriteErrorFrame(stream, "integrity_failure", "claimed root does not match payload")
		return
	}

	h.mu.Lock()
	h.shards[req.Root] = data
	h.mu.Unlock()

	sigHash := rhp.AckSigHash(req.Root, appKey)
	ack := rhp.StoreShardAck{Signature: h.identity.Sign(sigHash[:])}
	if err := rhp.WriteJSONFrame(stream, rhp.FrameAck, &ack); err != nil {
		return
	}
	h.log.Debug("stored shard",
		zap.String("root", req.Root.String()),
		zap.Uint32("length", req.Length))
}

func (h *Host) fetchShard(stream *quic.Stream, payload []byte) {
	var req rhp.FetchShardRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		_ = rhp.WriteErrorFrame(stream, "invalid_request", "undecodable fetch request")
		return
	}

	h.mu.Lock()
	data, ok := h.shards[req.Root]
	h.mu.Unlock()
	if !ok {
		_ = rhp.WriteErrorFrame(stream, "shard_not_found", "no shard with that root")
		return
	}

	offset := int(req.Offset)
	if offset > len(data) {
		_ = rhp.WriteErrorFrame(stream, "out_of_range", "offset beyond shard")
		return
	}
	end := len(data)
	if req.Length > 0 {
		end = offset + int(req.Length)
		if end > len(data) {
			_ = rhp.WriteErrorFrame(stream, "out_of_range", "range beyond shard")
			return
		}
	}

	out := make([]byte, end-offset)
	copy(out, data[offset:end])
	if h.corruptFetch && len(out) > 0 {
		out[0] ^= 0xff
	}
	_ = rhp.WriteFrame(stream, rhp.FrameData, out)
}

// Fleet bundles in-process hosts sharing a lifetime.
type Fleet struct {
	Hosts []*Host
}

// StartFleet starts n hosts. On any failure the already started hosts are
// closed before the error is returned.
func StartFleet(n int, opts ...HostOption) (*Fleet, error) {
	f := &Fleet{}
	for i := 0; i < n; i++ {
		h, err := StartHost(opts...)
		if err != nil {
			f.Close()
			return nil, err
		}
		f.Hosts = append(f.Hosts, h)
	}
	return f, nil
}

// HostSet returns the fleet as a gateway host set.
func (f *Fleet) HostSet() gateway.HostSet {
	hs := gateway.HostSet{}
	for _, h := range f.Hosts {
		d := h.Descriptor()
		hs[d.PublicKey] = d
	}
	return hs
}

// Close stops every host in the fleet.
func (f *Fleet) Close() {
	for _, h := range f.Hosts {
		_ = h.Close()
	}
}
