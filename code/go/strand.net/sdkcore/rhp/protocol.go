// Package rhp speaks the strand host protocol: typed frames over QUIC
// streams carrying a handshake, shard stores and shard fetches. Only the
// client side lives here; the in-process host used for local development
// and tests is in the dev package.
package rhp

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/0chain/errors"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
)

// ProtocolVersion is the host protocol generation this client speaks.
// Hosts advertising anything else are rejected during the handshake.
const ProtocolVersion uint8 = 1

// ALPN is the TLS protocol identifier for the host protocol.
const ALPN = "strand-rhp/1"

// SectorSize is the payload unit hosts store and account in. Every shard
// of a full slab is exactly one sector.
const SectorSize = 256 << 10

// MaxControlPayload bounds JSON control frames. Raw shard bytes are not
// framed as control payloads and are bounded by the request lengths.
const MaxControlPayload = 1 << 20

// FrameType tags the payload that follows a frame header.
type FrameType uint8

const (
	FrameHandshake FrameType = iota + 1
	FrameHandshakeResp
	FrameHandshakeConfirm
	FrameStoreShard
	FrameAck
	FrameFetchShard
	FrameData
	FrameError
)

func (t FrameType) String() string {
	switch t {
	case FrameHandshake:
		return "handshake"
	case FrameHandshakeResp:
		return "handshake_resp"
	case FrameHandshakeConfirm:
		return "handshake_confirm"
	case FrameStoreShard:
		return "store_shard"
	case FrameAck:
		return "ack"
	case FrameFetchShard:
		return "fetch_shard"
	case FrameData:
		return "data"
	case FrameError:
		return "error"
	default:
		return "unknown"
	}
}

// HandshakeRequest opens every connection. The challenge is a fresh random
// value the host must sign to prove it owns the advertised key.
type HandshakeRequest struct {
	Version   uint8                `json:"version"`
	AppKey    encryption.PublicKey `json:"app_key"`
	Challenge encryption.Hash256   `json:"challenge"`
}

// HandshakeResponse carries the host identity proof plus the host's own
// challenge for the application.
type HandshakeResponse struct {
	Version   uint8                `json:"version"`
	HostKey   encryption.PublicKey `json:"host_key"`
	Signature encryption.Signature `json:"signature"`
	Challenge encryption.Hash256   `json:"challenge"`
}

// HandshakeConfirm closes the mutual handshake with the application's
// signature over the host challenge.
type HandshakeConfirm struct {
	Signature encryption.Signature `json:"signature"`
}

// StoreShardRequest announces a shard upload. The raw shard bytes follow
// the control frame on the same stream.
type StoreShardRequest struct {
	Root   encryption.Hash256 `json:"root"`
	Length uint32             `json:"length"`
}

// StoreShardAck is the host's receipt: a signature binding the shard root
// to the uploading application. Only acks whose signature verifies count
// towards a slab.
type StoreShardAck struct {
	Signature encryption.Signature `json:"signature"`
}

// FetchShardRequest asks for length bytes of the shard at offset. A zero
// length means the remainder of the shard.
type FetchShardRequest struct {
	Root   encryption.Hash256 `json:"root"`
	Offset uint32             `json:"offset"`
	Length uint32             `json:"length"`
}

// RPCError is a host-reported failure for one request.
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return "host: " + e.Code + ": " + e.Message
}

// asKind lifts well-known host error codes onto the SDK's error kinds so
// callers can match with errors.Is across the wire boundary.
func (e *RPCError) asKind() error {
	switch e.Code {
	case "version_mismatch":
		return errors.Throw(common.ErrVersionMismatch, e.Message)
	case "integrity_failure":
		return errors.Throw(common.ErrIntegrityFailure, e.Message)
	case "handshake_failed":
		return errors.Throw(common.ErrHandshakeFailed, e.Message)
	default:
		return e
	}
}

// HandshakeSigHash is the digest signed during the identity exchange: the
// signer proves ownership of its key over the peer's challenge bound to
// the peer's public key, so a signature cannot be replayed against another
// identity.
func HandshakeSigHash(challenge encryption.Hash256, peer encryption.PublicKey) encryption.Hash256 {
	var h encryption.Hash256
	buf := make([]byte, 0, len("strand/handshake")+len(challenge)+len(peer))
	buf = append(buf, "strand/handshake"...)
	buf = append(buf, challenge[:]...)
	buf = append(buf, peer[:]...)
	copy(h[:], encryption.RawHash(buf))
	return h
}

// AckSigHash is the digest a host signs to acknowledge a stored shard,
// binding the shard root to the uploading application key.
func AckSigHash(root encryption.Hash256, app encryption.PublicKey) encryption.Hash256 {
	var h encryption.Hash256
	buf := make([]byte, 0, len("strand/ack")+len(root)+len(app))
	buf = append(buf, "strand/ack"...)
	buf = append(buf, root[:]...)
	buf = append(buf, app[:]...)
	copy(h[:], encryption.RawHash(buf))
	return h
}

// WriteFrame writes one frame: a type byte, a big-endian payload length
// and the payload.
func WriteFrame(w io.Writer, typ FrameType, payload []byte) error {
	header := make([]byte, 5)
	header[0] = byte(typ)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSONFrame marshals v and writes it as a frame of the given type.
func WriteJSONFrame(w io.Writer, typ FrameType, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return WriteFrame(w, typ, payload)
}

// WriteErrorFrame reports a request failure to the peer.
func WriteErrorFrame(w io.Writer, code, message string) error {
	return WriteJSONFrame(w, FrameError, &RPCError{Code: code, Message: message})
}

// ReadFrame reads one frame header and payload, rejecting payloads larger
// than maxPayload before allocating.
func ReadFrame(r io.Reader, maxPayload uint32) (FrameType, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	typ := FrameType(header[0])
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxPayload {
		return 0, nil, errors.Newf("frame_too_large",
			"%s frame of %d bytes exceeds limit %d", typ, length, maxPayload)
	}
	if length == 0 {
		return typ, nil, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return typ, payload, nil
}

// readExpected reads one frame and decodes it into v if it matches want.
// Error frames are lifted onto SDK error kinds; any other type is a
// protocol violation.
func readExpected(r io.Reader, want FrameType, maxPayload uint32, v interface{}) error {
	typ, payload, err := ReadFrame(r, maxPayload)
	if err != nil {
		return err
	}
	switch typ {
	case want:
		if v == nil {
			return nil
		}
		return json.Unmarshal(payload, v)
	case FrameError:
		var rpcErr RPCError
		if err := json.Unmarshal(payload, &rpcErr); err != nil {
			return errors.New("bad_error_frame", "undecodable host error frame")
		}
		return rpcErr.asKind()
	default:
		return errors.Newf("unexpected_frame", "host sent %s, expected %s", typ, want)
	}
}
