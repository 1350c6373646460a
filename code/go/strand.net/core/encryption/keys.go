package encryption

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/0chain/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/pbkdf2"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
)

// Secret stretching parameters. Changing either breaks every identity
// already registered with a gateway.
const (
	keySalt       = "strand-app-key"
	keyIterations = 4096
)

// PublicKey identifies an application or a host on the wire and verifies
// its signatures. Marshals as lowercase hex.
type PublicKey [ed25519.PublicKeySize]byte

// PrivateKey is an ed25519 private key.
type PrivateKey []byte

// Signature is an ed25519 signature. Marshals as lowercase hex.
type Signature [ed25519.SignatureSize]byte

func (pk PublicKey) String() string { return hex.EncodeToString(pk[:]) }

func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

func (pk *PublicKey) UnmarshalText(b []byte) error {
	if hex.DecodedLen(len(b)) != len(pk) {
		return errors.Newf("invalid_key", "public key must be %d hex bytes", len(pk))
	}
	_, err := hex.Decode(pk[:], b)
	if err != nil {
		return errors.Wrap(err, errors.New("invalid_key", "malformed public key"))
	}
	return nil
}

// Verify reports whether sig is a valid signature of msg under pk.
func (pk PublicKey) Verify(msg []byte, sig Signature) bool {
	return ed25519.Verify(pk[:], msg, sig[:])
}

// ParsePublicKey decodes a hex encoded public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	err := pk.UnmarshalText([]byte(s))
	return pk, err
}

// Public returns the verifying half of the key.
func (sk PrivateKey) Public() PublicKey {
	var pk PublicKey
	copy(pk[:], ed25519.PrivateKey(sk).Public().(ed25519.PublicKey))
	return pk
}

// Sign signs msg with the key.
func (sk PrivateKey) Sign(msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(ed25519.PrivateKey(sk), msg))
	return sig
}

func (sig Signature) String() string { return hex.EncodeToString(sig[:]) }

func (sig Signature) MarshalText() ([]byte, error) {
	return []byte(sig.String()), nil
}

func (sig *Signature) UnmarshalText(b []byte) error {
	if hex.DecodedLen(len(b)) != len(sig) {
		return errors.Newf("invalid_signature", "signature must be %d hex bytes", len(sig))
	}
	_, err := hex.Decode(sig[:], b)
	if err != nil {
		return errors.Wrap(err, errors.New("invalid_signature", "malformed signature"))
	}
	return nil
}

// KeyFromSeed derives the ed25519 key at index from a 32 byte seed.
func KeyFromSeed(seed *[32]byte, index uint64) PrivateKey {
	buf := make([]byte, len(seed)+8)
	copy(buf, seed[:])
	binary.LittleEndian.PutUint64(buf[len(seed):], index)
	h := blake2b.Sum256(buf)
	return PrivateKey(ed25519.NewKeyFromSeed(h[:]))
}

// DeriveKey stretches an application secret into the app's signing key.
// The same secret always yields the same key, so the identity survives
// restarts without any state on disk.
func DeriveKey(secret string) (PrivateKey, error) {
	if secret == "" {
		return nil, errors.Throw(common.ErrInvalidConfig, "app secret is required")
	}
	stretched := pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, 32, sha256.New)
	var seed [32]byte
	copy(seed[:], stretched)
	return KeyFromSeed(&seed, 0), nil
}
