package encryption

import (
	"encoding/hex"

	"github.com/0chain/errors"
	"golang.org/x/crypto/sha3"
	"lukechampine.com/frand"
)

// KeySize is the size of a symmetric content key.
const KeySize = 32

// Key encrypts shard payloads. It never leaves the client; hosts only ever
// see ciphertext. Marshals as lowercase hex.
type Key [KeySize]byte

// Hash256 is a 32 byte digest, used for content roots. Marshals as
// lowercase hex.
type Hash256 [32]byte

// NewKey returns a fresh random content key.
func NewKey() Key {
	var k Key
	frand.Read(k[:])
	return k
}

func (k Key) String() string { return hex.EncodeToString(k[:]) }

func (k Key) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Key) UnmarshalText(b []byte) error {
	if hex.DecodedLen(len(b)) != len(k) {
		return errors.Newf("invalid_key", "content key must be %d hex bytes", len(k))
	}
	_, err := hex.Decode(k[:], b)
	if err != nil {
		return errors.Wrap(err, errors.New("invalid_key", "malformed content key"))
	}
	return nil
}

func (h Hash256) String() string { return hex.EncodeToString(h[:]) }

func (h Hash256) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash256) UnmarshalText(b []byte) error {
	if hex.DecodedLen(len(b)) != len(h) {
		return errors.Newf("invalid_hash", "hash must be %d hex bytes", len(h))
	}
	_, err := hex.Decode(h[:], b)
	if err != nil {
		return errors.Wrap(err, errors.New("invalid_hash", "malformed hash"))
	}
	return nil
}

/*Hash - hash the given data and return the hash as hex string */
func Hash(data []byte) string {
	return hex.EncodeToString(RawHash(data))
}

/*RawHash - Logic to hash the text and return the hash bytes */
func RawHash(data []byte) []byte {
	hash := sha3.New256()
	hash.Write(data)
	var buf []byte
	return hash.Sum(buf)
}
