package object

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20"

	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
)

// Shards are encrypted with ChaCha20 under the slab key and a
// deterministic nonce derived from the shard's position, so re-encoding
// the same plaintext with the same key reproduces identical ciphertext
// and no nonce state needs to be stored.

// shardNonce builds the 12-byte nonce for a shard: slab index (8 bytes,
// big endian) followed by shard index (4 bytes, big endian).
func shardNonce(slabIndex uint64, shardIndex uint32) [chacha20.NonceSize]byte {
	var nonce [chacha20.NonceSize]byte
	binary.BigEndian.PutUint64(nonce[:8], slabIndex)
	binary.BigEndian.PutUint32(nonce[8:], shardIndex)
	return nonce
}

// EncryptShard encrypts shard in place. The cipher is a pure keystream
// XOR, so the transformation is its own inverse.
func EncryptShard(key encryption.Key, slabIndex uint64, shardIndex uint32, shard []byte) {
	XORKeyStreamAt(key, slabIndex, shardIndex, 0, shard)
}

// DecryptShard decrypts shard in place.
func DecryptShard(key encryption.Key, slabIndex uint64, shardIndex uint32, shard []byte) {
	XORKeyStreamAt(key, slabIndex, shardIndex, 0, shard)
}

// XORKeyStreamAt applies the shard keystream to buf starting at the given
// byte offset within the shard. Seeking is counter arithmetic, so partial
// reads never pay for the bytes they skip.
func XORKeyStreamAt(key encryption.Key, slabIndex uint64, shardIndex uint32, offset uint64, buf []byte) {
	nonce := shardNonce(slabIndex, shardIndex)
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		panic(err) // fixed-size key and nonce
	}
	c.SetCounter(uint32(offset / 64))
	if rem := offset % 64; rem > 0 {
		var scratch [64]byte
		c.XORKeyStream(scratch[:rem], scratch[:rem])
	}
	c.XORKeyStream(buf, buf)
}
