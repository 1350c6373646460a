package encryption

import (
	"encoding/json"
	"testing"

	"github.com/0chain/errors"
	"github.com/stretchr/testify/require"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	sk1, err := DeriveKey("correct horse battery staple")
	require.NoError(t, err)
	sk2, err := DeriveKey("correct horse battery staple")
	require.NoError(t, err)

	require.Equal(t, sk1, sk2)
	require.Equal(t, sk1.Public(), sk2.Public())

	sk3, err := DeriveKey("correct horse battery stapl")
	require.NoError(t, err)
	require.NotEqual(t, sk1.Public(), sk3.Public())
}

func TestDeriveKeyEmptySecret(t *testing.T) {
	_, err := DeriveKey("")
	require.Error(t, err)
	require.True(t, errors.Is(err, common.ErrInvalidConfig))
}

func TestKeyFromSeedIndex(t *testing.T) {
	var seed [32]byte
	copy(seed[:], []byte("0123456789abcdef0123456789abcdef"))

	require.Equal(t, KeyFromSeed(&seed, 0), KeyFromSeed(&seed, 0))
	require.NotEqual(t, KeyFromSeed(&seed, 0), KeyFromSeed(&seed, 1))
}

func TestSignVerify(t *testing.T) {
	sk, err := DeriveKey("signing secret")
	require.NoError(t, err)
	pk := sk.Public()

	msg := []byte("a message to sign")
	sig := sk.Sign(msg)
	require.True(t, pk.Verify(msg, sig))

	// tampered message must not verify
	msg[0] ^= 0xff
	require.False(t, pk.Verify(msg, sig))

	// tampered signature must not verify
	msg[0] ^= 0xff
	sig[0] ^= 0xff
	require.False(t, pk.Verify(msg, sig))
}

func TestPublicKeyTextRoundTrip(t *testing.T) {
	sk, err := DeriveKey("marshal secret")
	require.NoError(t, err)
	pk := sk.Public()

	b, err := json.Marshal(pk)
	require.NoError(t, err)

	var got PublicKey
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, pk, got)

	_, err = ParsePublicKey("not hex at all")
	require.Error(t, err)

	_, err = ParsePublicKey("abcd")
	require.Error(t, err)
}

func TestHash(t *testing.T) {
	// sha3-256 of the empty string
	require.Equal(t,
		"a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a",
		Hash(nil))

	require.Equal(t, Hash([]byte("strand")), Hash([]byte("strand")))
	require.NotEqual(t, Hash([]byte("strand")), Hash([]byte("strands")))
}

func TestNewKeyRandom(t *testing.T) {
	require.NotEqual(t, NewKey(), NewKey())
}
