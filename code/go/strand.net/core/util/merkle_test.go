package util

import (
	stdsha256 "crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/transparency-dev/merkle/rfc6962"
	"lukechampine.com/frand"
)

// refRoot builds the RFC 6962 tree the slow recursive way with the
// reference hasher. ContentRoot must agree with it for every leaf count.
func refRoot(h *rfc6962.Hasher, leaves [][]byte) []byte {
	switch len(leaves) {
	case 0:
		return h.EmptyRoot()
	case 1:
		return h.HashLeaf(leaves[0])
	}
	k := 1
	for k*2 < len(leaves) {
		k *= 2
	}
	return h.HashChildren(refRoot(h, leaves[:k]), refRoot(h, leaves[k:]))
}

func TestContentRootMatchesReference(t *testing.T) {
	for _, tc := range []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"one byte", 1},
		{"single short leaf", LeafSize - 1},
		{"exactly one leaf", LeafSize},
		{"one leaf and a byte", LeafSize + 1},
		{"four leaves", 4 * LeafSize},
		{"sector", 256 * 1024},
		{"uneven tail", 5*LeafSize + 17},
	} {
		t.Run(tc.name, func(t *testing.T) {
			data := frand.Bytes(tc.size)

			var leaves [][]byte
			for rest := data; len(rest) > 0; {
				n := LeafSize
				if len(rest) < n {
					n = len(rest)
				}
				leaves = append(leaves, rest[:n])
				rest = rest[n:]
			}

			want := refRoot(rfc6962.DefaultHasher, leaves)
			got := ContentRoot(data)
			require.Equal(t, want, got[:])
		})
	}
}

func TestVerifyContentRoot(t *testing.T) {
	data := frand.Bytes(3*LeafSize + 100)
	root := ContentRoot(data)

	require.True(t, VerifyContentRoot(data, root))

	data[0] ^= 0xff
	require.False(t, VerifyContentRoot(data, root))
	data[0] ^= 0xff

	// truncation must also be caught
	require.False(t, VerifyContentRoot(data[:len(data)-1], root))
}

func TestContentRootDeterministic(t *testing.T) {
	data := frand.Bytes(2 * LeafSize)
	require.Equal(t, ContentRoot(data), ContentRoot(data))
}

func BenchmarkContentRoot(b *testing.B) {
	data := frand.Bytes(256 * 1024)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ContentRoot(data)
	}
}

func BenchmarkLeafHash(b *testing.B) {
	leaf := frand.Bytes(LeafSize)

	b.Run("simd", func(b *testing.B) {
		b.SetBytes(LeafSize)
		for i := 0; i < b.N; i++ {
			hashLeaf(leaf)
		}
	})

	b.Run("stdlib", func(b *testing.B) {
		b.SetBytes(LeafSize)
		for i := 0; i < b.N; i++ {
			h := stdsha256.New()
			h.Write([]byte{leafHashPrefix})
			h.Write(leaf)
			h.Sum(nil)
		}
	})
}
