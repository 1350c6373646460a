package util

import (
	sha256 "github.com/minio/sha256-simd"
	"github.com/transparency-dev/merkle/compact"

	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
)

// LeafSize is the merkle leaf granularity of shard payloads. Shards are
// hashed in LeafSize pieces; the last leaf may be short.
const LeafSize = 64 * 1024

// RFC 6962 domain separation prefixes.
const (
	leafHashPrefix = 0
	nodeHashPrefix = 1
)

var rangeFactory = &compact.RangeFactory{Hash: hashChildren}

func hashLeaf(leaf []byte) []byte {
	h := sha256.New()
	h.Write([]byte{leafHashPrefix})
	h.Write(leaf)
	return h.Sum(nil)
}

func hashChildren(l, r []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodeHashPrefix})
	h.Write(l)
	h.Write(r)
	return h.Sum(nil)
}

// ContentRoot returns the RFC 6962 shaped merkle root of data split into
// LeafSize leaves. A host holding the same bytes recomputes the same root,
// so a root mismatch proves corruption without shipping the data back.
func ContentRoot(data []byte) encryption.Hash256 {
	var root encryption.Hash256

	if len(data) == 0 {
		copy(root[:], hashEmpty())
		return root
	}

	cr := rangeFactory.NewEmptyRange(0)
	for len(data) > 0 {
		n := LeafSize
		if len(data) < n {
			n = len(data)
		}
		if err := cr.Append(hashLeaf(data[:n]), nil); err != nil {
			panic("merkle: append to sequential range: " + err.Error())
		}
		data = data[n:]
	}

	hash, err := cr.GetRootHash(nil)
	if err != nil {
		panic("merkle: root of non-empty range: " + err.Error())
	}
	copy(root[:], hash)
	return root
}

// VerifyContentRoot recomputes the root of data and compares it to want.
func VerifyContentRoot(data []byte, want encryption.Hash256) bool {
	return ContentRoot(data) == want
}

func hashEmpty() []byte {
	s := sha256.Sum256(nil)
	return s[:]
}
