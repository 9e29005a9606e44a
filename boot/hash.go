package boot

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"golang.org/x/crypto/sha3"
)

// newHasher returns a fresh hash.Hash for alg, or nil if unsupported.
// SHA-256/384/512 come from stdlib; SHA3 variants come from
// golang.org/x/crypto/sha3 (grounded on crypto/devstd.go's dev crypto
// provider in the teacher repo, which uses the same package for its
// SHA3-256 primitive).
func newHasher(alg HashAlgorithm) hash.Hash {
	switch alg {
	case HashSHA256:
		return sha256.New()
	case HashSHA384:
		return sha512.New384()
	case HashSHA512:
		return sha512.New()
	case HashSHA3256:
		return sha3.New256()
	case HashSHA3512:
		return sha3.New512()
	default:
		return nil
	}
}

// Sum computes the digest of data under alg. Returns (nil, false) for
// an unsupported algorithm.
func Sum(alg HashAlgorithm, data []byte) ([]byte, bool) {
	h := newHasher(alg)
	if h == nil {
		return nil, false
	}
	h.Write(data)
	return h.Sum(nil), true
}
