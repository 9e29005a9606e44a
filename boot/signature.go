package boot

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"

	"aether.dev/kernel/kerrors"
)

// verifySignature checks sig over digest using key, dispatching on its
// KeyType. RSA keys verify with PKCS#1v1.5 / SHA-256 (PSS is accepted
// too, tried second); ECDSA keys use ASN.1-encoded signatures over the
// P-256/P-384/P-521 curve embedded in the key bytes; Ed25519 verifies
// with the raw 32-byte public key, treating the bytes passed as digest
// as the Ed25519 message (callers pass the SHA-256 digest, so an
// Ed25519 signature is made over that digest). PostQuantum is a named but
// unimplemented variant: spec.md's Non-goals exclude a full
// cryptographic library, so ML-DSA/SLH-DSA algorithm bodies are not
// implemented here; the variant exists so callers can register such
// keys and receive Unsupported rather than a silent false.
func verifySignature(keyType KeyType, keyBytes []byte, sig []byte, digest []byte) (bool, error) {
	switch keyType {
	case KeyTypeRSA:
		return verifyRSA(keyBytes, sig, digest)
	case KeyTypeECDSA:
		return verifyECDSA(keyBytes, sig, digest)
	case KeyTypeEd25519:
		return verifyEd25519(keyBytes, sig, digest)
	case KeyTypePostQuantum:
		return false, errUnsupportedKeyType
	default:
		return false, errUnsupportedKeyType
	}
}

var errUnsupportedKeyType = kerrors.New(kerrors.Unsupported, "boot.verifySignature", "unsupported key type")

// VerifySignature is the exported form of verifySignature, reused by
// other subsystems (the update manager's package-integrity check,
// §4.5 step 2) that need the same signature primitives as boot image
// verification without duplicating the algorithm dispatch.
func VerifySignature(keyType KeyType, keyBytes, sig, digest []byte) (bool, error) {
	return verifySignature(keyType, keyBytes, sig, digest)
}

func verifyRSA(keyBytes, sig, digest []byte) (bool, error) {
	pub, err := parseRSAPublicKey(keyBytes)
	if err != nil {
		return false, err
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, sig); err == nil {
		return true, nil
	}
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest, sig, nil); err == nil {
		return true, nil
	}
	return false, nil
}

func parseRSAPublicKey(keyBytes []byte) (*rsa.PublicKey, error) {
	if pub, err := x509.ParsePKCS1PublicKey(keyBytes); err == nil {
		return pub, nil
	}
	any, err := x509.ParsePKIXPublicKey(keyBytes)
	if err != nil {
		return nil, err
	}
	pub, ok := any.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("boot: key bytes are not an RSA public key")
	}
	return pub, nil
}

func verifyECDSA(keyBytes, sig, digest []byte) (bool, error) {
	any, err := x509.ParsePKIXPublicKey(keyBytes)
	if err != nil {
		return false, err
	}
	pub, ok := any.(*ecdsa.PublicKey)
	if !ok {
		return false, errors.New("boot: key bytes are not an ECDSA public key")
	}
	return ecdsa.VerifyASN1(pub, digest, sig), nil
}

func verifyEd25519(keyBytes, sig, msg []byte) (bool, error) {
	if len(keyBytes) != ed25519.PublicKeySize {
		return false, errors.New("boot: ed25519 public key must be 32 bytes")
	}
	return ed25519.Verify(ed25519.PublicKey(keyBytes), msg, sig), nil
}
