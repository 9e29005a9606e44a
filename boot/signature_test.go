package boot

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"testing"
)

func TestVerifySignatureEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := sha256.Sum256([]byte("boot-artifact"))
	sig := ed25519.Sign(priv, digest[:])

	ok, err := verifySignature(KeyTypeEd25519, pub, sig, digest[:])
	if err != nil || !ok {
		t.Fatalf("expected valid signature, ok=%v err=%v", ok, err)
	}

	ok, err = verifySignature(KeyTypeEd25519, pub, sig, []byte("different digest len 32................"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatched digest to fail verification")
	}
}

func TestVerifySignatureRSA(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pubBytes := x509.MarshalPKCS1PublicKey(&priv.PublicKey)
	digest := sha256.Sum256([]byte("kernel.img"))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	ok, err := verifySignature(KeyTypeRSA, pubBytes, sig, digest[:])
	if err != nil || !ok {
		t.Fatalf("expected valid RSA signature, ok=%v err=%v", ok, err)
	}
}

func TestVerifySignatureECDSA(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	digest := sha256.Sum256([]byte("initrd.img"))
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	ok, err := verifySignature(KeyTypeECDSA, pubBytes, sig, digest[:])
	if err != nil || !ok {
		t.Fatalf("expected valid ECDSA signature, ok=%v err=%v", ok, err)
	}
}

func TestVerifySignaturePostQuantumUnsupported(t *testing.T) {
	_, err := verifySignature(KeyTypePostQuantum, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected error for PostQuantum key type")
	}
}
