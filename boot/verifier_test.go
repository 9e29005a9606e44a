package boot

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"aether.dev/kernel/kerrors"
)

func newTestVerifier(t *testing.T, policy Policy) (*Verifier, *KeyStore, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	keys := NewKeyStore()
	if err := keys.Import(TrustedKey{KeyID: mustKeyID(1), Type: KeyTypeEd25519, KeyBytes: pub, Usage: "KernelSigning"}); err != nil {
		t.Fatalf("import: %v", err)
	}
	hashes := NewTrustedHashDB()
	cfg := DefaultConfig()
	cfg.Policy = policy
	v := NewVerifier(cfg, keys, hashes, NewLog(nil, nil), nil)
	return v, keys, priv
}

func TestVerifyImageSignatureSuccess(t *testing.T) {
	v, _, priv := newTestVerifier(t, PolicyStrict)
	data := []byte("kernel image bytes")
	digest, _ := Sum(HashSHA256, data)
	sig := ed25519.Sign(priv, digest)

	result, err := v.VerifyImage(context.Background(), PCRKernelModules, "kernel.img", data, sig)
	if err != nil {
		t.Fatalf("VerifyImage: %v", err)
	}
	if !result.Success || result.KeyID == nil {
		t.Fatalf("expected signature success, got %+v", result)
	}
	if v.log.Len() != 1 {
		t.Fatalf("expected measurement log to be extended once, got %d", v.log.Len())
	}
}

func TestVerifyImageTrustedHashFallback(t *testing.T) {
	v, _, _ := newTestVerifier(t, PolicyStrict)
	data := []byte("unsigned module")
	digest, _ := Sum(HashSHA256, data)
	v.hashes.Put(TrustedHash{ImageName: "mod.ko", Algorithm: HashSHA256, HashValue: digest})

	result, err := v.VerifyImage(context.Background(), PCRKernelModules, "mod.ko", data, nil)
	if err != nil {
		t.Fatalf("VerifyImage: %v", err)
	}
	if !result.Success || !result.HashVerified {
		t.Fatalf("expected trusted hash success, got %+v", result)
	}
}

func TestHandleVerificationResultStrictFails(t *testing.T) {
	v, _, _ := newTestVerifier(t, PolicyStrict)
	err := v.HandleVerificationResult("bad.img", VerificationResult{Success: false, FailureReason: "no match"})
	if kerrors.CodeOf(err) != kerrors.VerificationFailed {
		t.Fatalf("expected VerificationFailed, got %v", err)
	}
}

func TestHandleVerificationResultWarnAndAuditSwallow(t *testing.T) {
	for _, p := range []Policy{PolicyWarn, PolicyAudit} {
		v, _, _ := newTestVerifier(t, p)
		err := v.HandleVerificationResult("bad.img", VerificationResult{Success: false, FailureReason: "no match"})
		if err != nil {
			t.Fatalf("policy %v: expected nil error, got %v", p, err)
		}
	}
}

func TestRunBootFlowStopsOnFirstStrictFailure(t *testing.T) {
	v, _, priv := newTestVerifier(t, PolicyStrict)
	good := []byte("good bootloader")
	goodDigest, _ := Sum(HashSHA256, good)
	goodSig := ed25519.Sign(priv, goodDigest)

	info := BootInfo{
		Bootloader: BootModule{Name: "bootloader", Data: good, Signature: goodSig},
		Kernel:     BootModule{Name: "kernel", Data: []byte("tampered"), Signature: goodSig},
		Initrd:     BootModule{Name: "initrd", Data: good, Signature: goodSig},
	}

	err := v.RunBootFlow(context.Background(), info)
	if kerrors.CodeOf(err) != kerrors.VerificationFailed {
		t.Fatalf("expected boot flow to abort on kernel verification failure, got %v", err)
	}
	if v.log.Len() != 2 {
		t.Fatalf("expected exactly 2 measurements (bootloader ok, kernel failed), got %d", v.log.Len())
	}
}

func TestVerifyImageDisabledPolicySkipsVerification(t *testing.T) {
	v, _, _ := newTestVerifier(t, PolicyDisabled)
	result, err := v.VerifyImage(context.Background(), PCRKernelModules, "anything", []byte("x"), nil)
	if err != nil || !result.Success {
		t.Fatalf("expected disabled policy to short-circuit as success, got %+v err=%v", result, err)
	}
	if v.log.Len() != 0 {
		t.Fatalf("expected no measurement for disabled policy, got %d", v.log.Len())
	}
}
