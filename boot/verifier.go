package boot

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"aether.dev/kernel/kerrors"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Config carries the read-at-init policy knobs for the verifier (§6.1).
type Config struct {
	Policy             Policy
	DefaultAlgorithm   HashAlgorithm
	SignaturePurpose   string // expected key "usage" tag for boot artifacts
	YieldEveryKiB      int    // cooperative-yield granularity for large-artifact hashing
}

// DefaultConfig returns the documented defaults: Strict policy,
// SHA-256, "KernelSigning" usage, yielding every 64 KiB.
func DefaultConfig() Config {
	return Config{
		Policy:           PolicyStrict,
		DefaultAlgorithm: HashSHA256,
		SignaturePurpose: "KernelSigning",
		YieldEveryKiB:    64,
	}
}

// Verifier is the secure boot verifier (spec module B). It drives the
// measurement log (module A) for every verification outcome.
type Verifier struct {
	cfg     Config
	keys    *KeyStore
	hashes  *TrustedHashDB
	log     *Log
	logger  *slog.Logger
	limiter *rate.Limiter
	group   singleflight.Group
}

// NewVerifier wires a verifier over the given key store, trusted hash
// db, and measurement log.
func NewVerifier(cfg Config, keys *KeyStore, hashes *TrustedHashDB, log *Log, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultAlgorithm == 0 {
		cfg.DefaultAlgorithm = HashSHA256
	}
	if cfg.YieldEveryKiB <= 0 {
		cfg.YieldEveryKiB = 64
	}
	return &Verifier{
		cfg:     cfg,
		keys:    keys,
		hashes:  hashes,
		log:     log,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

// VerifyImage runs the 5-step algorithm from spec.md §4.1 against a
// single artifact and extends the measurement log with the outcome
// (step 5's "still extend the PCR with the computed hash" applies on
// every path except Disabled). Concurrent calls for the same
// (name, digest) collapse onto a single signature-verification pass
// via singleflight, since two cores racing to verify the identical
// artifact should not duplicate the cryptographic work.
func (v *Verifier) VerifyImage(ctx context.Context, pcrIndex uint32, name string, data []byte, signature []byte) (VerificationResult, error) {
	if v.cfg.Policy == PolicyDisabled {
		return VerificationResult{Success: true}, nil
	}

	alg := v.cfg.DefaultAlgorithm
	digest, err := v.hashCooperative(ctx, alg, data)
	if err != nil {
		return VerificationResult{}, err
	}

	key := fmt.Sprintf("%s:%s", name, hex.EncodeToString(digest))
	resAny, err, _ := v.group.Do(key, func() (interface{}, error) {
		return v.verifyLocked(name, digest, signature, alg)
	})
	if err != nil {
		return VerificationResult{}, err
	}
	result := resAny.(VerificationResult)

	if extErr := v.log.Extend(pcrIndex, alg, result.CalculatedHash, eventDescription(name, result), result.KeyID); extErr != nil {
		return result, extErr
	}
	return result, nil
}

func eventDescription(name string, r VerificationResult) string {
	switch {
	case r.Success && r.KeyID != nil:
		return fmt.Sprintf("verify %s: signature ok", name)
	case r.Success && r.HashVerified:
		return fmt.Sprintf("verify %s: trusted hash match", name)
	case r.Success:
		return fmt.Sprintf("verify %s: ok", name)
	default:
		return fmt.Sprintf("verify %s: %s", name, r.FailureReason)
	}
}

func (v *Verifier) verifyLocked(name string, digest, signature []byte, alg HashAlgorithm) (VerificationResult, error) {
	now := time.Now()

	if len(signature) > 0 {
		for _, k := range v.keys.Candidates(v.cfg.SignaturePurpose, now) {
			ok, err := verifySignature(k.Type, k.KeyBytes, signature, digest)
			if err != nil {
				v.logger.Debug("signature attempt errored", "key_id", hex.EncodeToString(k.KeyID[:]), "error", err)
				continue
			}
			if ok {
				id := k.KeyID
				return VerificationResult{
					Success:        true,
					KeyID:          &id,
					AlgorithmUsed:  alg,
					CalculatedHash: digest,
				}, nil
			}
		}
	}

	if th, ok := v.hashes.Get(name); ok && th.Algorithm == alg && bytesEqual(th.HashValue, digest) {
		return VerificationResult{
			Success:        true,
			HashVerified:   true,
			AlgorithmUsed:  alg,
			CalculatedHash: digest,
		}, nil
	}

	reason := "no signature provided and no matching trusted hash"
	if len(signature) > 0 {
		reason = "signature verification failed by every candidate key, and no matching trusted hash"
	}
	return VerificationResult{
		Success:        false,
		FailureReason:  reason,
		AlgorithmUsed:  alg,
		CalculatedHash: digest,
	}, nil
}

func (v *Verifier) hashCooperative(ctx context.Context, alg HashAlgorithm, data []byte) ([]byte, error) {
	h := newHasher(alg)
	if h == nil {
		return nil, kerrors.New(kerrors.Unsupported, "boot.Verifier.VerifyImage", "unsupported hash algorithm")
	}
	chunk := v.cfg.YieldEveryKiB * 1024
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		h.Write(data[off:end])
		if err := v.limiter.Wait(ctx); err != nil {
			return nil, kerrors.Wrap(kerrors.Cancelled, "boot.Verifier.VerifyImage", err)
		}
	}
	return h.Sum(nil), nil
}

// SetHashRateLimit bounds how fast large-artifact hashing may consume
// CPU, in chunks of YieldEveryKiB per second. A zero or negative rate
// restores unlimited (rate.Inf) hashing, the default.
func (v *Verifier) SetHashRateLimit(chunksPerSecond float64) {
	if chunksPerSecond <= 0 {
		v.limiter.SetLimit(rate.Inf)
		return
	}
	v.limiter.SetLimit(rate.Limit(chunksPerSecond))
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HandleVerificationResult maps a verification outcome to the policy's
// consequence (§4.1): Strict propagates an error that aborts boot; Warn
// and Audit always return nil and differ only in log verbosity;
// Disabled never reaches here.
func (v *Verifier) HandleVerificationResult(name string, result VerificationResult) error {
	if result.Success {
		v.logger.Info("boot artifact verified", "name", name, "hash_verified", result.HashVerified)
		return nil
	}
	switch v.cfg.Policy {
	case PolicyStrict:
		v.logger.Error("boot artifact verification failed", "name", name, "reason", result.FailureReason)
		return kerrors.New(kerrors.VerificationFailed, "boot.Verifier.HandleVerificationResult", fmt.Sprintf("%s: %s", name, result.FailureReason))
	case PolicyWarn:
		v.logger.Warn("boot artifact verification failed, continuing (Warn policy)", "name", name, "reason", result.FailureReason)
		return nil
	case PolicyAudit:
		v.logger.Info("boot artifact verification failed, audit only", "name", name, "reason", result.FailureReason)
		return nil
	default:
		return nil
	}
}

// RunBootFlow verifies each artifact in order — bootloader,
// kernel, initrd, then kernel modules in load order — per §4.1's
// "boot flow order". A Strict failure aborts immediately; Warn/Audit
// continue to the next artifact.
func (v *Verifier) RunBootFlow(ctx context.Context, info BootInfo) error {
	steps := []BootModule{info.Bootloader, info.Kernel, info.Initrd}
	steps = append(steps, info.Modules...)

	for _, m := range steps {
		if m.Name == "" {
			continue
		}
		result, err := v.VerifyImage(ctx, PCRKernelModules, m.Name, m.Data, m.Signature)
		if err != nil {
			return err
		}
		if err := v.HandleVerificationResult(m.Name, result); err != nil {
			return err
		}
	}
	return nil
}
