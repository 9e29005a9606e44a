// Package boot implements the measurement log, key store, and secure
// boot verifier (spec modules A and B): it verifies a chain of boot
// artifacts, extends measurements into a software PCR log, and enforces
// a policy decision per artifact.
package boot

import (
	"time"

	"github.com/google/uuid"
)

// KeyID is a 16-byte identifier: a UUID, or a truncated hash of the key
// bytes (see NewKeyIDFromHash).
type KeyID [16]byte

// NewRandomKeyID mints a fresh key_id as a random (v4) UUID, for
// callers importing a key that carries no natural stable identifier.
func NewRandomKeyID() KeyID {
	return KeyID(uuid.New())
}

// NewKeyIDFromHash derives a deterministic key_id by truncating a
// digest of the canonical key bytes to 16 bytes (§3.2: "UUID or
// truncated hash of the key bytes").
func NewKeyIDFromHash(keyBytes []byte) KeyID {
	digest, _ := Sum(HashSHA256, keyBytes)
	var id KeyID
	copy(id[:], digest)
	return id
}

// KeyType is the closed set of signature algorithms a TrustedKey may
// carry. Kept closed (rather than an open interface hierarchy) so
// constant-time and side-channel properties can be audited per variant.
type KeyType int

const (
	KeyTypeRSA KeyType = iota
	KeyTypeECDSA
	KeyTypeEd25519
	KeyTypePostQuantum
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeRSA:
		return "RSA"
	case KeyTypeECDSA:
		return "ECDSA"
	case KeyTypeEd25519:
		return "Ed25519"
	case KeyTypePostQuantum:
		return "PostQuantum"
	default:
		return "Unknown"
	}
}

// HashAlgorithm is the measurement digest algorithm, carrying its TPM
// ALG_ID so it can be written straight into a PCR-extend command or a
// TCG event log entry.
type HashAlgorithm uint16

const (
	HashSHA256  HashAlgorithm = 0x000B // TPM_ALG_SHA256
	HashSHA384  HashAlgorithm = 0x000C // TPM_ALG_SHA384
	HashSHA512  HashAlgorithm = 0x000D // TPM_ALG_SHA512
	HashSHA3256 HashAlgorithm = 0x001B // TPM_ALG_SHA3_256 (draft ID, matches original_source)
	HashSHA3512 HashAlgorithm = 0x001C // TPM_ALG_SHA3_512
)

func (a HashAlgorithm) String() string {
	switch a {
	case HashSHA256:
		return "SHA-256"
	case HashSHA384:
		return "SHA-384"
	case HashSHA512:
		return "SHA-512"
	case HashSHA3256:
		return "SHA3-256"
	case HashSHA3512:
		return "SHA3-512"
	default:
		return "unknown"
	}
}

// Size returns the digest size in bytes, or 0 for an unknown algorithm.
func (a HashAlgorithm) Size() int {
	switch a {
	case HashSHA256, HashSHA3256:
		return 32
	case HashSHA384:
		return 48
	case HashSHA512, HashSHA3512:
		return 64
	default:
		return 0
	}
}

// TrustedKey is a registered public key, identified by KeyID.
type TrustedKey struct {
	KeyID     KeyID
	Type      KeyType
	KeyBytes  []byte // canonical encoding for Type
	ExpiresAt *time.Time
	Issuer    string
	Usage     string // e.g. "KernelSigning", "KernelUpdate", "PlatformKey"
}

// Expired reports whether the key's expires_at (if any) is in the past
// relative to now.
func (k *TrustedKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// TrustedHash is the fallback verification record used when an image
// has no signature, or every key fails to verify it.
type TrustedHash struct {
	ImageName   string
	Algorithm   HashAlgorithm
	HashValue   []byte
	Description string
}

// VerificationResult always carries the calculated hash, even on
// failure, so it can be extended into the measurement log as forensic
// evidence.
type VerificationResult struct {
	Success        bool
	KeyID          *KeyID
	FailureReason  string
	HashVerified   bool
	AlgorithmUsed  HashAlgorithm
	CalculatedHash []byte
}

// Policy is the enforcement mode applied to a failed verification.
type Policy int

const (
	PolicyStrict Policy = iota
	PolicyWarn
	PolicyAudit
	PolicyDisabled
)

func (p Policy) String() string {
	switch p {
	case PolicyStrict:
		return "Strict"
	case PolicyWarn:
		return "Warn"
	case PolicyAudit:
		return "Audit"
	case PolicyDisabled:
		return "Disabled"
	default:
		return "Unknown"
	}
}

// BootModule is one artifact in the boot flow: the bootloader, the
// kernel image, the initrd, or a kernel module loaded afterward.
type BootModule struct {
	Name      string
	Data      []byte
	Signature []byte // nil if unsigned
}

// BootInfo is the ordered set of artifacts RunBootFlow walks through:
// bootloader self-attestation, kernel image, initrd, then modules in
// load order.
type BootInfo struct {
	Bootloader BootModule
	Kernel     BootModule
	Initrd     BootModule
	Modules    []BootModule
}

// PCR indices used by the boot flow (original_source names these
// TPM_PCR_BOOT_CONFIG and TPM_PCR_KERNEL_MODULES).
const (
	PCRBootConfig    uint32 = 0 // SRTM/CRTM, BIOS, host platform extensions
	PCRKernelModules uint32 = 4 // kernel, bootloader, kernel modules
)
