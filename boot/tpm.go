package boot

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"aether.dev/kernel/kerrors"
)

// TPM command/response codes and frame layout, big-endian throughout
// (spec.md §6.3).
const (
	tpmCmdPCRRead uint32 = 0x0000017E
	tpmCmdQuote   uint32 = 0x00000158

	attestMagic     uint32 = 0xFF544347
	attestTypeQuote uint16 = 0x8018
)

// CommandHeader is the fixed header of every TPM command frame.
type CommandHeader struct {
	Tag         uint16
	Size        uint32 // total frame size, header included
	CommandCode uint32
}

// ResponseHeader is the fixed header of every TPM response frame. A
// non-zero ResponseCode is fatal for the operation (§6.3).
type ResponseHeader struct {
	Tag          uint16
	Size         uint32
	ResponseCode uint32
}

// PCRSelection carries the hash algorithm and a bitmap of selected PCR
// indices, as embedded in both PCR_Read and Quote commands.
type PCRSelection struct {
	HashAlg HashAlgorithm
	Bitmap  []byte
}

func selectPCR(indices ...uint32) PCRSelection {
	maxIdx := uint32(0)
	for _, i := range indices {
		if i > maxIdx {
			maxIdx = i
		}
	}
	bitmap := make([]byte, maxIdx/8+1)
	for _, i := range indices {
		bitmap[i/8] |= 1 << (i % 8)
	}
	return PCRSelection{HashAlg: HashSHA256, Bitmap: bitmap}
}

// BuildPCRReadCommand encodes a PCR_Read command frame for the given
// PCR indices.
func BuildPCRReadCommand(indices ...uint32) []byte {
	sel := selectPCR(indices...)
	var body bytes.Buffer
	binary.Write(&body, binary.BigEndian, uint16(sel.HashAlg))
	body.WriteByte(byte(len(sel.Bitmap))) // #nosec G115 -- bitmap length bounded by PCR count (<=32 in practice).
	body.Write(sel.Bitmap)

	return encodeCommand(tpmCmdPCRRead, body.Bytes())
}

// BuildQuoteCommand encodes a TPM2_Quote command frame: sign handle,
// 16-byte qualifying data (nonce), signature scheme, and PCR selection.
func BuildQuoteCommand(signHandle uint32, nonce [16]byte, schemeAlg, schemeHash uint16, indices ...uint32) []byte {
	sel := selectPCR(indices...)
	var body bytes.Buffer
	binary.Write(&body, binary.BigEndian, signHandle)
	body.Write(nonce[:])
	binary.Write(&body, binary.BigEndian, schemeAlg)
	binary.Write(&body, binary.BigEndian, schemeHash)
	binary.Write(&body, binary.BigEndian, uint16(sel.HashAlg))
	body.WriteByte(byte(len(sel.Bitmap))) // #nosec G115 -- see BuildPCRReadCommand.
	body.Write(sel.Bitmap)

	return encodeCommand(tpmCmdQuote, body.Bytes())
}

func encodeCommand(code uint32, body []byte) []byte {
	total := 2 + 4 + 4 + len(body)
	out := make([]byte, 0, total)
	var hdr [10]byte
	binary.BigEndian.PutUint16(hdr[0:2], 0x8001) // TPM_ST_NO_SESSIONS
	binary.BigEndian.PutUint32(hdr[2:6], uint32(total)) // #nosec G115 -- total bounded by caller-provided body sizes.
	binary.BigEndian.PutUint32(hdr[6:10], code)
	out = append(out, hdr[:]...)
	out = append(out, body...)
	return out
}

// ParseResponseHeader decodes the fixed response header and validates
// that the response code is zero.
func ParseResponseHeader(frame []byte) (ResponseHeader, []byte, error) {
	if len(frame) < 10 {
		return ResponseHeader{}, nil, kerrors.New(kerrors.IoError, "boot.ParseResponseHeader", "frame shorter than header")
	}
	h := ResponseHeader{
		Tag:          binary.BigEndian.Uint16(frame[0:2]),
		Size:         binary.BigEndian.Uint32(frame[2:6]),
		ResponseCode: binary.BigEndian.Uint32(frame[6:10]),
	}
	if h.ResponseCode != 0 {
		return h, nil, kerrors.New(kerrors.IoError, "boot.ParseResponseHeader", fmt.Sprintf("TPM response code 0x%08x", h.ResponseCode))
	}
	return h, frame[10:], nil
}

// Attest is the decoded TPMS_ATTEST structure returned by a Quote
// command, restricted to the fields the verifier checks (§4.2).
type Attest struct {
	Magic     uint32
	Type      uint16
	ExtraData []byte // the nonce the caller supplied
	PCRDigest []byte // SHA-256 of the concatenated selected PCR values
}

// ParseAttest decodes a TPMS_ATTEST structure: magic(u32) || type(u16)
// || extraDataLen(u16) || extraData || pcrDigestLen(u16) || pcrDigest.
// This is a minimal subset of the real structure sufficient for quote
// verification; qualifiedSigner/clockInfo/firmwareVersion fields are
// skipped as this core does not consume them.
func ParseAttest(b []byte) (Attest, error) {
	if len(b) < 4+2+2 {
		return Attest{}, kerrors.New(kerrors.IoError, "boot.ParseAttest", "truncated attest header")
	}
	off := 0
	magic := binary.BigEndian.Uint32(b[off:])
	off += 4
	typ := binary.BigEndian.Uint16(b[off:])
	off += 2
	edLen := int(binary.BigEndian.Uint16(b[off:]))
	off += 2
	if off+edLen > len(b) {
		return Attest{}, kerrors.New(kerrors.IoError, "boot.ParseAttest", "truncated extra data")
	}
	extraData := b[off : off+edLen]
	off += edLen
	if off+2 > len(b) {
		return Attest{}, kerrors.New(kerrors.IoError, "boot.ParseAttest", "truncated pcr digest length")
	}
	pdLen := int(binary.BigEndian.Uint16(b[off:]))
	off += 2
	if off+pdLen > len(b) {
		return Attest{}, kerrors.New(kerrors.IoError, "boot.ParseAttest", "truncated pcr digest")
	}
	pcrDigest := b[off : off+pdLen]

	return Attest{Magic: magic, Type: typ, ExtraData: extraData, PCRDigest: pcrDigest}, nil
}

// QuoteVerifier verifies a parsed attestation quote against the
// measurement log's current PCR state and a caller-supplied nonce
// (§4.2). The signature check itself is delegated to verifySignature
// using the Attestation Key's public component, dispatching on the
// caller-supplied akType; the quote's signature scheme field is not
// parsed or consulted.
type QuoteVerifier struct {
	log *Log
}

// NewQuoteVerifier builds a verifier bound to the given measurement log.
func NewQuoteVerifier(log *Log) *QuoteVerifier {
	return &QuoteVerifier{log: log}
}

// Verify checks magic, type, nonce equality, and PCR-digest equality;
// then verifies sig over the SHA-256 digest of the attest bytes using
// akPub/akType.
func (q *QuoteVerifier) Verify(attestBytes, sig []byte, nonce [16]byte, pcrIndices []uint32, akType KeyType, akPub []byte) error {
	att, err := ParseAttest(attestBytes)
	if err != nil {
		return err
	}
	if att.Magic != attestMagic {
		return kerrors.New(kerrors.VerificationFailed, "boot.QuoteVerifier.Verify", "bad attest magic")
	}
	if att.Type != attestTypeQuote {
		return kerrors.New(kerrors.VerificationFailed, "boot.QuoteVerifier.Verify", "not a TPM_ST_ATTEST_QUOTE")
	}
	if !bytes.Equal(att.ExtraData, nonce[:]) {
		return kerrors.New(kerrors.VerificationFailed, "boot.QuoteVerifier.Verify", "nonce mismatch")
	}

	expected := expectedPCRDigest(q.log, pcrIndices)
	if !bytes.Equal(att.PCRDigest, expected) {
		return kerrors.New(kerrors.VerificationFailed, "boot.QuoteVerifier.Verify", "pcr digest mismatch")
	}

	digest := sha256.Sum256(attestBytes)
	ok, err := verifySignature(akType, akPub, sig, digest[:])
	if err != nil {
		return kerrors.Wrap(kerrors.VerificationFailed, "boot.QuoteVerifier.Verify", err)
	}
	if !ok {
		return kerrors.New(kerrors.VerificationFailed, "boot.QuoteVerifier.Verify", "attestation signature invalid")
	}
	return nil
}

// expectedPCRDigest computes SHA-256 of the concatenation of the
// current PCR values for the selected indices, in ascending index
// order — the value a correct TPM would have embedded in its quote.
func expectedPCRDigest(log *Log, indices []uint32) []byte {
	h := sha256.New()
	sorted := append([]uint32(nil), indices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, idx := range sorted {
		h.Write(log.PCRValue(idx, HashSHA256))
	}
	return h.Sum(nil)
}
