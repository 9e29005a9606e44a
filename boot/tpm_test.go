package boot

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"testing"
)

func TestBuildPCRReadCommandHeader(t *testing.T) {
	cmd := BuildPCRReadCommand(0, 4)
	if len(cmd) < 10 {
		t.Fatalf("command too short: %d bytes", len(cmd))
	}
	tag := binary.BigEndian.Uint16(cmd[0:2])
	if tag != 0x8001 {
		t.Fatalf("expected TPM_ST_NO_SESSIONS tag, got 0x%04x", tag)
	}
	code := binary.BigEndian.Uint32(cmd[6:10])
	if code != tpmCmdPCRRead {
		t.Fatalf("expected PCR_Read command code, got 0x%08x", code)
	}
	size := binary.BigEndian.Uint32(cmd[2:6])
	if int(size) != len(cmd) {
		t.Fatalf("header size %d does not match frame length %d", size, len(cmd))
	}
}

func TestParseResponseHeaderRejectsErrorCode(t *testing.T) {
	frame := make([]byte, 10)
	binary.BigEndian.PutUint16(frame[0:2], 0x8001)
	binary.BigEndian.PutUint32(frame[2:6], 10)
	binary.BigEndian.PutUint32(frame[6:10], 0x00000101) // non-zero response code

	_, _, err := ParseResponseHeader(frame)
	if err == nil {
		t.Fatalf("expected error for non-zero response code")
	}
}

func buildAttest(magic uint32, typ uint16, extraData, pcrDigest []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, magic)
	_ = binary.Write(&buf, binary.BigEndian, typ)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(extraData)))
	buf.Write(extraData)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(pcrDigest)))
	buf.Write(pcrDigest)
	return buf.Bytes()
}

func TestParseAttestRoundTrip(t *testing.T) {
	nonce := []byte("0123456789abcdef")
	digest := make([]byte, 32)
	raw := buildAttest(attestMagic, attestTypeQuote, nonce, digest)

	att, err := ParseAttest(raw)
	if err != nil {
		t.Fatalf("ParseAttest: %v", err)
	}
	if att.Magic != attestMagic || att.Type != attestTypeQuote {
		t.Fatalf("unexpected magic/type: %+v", att)
	}
	if !bytes.Equal(att.ExtraData, nonce) {
		t.Fatalf("extra data mismatch")
	}
}

func TestQuoteVerifierEndToEnd(t *testing.T) {
	log := NewLog(nil, nil)
	d1, _ := Sum(HashSHA256, []byte("boot config"))
	_ = log.Extend(PCRBootConfig, HashSHA256, d1, "boot config measured", nil)

	var nonce [16]byte
	copy(nonce[:], []byte("challenge-nonce!"))

	expected := expectedPCRDigest(log, []uint32{PCRBootConfig})
	attestBytes := buildAttest(attestMagic, attestTypeQuote, nonce[:], expected)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := sha256.Sum256(attestBytes)
	sig := ed25519.Sign(priv, digest[:])

	qv := NewQuoteVerifier(log)
	if err := qv.Verify(attestBytes, sig, nonce, []uint32{PCRBootConfig}, KeyTypeEd25519, pub); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestQuoteVerifierRejectsNonceMismatch(t *testing.T) {
	log := NewLog(nil, nil)
	var nonce [16]byte
	copy(nonce[:], []byte("challenge-nonce!"))
	wrongExtra := []byte("wrong-nonce-here")
	attestBytes := buildAttest(attestMagic, attestTypeQuote, wrongExtra, expectedPCRDigest(log, nil))

	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	digest := sha256.Sum256(attestBytes)
	sig := ed25519.Sign(priv, digest[:])

	qv := NewQuoteVerifier(log)
	if err := qv.Verify(attestBytes, sig, nonce, nil, KeyTypeEd25519, pub); err == nil {
		t.Fatalf("expected nonce mismatch error")
	}
}
