package boot

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"aether.dev/kernel/kerrors"
)

// Record is one append-only measurement-log entry. Once appended it is
// never mutated — §3.1's invariant.
type Record struct {
	PCRIndex     uint32
	Algorithm    HashAlgorithm
	Digest       []byte
	Event        string
	SignerKeyID  *KeyID
}

// TPMTransport is the narrow interface to the hardware TPM. A nil
// transport means "no TPM present" and Extend only maintains the
// software chain.
type TPMTransport interface {
	PCRExtend(pcrIndex uint32, alg HashAlgorithm, digest []byte) error
}

// Log is the append-only software mirror of PCR state (spec module A).
// Extend is serialized under mu so the digest chain is totally ordered,
// matching §5's "Measurement-log append uses an exclusive lock."
type Log struct {
	mu       sync.Mutex
	records  []Record
	tpm      TPMTransport
	logger   *slog.Logger
}

// NewLog creates an empty measurement log. tpm may be nil.
func NewLog(tpm TPMTransport, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{tpm: tpm, logger: logger}
}

// Extend appends a measurement record and, if a TPM is present, issues
// the equivalent PCR_Extend command. This is the attestation record —
// §9 "measurement before action" — so it must be called for every
// verification outcome, success or failure.
func (l *Log) Extend(pcrIndex uint32, alg HashAlgorithm, digest []byte, event string, signerKeyID *KeyID) error {
	if len(digest) == 0 {
		return kerrors.New(kerrors.InvalidArgument, "boot.Log.Extend", "digest required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tpm != nil {
		if err := l.tpm.PCRExtend(pcrIndex, alg, digest); err != nil {
			return kerrors.Wrap(kerrors.IoError, "boot.Log.Extend", err)
		}
	}
	l.records = append(l.records, Record{
		PCRIndex:    pcrIndex,
		Algorithm:   alg,
		Digest:      append([]byte(nil), digest...),
		Event:       event,
		SignerKeyID: signerKeyID,
	})
	l.logger.Debug("measurement log extended", "pcr_index", pcrIndex, "algorithm", alg.String(), "event", event)
	return nil
}

// Records returns a defensive copy of the log in append order.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len reports the number of entries currently in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Chain returns the current measurement chain as a flat byte stream:
// each record serialized as pcr_index(u32 BE) || alg(u16 BE) ||
// digest_len(u16 BE) || digest, concatenated in append order. This
// mirrors original_source's get_measurement_chain(). Quote verification
// does not use it: expectedPCRDigest hashes the replayed PCRValue of
// each selected index instead.
func (l *Log) Chain() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []byte
	for _, r := range l.records {
		var hdr [8]byte
		binary.BigEndian.PutUint32(hdr[0:4], r.PCRIndex)
		binary.BigEndian.PutUint16(hdr[4:6], uint16(r.Algorithm))
		binary.BigEndian.PutUint16(hdr[6:8], uint16(len(r.Digest))) // #nosec G115 -- digest sizes are small (<=64), always fit u16.
		out = append(out, hdr[:]...)
		out = append(out, r.Digest...)
	}
	return out
}

// PCRValue replays the extend chain for a single PCR index: PCR :=
// H(PCR || input) over every record targeting that index, using alg for
// every step regardless of each record's own algorithm. Returns a zero-filled
// digest-sized slice if the PCR was never extended.
func (l *Log) PCRValue(pcrIndex uint32, alg HashAlgorithm) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	size := alg.Size()
	if size == 0 {
		size = 32
	}
	pcr := make([]byte, size)
	h := newHasher(alg)
	if h == nil {
		return pcr
	}
	for _, r := range l.records {
		if r.PCRIndex != pcrIndex {
			continue
		}
		h.Reset()
		h.Write(pcr)
		h.Write(r.Digest)
		pcr = h.Sum(nil)
	}
	return pcr
}
