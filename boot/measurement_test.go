package boot

import "testing"

type fakeTPM struct {
	extends []struct {
		pcr uint32
		alg HashAlgorithm
		dig []byte
	}
	failOn uint32
}

func (f *fakeTPM) PCRExtend(pcrIndex uint32, alg HashAlgorithm, digest []byte) error {
	if pcrIndex == f.failOn {
		return errUnsupportedKeyType
	}
	f.extends = append(f.extends, struct {
		pcr uint32
		alg HashAlgorithm
		dig []byte
	}{pcrIndex, alg, append([]byte(nil), digest...)})
	return nil
}

func TestLogExtendAppendsAndCallsTPM(t *testing.T) {
	tpm := &fakeTPM{}
	log := NewLog(tpm, nil)
	digest := []byte{1, 2, 3, 4}
	if err := log.Extend(PCRKernelModules, HashSHA256, digest, "kernel verified", nil); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if log.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", log.Len())
	}
	if len(tpm.extends) != 1 {
		t.Fatalf("expected TPM PCRExtend to be called once, got %d", len(tpm.extends))
	}
	recs := log.Records()
	if recs[0].Event != "kernel verified" {
		t.Fatalf("unexpected event: %q", recs[0].Event)
	}
}

func TestLogExtendRejectsEmptyDigest(t *testing.T) {
	log := NewLog(nil, nil)
	if err := log.Extend(PCRKernelModules, HashSHA256, nil, "x", nil); err == nil {
		t.Fatalf("expected error for empty digest")
	}
}

func TestLogChainAndPCRValue(t *testing.T) {
	log := NewLog(nil, nil)
	d1, _ := Sum(HashSHA256, []byte("module-a"))
	d2, _ := Sum(HashSHA256, []byte("module-b"))
	_ = log.Extend(PCRKernelModules, HashSHA256, d1, "a", nil)
	_ = log.Extend(PCRKernelModules, HashSHA256, d2, "b", nil)

	chain := log.Chain()
	if len(chain) == 0 {
		t.Fatalf("expected non-empty chain")
	}

	pcr := log.PCRValue(PCRKernelModules, HashSHA256)
	if len(pcr) != 32 {
		t.Fatalf("expected 32-byte PCR value, got %d", len(pcr))
	}

	empty := log.PCRValue(PCRBootConfig, HashSHA256)
	allZero := true
	for _, b := range empty {
		if b != 0 {
			allZero = false
		}
	}
	if !allZero {
		t.Fatalf("expected zero PCR value for untouched index")
	}
}
