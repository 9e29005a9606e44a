package boot

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"aether.dev/kernel/kerrors"
)

// On-disk key persistence (spec.md §6.2). Both formats are little-
// endian, unlike the TPM wire frames in tpm.go which are big-endian —
// the index/key files are this core's own on-disk layout, not a wire
// protocol with an external endianness contract.
//
// Key index file, magic "KIDX":
//   magic(4) | version u32 | count u32 | records... | checksum(8)
// each record:
//   key_id u64 | path_len u32 | path (path_len bytes, UTF-8) | last_updated_ns u64
//
// Key file, magic "AKEY":
//   magic(4) | version u32 | key_id u64 | algorithm u8 | purpose u8 |
//   created_at u64 | expires_at u64 | key_size u32 | wrapped key material | checksum(8)
//
// The 16-byte in-memory KeyID (types.go) does not fit a u64 disk field
// directly; diskKeyID folds it down to its low 8 bytes, matching the
// original format while keeping the richer identifier in memory.

const (
	indexMagic   = "KIDX"
	keyFileMagic = "AKEY"
	fileVersion  = uint32(1)
)

func diskKeyID(id KeyID) uint64 {
	return binary.LittleEndian.Uint64(id[0:8])
}

func checksum8(body []byte) [8]byte {
	sum := sha256.Sum256(body)
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// IndexRecord is one entry of the persisted key index.
type IndexRecord struct {
	KeyID         KeyID
	Path          string
	LastUpdatedNS uint64
}

// WriteIndex serializes records to the KIDX format and writes them
// atomically to path (write-temp, fsync, rename — grounded on the
// teacher's writeManifestAtomic in node/store/manifest.go).
func WriteIndex(path string, records []IndexRecord) error {
	var body []byte
	body = append(body, []byte(indexMagic)...)
	body = appendU32(body, fileVersion)
	body = appendU32(body, uint32(len(records))) // #nosec G115 -- record count bounded by registered key count.

	for _, r := range records {
		body = appendU64(body, diskKeyID(r.KeyID))
		pathBytes := []byte(r.Path)
		body = appendU32(body, uint32(len(pathBytes))) // #nosec G115 -- path length bounded by filesystem limits.
		body = append(body, pathBytes...)
		body = appendU64(body, r.LastUpdatedNS)
	}

	sum := checksum8(body)
	body = append(body, sum[:]...)
	return writeFileAtomic(path, body)
}

// ReadIndex parses a KIDX file written by WriteIndex.
func ReadIndex(path string) ([]IndexRecord, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied configuration, not untrusted input.
	if err != nil {
		return nil, kerrors.Wrap(kerrors.IoError, "boot.ReadIndex", err)
	}
	if len(data) < 4+4+4+8 || string(data[0:4]) != indexMagic {
		return nil, kerrors.New(kerrors.IoError, "boot.ReadIndex", "bad magic or truncated index file")
	}
	body, sum := data[:len(data)-8], data[len(data)-8:]
	want := checksum8(body)
	if string(want[:]) != string(sum) {
		return nil, kerrors.New(kerrors.VerificationFailed, "boot.ReadIndex", "index checksum mismatch")
	}

	off := 4
	_ = binary.LittleEndian.Uint32(body[off:]) // version, unused for v1
	off += 4
	count := binary.LittleEndian.Uint32(body[off:])
	off += 4

	records := make([]IndexRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+8+4 > len(body) {
			return nil, kerrors.New(kerrors.IoError, "boot.ReadIndex", "truncated record header")
		}
		id := binary.LittleEndian.Uint64(body[off:])
		off += 8
		pathLen := int(binary.LittleEndian.Uint32(body[off:]))
		off += 4
		if off+pathLen+8 > len(body) {
			return nil, kerrors.New(kerrors.IoError, "boot.ReadIndex", "truncated record body")
		}
		path := string(body[off : off+pathLen])
		off += pathLen
		lastUpdated := binary.LittleEndian.Uint64(body[off:])
		off += 8

		var keyID KeyID
		binary.LittleEndian.PutUint64(keyID[0:8], id)
		records = append(records, IndexRecord{KeyID: keyID, Path: path, LastUpdatedNS: lastUpdated})
	}
	return records, nil
}

// KeyFile is the decoded form of an on-disk AKEY file, with its key
// material unwrapped.
type KeyFile struct {
	KeyID      KeyID
	Algorithm  KeyType
	Purpose    byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
	KeyMaterial []byte
}

// WriteKeyFile wraps keyMaterial with kek (32-byte AES-256 key wrap
// key) and writes it to path in the AKEY format.
func WriteKeyFile(path string, kf KeyFile, kek []byte) error {
	wrapped, err := aesKeyWrap(kek, padToBlock(kf.KeyMaterial))
	if err != nil {
		return kerrors.Wrap(kerrors.IoError, "boot.WriteKeyFile", err)
	}

	var body []byte
	body = append(body, []byte(keyFileMagic)...)
	body = appendU32(body, fileVersion)
	body = appendU64(body, diskKeyID(kf.KeyID))
	body = append(body, byte(kf.Algorithm), kf.Purpose)
	body = appendU64(body, uint64(kf.CreatedAt.Unix()))
	body = appendU64(body, uint64(kf.ExpiresAt.Unix()))
	body = appendU32(body, uint32(len(wrapped))) // #nosec G115 -- wrapped length bounded by key size ceiling (4096B).
	body = append(body, wrapped...)

	sum := checksum8(body)
	body = append(body, sum[:]...)
	return writeFileAtomic(path, body)
}

// ReadKeyFile parses and unwraps an AKEY file written by WriteKeyFile.
func ReadKeyFile(path string, kek []byte) (KeyFile, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied configuration, not untrusted input.
	if err != nil {
		return KeyFile{}, kerrors.Wrap(kerrors.IoError, "boot.ReadKeyFile", err)
	}
	if len(data) < 4+4+8+1+1+8+8+4+8 || string(data[0:4]) != keyFileMagic {
		return KeyFile{}, kerrors.New(kerrors.IoError, "boot.ReadKeyFile", "bad magic or truncated key file")
	}
	body, sum := data[:len(data)-8], data[len(data)-8:]
	want := checksum8(body)
	if string(want[:]) != string(sum) {
		return KeyFile{}, kerrors.New(kerrors.VerificationFailed, "boot.ReadKeyFile", "key file checksum mismatch")
	}

	off := 4
	off += 4 // version
	id := binary.LittleEndian.Uint64(body[off:])
	off += 8
	alg := KeyType(body[off])
	off++
	purpose := body[off]
	off++
	createdAt := int64(binary.LittleEndian.Uint64(body[off:])) // #nosec G115 -- unix timestamps fit int64 until year 292277026596.
	off += 8
	expiresAt := int64(binary.LittleEndian.Uint64(body[off:])) // #nosec G115 -- see above.
	off += 8
	keySize := int(binary.LittleEndian.Uint32(body[off:]))
	off += 4
	if off+keySize > len(body) {
		return KeyFile{}, kerrors.New(kerrors.IoError, "boot.ReadKeyFile", "truncated key material")
	}
	wrapped := body[off : off+keySize]

	material, err := aesKeyUnwrap(kek, wrapped)
	if err != nil {
		return KeyFile{}, kerrors.Wrap(kerrors.VerificationFailed, "boot.ReadKeyFile", err)
	}

	var keyID KeyID
	binary.LittleEndian.PutUint64(keyID[0:8], id)
	return KeyFile{
		KeyID:       keyID,
		Algorithm:   alg,
		Purpose:     purpose,
		CreatedAt:   time.Unix(createdAt, 0).UTC(),
		ExpiresAt:   time.Unix(expiresAt, 0).UTC(),
		KeyMaterial: material,
	}, nil
}

// padToBlock pads key material up to the next 8-byte boundary with
// zero bytes, recording the original length is the caller's
// responsibility (key sizes here are always 16/32/64 bytes already
// aligned in practice; padding only guards unusual inputs).
func padToBlock(b []byte) []byte {
	if len(b)%8 == 0 {
		return b
	}
	padded := make([]byte, (len(b)/8+1)*8)
	copy(padded, b)
	return padded
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

// writeFileAtomic writes data to path via a temp file in the same
// directory, fsync, rename, then fsync the directory — the same
// crash-safety pattern as the teacher's writeManifestAtomic.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return kerrors.Wrap(kerrors.IoError, "boot.writeFileAtomic", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // #nosec G104 -- best-effort cleanup; rename below removes the need on the success path.

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return kerrors.Wrap(kerrors.IoError, "boot.writeFileAtomic", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return kerrors.Wrap(kerrors.IoError, "boot.writeFileAtomic", err)
	}
	if err := tmp.Close(); err != nil {
		return kerrors.Wrap(kerrors.IoError, "boot.writeFileAtomic", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return kerrors.Wrap(kerrors.IoError, "boot.writeFileAtomic", err)
	}
	if dirF, err := os.Open(dir); err == nil { // #nosec G304 -- dir is derived from the caller-supplied path.
		_ = dirF.Sync()
		_ = dirF.Close()
	}
	return nil
}

// IndexPath and KeyFilePath are the conventional on-disk locations from
// spec.md §6.2, exposed so callers do not need to hardcode them.
func IndexPath(root string) string {
	return filepath.Join(root, "keys", "index.dat")
}

func KeyFilePath(root string, id KeyID) string {
	return filepath.Join(root, "keys", fmt.Sprintf("%016x.key", diskKeyID(id)))
}
