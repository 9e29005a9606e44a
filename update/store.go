package update

import (
	"time"

	"aether.dev/kernel/kerrors"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketBackups   = []byte("backups")
	bucketSnapshots = []byte("snapshots")
)

// Store persists backups and system snapshots created during an
// apply, so a crash mid-update leaves recoverable state on disk
// instead of only in memory (grounded on node/store/db.go's bbolt
// bucket layout).
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if absent) the backup/snapshot database at
// path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.IoError, "update.OpenStore", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBackups); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		db.Close()
		return nil, kerrors.Wrap(kerrors.IoError, "update.OpenStore", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSnapshot records an opaque memento of whatever caller-supplied
// descriptor represents "current base system state" and returns its
// handle (step 6 of the apply protocol).
func (s *Store) CreateSnapshot(descriptor []byte) (string, error) {
	id := uuid.NewString()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(id), descriptor)
	})
	if err != nil {
		return "", kerrors.Wrap(kerrors.IoError, "update.Store.CreateSnapshot", err)
	}
	return id, nil
}

// CreateBackup persists the target module's current code bytes before
// a patch is applied (step 7), returning a backup id.
func (s *Store) CreateBackup(code []byte) (string, error) {
	id := uuid.NewString()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackups).Put([]byte(id), code)
	})
	if err != nil {
		return "", kerrors.Wrap(kerrors.IoError, "update.Store.CreateBackup", err)
	}
	return id, nil
}

// GetBackup returns the previously-saved code bytes for a backup id.
func (s *Store) GetBackup(id string) ([]byte, error) {
	var code []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBackups).Get([]byte(id))
		if v == nil {
			return kerrors.New(kerrors.NotFound, "update.Store.GetBackup", "backup id not found")
		}
		code = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return code, nil
}

// DeleteBackup removes a backup, called by the retention sweep (step
// 13; CleanupExpiredBackups calls it for each id it is given, with no
// age cutoff).
func (s *Store) DeleteBackup(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackups).Delete([]byte(id))
	})
}

// backupRetention is how long a backup is kept before it becomes
// eligible for cleanup (§4.5 step 13: "retain 24h").
const backupRetention = 24 * time.Hour
