package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultBoltBucket is used when OpenBolt is given an empty bucket name.
const DefaultBoltBucket = "persist"

// Bolt keeps values in a single bbolt bucket.
type Bolt struct {
	path   string
	bucket []byte
	db     *bolt.DB
}

// OpenBolt opens (or creates) the database at path and ensures bucket exists.
func OpenBolt(path, bucket string) (*Bolt, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("backend: bolt path is required")
	}
	if strings.TrimSpace(bucket) == "" {
		bucket = DefaultBoltBucket
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("backend: unable to create directory %s: %w", path, err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("backend: unable to open boltdb file: %w", err)
	}

	name := []byte(bucket)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(name)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("backend: create bucket %q: %w", bucket, err)
	}

	return &Bolt{path: path, bucket: name, db: db}, nil
}

// Path returns the database file path.
func (b *Bolt) Path() string {
	return b.path
}

// Get implements Backend.
func (b *Bolt) Get(key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return fmt.Errorf("bucket %q not found", b.bucket)
		}
		// Seek instead of Get so empty values are still reported as present.
		// Returned bytes are only valid for the life of the transaction.
		k, raw := bkt.Cursor().Seek([]byte(key))
		if k != nil && string(k) == key {
			value, ok = string(raw), true
		}
		return nil
	})
	if err != nil {
		return "", false, b.wrap("read", key, err)
	}
	return value, ok, nil
}

// Set implements Backend.
func (b *Bolt) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return fmt.Errorf("bucket %q not found", b.bucket)
		}
		return bkt.Put([]byte(key), []byte(value))
	})
	if err != nil {
		return b.wrap("write", key, err)
	}
	return nil
}

// Delete implements Deleter.
func (b *Bolt) Delete(key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return nil
		}
		return bkt.Delete([]byte(key))
	})
	if err != nil {
		return b.wrap("delete", key, err)
	}
	return nil
}

// Close releases the database file.
func (b *Bolt) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *Bolt) wrap(op, key string, err error) error {
	if err == bolt.ErrDatabaseNotOpen {
		return fmt.Errorf("%w: %s %q: %v", ErrUnavailable, op, key, err)
	}
	return fmt.Errorf("backend: %s %q: %w", op, key, err)
}
