package pass

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "passes"

// ErrPassNotFound is returned by GetPass for an unknown ID.
var ErrPassNotFound = errors.New("pass not found")

// DB defines the interface for the export ledger
type DB interface {
	// SavePass records an export
	SavePass(p *Pass) error

	// GetPass retrieves an export by ID
	GetPass(id string) (*Pass, error)

	// ListPasses returns all exports
	ListPasses() ([]*Pass, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SavePass records an export
func (b *BoltDB) SavePass(p *Pass) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshaling pass: %w", err)
		}
		return bucket.Put([]byte(p.ID), data)
	})
}

// GetPass retrieves an export by ID
func (b *BoltDB) GetPass(id string) (*Pass, error) {
	var p *Pass
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrPassNotFound, id)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPasses returns all exports
func (b *BoltDB) ListPasses() ([]*Pass, error) {
	passes := make([]*Pass, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var p Pass
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("unmarshaling pass: %w", err)
			}
			passes = append(passes, &p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return passes, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
