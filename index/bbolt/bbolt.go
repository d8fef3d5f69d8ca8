// Package bbolt provides a BBolt-backed index.Store. Each authority
// directory owns one database file; counters and entries live in separate
// buckets and every issuance is a single write transaction.
package bbolt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/certhand/index"
)

var (
	bucketMeta    = []byte("meta")
	bucketEntries = []byte("entries")

	keyNextSerial = []byte("next_serial")
	keyNextCRL    = []byte("next_crl_number")
)

// Store implements index.Store backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ index.Store = (*Store)(nil)

// Open opens (or creates) the database at path and initialises both
// counters to 1 on first use.
func Open(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("opening index db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		if meta.Get(keyNextSerial) == nil {
			if err := meta.Put(keyNextSerial, itob(1)); err != nil {
				return err
			}
		}
		if meta.Get(keyNextCRL) == nil {
			if err := meta.Put(keyNextCRL, itob(1)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising index db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func (s *Store) counter(key []byte) (int64, error) {
	var v int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		v = btoi(tx.Bucket(bucketMeta).Get(key))
		return nil
	})
	return v, err
}

func (s *Store) NextSerial() (int64, error) {
	return s.counter(keyNextSerial)
}

func (s *Store) NextCRLNumber() (int64, error) {
	return s.counter(keyNextCRL)
}

func (s *Store) Issue(fn func(serial int64) (index.Entry, error)) (int64, error) {
	var serial int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		serial = btoi(meta.Get(keyNextSerial))

		entry, err := fn(serial)
		if err != nil {
			return err
		}
		if entry.Serial != serial {
			return index.ErrSerialMismatch
		}
		entry.Status = index.StatusValid
		entry.RevokedAt = time.Time{}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encoding entry: %w", err)
		}
		if err := tx.Bucket(bucketEntries).Put(itob(serial), data); err != nil {
			return err
		}
		return meta.Put(keyNextSerial, itob(serial+1))
	})
	if err != nil {
		return 0, err
	}
	return serial, nil
}

func (s *Store) IssueCRL(fn func(number int64) error) (int64, error) {
	var number int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		number = btoi(meta.Get(keyNextCRL))
		if err := fn(number); err != nil {
			return err
		}
		return meta.Put(keyNextCRL, itob(number+1))
	})
	if err != nil {
		return 0, err
	}
	return number, nil
}

func (s *Store) Revoke(serial int64, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		data := entries.Get(itob(serial))
		if data == nil {
			return fmt.Errorf("serial %d: %w", serial, index.ErrNotFound)
		}
		var entry index.Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("decoding entry: %w", err)
		}
		if entry.Status == index.StatusRevoked {
			return fmt.Errorf("serial %d: %w", serial, index.ErrAlreadyRevoked)
		}
		entry.Status = index.StatusRevoked
		entry.RevokedAt = at
		updated, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encoding entry: %w", err)
		}
		return entries.Put(itob(serial), updated)
	})
}

func (s *Store) Get(serial int64) (index.Entry, error) {
	var entry index.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get(itob(serial))
		if data == nil {
			return fmt.Errorf("serial %d: %w", serial, index.ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return index.Entry{}, err
	}
	return entry, nil
}

func (s *Store) list(filter func(index.Entry) bool) ([]index.Entry, error) {
	var entries []index.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(_, data []byte) error {
			var entry index.Entry
			if err := json.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("decoding entry: %w", err)
			}
			if filter == nil || filter(entry) {
				entries = append(entries, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) List() ([]index.Entry, error) {
	return s.list(nil)
}

func (s *Store) Revoked() ([]index.Entry, error) {
	return s.list(func(e index.Entry) bool { return e.Status == index.StatusRevoked })
}
