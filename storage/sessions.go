package storage

import (
	"encoding/binary"
	"time"

	"go.etcd.io/bbolt"
)

// SessionStorage keeps fiber sessions in bbolt. Each value is stored with
// an 8-byte expiry prefix (unix nanoseconds, 0 = never).
type SessionStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewSessionStorage returns a fiber.Storage backed by db
func NewSessionStorage(db *bbolt.DB) *SessionStorage {
	return &SessionStorage{db: db, now: time.Now}
}

// Get returns nil, nil for missing or expired keys
func (s *SessionStorage) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	var out []byte
	var expired bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(SessionsBucket)).Get([]byte(key))
		if len(raw) < 8 {
			return nil
		}
		if exp := int64(binary.BigEndian.Uint64(raw[:8])); exp != 0 && s.now().UnixNano() > exp {
			expired = true
			return nil
		}
		out = append([]byte(nil), raw[8:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, s.Delete(key)
	}
	return out, nil
}

func (s *SessionStorage) Set(key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}
	var expiry int64
	if exp > 0 {
		expiry = s.now().Add(exp).UnixNano()
	}
	raw := make([]byte, 8+len(val))
	binary.BigEndian.PutUint64(raw[:8], uint64(expiry))
	copy(raw[8:], val)

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(SessionsBucket)).Put([]byte(key), raw)
	})
}

func (s *SessionStorage) Delete(key string) error {
	if key == "" {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(SessionsBucket)).Delete([]byte(key))
	})
}

// Reset removes every session
func (s *SessionStorage) Reset() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(SessionsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(SessionsBucket))
		return err
	})
}

// Close is a no-op; the database is owned by the caller
func (s *SessionStorage) Close() error {
	return nil
}

// Sweep deletes expired sessions and reports how many were removed
func (s *SessionStorage) Sweep() (int, error) {
	now := s.now().UnixNano()
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(SessionsBucket))
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if len(v) < 8 {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if exp := int64(binary.BigEndian.Uint64(v[:8])); exp != 0 && now > exp {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
