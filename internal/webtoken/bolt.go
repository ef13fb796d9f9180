// Package webtoken stores short-lived one-time tokens for the web retrieval
// hook in a bolt key-value database. A token is deleted the moment it is
// taken, which makes the hook replay-proof.
package webtoken

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
)

var bucketName = []byte("webtokens")

// Token binds a one-time web token to a user and a pending content address.
type Token struct {
	UserID    int64     `json:"user_id"`
	Address   string    `json:"address"`
	Session   string    `json:"session"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a bolt-backed one-time token store.
type Store struct {
	db      *bolt.DB
	session string
	ttl     time.Duration
	now     func() time.Time
}

// Open opens (creating if needed) the token database at path. session names
// the bot instance tokens are minted for; ttl bounds how long an unused
// token stays redeemable.
func Open(path, session string, ttl time.Duration) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening token database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating token bucket: %w", err)
	}
	return &Store{db: db, session: session, ttl: ttl, now: time.Now}, nil
}

// Issue mints a one-time token for the user and pending address.
func (s *Store) Issue(userID int64, address string) (string, error) {
	key := uuid.New().String()
	value, err := json.Marshal(Token{
		UserID:    userID,
		Address:   address,
		Session:   s.session,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding token: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
	if err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}
	return key, nil
}

// Take redeems a token, deleting it in the same transaction so a second
// take always misses. Expired tokens are treated as misses and removed.
func (s *Store) Take(key string) (*Token, bool, error) {
	var token *Token
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := bucket.Delete([]byte(key)); err != nil {
			return err
		}
		var t Token
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("decoding token: %w", err)
		}
		if s.ttl > 0 && s.now().Sub(t.CreatedAt) >= s.ttl {
			return nil // expired, already deleted
		}
		token = &t
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("taking token: %w", err)
	}
	return token, token != nil, nil
}

// PurgeExpired removes tokens past their ttl without redeeming them.
// Returns the number removed.
func (s *Store) PurgeExpired() (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl)

	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		cursor := bucket.Cursor()
		for key, raw := cursor.First(); key != nil; key, raw = cursor.Next() {
			var t Token
			if err := json.Unmarshal(raw, &t); err != nil || !t.CreatedAt.After(cutoff) {
				if err := cursor.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purging tokens: %w", err)
	}
	return removed, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
