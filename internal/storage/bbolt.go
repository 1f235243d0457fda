package storage

import (
	"errors"
	"fmt"
	"time"

	"studiochat/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketIdentity = []byte("identity")
)

// BboltStorage persists the client identity between runs.
type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdentity)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// Get returns the value stored under name or models.ErrNotFound.
func (s *BboltStorage) Get(name string) (string, error) {
	var value DBValue
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketIdentity).Get([]byte(name))
		if data == nil {
			return models.ErrNotFound
		}
		return value.UnmarshalBinary(data)
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return value.Value, nil
}

func (s *BboltStorage) Set(name, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketIdentity), s.value(name, value))
	})
}

func (s *BboltStorage) value(name, value string) *DBValue {
	return &DBValue{Name: name, Value: value, UpdatedAt: s.now().Unix()}
}

func put(b *bbolt.Bucket, v Storeable) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", v.Key(), err)
	}
	return b.Put(v.Key(), data)
}

// SaveIdentity writes all identity keys in one transaction.
func (s *BboltStorage) SaveIdentity(id models.Identity) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIdentity)
		values := map[string]string{
			KeyToken:     id.Token,
			KeyAuthToken: id.Token,
			KeyUserID:    id.UserID,
			KeyUserRole:  string(id.Role),
		}
		for _, name := range IdentityKeys {
			if err := put(b, s.value(name, values[name])); err != nil {
				return err
			}
		}
		return nil
	})
}

// Identity reads the persisted identity. A missing token yields models.ErrNotFound.
func (s *BboltStorage) Identity() (models.Identity, error) {
	token := s.Token()
	if token == "" {
		return models.Identity{}, models.ErrNotFound
	}
	userID, _ := s.Get(KeyUserID)
	role, _ := s.Get(KeyUserRole)
	return models.Identity{Token: token, UserID: userID, Role: models.Role(role)}, nil
}

// Token resolves the auth token from either alias, "token" first.
// It returns an empty string when neither is set.
func (s *BboltStorage) Token() string {
	for _, name := range []string{KeyToken, KeyAuthToken} {
		if v, err := s.Get(name); err == nil && v != "" {
			return v
		}
	}
	return ""
}

// Clear removes every identity key together.
func (s *BboltStorage) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIdentity)
		for _, name := range IdentityKeys {
			if err := b.Delete([]byte(name)); err != nil {
				return fmt.Errorf("failed to delete %s: %w", name, err)
			}
		}
		return nil
	})
}
