package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// APIKeyPrefix marks a bearer credential as a staff API key.
const APIKeyPrefix = "th_"

const (
	keyEntropy   = 32
	keyPrefixLen = 8
	keyColumns   = "id, name, email, key_prefix, created_at, last_used_at"
)

var (
	// ErrKeyNotFound is returned for an unknown, revoked or malformed key.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrKeyOwnerRequired is returned when a key is created without an email.
	ErrKeyOwnerRequired = errors.New("api key owner email is required")
)

// APIKey describes an issued key. The raw secret is never stored; only its
// SHA-256 digest and a short display prefix are.
type APIKey struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	KeyPrefix  string     `json:"key_prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// APIKeyStore issues and checks staff API keys in the local SQLite database.
type APIKeyStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewAPIKeyStore returns a key store over a database opened with db.Open.
func NewAPIKeyStore(d *sql.DB) *APIKeyStore {
	return &APIKeyStore{db: d, now: time.Now}
}

// IsAPIKey reports whether a bearer credential is one of ours rather than
// an identity-provider token.
func IsAPIKey(credential string) bool {
	return strings.HasPrefix(credential, APIKeyPrefix)
}

// Create issues a key owned by email and returns the raw key, which is not
// recoverable afterwards.
func (s *APIKeyStore) Create(ctx context.Context, name, email string) (string, *APIKey, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", nil, ErrKeyOwnerRequired
	}

	secret := make([]byte, keyEntropy)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, fmt.Errorf("generating key: %w", err)
	}
	raw := APIKeyPrefix + hex.EncodeToString(secret)

	key := &APIKey{
		Name:      name,
		Email:     email,
		KeyPrefix: raw[:keyPrefixLen],
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO api_keys (name, email, key_prefix, key_hash, created_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`,
		key.Name, key.Email, key.KeyPrefix, digest(raw), key.CreatedAt,
	).Scan(&key.ID)
	if err != nil {
		return "", nil, fmt.Errorf("storing key: %w", err)
	}

	return raw, key, nil
}

// List returns every issued key, newest first.
func (s *APIKeyStore) List(ctx context.Context) (keys []APIKey, err error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+keyColumns+" FROM api_keys ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cerr)
		}
	}()

	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	return keys, nil
}

// Delete revokes a key. Requests already authenticated with it are unaffected.
func (s *APIKeyStore) Delete(ctx context.Context, id int64) error {
	var deleted int64
	err := s.db.QueryRowContext(ctx, "DELETE FROM api_keys WHERE id = ? RETURNING id", id).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("key %d: %w", id, ErrKeyNotFound)
	}
	if err != nil {
		return fmt.Errorf("deleting key %d: %w", id, err)
	}
	return nil
}

// Validate resolves a raw key to its owner and stamps last_used_at. Unknown
// keys return ErrKeyNotFound; any other error means the database failed.
func (s *APIKeyStore) Validate(ctx context.Context, rawKey string) (string, error) {
	if !IsAPIKey(rawKey) {
		return "", ErrKeyNotFound
	}

	var email string
	err := s.db.QueryRowContext(ctx,
		"UPDATE api_keys SET last_used_at = ? WHERE key_hash = ? RETURNING email",
		s.now().UTC(), digest(rawKey),
	).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("validating key: %w", err)
	}
	return email, nil
}

func scanKey(row interface{ Scan(...any) error }) (*APIKey, error) {
	var k APIKey
	var lastUsed sql.NullTime
	if err := row.Scan(&k.ID, &k.Name, &k.Email, &k.KeyPrefix, &k.CreatedAt, &lastUsed); err != nil {
		return nil, fmt.Errorf("scanning key: %w", err)
	}
	if lastUsed.Valid {
		t := lastUsed.Time.UTC()
		k.LastUsedAt = &t
	}
	return &k, nil
}

func digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
