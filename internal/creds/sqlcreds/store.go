package sqlcreds

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/chatlink/chatlink-go/internal/models"
)

const (
	keyRefreshToken = "refresh_token"
	keyCurrentUser  = "current_user"
)

// SQLStore persists the refresh token and current-user identity in a local
// SQLite database. Values are sealed with a secretbox key so tokens are not
// readable at rest; a value sealed under a different key reads back as empty
// rather than failing.
type SQLStore struct {
	db  *sql.DB
	key [32]byte

	mu     sync.Mutex
	access string
}

func New(driverName, dataSourceName string, key [32]byte) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, key: key}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS credentials (
		name TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

func (s *SQLStore) SetAccessToken(token string) {
	s.mu.Lock()
	s.access = token
	s.mu.Unlock()
}

func (s *SQLStore) RefreshToken() (string, error) {
	raw, err := s.get(keyRefreshToken)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *SQLStore) SetRefreshToken(token string) error {
	return s.set(keyRefreshToken, []byte(token))
}

func (s *SQLStore) CurrentUser() (*models.User, error) {
	raw, err := s.get(keyCurrentUser)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var u models.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLStore) SetCurrentUser(u *models.User) error {
	if u == nil {
		_, err := s.db.Exec("DELETE FROM credentials WHERE name = ?", keyCurrentUser)
		return err
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.set(keyCurrentUser, raw)
}

func (s *SQLStore) Clear() error {
	s.mu.Lock()
	s.access = ""
	s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM credentials")
	return err
}

func (s *SQLStore) set(name string, value []byte) error {
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT INTO credentials (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value",
		name, sealed,
	)
	return err
}

func (s *SQLStore) get(name string) ([]byte, error) {
	var sealed []byte
	err := s.db.QueryRow("SELECT value FROM credentials WHERE name = ?", name).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	value, ok := s.open(sealed)
	if !ok {
		// Sealed under another key; behave as if unset.
		return nil, nil
	}
	return value, nil
}

func (s *SQLStore) seal(value []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], value, &nonce, &s.key), nil
}

func (s *SQLStore) open(sealed []byte) ([]byte, bool) {
	if len(sealed) < 24 {
		return nil, false
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	return secretbox.Open(nil, sealed[24:], &nonce, &s.key)
}
