// Package endpoints persists controller endpoint definitions in SQLite.
// Credentials are sealed with the process-wide cipher before they touch
// the database; rows never contain plaintext passwords or API keys.
package endpoints

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/unifi-toolkit/internal/secrets"
	"github.com/nugget/unifi-toolkit/internal/unifi"
)

// ErrNotFound is returned when no endpoint with the requested name exists.
var ErrNotFound = errors.New("endpoints: not found")

// Record is a stored controller endpoint. Credential fields hold sealed
// ciphertext and are never serialized to API responses.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Site      string    `json:"site"`
	VerifyTLS bool      `json:"verify_tls"`
	Username  string    `json:"username,omitempty"`
	HasAPIKey bool      `json:"has_api_key"`
	UpdatedAt time.Time `json:"updated_at"`

	encPassword string
	encAPIKey   string
}

// SaveParams carries the plaintext form of an endpoint to store.
// Exactly one credential kind must be supplied: username+password or
// an API key.
type SaveParams struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Site      string `json:"site"`
	VerifyTLS bool   `json:"verify_tls"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	APIKey    string `json:"api_key"`
}

// Store persists endpoint records. All public methods are safe for
// concurrent use (SQLite serializes writes).
type Store struct {
	db     *sql.DB
	cipher *secrets.Cipher
}

// NewStore creates an endpoint store on an open database handle,
// running migrations on first use.
func NewStore(db *sql.DB, cipher *secrets.Cipher) (*Store, error) {
	s := &Store{db: db, cipher: cipher}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate endpoints: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS controller_endpoints (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL UNIQUE,
			host         TEXT NOT NULL,
			site         TEXT NOT NULL DEFAULT 'default',
			verify_tls   INTEGER NOT NULL DEFAULT 0,
			username     TEXT NOT NULL DEFAULT '',
			enc_password TEXT NOT NULL DEFAULT '',
			enc_api_key  TEXT NOT NULL DEFAULT '',
			updated_at   TEXT NOT NULL
		)
	`)
	return err
}

// Save upserts an endpoint by name, sealing credentials before storage.
func (s *Store) Save(p SaveParams) (Record, error) {
	if p.Name == "" {
		return Record{}, errors.New("endpoints: name is required")
	}
	if p.Site == "" {
		p.Site = "default"
	}

	// Validate host and credential shape up front with the same rules
	// the controller client applies at connect time.
	probe := unifi.Endpoint{
		Host:     p.Host,
		Site:     p.Site,
		Username: p.Username,
		Password: p.Password,
		APIKey:   p.APIKey,
	}
	if err := probe.Validate(); err != nil {
		return Record{}, err
	}

	var encPassword, encAPIKey string
	var err error
	if p.Password != "" {
		if encPassword, err = s.cipher.Encrypt(p.Password); err != nil {
			return Record{}, fmt.Errorf("seal password: %w", err)
		}
	}
	if p.APIKey != "" {
		if encAPIKey, err = s.cipher.Encrypt(p.APIKey); err != nil {
			return Record{}, fmt.Errorf("seal api key: %w", err)
		}
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err = s.db.Exec(`
		INSERT INTO controller_endpoints
			(id, name, host, site, verify_tls, username, enc_password, enc_api_key, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			host = excluded.host,
			site = excluded.site,
			verify_tls = excluded.verify_tls,
			username = excluded.username,
			enc_password = excluded.enc_password,
			enc_api_key = excluded.enc_api_key,
			updated_at = excluded.updated_at`,
		id, p.Name, p.Host, p.Site, boolToInt(p.VerifyTLS),
		p.Username, encPassword, encAPIKey, now.Format(time.RFC3339),
	)
	if err != nil {
		return Record{}, fmt.Errorf("save endpoint %s: %w", p.Name, err)
	}

	return s.Get(p.Name)
}

// Get returns the endpoint named name, or ErrNotFound.
func (s *Store) Get(name string) (Record, error) {
	row := s.db.QueryRow(`
		SELECT id, name, host, site, verify_tls, username, enc_password, enc_api_key, updated_at
		FROM controller_endpoints WHERE name = ?`, name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec, err
}

// List returns all endpoints ordered by name.
func (s *Store) List() ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, name, host, site, verify_tls, username, enc_password, enc_api_key, updated_at
		FROM controller_endpoints ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes an endpoint by name. Unknown names yield ErrNotFound.
func (s *Store) Delete(name string) error {
	res, err := s.db.Exec(`DELETE FROM controller_endpoints WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete endpoint %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Endpoint resolves the named record into a connectable unifi.Endpoint,
// unsealing whichever credential kind it carries.
func (s *Store) Endpoint(name string) (unifi.Endpoint, error) {
	rec, err := s.Get(name)
	if err != nil {
		return unifi.Endpoint{}, err
	}

	endpoint := unifi.Endpoint{
		Host:      rec.Host,
		Site:      rec.Site,
		VerifyTLS: rec.VerifyTLS,
		Username:  rec.Username,
	}
	if rec.encPassword != "" {
		if endpoint.Password, err = s.cipher.Decrypt(rec.encPassword); err != nil {
			return unifi.Endpoint{}, fmt.Errorf("unseal password for %s: %w", name, err)
		}
	}
	if rec.encAPIKey != "" {
		if endpoint.APIKey, err = s.cipher.Decrypt(rec.encAPIKey); err != nil {
			return unifi.Endpoint{}, fmt.Errorf("unseal api key for %s: %w", name, err)
		}
	}
	return endpoint, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var verifyTLS int
	var updatedAt string
	err := row.Scan(&rec.ID, &rec.Name, &rec.Host, &rec.Site, &verifyTLS,
		&rec.Username, &rec.encPassword, &rec.encAPIKey, &updatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.VerifyTLS = verifyTLS != 0
	rec.HasAPIKey = rec.encAPIKey != ""
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
