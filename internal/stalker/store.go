// Package stalker tracks a chosen set of Wi-Fi stations through the
// controller's client directory. A watchlist of MAC addresses is
// persisted in SQLite; a background tracker polls the directory and
// emits presence events (appeared, disappeared, roamed, blocked) to
// registered sinks.
package stalker

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nugget/unifi-toolkit/internal/unifi"
)

// ErrNotWatched is returned when a MAC is not on the watchlist.
var ErrNotWatched = errors.New("stalker: not watched")

// Watched is one watchlist entry. MACs are stored canonical.
type Watched struct {
	MAC     string    `json:"mac"`
	Label   string    `json:"label,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Store persists the watchlist in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a watchlist store, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate watchlist: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS watched_stations (
			mac      TEXT PRIMARY KEY,
			label    TEXT NOT NULL DEFAULT '',
			added_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Add puts a station on the watchlist. Re-adding updates the label.
func (s *Store) Add(mac, label string) error {
	mac = unifi.NormalizeMAC(mac)
	if mac == "" {
		return errors.New("stalker: mac is required")
	}
	_, err := s.db.Exec(`
		INSERT INTO watched_stations (mac, label) VALUES (?, ?)
		ON CONFLICT (mac) DO UPDATE SET label = excluded.label`,
		mac, label,
	)
	if err != nil {
		return fmt.Errorf("watch %s: %w", mac, err)
	}
	return nil
}

// Remove takes a station off the watchlist.
func (s *Store) Remove(mac string) error {
	mac = unifi.NormalizeMAC(mac)
	res, err := s.db.Exec(`DELETE FROM watched_stations WHERE mac = ?`, mac)
	if err != nil {
		return fmt.Errorf("unwatch %s: %w", mac, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotWatched, mac)
	}
	return nil
}

// List returns all watchlist entries in insertion order.
func (s *Store) List() ([]Watched, error) {
	rows, err := s.db.Query(`
		SELECT mac, label, added_at FROM watched_stations ORDER BY added_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close()

	var watched []Watched
	for rows.Next() {
		var w Watched
		if err := rows.Scan(&w.MAC, &w.Label, &w.AddedAt); err != nil {
			return nil, fmt.Errorf("scan watchlist: %w", err)
		}
		watched = append(watched, w)
	}
	return watched, rows.Err()
}
