// Package sqlite implements the ability to read and write the mutations of
// many clouds to a single SQLite database.
package sqlite

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/encloud/foundation/cloud/codec"
	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// pageSize is the number of mutations an iterator reads per query.
const pageSize = 256

// DB represents a SQLite database holding the journals of many clouds.
type DB struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and applies the
// schema. Opening the same path again is safe.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// SQL returns the underlying database so other packages can keep their
// tables in the same file.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Journal returns the storage for the specified cloud.
func (d *DB) Journal(cloudID identity.CloudID) journal.Storage {
	return &Cloud{db: d.db, cloudID: cloudID}
}

// Clouds returns the identifiers of every cloud with stored mutations.
func (d *DB) Clouds() ([]identity.CloudID, error) {
	rows, err := d.db.Query("SELECT DISTINCT cloud_id FROM mutations ORDER BY cloud_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clouds []identity.CloudID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}

		var id identity.CloudID
		if len(raw) != len(id) {
			return nil, fmt.Errorf("stored cloud id length %d: %w", len(raw), identity.ErrMalformedInput)
		}
		copy(id[:], raw)

		clouds = append(clouds, id)
	}

	return clouds, rows.Err()
}

// =============================================================================

// Cloud represents the storage of one cloud's journal inside the database.
// This implements the journal.Storage interface.
type Cloud struct {
	db      *sql.DB
	cloudID identity.CloudID
}

// Close in this implementation has nothing to do since the database is
// shared by every cloud and closed through DB.
func (c *Cloud) Close() error {
	return nil
}

// Write stores the mutation in its binary record layout.
func (c *Cloud) Write(m journal.Mutation) error {
	record, err := m.MarshalBinary()
	if err != nil {
		return err
	}

	var disclosed any
	if m.DisclosedKey != nil {
		disclosed = m.DisclosedKey[:]
	}

	const q = `
	INSERT INTO mutations (cloud_id, idx, record, disclosed_key)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (cloud_id, idx) DO UPDATE SET
		record = excluded.record,
		disclosed_key = excluded.disclosed_key`

	if _, err := c.db.Exec(q, c.cloudID[:], int64(m.Index), record, disclosed); err != nil {
		return fmt.Errorf("inserting mutation[%d]: %w", m.Index, err)
	}

	return nil
}

// Read returns the mutation at the specified index.
func (c *Cloud) Read(index uint64) (journal.Mutation, error) {
	const q = `SELECT record, disclosed_key FROM mutations WHERE cloud_id = ? AND idx = ?`

	var record, disclosed []byte
	if err := c.db.QueryRow(q, c.cloudID[:], int64(index)).Scan(&record, &disclosed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return journal.Mutation{}, journal.ErrNotFound
		}
		return journal.Mutation{}, err
	}

	return toMutation(record, disclosed)
}

// ForEach returns an iterator to walk through all the mutations of the
// cloud starting with the genesis mutation.
func (c *Cloud) ForEach() journal.Iterator {
	return &cloudIterator{cloud: c}
}

// WriteEvidence records the proof of equivocation.
func (c *Cloud) WriteEvidence(ev journal.Evidence) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	const q = `
	INSERT INTO evidence (cloud_id, idx, detected_at, body)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (cloud_id) DO NOTHING`

	if _, err := c.db.Exec(q, c.cloudID[:], int64(ev.Index), ev.DetectedAt.Format(time.RFC3339Nano), string(body)); err != nil {
		return fmt.Errorf("inserting evidence: %w", err)
	}

	return nil
}

// ReadEvidence returns the proof of equivocation if one was recorded.
func (c *Cloud) ReadEvidence() (journal.Evidence, bool, error) {
	const q = `SELECT body FROM evidence WHERE cloud_id = ?`

	var body string
	if err := c.db.QueryRow(q, c.cloudID[:]).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return journal.Evidence{}, false, nil
		}
		return journal.Evidence{}, false, err
	}

	var ev journal.Evidence
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return journal.Evidence{}, false, fmt.Errorf("decoding evidence: %w", err)
	}

	return ev, true, nil
}

// page reads up to pageSize mutations starting at from.
func (c *Cloud) page(from uint64) ([]journal.Mutation, error) {
	const q = `
	SELECT record, disclosed_key FROM mutations
	WHERE cloud_id = ? AND idx >= ?
	ORDER BY idx
	LIMIT ?`

	rows, err := c.db.Query(q, c.cloudID[:], int64(from), pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mutations []journal.Mutation
	for rows.Next() {
		var record, disclosed []byte
		if err := rows.Scan(&record, &disclosed); err != nil {
			return nil, err
		}

		m, err := toMutation(record, disclosed)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, m)
	}

	return mutations, rows.Err()
}

func toMutation(record []byte, disclosed []byte) (journal.Mutation, error) {
	var m journal.Mutation
	if err := m.UnmarshalBinary(record); err != nil {
		return journal.Mutation{}, err
	}

	if disclosed != nil {
		var key codec.Key
		if len(disclosed) != len(key) {
			return journal.Mutation{}, fmt.Errorf("disclosed key length %d: %w", len(disclosed), identity.ErrMalformedInput)
		}
		copy(key[:], disclosed)
		m.DisclosedKey = &key
	}

	return m, nil
}

// =============================================================================

// cloudIterator walks the mutations of a cloud one page at a time. This
// implements the journal.Iterator interface.
type cloudIterator struct {
	cloud   *Cloud
	page    []journal.Mutation
	current uint64
	done    bool
}

// Next retrieves the next mutation, reading a new page when needed.
func (ci *cloudIterator) Next() (journal.Mutation, error) {
	if ci.done {
		return journal.Mutation{}, journal.ErrEndOfJournal
	}

	if len(ci.page) == 0 {
		page, err := ci.cloud.page(ci.current)
		if err != nil {
			return journal.Mutation{}, err
		}

		if len(page) == 0 {
			ci.done = true
			return journal.Mutation{}, journal.ErrEndOfJournal
		}
		ci.page = page
	}

	m := ci.page[0]
	ci.page = ci.page[1:]
	ci.current = m.Index + 1

	return m, nil
}

// Done returns the end of journal value.
func (ci *cloudIterator) Done() bool {
	return ci.done
}
