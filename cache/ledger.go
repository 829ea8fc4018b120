// Package cache implements the consistency coordinator: per-instance
// read-through caches for derived values (ACL evaluations, security
// identifier sets), kept coherent across service instances through a shared
// version ledger. Local state is cheap and disposable; the ledger is the
// authority on which cached versions are current.
package cache

import (
	"database/sql"
	"regexp"
	"sync"

	"github.com/dark4eg/Common-Metadata-Repository/errors"
)

// Ledger is the shared, authoritative record of the current version stamp
// per key. It needs atomic read and atomic publish per key, nothing richer.
type Ledger interface {
	// Version returns the current stamp for key, with found=false when the
	// key has never been published.
	Version(key string) (version string, found bool, err error)

	// Publish records a new stamp for key, replacing any previous one.
	Publish(key, version string) error
}

// ledgerTablePattern restricts configurable ledger table names to a safe
// identifier charset before interpolation.
var ledgerTablePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SQLLedger is a Ledger over the shared cache_versions table, the production
// choice: every service instance pointing at the catalog database sees the
// same stamps.
type SQLLedger struct {
	db        *sql.DB
	cacheName string
	table     string
}

// NewSQLLedger creates a ledger scoped to one named cache. The table name is
// configurable (conf.CacheConfig.LedgerTable) but restricted to a safe
// charset.
func NewSQLLedger(db *sql.DB, cacheName, table string) (*SQLLedger, error) {
	if table == "" {
		table = "cache_versions"
	}
	if !ledgerTablePattern.MatchString(table) {
		return nil, errors.NewValidation("invalid ledger table name %q", table)
	}
	if cacheName == "" {
		return nil, errors.NewValidation("ledger cache name is empty")
	}
	return &SQLLedger{db: db, cacheName: cacheName, table: table}, nil
}

// Table returns the validated ledger table name.
func (l *SQLLedger) Table() string {
	return l.table
}

// Version implements Ledger.
func (l *SQLLedger) Version(key string) (string, bool, error) {
	var version string
	err := l.db.QueryRow(
		"SELECT version FROM "+l.table+" WHERE cache_name = ? AND cache_key = ?",
		l.cacheName, key,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "read ledger version for %s/%s", l.cacheName, key)
	}
	return version, true, nil
}

// Publish implements Ledger with an atomic upsert.
func (l *SQLLedger) Publish(key, version string) error {
	_, err := l.db.Exec(
		"INSERT INTO "+l.table+" (cache_name, cache_key, version, updated_at) VALUES (?, ?, ?, datetime('now'))"+
			" ON CONFLICT (cache_name, cache_key) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at",
		l.cacheName, key, version,
	)
	if err != nil {
		return errors.Wrapf(err, "publish ledger version for %s/%s", l.cacheName, key)
	}
	return nil
}

// MemoryLedger is an in-process Ledger for tests and single-instance
// embedding. Two coordinators sharing one MemoryLedger behave like two
// instances sharing the SQL ledger.
type MemoryLedger struct {
	mu       sync.RWMutex
	versions map[string]string
}

// NewMemoryLedger creates an empty in-process ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{versions: map[string]string{}}
}

// Version implements Ledger.
func (l *MemoryLedger) Version(key string) (string, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	version, found := l.versions[key]
	return version, found, nil
}

// Publish implements Ledger.
func (l *MemoryLedger) Publish(key, version string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.versions[key] = version
	return nil
}
