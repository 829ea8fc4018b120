// Package conf loads catalog configuration from TOML files and CMR_-prefixed
// environment variables, in Viper precedence order. Settings that tune the
// store (revision retention, save retries) and the cleanup jobs can be
// hot-reloaded through ConfigWatcher.
package conf

import "github.com/spf13/viper"

// Config is the root configuration for the metadata catalog.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Store    StoreConfig    `mapstructure:"store"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// DatabaseConfig locates the SQLite substrate.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StoreConfig tunes the concept store.
type StoreConfig struct {
	// RetainedRevisions is K for old-revision cleanup: the newest K
	// revisions of each concept survive, plus any tombstone.
	RetainedRevisions int `mapstructure:"retained_revisions"`

	// SaveRetries bounds re-numbering attempts when concurrent writers
	// collide on the same concept's next revision.
	SaveRetries int `mapstructure:"save_retries"`
}

// CleanupConfig tunes the cleanup jobs.
type CleanupConfig struct {
	// RatePerSecond paces destructive cleanup statements so jobs do not
	// starve foreground writes.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// CacheConfig tunes the consistency coordinator.
type CacheConfig struct {
	// LedgerTable names the shared version-ledger table.
	LedgerTable string `mapstructure:"ledger_table"`
}

// Default values.
const (
	DefaultDatabasePath      = "cmrdb.sqlite"
	DefaultRetainedRevisions = 10
	DefaultSaveRetries       = 3
	DefaultCleanupRate       = 200.0
	DefaultLedgerTable       = "cache_versions"
)

// SetDefaults installs default values on a Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("store.retained_revisions", DefaultRetainedRevisions)
	v.SetDefault("store.save_retries", DefaultSaveRetries)
	v.SetDefault("cleanup.rate_per_second", DefaultCleanupRate)
	v.SetDefault("cache.ledger_table", DefaultLedgerTable)
}
