package commands

import (
	"database/sql"

	"github.com/dark4eg/Common-Metadata-Repository/conf"
	"github.com/dark4eg/Common-Metadata-Repository/db"
	"github.com/dark4eg/Common-Metadata-Repository/errors"
	"github.com/dark4eg/Common-Metadata-Repository/logger"
)

// openCatalog loads configuration, opens the catalog database, and applies
// pending migrations. Every command goes through here.
func openCatalog() (*sql.DB, *conf.Config, error) {
	cfg, err := conf.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "load configuration")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open catalog database")
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, nil, errors.Wrap(err, "migrate catalog database")
	}

	return database, cfg, nil
}
