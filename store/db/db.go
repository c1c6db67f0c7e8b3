package db

import (
	"github.com/pkg/errors"

	"github.com/UtkarshDeoli/Kite/internal/profile"
	"github.com/UtkarshDeoli/Kite/store"
	"github.com/UtkarshDeoli/Kite/store/db/postgres"
	"github.com/UtkarshDeoli/Kite/store/db/sqlite"
)

// NewDBDriver creates a new DB driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
