package lncfg

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/chancore/channeldb"
)

const (
	// DefaultDBTimeout is the time we wait for the bbolt file lock.
	DefaultDBTimeout = 60 * time.Second
)

// DB holds the database configuration.
//
//nolint:lll
type DB struct {
	Dir     string        `long:"dir" description:"The directory holding channel.db. Defaults to <datadir>/<network>."`
	Timeout time.Duration `long:"timeout" description:"The time to wait for the database file lock before giving up."`
}

// DefaultDB creates and returns a new default DB config.
func DefaultDB() *DB {
	return &DB{
		Timeout: DefaultDBTimeout,
	}
}

// Validate validates the DB config.
//
// NOTE: Part of the Validator interface.
func (db *DB) Validate() error {
	if db.Timeout <= 0 {
		return fmt.Errorf("db.timeout must be positive, got %v",
			db.Timeout)
	}

	return nil
}

// Open opens the channel database.
func (db *DB) Open() (*channeldb.DB, error) {
	return channeldb.Open(CleanAndExpandPath(db.Dir), db.Timeout)
}

// Compile-time constraint to ensure DB implements the Validator interface.
var _ Validator = (*DB)(nil)
