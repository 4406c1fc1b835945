package channeldb

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lightningnetwork/lnd/kvdb"
)

const (
	dbName = "channel.db"
)

// migration is a function which takes a prior outdated version of the database
// instances and mutates the key/bucket structure to arrive at a more
// up-to-date version of the database.
type migration func(tx kvdb.RwTx) error

type version struct {
	number    uint32
	migration migration
}

var (
	// dbVersions is storing all versions of database. If current version
	// of database don't match with latest version this list will be used
	// for retrieving all migration function that are need to apply to the
	// current db.
	dbVersions = []version{
		{
			// The base DB version requires no migration.
			number:    0,
			migration: nil,
		},
	}

	// metaBucket stores all the meta information concerning the state of
	// the database.
	metaBucket = []byte("metadata")

	// dbVersionKey is a boltdb key and it's used for storing/retrieving
	// current database version.
	dbVersionKey = []byte("dbp")
)

// DB is the primary datastore of the channel core. It stores the parameters
// of every watched channel together with its ordered monitor updates.
type DB struct {
	kvdb.Backend

	dbPath string
}

// Open opens or creates the bbolt backed channeldb within dbPath. Any
// necessary schemas migrations due to updates will take place as necessary.
func Open(dbPath string, timeout time.Duration) (*DB, error) {
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return nil, err
		}
	}

	path := filepath.Join(dbPath, dbName)
	backend, err := kvdb.Create(
		kvdb.BoltBackendName, path, true, timeout, false,
	)
	if err != nil {
		return nil, err
	}

	db, err := CreateWithBackend(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	db.dbPath = dbPath

	return db, nil
}

// CreateWithBackend creates channeldb instance using the passed kvdb.Backend.
// The top level buckets are created and the version is synchronized.
func CreateWithBackend(backend kvdb.Backend) (*DB, error) {
	chanDB := &DB{
		Backend: backend,
	}

	err := kvdb.Update(chanDB, func(tx kvdb.RwTx) error {
		for _, bucket := range [][]byte{metaBucket, monitorBucket} {
			_, err := tx.CreateTopLevelBucket(bucket)
			if err != nil {
				return err
			}
		}

		return nil
	}, func() {})
	if err != nil {
		return nil, fmt.Errorf("unable to create new channeldb: %w",
			err)
	}

	// Synchronize the version of database and apply migrations if needed.
	if err := chanDB.syncVersions(dbVersions); err != nil {
		return nil, err
	}

	return chanDB, nil
}

// Path returns the directory the database lives in.
func (d *DB) Path() string {
	return d.dbPath
}

// fileExists returns true if the file exists, and false otherwise.
func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}

// fetchVersion returns the stored database version, zero for a fresh db.
func fetchVersion(tx kvdb.RTx) uint32 {
	meta := tx.ReadBucket(metaBucket)
	if meta == nil {
		return 0
	}

	v := meta.Get(dbVersionKey)
	if len(v) != 4 {
		return 0
	}

	return byteOrder.Uint32(v)
}

// syncVersions function is used for safe db version synchronization. It
// applies migration functions to the current database and recovers the
// previous state of db if at least one error/panic appeared during migration.
func (d *DB) syncVersions(versions []version) error {
	var current uint32
	err := kvdb.View(d, func(tx kvdb.RTx) error {
		current = fetchVersion(tx)
		return nil
	}, func() {})
	if err != nil {
		return err
	}

	latestVersion := versions[len(versions)-1].number
	switch {
	// If the database reports a higher version that we are aware of, the
	// user is probably trying to revert to a prior version of the code.
	case current > latestVersion:
		return ErrDBReversion

	// If the current database version matches the latest version number,
	// then we don't need to perform any migrations.
	case current == latestVersion:
		return d.putVersion(latestVersion)
	}

	log.Infof("Performing database schema migration from version %d to %d",
		current, latestVersion)

	return kvdb.Update(d, func(tx kvdb.RwTx) error {
		for _, v := range versions {
			if v.number <= current || v.migration == nil {
				continue
			}

			log.Infof("Applying migration #%v", v.number)
			if err := v.migration(tx); err != nil {
				return err
			}
		}

		meta, err := tx.CreateTopLevelBucket(metaBucket)
		if err != nil {
			return err
		}

		var scratch [4]byte
		byteOrder.PutUint32(scratch[:], latestVersion)

		return meta.Put(dbVersionKey, scratch[:])
	}, func() {})
}

// putVersion writes the database version.
func (d *DB) putVersion(v uint32) error {
	return kvdb.Update(d, func(tx kvdb.RwTx) error {
		meta, err := tx.CreateTopLevelBucket(metaBucket)
		if err != nil {
			return err
		}

		var scratch [4]byte
		byteOrder.PutUint32(scratch[:], v)

		return meta.Put(dbVersionKey, scratch[:])
	}, func() {})
}
