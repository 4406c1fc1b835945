package channeldb

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/kvdb"
)

var (
	// monitorBucket is the top level bucket of the monitor store. It
	// holds one sub-bucket per channel, keyed by the funding outpoint.
	//
	// monitorBucket
	//   |
	//   +-- <chanPoint>
	//        |
	//        +-- paramsKey -> ChannelParams
	//        +-- resolvedKey -> 1 once the channel is fully resolved
	//        +-- updateBucket
	//             |
	//             +-- <update id> -> ChannelMonitorUpdate
	monitorBucket = []byte("channel-monitors")

	// paramsKey stores the static channel parameters.
	paramsKey = []byte("params")

	// resolvedKey is set once every output of the channel is resolved.
	resolvedKey = []byte("resolved")

	// updateBucket holds the monitor updates of one channel, keyed by the
	// big endian update id so a cursor walks them in order.
	updateBucket = []byte("updates")
)

// MonitorStore persists channel watcher state: the static channel parameters
// and the append-only list of monitor updates.
type MonitorStore struct {
	db *DB
}

// NewMonitorStore creates a monitor store on top of the passed database.
func NewMonitorStore(db *DB) *MonitorStore {
	return &MonitorStore{db: db}
}

// chanKey returns the bucket key of a channel.
func chanKey(chanPoint wire.OutPoint) ([]byte, error) {
	var b bytes.Buffer
	if err := writeOutpoint(&b, &chanPoint); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// CreateMonitor registers a channel in the store. Registering the same channel
// twice with the same parameters is a no-op.
func (s *MonitorStore) CreateMonitor(params *ChannelParams) error {
	key, err := chanKey(params.ChanPoint)
	if err != nil {
		return err
	}

	var paramBytes bytes.Buffer
	if err := params.Encode(&paramBytes); err != nil {
		return err
	}

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		monitors, err := tx.CreateTopLevelBucket(monitorBucket)
		if err != nil {
			return err
		}

		chanBucket, err := monitors.CreateBucketIfNotExists(key)
		if err != nil {
			return err
		}

		existing := chanBucket.Get(paramsKey)
		switch {
		case existing == nil:

		case bytes.Equal(existing, paramBytes.Bytes()):
			return nil

		default:
			return ErrMonitorExists
		}

		_, err = chanBucket.CreateBucketIfNotExists(updateBucket)
		if err != nil {
			return err
		}

		log.Debugf("Created monitor for ChannelPoint(%v)",
			params.ChanPoint)

		return chanBucket.Put(paramsKey, paramBytes.Bytes())
	}, func() {})
}

// PersistUpdate durably appends a monitor update for the channel. When this
// method returns nil the update survives a crash.
func (s *MonitorStore) PersistUpdate(chanPoint wire.OutPoint,
	update *ChannelMonitorUpdate) error {

	key, err := chanKey(chanPoint)
	if err != nil {
		return err
	}

	var b bytes.Buffer
	if err := update.Encode(&b); err != nil {
		return err
	}

	var idKey [8]byte
	binary.BigEndian.PutUint64(idKey[:], update.UpdateID)

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		monitors := tx.ReadWriteBucket(monitorBucket)
		if monitors == nil {
			return ErrNoMonitor
		}

		chanBucket := monitors.NestedReadWriteBucket(key)
		if chanBucket == nil {
			return ErrNoMonitor
		}

		updates, err := chanBucket.CreateBucketIfNotExists(
			updateBucket,
		)
		if err != nil {
			return err
		}

		return updates.Put(idKey[:], b.Bytes())
	}, func() {})
}

// MarkResolved records that every output of the channel has been resolved.
func (s *MonitorStore) MarkResolved(chanPoint wire.OutPoint) error {
	key, err := chanKey(chanPoint)
	if err != nil {
		return err
	}

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		monitors := tx.ReadWriteBucket(monitorBucket)
		if monitors == nil {
			return ErrNoMonitor
		}

		chanBucket := monitors.NestedReadWriteBucket(key)
		if chanBucket == nil {
			return ErrNoMonitor
		}

		return chanBucket.Put(resolvedKey, []byte{1})
	}, func() {})
}

// MonitorRecord is everything the store holds for one channel.
type MonitorRecord struct {
	// Params are the static channel parameters.
	Params ChannelParams

	// Updates are the persisted updates ordered by update id.
	Updates []*ChannelMonitorUpdate

	// Resolved is true once the channel was marked resolved.
	Resolved bool
}

// fetchRecord reads the record of one channel bucket.
func fetchRecord(chanBucket kvdb.RBucket) (*MonitorRecord, error) {
	paramBytes := chanBucket.Get(paramsKey)
	if paramBytes == nil {
		return nil, ErrNoMonitor
	}

	record := &MonitorRecord{
		Resolved: chanBucket.Get(resolvedKey) != nil,
	}
	if err := record.Params.Decode(bytes.NewReader(paramBytes)); err != nil {
		return nil, err
	}

	updates := chanBucket.NestedReadBucket(updateBucket)
	if updates == nil {
		return record, nil
	}

	err := updates.ForEach(func(_, v []byte) error {
		update := &ChannelMonitorUpdate{}
		if err := update.Decode(bytes.NewReader(v)); err != nil {
			return err
		}

		record.Updates = append(record.Updates, update)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// FetchMonitor returns the stored record of a channel.
func (s *MonitorStore) FetchMonitor(chanPoint wire.OutPoint) (*MonitorRecord,
	error) {

	key, err := chanKey(chanPoint)
	if err != nil {
		return nil, err
	}

	var record *MonitorRecord
	err = kvdb.View(s.db, func(tx kvdb.RTx) error {
		monitors := tx.ReadBucket(monitorBucket)
		if monitors == nil {
			return ErrNoMonitor
		}

		chanBucket := monitors.NestedReadBucket(key)
		if chanBucket == nil {
			return ErrNoMonitor
		}

		record, err = fetchRecord(chanBucket)

		return err
	}, func() {
		record = nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// FetchAllMonitors returns the records of every stored channel.
func (s *MonitorStore) FetchAllMonitors() ([]*MonitorRecord, error) {
	var records []*MonitorRecord
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		monitors := tx.ReadBucket(monitorBucket)
		if monitors == nil {
			return nil
		}

		return monitors.ForEach(func(k, _ []byte) error {
			chanBucket := monitors.NestedReadBucket(k)
			if chanBucket == nil {
				return nil
			}

			record, err := fetchRecord(chanBucket)
			switch {
			// A bucket without params is a half created monitor,
			// skip it.
			case errors.Is(err, ErrNoMonitor):
				return nil

			case err != nil:
				return err
			}

			records = append(records, record)

			return nil
		})
	}, func() {
		records = nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}
