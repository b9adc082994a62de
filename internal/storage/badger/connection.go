package badger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/common"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerDB manages the Badger database connection shared by every storage.
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig
}

// NewBadgerDB opens (and if configured, resets) the Badger database.
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Opening Badger database connection")

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	if err := reserveZeroKeys(store); err != nil {
		store.Close()
		return nil, err
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database initialized")

	return &BadgerDB{
		store:  store,
		logger: logger,
		config: config,
	}, nil
}

// reserveZeroKeys discards the first value of every entity sequence. Badger
// sequences start at 0, but id 0 means "absent" throughout the query layer,
// and a pointer to a zero session id is omitted by gob on encode — a lease
// held by entity 0 would not survive persistence.
func reserveZeroKeys(store *badgerhold.Store) error {
	for _, zero := range []interface{}{
		&models.Site{},
		&models.App{},
		&models.Job{},
		&models.LogEvent{},
		&models.BatchJob{},
		&models.Session{},
		&models.TransferItem{},
	} {
		if err := store.Insert(badgerhold.NextSequence(), zero); err != nil {
			return fmt.Errorf("failed to reserve zero key: %w", err)
		}
		id := reflect.ValueOf(zero).Elem().FieldByName("ID").Uint()
		if err := store.Delete(id, zero); err != nil {
			return fmt.Errorf("failed to drop reserved key: %w", err)
		}
	}
	return nil
}

// Store returns the underlying badgerhold store.
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// updateRetries bounds the conflict retry loop in Update.
const updateRetries = 10

// Update runs fn in a read-write transaction, retrying when a concurrent
// writer forces a conflict abort. Badger detects the conflict only at commit,
// so fn must be safe to re-run from scratch.
func (b *BadgerDB) Update(fn func(tx *badgerdb.Txn) error) error {
	var err error
	for i := 0; i < updateRetries; i++ {
		err = b.store.Badger().Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
		b.logger.Debug().Int("attempt", i+1).Msg("Transaction conflict, retrying")
	}
	return fmt.Errorf("transaction kept conflicting: %w", err)
}

// Close closes the database connection.
func (b *BadgerDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
