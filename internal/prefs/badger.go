package prefs

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/adamancini/keel/internal/log"
)

// BadgerConfig holds configuration for the persistent store.
type BadgerConfig struct {
	// Path to the database directory. Required unless InMemory is true.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// Logger receives badger diagnostics. Nil disables them.
	Logger log.Logger
}

// Badger is a Store persisted in a BadgerDB directory.
type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

// OpenBadger opens (or creates) the preference database.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("preference store path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{l: cfg.Logger.WithName("prefs")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open preference store: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(key string) (any, bool, error) {
	var (
		value any
		found bool
	)

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get key %s: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			v, err := decode(val)
			if err != nil {
				return err
			}
			value, found = v, true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

func (b *Badger) Set(key string, value any) error {
	if value == nil {
		return b.Delete(key)
	}
	data, err := encode(value)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (b *Badger) Delete(key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *Badger) List(prefix string) (map[string]any, error) {
	out := make(map[string]any)

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			err := item.Value(func(val []byte) error {
				v, err := decode(val)
				if err != nil {
					return fmt.Errorf("key %s: %w", key, err)
				}
				out[key] = v
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Badger) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// badgerLogger adapts log.Logger to badger.Logger.
type badgerLogger struct {
	l log.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(nil, fmt.Sprintf(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}
