package kv

import (
	"context"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statelayer/statelayer/storage/basedb"
)

// BadgerDB struct
type BadgerDB struct {
	logger *zap.Logger

	db *badger.DB

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup

	// gcMutex is used to ensure that only one GC cycle runs at a time.
	gcMutex sync.Mutex
}

// New creates a persistent DB instance.
func New(logger *zap.Logger, options basedb.Options) (*BadgerDB, error) {
	return createDB(logger, options, false)
}

// NewInMemory creates an in-memory DB instance.
func NewInMemory(logger *zap.Logger, options basedb.Options) (*BadgerDB, error) {
	return createDB(logger, options, true)
}

func createDB(logger *zap.Logger, options basedb.Options, inMemory bool) (*BadgerDB, error) {
	opt := badger.DefaultOptions(options.Path)

	if inMemory {
		opt.InMemory = true
		opt.Dir = ""
		opt.ValueDir = ""
	}

	opt.ValueLogFileSize = 1024 * 1024 * 100 // TODO: expose via basedb.Options
	opt.Logger = newLogger(logger.Named("BadgerDBLog"))

	db, err := badger.Open(opt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger")
	}

	parentCtx := options.Ctx
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	badgerDB := &BadgerDB{
		logger: logger,
		db:     db,
		ctx:    ctx,
		cancel: cancel,
	}

	// Start periodic garbage collection.
	if options.GCInterval > 0 {
		badgerDB.wg.Add(1)
		go badgerDB.periodicallyCollectGarbage(options.GCInterval)
	}

	return badgerDB, nil
}

// Begin creates a read-write transaction.
func (b *BadgerDB) Begin() basedb.Txn {
	txn := b.db.NewTransaction(true)
	return newTxn(txn, b)
}

// Set save value with key to storage
func (b *BadgerDB) Set(prefix []byte, key []byte, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return newTxn(txn, b).Set(prefix, key, value)
	})
}

// SetMany save many values with the given keys in a single badger transaction
func (b *BadgerDB) SetMany(prefix []byte, n int, next func(int) (basedb.Obj, error)) error {
	wb := b.db.NewWriteBatch()
	for i := 0; i < n; i++ {
		item, err := next(i)
		if err != nil {
			wb.Cancel()
			return err
		}
		if err := wb.Set(append(prefix, item.Key...), item.Value); err != nil {
			wb.Cancel()
			return err
		}
	}
	return wb.Flush()
}

// Get return value for specified key
func (b *BadgerDB) Get(prefix []byte, key []byte) (basedb.Obj, bool, error) {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()
	return newTxn(txn, b).Get(prefix, key)
}

// GetMany return values for the given keys
func (b *BadgerDB) GetMany(prefix []byte, keys [][]byte, iterator func(basedb.Obj) error) error {
	if len(keys) == 0 {
		return nil
	}
	err := b.db.View(b.manyGetter(prefix, keys, iterator))
	return err
}

// GetAll returns all the items of a given collection
func (b *BadgerDB) GetAll(prefix []byte, handler func(int, basedb.Obj) error) error {
	return b.db.View(b.allGetter(prefix, handler))
}

// CountPrefix return the object count for all keys under specified prefix(bucket)
func (b *BadgerDB) CountPrefix(prefix []byte) (int64, error) {
	var res int64
	err := b.db.View(func(txn *badger.Txn) error {
		opt := badger.DefaultIteratorOptions
		opt.Prefix = prefix
		opt.PrefetchValues = false
		it := txn.NewIterator(opt)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			res++
		}
		return nil
	})
	return res, err
}

// DropPrefix cleans all items in a collection
func (b *BadgerDB) DropPrefix(prefix []byte) error {
	return b.db.DropPrefix(prefix)
}

// Delete key in specific prefix (bucket)
func (b *BadgerDB) Delete(prefix []byte, key []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return newTxn(txn, b).Delete(prefix, key)
	})
}

// Update is a gateway to badger db Update function
// creating and managing a read-write transaction
func (b *BadgerDB) Update(fn func(basedb.Txn) error) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return fn(newTxn(txn, b))
	})
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	// Stop & wait for background goroutines.
	b.cancel()
	b.wg.Wait()

	// Close the database.
	err := b.db.Close()
	if err != nil {
		b.logger.Fatal("failed to close db", zap.Error(err))
	}
	return err
}

func (b *BadgerDB) manyGetter(prefix []byte, keys [][]byte, iterator func(basedb.Obj) error) func(txn *badger.Txn) error {
	return func(txn *badger.Txn) error {
		var value, cp []byte
		for _, k := range keys {
			item, err := txn.Get(append(prefix, k...))
			if err != nil {
				if isNotFoundError(err) { // in order to couple the not found errors together
					b.logger.Debug("item not found", zap.String("key", string(k)))
					continue
				}
				b.logger.Warn("failed to get item", zap.String("key", string(k)))
				return err
			}
			value, err = item.ValueCopy(value)
			if err != nil {
				b.logger.Warn("failed to copy item value", zap.String("key", string(k)))
				return err
			}
			cp = make([]byte, len(value))
			copy(cp, value)
			if err := iterator(basedb.Obj{
				Key:   k,
				Value: cp,
			}); err != nil {
				return err
			}
		}
		return nil
	}
}

func (b *BadgerDB) allGetter(prefix []byte, handler func(int, basedb.Obj) error) func(txn *badger.Txn) error {
	return func(txn *badger.Txn) error {
		opt := badger.DefaultIteratorOptions
		opt.Prefix = prefix
		it := txn.NewIterator(opt)
		defer it.Close()

		i := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				b.logger.Error("failed to copy value", zap.Error(err))
				continue
			}
			key := item.KeyCopy(nil)
			if err := handler(i, basedb.Obj{
				Key:   key[len(prefix):],
				Value: val,
			}); err != nil {
				return err
			}
			i++
		}
		return nil
	}
}

func isNotFoundError(err error) bool {
	return errors.Is(err, badger.ErrKeyNotFound)
}
