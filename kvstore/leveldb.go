package kvstore

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelBackend adapts a goleveldb instance to Backend, grounded on
// tos-network-gtos/tosdb/leveldb (exercised by the same dbtest.TestDatabaseSuite
// as memorydb in the teacher).
type levelBackend struct {
	db *leveldb.DB
}

func (b *levelBackend) Get(key []byte) ([]byte, error) {
	v, err := b.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (b *levelBackend) Put(key, value []byte) error {
	return b.db.Put(key, value, nil)
}

func (b *levelBackend) Delete(key []byte) error {
	return b.db.Delete(key, nil)
}

func (b *levelBackend) Has(key []byte) (bool, error) {
	return b.db.Has(key, nil)
}

func (b *levelBackend) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	it := b.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		k := append([]byte(nil), it.Key()...)
		v := append([]byte(nil), it.Value()...)
		if !fn(k, v) {
			break
		}
	}
	return it.Error()
}

func (b *levelBackend) Close() error { return b.db.Close() }
