// Package localsync implements the local worker pool (spec.md C7): mirror
// one local directory into another without ever touching the network,
// using a persistent key→hash index to skip files that have not changed.
package localsync

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

// Index is the persistent key→hash store check and copy tasks consult
// (spec.md §4.7). It is externally thread-safe: goleveldb serializes
// concurrent Get/Put internally, so workers call it without additional
// locking, matching spec.md §5's "local-sync side" concurrency model.
type Index struct {
	db *leveldb.DB
}

// OpenIndex opens (creating if absent) a leveldb database at path to back
// an Index.
func OpenIndex(path string) (*Index, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("localsync: open index %s: %w", path, err)
	}
	return &Index{db: db}, nil
}

// Get returns the stored fingerprint for key and whether it was present.
func (idx *Index) Get(key string) (fingerprint string, ok bool, err error) {
	v, err := idx.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("localsync: index get %s: %w", key, err)
	}
	return string(v), true, nil
}

// Put stores fingerprint under key.
func (idx *Index) Put(key, fingerprint string) error {
	if err := idx.db.Put([]byte(key), []byte(fingerprint), nil); err != nil {
		return fmt.Errorf("localsync: index put %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}
