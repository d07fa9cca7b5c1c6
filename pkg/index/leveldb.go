// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// store persists index entries keyed by uname.
type store interface {
	put(key string, e Entry) error
	delete(key string) error
	iterate(fn func(key string, e Entry) error) error
	close() error
}

// ldbStore is the LevelDB implementation. Writes are buffered: the
// index tolerates losing the last few updates, a restart re-discovers
// them from the cache tier's own state or from the cloud.
type ldbStore struct {
	db        *leveldb.DB
	writeOpts *opt.WriteOptions
}

func openLevelDB(dir string) (*ldbStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if ldberrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open index db %s: %w", dir, err)
	}
	return &ldbStore{
		db:        db,
		writeOpts: &opt.WriteOptions{Sync: false},
	}, nil
}

func (s *ldbStore) put(key string, e Entry) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return err
	}
	return s.db.Put([]byte(key), buf.Bytes(), s.writeOpts)
}

func (s *ldbStore) delete(key string) error {
	return s.db.Delete([]byte(key), s.writeOpts)
}

func (s *ldbStore) iterate(fn func(key string, e Entry) error) error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		var e Entry
		if err := gob.NewDecoder(bytes.NewReader(iter.Value())).Decode(&e); err != nil {
			return fmt.Errorf("decode index entry %q: %w", iter.Key(), err)
		}
		if err := fn(string(iter.Key()), e); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *ldbStore) close() error {
	// Flush buffered writes before closing.
	batch := new(leveldb.Batch)
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return err
	}
	return s.db.Close()
}
