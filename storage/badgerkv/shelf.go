// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerkv

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Shelf is a KV interface scoped to one key prefix of a shared DB — the
// node shelf, resource shelf (which also holds object payloads), and
// job-completion shelf all implement it, backed by disjoint prefixes of
// one *DB.
type Shelf interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	ForEach(ctx context.Context, fn func(key string, value []byte) error) error
}

// prefixedShelf namespaces keys under prefix + "/" so several shelves can
// share one Badger database without colliding.
type prefixedShelf struct {
	db     *DB
	prefix string
}

// NewShelf returns a Shelf backed by db, namespaced under prefix.
func NewShelf(db *DB, prefix string) Shelf {
	return &prefixedShelf{db: db, prefix: prefix}
}

func (s *prefixedShelf) fullKey(key string) []byte {
	return []byte(s.prefix + "/" + key)
}

func (s *prefixedShelf) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(s.fullKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("badgerkv: get %s/%s: %w", s.prefix, key, err)
	}
	return value, value != nil, nil
}

func (s *prefixedShelf) Set(ctx context.Context, key string, value []byte) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(s.fullKey(key), value)
	})
	if err != nil {
		return fmt.Errorf("badgerkv: set %s/%s: %w", s.prefix, key, err)
	}
	return nil
}

func (s *prefixedShelf) Delete(ctx context.Context, key string) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		err := txn.Delete(s.fullKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("badgerkv: delete %s/%s: %w", s.prefix, key, err)
	}
	return nil
}

func (s *prefixedShelf) ForEach(ctx context.Context, fn func(key string, value []byte) error) error {
	prefix := []byte(s.prefix + "/")
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := bytes.TrimPrefix(item.KeyCopy(nil), prefix)
			var value []byte
			if err := item.Value(func(v []byte) error {
				value = append([]byte(nil), v...)
				return nil
			}); err != nil {
				return err
			}
			if err := fn(string(key), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badgerkv: foreach %s: %w", s.prefix, err)
	}
	return nil
}
