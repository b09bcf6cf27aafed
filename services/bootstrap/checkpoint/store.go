// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint persists the progress of estimation runs in BadgerDB.
//
// After every accepted replicate the engine stores its counters and
// accumulator state under a fingerprint of the run's kind, parameters and
// data. A later run with the same fingerprint resumes from there, so an
// interrupted estimate continues with the same seeds it would have used.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/AleutianAI/stealthboot/services/bootstrap/aggregate"
)

// ErrNotFound indicates no checkpoint exists for a key.
var ErrNotFound = errors.New("checkpoint not found")

const keyPrefix = "ckpt/"

// State is the resumable progress of one run.
type State struct {
	RunID string `json:"run_id"`
	Kind  string `json:"kind"`

	// Replicate is the number of accepted replicates.
	Replicate int `json:"replicate"`

	// Attempt is the number of dispatched batches.
	Attempt int `json:"attempt"`

	Weights *aggregate.AccumulatorState `json:"weights,omitempty"`
	Scalar  *aggregate.ScalarState      `json:"scalar,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Config holds configuration for a checkpoint store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory keeps checkpoints in memory only. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// TTL expires checkpoints that are not updated. Zero keeps them.
	TTL time.Duration

	// Logger receives BadgerDB's own log output. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns a persistent configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		TTL:        7 * 24 * time.Hour,
	}
}

// InMemoryConfig returns configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store reads and writes run checkpoints.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens a checkpoint store.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent checkpoints")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, errors.Wrapf(err, "create checkpoint directory %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open checkpoint database")
	}
	return &Store{db: db, ttl: cfg.TTL}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores st under key, replacing any previous checkpoint.
func (s *Store) Save(ctx context.Context, key string, st *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+key), data)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
	return errors.Wrapf(err, "save checkpoint %s", key)
}

// Load returns the checkpoint stored under key, or ErrNotFound.
func (s *Store) Load(ctx context.Context, key string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var st State
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load checkpoint %s", key)
	}
	return &st, nil
}

// Delete removes the checkpoint stored under key. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
	return errors.Wrapf(err, "delete checkpoint %s", key)
}

// Keys lists the stored checkpoint keys.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	return keys, errors.Wrap(err, "list checkpoints")
}

// Fingerprint derives a checkpoint key from a run's identity.
//
// Each part is JSON encoded and hashed in order, so equal kinds,
// parameters and data always map to the same key.
func Fingerprint(kind string, parts ...any) (string, error) {
	h := sha256.New()
	h.Write([]byte(kind))
	enc := json.NewEncoder(h)
	for i, p := range parts {
		if err := enc.Encode(p); err != nil {
			return "", errors.Wrapf(err, "fingerprint part %d", i)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
