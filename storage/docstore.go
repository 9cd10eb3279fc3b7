// Copyright 2025 The dreamforge Authors
// This file is part of the dreamforge library.
//
// The dreamforge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The dreamforge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dreamforge library. If not, see <http://www.gnu.org/licenses/>.

// Package storage implements the document store backing the pipeline
// engine: typed, transactional access to user, pipeline and credit
// transaction records on top of a pebble key-value database.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
	"github.com/jackg825/dream-forge-web-sub001/log"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Key schema. Every record class lives under its own single-byte-ish prefix
// so prefix iteration stays cheap.
//
//	u/<userID>               -> UserRecord
//	p/<pipelineID>           -> Pipeline
//	pu/<userID>/<pipelineID> -> nil (ownership index)
//	t/<seq:8>                -> CreditTransaction
//	tj/<jobID>/<seq:8>       -> nil (job index)
var (
	prefixUser         = []byte("u/")
	prefixPipeline     = []byte("p/")
	prefixUserPipeline = []byte("pu/")
	prefixTx           = []byte("t/")
	prefixJobTx        = []byte("tj/")
)

// Store is a transactional document store. A single mutex serializes write
// transactions; reads go through pebble snapshots taken per call. This
// mirrors the single-writer discipline of the underlying LSM and keeps the
// "no partial state is ever observable" ledger guarantee trivial.
type Store struct {
	db      *pebble.DB
	writeMu sync.Mutex
	seq     uint64 // last assigned transaction sequence number
	logger  log.Logger
}

// Open opens (or creates) a document store in the given directory.
func Open(dir string) (*Store, error) {
	return open(dir, &pebble.Options{})
}

// OpenMemory opens an ephemeral in-memory store, used by tests.
func OpenMemory() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dir string, opts *pebble.Options) (*Store, error) {
	opts.Logger = nil
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open docstore: %w", err)
	}
	s := &Store{db: db, logger: log.New("database", dir)}
	if err := s.recoverSeq(); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("Opened document store", "transactions", s.seq)
	return s, nil
}

// recoverSeq restores the transaction sequence counter from the highest
// persisted ledger key.
func (s *Store) recoverSeq() error {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixTx,
		UpperBound: upperBound(prefixTx),
	})
	if err != nil {
		return err
	}
	defer it.Close()
	if it.Last() {
		key := it.Key()
		if len(key) == len(prefixTx)+8 {
			s.seq = binary.BigEndian.Uint64(key[len(prefixTx):])
		}
	}
	return it.Error()
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Txn is a read-write transaction. All reads observe writes made earlier in
// the same transaction; nothing is visible outside until commit.
type Txn struct {
	batch *pebble.Batch
	seq   *uint64
}

// Update runs fn inside a single write transaction. If fn returns an error
// the batch is discarded and nothing is persisted.
func (s *Store) Update(fn func(tx *Txn) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	seq := s.seq
	tx := &Txn{batch: batch, seq: &seq}
	if err := fn(tx); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit docstore batch: %w", err)
	}
	s.seq = seq
	return nil
}

func (tx *Txn) get(key []byte, v interface{}) error {
	data, closer, err := tx.batch.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return json.Unmarshal(data, v)
}

func (tx *Txn) put(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.batch.Set(key, data, nil)
}

// User loads the user record with the given id.
func (tx *Txn) User(id string) (*types.UserRecord, error) {
	var u types.UserRecord
	if err := tx.get(userKey(id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// PutUser writes the user record.
func (tx *Txn) PutUser(u *types.UserRecord) error {
	return tx.put(userKey(u.ID), u)
}

// Pipeline loads the pipeline with the given id.
func (tx *Txn) Pipeline(id string) (*types.Pipeline, error) {
	var p types.Pipeline
	if err := tx.get(pipelineKey(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutPipeline writes the pipeline and maintains the ownership index.
func (tx *Txn) PutPipeline(p *types.Pipeline) error {
	if err := tx.put(pipelineKey(p.ID), p); err != nil {
		return err
	}
	return tx.batch.Set(userPipelineKey(p.UserID, p.ID), nil, nil)
}

// AppendTransaction appends a ledger row, assigning its sequence id.
func (tx *Txn) AppendTransaction(t *types.CreditTransaction) error {
	*tx.seq++
	t.ID = fmt.Sprintf("%016x", *tx.seq)
	if err := tx.put(txKey(*tx.seq), t); err != nil {
		return err
	}
	if t.JobID != "" {
		return tx.batch.Set(jobTxKey(t.JobID, *tx.seq), nil, nil)
	}
	return nil
}

// GetUser loads a user record outside any transaction.
func (s *Store) GetUser(id string) (*types.UserRecord, error) {
	var u types.UserRecord
	if err := s.read(userKey(id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetPipeline loads a pipeline outside any transaction.
func (s *Store) GetPipeline(id string) (*types.Pipeline, error) {
	var p types.Pipeline
	if err := s.read(pipelineKey(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) read(key []byte, v interface{}) error {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return json.Unmarshal(data, v)
}

// ListPipelines returns the user's pipelines, newest first, optionally
// filtered by status, capped at limit.
func (s *Store) ListPipelines(userID string, status types.Status, limit int) ([]*types.Pipeline, error) {
	prefix := userPipelineKey(userID, "")
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*types.Pipeline
	for it.First(); it.Valid(); it.Next() {
		id := string(it.Key()[len(prefix):])
		p, err := s.GetPipeline(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TransactionsForJob returns every ledger row tagged with the given job id,
// in append order.
func (s *Store) TransactionsForJob(jobID string) ([]*types.CreditTransaction, error) {
	prefix := jobTxKeyPrefix(jobID)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*types.CreditTransaction
	for it.First(); it.Valid(); it.Next() {
		seq := binary.BigEndian.Uint64(it.Key()[len(prefix):])
		var t types.CreditTransaction
		if err := s.read(txKey(seq), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, it.Error()
}

func userKey(id string) []byte     { return append(append([]byte{}, prefixUser...), id...) }
func pipelineKey(id string) []byte { return append(append([]byte{}, prefixPipeline...), id...) }

func userPipelineKey(userID, pipelineID string) []byte {
	key := append(append([]byte{}, prefixUserPipeline...), userID...)
	key = append(key, '/')
	return append(key, pipelineID...)
}

func txKey(seq uint64) []byte {
	key := append(append([]byte{}, prefixTx...), make([]byte, 8)...)
	binary.BigEndian.PutUint64(key[len(prefixTx):], seq)
	return key
}

func jobTxKeyPrefix(jobID string) []byte {
	key := append(append([]byte{}, prefixJobTx...), jobID...)
	return append(key, '/')
}

func jobTxKey(jobID string, seq uint64) []byte {
	key := append(jobTxKeyPrefix(jobID), make([]byte, 8)...)
	binary.BigEndian.PutUint64(key[len(key)-8:], seq)
	return key
}

// upperBound returns the smallest key strictly greater than every key with
// the given prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff, no upper bound
}
