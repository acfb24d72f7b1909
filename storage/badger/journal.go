// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/absmach/fluxloan/internal/bufpool"
	"github.com/absmach/fluxloan/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.Journal = (*Journal)(nil)

const (
	recordPrefix   = "j\x00"
	sequencePrefix = "s\x00"

	// Sequence numbers leased from badger per round trip.
	seqBandwidth = 128

	gcInterval     = 5 * time.Minute
	gcDiscardRatio = 0.5
)

// Config holds BadgerDB configuration.
type Config struct {
	Dir string // Directory for BadgerDB data
}

// Journal is a BadgerDB-backed storage.Journal.
//
// Records are keyed "j\x00{topic}\x00{seq}" with seq big-endian, so a prefix
// scan yields one topic in sequence order. Topic names never contain NUL.
// Sequences are strictly increasing per topic but may skip numbers after a
// restart, since unused leases are discarded.
type Journal struct {
	db *badger.DB

	seqMu sync.Mutex
	seqs  map[string]*badger.Sequence

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.RWMutex
}

// New opens a BadgerDB journal in cfg.Dir.
func New(cfg Config) (*Journal, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil
	opts.EncryptionKey = nil
	opts.EncryptionKeyRotationDuration = 0
	// Journal entries are diagnostic; fsync per publish is not worth it.
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1
	opts.NumCompactors = 2
	opts.NumLevelZeroTables = 5
	opts.NumLevelZeroTablesStall = 15

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		db:       db,
		seqs:     make(map[string]*badger.Sequence),
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}

	go j.runGC()

	return j, nil
}

// Append encodes rec and stores it under the next sequence of its topic.
func (j *Journal) Append(rec *storage.Record) (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return 0, storage.ErrClosed
	}

	seq, err := j.nextSeq(rec.Topic)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	stored := *rec
	stored.Seq = seq
	err = bufpool.EncodeJSON(&stored, func(data []byte) error {
		return j.db.Update(func(txn *badger.Txn) error {
			// Badger keeps a reference to value until the txn commits.
			return txn.Set(recordKey(rec.Topic, seq), data)
		})
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Get retrieves a record by topic and sequence.
func (j *Journal) Get(topic string, seq uint64) (*storage.Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, storage.ErrClosed
	}

	var rec storage.Record
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(topic, seq))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns all records of a topic in sequence order.
func (j *Journal) List(topic string) ([]*storage.Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, storage.ErrClosed
	}

	var result []*storage.Record
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = topicPrefix(topic)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec storage.Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			result = append(result, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close releases sequence leases and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.gcStopCh)
	<-j.gcDone

	var errs []error
	j.seqMu.Lock()
	for topic, s := range j.seqs {
		if err := s.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release sequence %q: %w", topic, err))
		}
	}
	j.seqs = nil
	j.seqMu.Unlock()

	errs = append(errs, j.db.Close())
	return errors.Join(errs...)
}

func (j *Journal) nextSeq(topic string) (uint64, error) {
	j.seqMu.Lock()
	defer j.seqMu.Unlock()

	s, ok := j.seqs[topic]
	if !ok {
		var err error
		s, err = j.db.GetSequence([]byte(sequencePrefix+topic), seqBandwidth)
		if err != nil {
			return 0, err
		}
		j.seqs[topic] = s
	}

	n, err := s.Next()
	if err != nil {
		return 0, err
	}
	// Badger sequences start at zero; journal sequences start at one.
	return n + 1, nil
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (j *Journal) runGC() {
	defer close(j.gcDone)

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Returns an error when there was nothing to collect.
			_ = j.db.RunValueLogGC(gcDiscardRatio)
		case <-j.gcStopCh:
			return
		}
	}
}

func topicPrefix(topic string) []byte {
	key := make([]byte, 0, len(recordPrefix)+len(topic)+1+8)
	key = append(key, recordPrefix...)
	key = append(key, topic...)
	return append(key, 0)
}

func recordKey(topic string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(topicPrefix(topic), seq)
}
