/*
Copyright 2026 The cloudrx Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package memory implements an in-process fake of backingstore.Store, used
// by unit tests and local development in place of a real AWS account. It
// reproduces the DynamoDB+Streams shape closely enough to exercise the
// shard multiplexer, the CDC record stream, and the store-verify-emit
// pipeline deterministically: every Put appends both a queryable Item and a
// CdcRecord to a shard chosen by ShardFunc.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
)

// Store is an in-memory backingstore.Store. The zero value is not usable;
// construct with New.
type Store struct {
	mu sync.Mutex

	schema  backingstore.Schema
	created bool
	ttlOn   bool

	items []backingstore.Item

	// ShardFunc assigns a shard id to the nth Put (0-indexed). The default
	// assigns every record to a single shard "shard-0".
	ShardFunc func(n int) string

	shardRecords map[string][]backingstore.CdcRecord
	shardOrder   []string
	seq          int64

	tableArn  string
	streamArn string

	// FailDescribeStream, when non-nil, is returned by DescribeStream once
	// and then cleared, letting tests exercise the multiplexer's
	// log-and-keep-polling behavior on transient failures.
	FailDescribeStream error
}

// New returns a ready Store; CreateTable/UpdateTTL must still be called (or
// will be called by provider bootstrap) before it validates.
func New() *Store {
	return &Store{
		shardRecords: map[string][]backingstore.CdcRecord{},
	}
}

func (s *Store) shardFor(n int) string {
	if s.ShardFunc != nil {
		return s.ShardFunc(n)
	}
	return "shard-0"
}

func (s *Store) Put(ctx context.Context, item backingstore.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.items {
		if s.items[i].HashKey == item.HashKey && s.items[i].RangeKey == item.RangeKey {
			s.items[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		s.items = append(s.items, item)
	}

	n := int(s.seq)
	shardID := s.shardFor(n)
	if _, ok := s.shardRecords[shardID]; !ok {
		s.shardOrder = append(s.shardOrder, shardID)
	}
	s.seq++
	rec := backingstore.CdcRecord{
		ShardID:        shardID,
		SequenceNumber: fmt.Sprintf("%020d", s.seq),
		HashKey:        item.HashKey,
		RangeKey:       item.RangeKey,
		NewImage: map[string]any{
			"hashKey":   item.HashKey,
			"rangeKey":  item.RangeKey,
			"data":      item.Data,
			"timestamp": item.Timestamp,
			"expires":   item.Expires,
		},
	}
	s.shardRecords[shardID] = append(s.shardRecords[shardID], rec)
	return nil
}

func (s *Store) Query(ctx context.Context, consistentRead bool) ([]backingstore.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]backingstore.Item, len(s.items))
	copy(out, s.items)
	sort.Slice(out, func(i, j int) bool { return out[i].RangeKey < out[j].RangeKey })
	return out, nil
}

func (s *Store) DescribeTable(ctx context.Context) (backingstore.TableDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return backingstore.TableDescription{}, &notFoundError{"table"}
	}
	return backingstore.TableDescription{
		TableArn:       s.tableArn,
		StreamArn:      s.streamArn,
		Active:         true,
		HashKeyName:    s.schema.HashKeyName,
		HashKeyType:    "S",
		RangeKeyName:   s.schema.RangeKeyName,
		RangeKeyType:   "S",
		StreamsEnabled: true,
		StreamViewType: "NEW_AND_OLD_IMAGES",
	}, nil
}

func (s *Store) DescribeTTL(ctx context.Context) (backingstore.TTLDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return backingstore.TTLDescription{}, &notFoundError{"ttl"}
	}
	return backingstore.TTLDescription{
		AttributeName: s.schema.TTLAttribute,
		Enabled:       s.ttlOn,
	}, nil
}

func (s *Store) CreateTable(ctx context.Context, schema backingstore.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = schema
	s.created = true
	s.tableArn = "arn:memory:table/" + schema.TableName
	s.streamArn = "arn:memory:table/" + schema.TableName + "/stream"
	return nil
}

func (s *Store) UpdateTTL(ctx context.Context, schema backingstore.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttlOn = true
	return nil
}

func (s *Store) DescribeStream(ctx context.Context) ([]backingstore.Shard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailDescribeStream != nil {
		err := s.FailDescribeStream
		s.FailDescribeStream = nil
		return nil, err
	}

	out := make([]backingstore.Shard, 0, len(s.shardOrder))
	for _, id := range s.shardOrder {
		out = append(out, backingstore.Shard{ShardID: id})
	}
	return out, nil
}

func (s *Store) GetShardIterator(ctx context.Context, shardID string, pos backingstore.IteratorPosition) (backingstore.ShardIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := 0
	if pos == backingstore.IteratorLatest {
		offset = len(s.shardRecords[shardID])
	}
	return backingstore.ShardIterator(fmt.Sprintf("%s:%d", shardID, offset)), nil
}

func (s *Store) GetRecords(ctx context.Context, iterator backingstore.ShardIterator) ([]backingstore.CdcRecord, backingstore.ShardIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shardID, offset, err := parseIterator(iterator)
	if err != nil {
		return nil, "", err
	}

	all := s.shardRecords[shardID]
	if offset >= len(all) {
		return nil, backingstore.ShardIterator(fmt.Sprintf("%s:%d", shardID, offset)), nil
	}
	batch := all[offset:]
	next := backingstore.ShardIterator(fmt.Sprintf("%s:%d", shardID, len(all)))
	return batch, next, nil
}

func parseIterator(it backingstore.ShardIterator) (string, int, error) {
	s := string(it)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			var offset int
			if _, err := fmt.Sscanf(s[i+1:], "%d", &offset); err != nil {
				return "", 0, fmt.Errorf("memory: malformed iterator %q", it)
			}
			return s[:i], offset, nil
		}
	}
	return "", 0, fmt.Errorf("memory: malformed iterator %q", it)
}

type notFoundError struct{ resource string }

func (e *notFoundError) Error() string { return "memory: " + e.resource + " not found" }

// ResourceNotFound lets callers (provider bootstrap's create-if-not-found
// check) recognize the not-found condition without depending on this
// package's concrete type.
func (e *notFoundError) ResourceNotFound() bool { return true }

var _ backingstore.Store = (*Store)(nil)

// nextSeq exposes a monotonic counter for tests that need unique ids
// without reaching into the mutex-guarded store state.
var nextSeq int64

func NextTestSeq() int64 { return atomic.AddInt64(&nextSeq, 1) }
