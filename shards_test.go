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

package cloudrx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/gomega"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
)

// sequencedDescribeStore returns one shard list per call from responses, in
// order, holding the last response once exhausted.
type sequencedDescribeStore struct {
	mu        sync.Mutex
	responses [][]backingstore.Shard
	calls     int
}

func (s *sequencedDescribeStore) DescribeStream(ctx context.Context) ([]backingstore.Shard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	return s.responses[i], nil
}

func (s *sequencedDescribeStore) Put(context.Context, backingstore.Item) error { return nil }
func (s *sequencedDescribeStore) Query(context.Context, bool) ([]backingstore.Item, error) {
	return nil, nil
}
func (s *sequencedDescribeStore) DescribeTable(context.Context) (backingstore.TableDescription, error) {
	return backingstore.TableDescription{}, nil
}
func (s *sequencedDescribeStore) DescribeTTL(context.Context) (backingstore.TTLDescription, error) {
	return backingstore.TTLDescription{}, nil
}
func (s *sequencedDescribeStore) CreateTable(context.Context, backingstore.Schema) error { return nil }
func (s *sequencedDescribeStore) UpdateTTL(context.Context, backingstore.Schema) error    { return nil }
func (s *sequencedDescribeStore) GetShardIterator(context.Context, string, backingstore.IteratorPosition) (backingstore.ShardIterator, error) {
	return "", nil
}
func (s *sequencedDescribeStore) GetRecords(context.Context, backingstore.ShardIterator) ([]backingstore.CdcRecord, backingstore.ShardIterator, error) {
	return nil, "", nil
}

var _ backingstore.Store = (*sequencedDescribeStore)(nil)

// TestShardMultiplexerDeduplication reproduces spec §8 scenario 6: shard
// lists [A] [A,B] [A,B] [A,B,C] yield exactly three emissions A, B, C in
// that order.
func TestShardMultiplexerDeduplication(t *testing.T) {
	g := NewWithT(t)

	store := &sequencedDescribeStore{responses: [][]backingstore.Shard{
		{{ShardID: "A"}},
		{{ShardID: "A"}, {ShardID: "B"}},
		{{ShardID: "A"}, {ShardID: "B"}},
		{{ShardID: "A"}, {ShardID: "B"}, {ShardID: "C"}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := newShardMultiplexer(store, "t1", 20*time.Millisecond, ctx, logr.Discard(), nil)
	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	shardsCh, _ := mux.subscribe(subCtx)

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case sh := <-shardsCh:
			got = append(got, sh.ShardID)
		case <-timeout:
			t.Fatalf("timed out waiting for shards, got %v", got)
		}
	}

	g.Expect(got).To(Equal([]string{"A", "B", "C"}))
}

// TestShardMultiplexerReplaysToLateSubscriber verifies a subscriber
// attaching after shards were already discovered immediately receives
// them, in discovery order, before any further live shard.
func TestShardMultiplexerReplaysToLateSubscriber(t *testing.T) {
	g := NewWithT(t)

	store := &sequencedDescribeStore{responses: [][]backingstore.Shard{
		{{ShardID: "A"}, {ShardID: "B"}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := newShardMultiplexer(store, "t1", 20*time.Millisecond, ctx, logr.Discard(), nil)
	firstCtx, firstCancel := context.WithCancel(context.Background())
	defer firstCancel()
	first, _ := mux.subscribe(firstCtx)

	g.Eventually(first, time.Second).Should(Receive(Equal(Shard{ShardID: "A"})))
	g.Eventually(first, time.Second).Should(Receive(Equal(Shard{ShardID: "B"})))

	lateCtx, lateCancel := context.WithCancel(context.Background())
	defer lateCancel()
	late, _ := mux.subscribe(lateCtx)

	g.Eventually(late, time.Second).Should(Receive(Equal(Shard{ShardID: "A"})))
	g.Eventually(late, time.Second).Should(Receive(Equal(Shard{ShardID: "B"})))
}
