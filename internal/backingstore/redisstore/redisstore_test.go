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

package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	. "github.com/onsi/gomega"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "t1")
}

func TestPutAndQueryRoundTrip(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t)

	exp := time.Now().Add(time.Hour).Unix()
	g.Expect(s.Put(context.Background(), backingstore.Item{HashKey: "h1", RangeKey: "0001", Data: "a", Expires: exp})).To(Succeed())
	g.Expect(s.Put(context.Background(), backingstore.Item{HashKey: "h1", RangeKey: "0000", Data: "b", Expires: exp})).To(Succeed())

	items, err := s.Query(context.Background(), true)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(items).To(HaveLen(2))
	g.Expect(items[0].Data).To(Equal("b"))
	g.Expect(items[1].Data).To(Equal("a"))
}

func TestDescribeTableNotFoundBeforeCreate(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t)

	_, err := s.DescribeTable(context.Background())
	g.Expect(err).To(HaveOccurred())
	nf, ok := err.(interface{ ResourceNotFound() bool })
	g.Expect(ok).To(BeTrue())
	g.Expect(nf.ResourceNotFound()).To(BeTrue())
}

func TestCreateTableThenDescribeIsActive(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t)

	schema := backingstore.Schema{TableName: "t1", HashKeyName: "hashKey", RangeKeyName: "rangeKey", TTLAttribute: "expires"}
	g.Expect(s.CreateTable(context.Background(), schema)).To(Succeed())

	td, err := s.DescribeTable(context.Background())
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(td.Active).To(BeTrue())
	g.Expect(td.HashKeyName).To(Equal("hashKey"))
}

func TestUpdateTTLEnablesTTL(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t)
	schema := backingstore.Schema{TableName: "t1", TTLAttribute: "expires"}
	g.Expect(s.CreateTable(context.Background(), schema)).To(Succeed())

	ttl, err := s.DescribeTTL(context.Background())
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(ttl.Enabled).To(BeFalse())

	g.Expect(s.UpdateTTL(context.Background(), schema)).To(Succeed())

	ttl, err = s.DescribeTTL(context.Background())
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(ttl.Enabled).To(BeTrue())
}

// TestDescribeStreamReportsSingleShard verifies a Redis Stream always
// surfaces as exactly one shard once it has at least one entry.
func TestDescribeStreamReportsSingleShard(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t)

	shards, err := s.DescribeStream(context.Background())
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(shards).To(BeEmpty())

	g.Expect(s.Put(context.Background(), backingstore.Item{HashKey: "h", RangeKey: "0", Data: "x", Expires: time.Now().Add(time.Hour).Unix()})).To(Succeed())

	shards, err = s.DescribeStream(context.Background())
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(shards).To(Equal([]backingstore.Shard{{ShardID: singleShardID}}))
}

func TestGetRecordsTrimHorizonReplaysExistingEntries(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t)
	exp := time.Now().Add(time.Hour).Unix()

	g.Expect(s.Put(context.Background(), backingstore.Item{HashKey: "h", RangeKey: "0", Data: "x", Expires: exp})).To(Succeed())
	g.Expect(s.Put(context.Background(), backingstore.Item{HashKey: "h", RangeKey: "1", Data: "y", Expires: exp})).To(Succeed())

	it, err := s.GetShardIterator(context.Background(), singleShardID, backingstore.IteratorTrimHorizon)
	g.Expect(err).ToNot(HaveOccurred())

	recs, next, err := s.GetRecords(context.Background(), it)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(recs).To(HaveLen(2))
	g.Expect(recs[0].HashKey).To(Equal("h"))
	g.Expect(string(next)).ToNot(Equal(string(it)))
}

func TestGetRecordsLatestSkipsExistingEntries(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t)
	exp := time.Now().Add(time.Hour).Unix()
	g.Expect(s.Put(context.Background(), backingstore.Item{HashKey: "h", RangeKey: "0", Data: "x", Expires: exp})).To(Succeed())

	it, err := s.GetShardIterator(context.Background(), singleShardID, backingstore.IteratorLatest)
	g.Expect(err).ToNot(HaveOccurred())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	recs, _, err := s.GetRecords(ctx, it)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(recs).To(BeEmpty())
}
