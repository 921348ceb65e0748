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

// Package redisstore is an alternate backingstore.Store implementation
// backed by Redis: plain keys (with native EXPIRE) hold rows, a Redis
// Stream (XADD/XREAD) stands in for the change-data-capture side channel.
// A Redis Stream has no shard concept, so DescribeStream always reports a
// single shard; GetShardIterator/GetRecords map directly onto Redis
// Stream entry IDs, which are already monotonic per the XADD contract.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
)

// singleShardID is the only shard a Redis Stream ever exposes.
const singleShardID = "0"

// Store adapts a redis.Cmdable (a *redis.Client or a miniredis-backed test
// double implements the same interface) to backingstore.Store.
type Store struct {
	Client    redis.Cmdable
	TableName string
}

func New(client redis.Cmdable, tableName string) *Store {
	return &Store{Client: client, TableName: tableName}
}

func (s *Store) itemKey(hashKey, rangeKey string) string {
	return fmt.Sprintf("cloudrx:%s:item:%s:%s", s.TableName, hashKey, rangeKey)
}
func (s *Store) indexKey() string  { return fmt.Sprintf("cloudrx:%s:index", s.TableName) }
func (s *Store) streamKey() string { return fmt.Sprintf("cloudrx:%s:stream", s.TableName) }
func (s *Store) metaKey() string   { return fmt.Sprintf("cloudrx:%s:meta", s.TableName) }

type wireItem struct {
	HashKey   string          `json:"hashKey"`
	RangeKey  string          `json:"rangeKey"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Expires   int64           `json:"expires"`
}

func (s *Store) Put(ctx context.Context, item backingstore.Item) error {
	data, err := json.Marshal(item.Data)
	if err != nil {
		return fmt.Errorf("redisstore: marshal data: %w", err)
	}
	w := wireItem{HashKey: item.HashKey, RangeKey: item.RangeKey, Data: data, Timestamp: item.Timestamp, Expires: item.Expires}
	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("redisstore: marshal item: %w", err)
	}

	key := s.itemKey(item.HashKey, item.RangeKey)
	if err := s.Client.Set(ctx, key, payload, ttlFor(item.Expires)).Err(); err != nil {
		return err
	}
	if err := s.Client.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(item.Timestamp), Member: key}).Err(); err != nil {
		return err
	}
	return s.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey(),
		Values: map[string]any{
			"hashKey": item.HashKey, "rangeKey": item.RangeKey,
			"data": string(data), "timestamp": item.Timestamp, "expires": item.Expires,
		},
	}).Err()
}

func ttlFor(expiresEpochSeconds int64) time.Duration {
	d := time.Until(time.Unix(expiresEpochSeconds, 0))
	if d <= 0 {
		return time.Second
	}
	return d
}

func (s *Store) Query(ctx context.Context, consistentRead bool) ([]backingstore.Item, error) {
	keys, err := s.Client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]backingstore.Item, 0, len(keys))
	for _, k := range keys {
		raw, err := s.Client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue // evicted by TTL
		}
		if err != nil {
			return nil, err
		}
		var w wireItem
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return nil, fmt.Errorf("redisstore: unmarshal item: %w", err)
		}
		var data any
		if err := json.Unmarshal(w.Data, &data); err != nil {
			return nil, fmt.Errorf("redisstore: unmarshal item data: %w", err)
		}
		out = append(out, backingstore.Item{HashKey: w.HashKey, RangeKey: w.RangeKey, Data: data, Timestamp: w.Timestamp, Expires: w.Expires})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RangeKey < out[j].RangeKey })
	return out, nil
}

func (s *Store) DescribeTable(ctx context.Context) (backingstore.TableDescription, error) {
	exists, err := s.Client.Exists(ctx, s.metaKey()).Result()
	if err != nil {
		return backingstore.TableDescription{}, err
	}
	if exists == 0 {
		return backingstore.TableDescription{}, &notFoundError{"table"}
	}
	meta, err := s.Client.HGetAll(ctx, s.metaKey()).Result()
	if err != nil {
		return backingstore.TableDescription{}, err
	}
	return backingstore.TableDescription{
		TableArn:       "redis:" + s.TableName,
		StreamArn:      "redis:" + s.TableName + ":stream",
		Active:         true,
		HashKeyName:    meta["hashKey"],
		HashKeyType:    "S",
		RangeKeyName:   meta["rangeKey"],
		RangeKeyType:   "S",
		StreamsEnabled: true,
		StreamViewType: "NEW_AND_OLD_IMAGES",
	}, nil
}

func (s *Store) DescribeTTL(ctx context.Context) (backingstore.TTLDescription, error) {
	meta, err := s.Client.HGetAll(ctx, s.metaKey()).Result()
	if err != nil {
		return backingstore.TTLDescription{}, err
	}
	if len(meta) == 0 {
		return backingstore.TTLDescription{}, &notFoundError{"ttl"}
	}
	return backingstore.TTLDescription{AttributeName: meta["ttlAttribute"], Enabled: meta["ttlEnabled"] == "true"}, nil
}

func (s *Store) CreateTable(ctx context.Context, schema backingstore.Schema) error {
	return s.Client.HSet(ctx, s.metaKey(), map[string]any{
		"hashKey": schema.HashKeyName, "rangeKey": schema.RangeKeyName, "ttlAttribute": schema.TTLAttribute,
	}).Err()
}

func (s *Store) UpdateTTL(ctx context.Context, schema backingstore.Schema) error {
	return s.Client.HSet(ctx, s.metaKey(), "ttlEnabled", "true").Err()
}

func (s *Store) DescribeStream(ctx context.Context) ([]backingstore.Shard, error) {
	exists, err := s.Client.Exists(ctx, s.streamKey()).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, nil
	}
	return []backingstore.Shard{{ShardID: singleShardID}}, nil
}

func (s *Store) GetShardIterator(ctx context.Context, shardID string, pos backingstore.IteratorPosition) (backingstore.ShardIterator, error) {
	if pos == backingstore.IteratorLatest {
		return backingstore.ShardIterator("$"), nil
	}
	return backingstore.ShardIterator("0"), nil
}

func (s *Store) GetRecords(ctx context.Context, iterator backingstore.ShardIterator) ([]backingstore.CdcRecord, backingstore.ShardIterator, error) {
	start := string(iterator)
	// Block briefly rather than forever: the CDC poller needs GetRecords to
	// return promptly on an idle shard so it can re-check ctx cancellation
	// and apply its own idle backoff (spec §4.D).
	entries, err := s.Client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.streamKey(), start},
		Count:   100,
		Block:   100 * time.Millisecond,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, iterator, nil
	}
	if err != nil {
		return nil, iterator, err
	}

	var recs []backingstore.CdcRecord
	next := iterator
	for _, stream := range entries {
		for _, msg := range stream.Messages {
			rec := backingstore.CdcRecord{ShardID: singleShardID, SequenceNumber: msg.ID}
			rec.HashKey, _ = msg.Values["hashKey"].(string)
			rec.RangeKey, _ = msg.Values["rangeKey"].(string)
			var data any
			if raw, ok := msg.Values["data"].(string); ok {
				_ = json.Unmarshal([]byte(raw), &data)
			}
			rec.NewImage = map[string]any{
				"hashKey": rec.HashKey, "rangeKey": rec.RangeKey, "data": data,
			}
			recs = append(recs, rec)
			next = backingstore.ShardIterator(msg.ID)
		}
	}
	return recs, next, nil
}

type notFoundError struct{ resource string }

func (e *notFoundError) Error() string { return "redisstore: " + e.resource + " not found" }
func (e *notFoundError) ResourceNotFound() bool { return true }

var _ backingstore.Store = (*Store)(nil)
