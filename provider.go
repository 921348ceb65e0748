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
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
)

// Provider is the bootstrapped handle described in spec §4.B: it owns the
// backing-store client, the validated tableArn/streamArn, and the shared
// shard multiplexer every CDC record stream subscriber attaches to. A
// Provider is exclusively owned by the Registry that produced it and is
// shared by every CloudSubject addressing the same stream id.
type Provider struct {
	id        StreamID
	opts      ProviderOptions
	schema    backingstore.Schema
	tableArn  string
	streamArn string
	breaker   *gobreaker.CircuitBreaker
	metrics   *metrics
	log       logr.Logger

	shardsOnce sync.Once
	shardMux   *shardMultiplexer
}

func newProvider(id StreamID, opts ProviderOptions, schema backingstore.Schema, tableArn, streamArn string, breaker *gobreaker.CircuitBreaker, m *metrics) *Provider {
	return &Provider{
		id: id, opts: opts, schema: schema,
		tableArn: tableArn, streamArn: streamArn,
		breaker: breaker, metrics: m,
		log: opts.Logger.WithValues("streamId", id),
	}
}

// ID returns the stream id this provider was obtained for.
func (p *Provider) ID() StreamID { return p.id }

// TableArn returns the bootstrapped table ARN.
func (p *Provider) TableArn() string { return p.tableArn }

// StreamArn returns the bootstrapped CDC stream ARN.
func (p *Provider) StreamArn() string { return p.streamArn }

// Store writes value as a freshly keyed record (spec §3: hashKey
// "item-<epochMs>", rangeKey "<epochMs>-<uuid>") and returns a Matcher that
// recognizes the CDC echo of this exact write via (hashKey, rangeKey)
// equality (spec §4.E "Matcher protocol").
func (p *Provider) Store(ctx context.Context, value any) (Matcher, error) {
	rec, err := p.put(ctx, value)
	if err != nil {
		return nil, err
	}
	return newMatcher(rec.HashKey, rec.RangeKey), nil
}

// put is the internal durable-write primitive shared by Store and the
// publish pipeline (§4.E), which additionally needs the freshly built
// Record to verify against query read-back.
func (p *Provider) put(ctx context.Context, value any) (Record, error) {
	rec := newRecord(value)
	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.opts.Store.Put(ctx, backingstore.Item{
			HashKey: rec.HashKey, RangeKey: rec.RangeKey, Data: rec.Data,
			Timestamp: rec.Timestamp, Expires: rec.Expires,
		})
	})
	if err != nil {
		return Record{}, classify(ctx, "put", err)
	}
	return rec, nil
}

// Query wraps the backing store's query capability, returning every
// currently-visible record sorted ascending by rangeKey (spec §5 "Replay
// to a new subscriber: stored order").
func (p *Provider) Query(ctx context.Context, consistentRead bool) ([]Record, error) {
	items, err := p.opts.Store.Query(ctx, consistentRead)
	if err != nil {
		return nil, classify(ctx, "query", err)
	}
	out := make([]Record, len(items))
	for i, it := range items {
		out[i] = Record{HashKey: it.HashKey, RangeKey: it.RangeKey, Data: it.Data, Timestamp: it.Timestamp, Expires: it.Expires}
	}
	return out, nil
}

// Shards exposes the shared shard multiplexer (component C): a sequence of
// every distinct shard ever discovered, shared and memoized across all
// subscribers of this provider.
func (p *Provider) Shards(ctx context.Context) (<-chan Shard, <-chan error) {
	p.shardsOnce.Do(func() {
		p.shardMux = newShardMultiplexer(p.opts.Store, p.id, p.opts.PollInterval, p.opts.AbortSignal, p.log, p.metrics)
	})
	return p.shardMux.subscribe(ctx)
}

// Stream builds a per-subscriber CDC record stream (component D) atop the
// shared shard multiplexer, starting each shard at position.
func (p *Provider) Stream(ctx context.Context, position Position) (<-chan CdcRecord, <-chan error) {
	p.shardsOnce.Do(func() {
		p.shardMux = newShardMultiplexer(p.opts.Store, p.id, p.opts.PollInterval, p.opts.AbortSignal, p.log, p.metrics)
	})
	return newCdcRecordStream(ctx, p.opts.Store, p.shardMux, position, p.log, p.metrics, p.id)
}

// Unmarshall decodes a CdcRecord's new image back into the caller's data
// payload plus its sequence number.
func (p *Provider) Unmarshall(rec CdcRecord) (Unmarshalled, error) {
	if rec.NewImage == nil {
		return Unmarshalled{}, fmt.Errorf("cloudrx: cdc record %s has no new image", rec.SequenceNumber)
	}
	data, ok := rec.NewImage["data"]
	if !ok {
		return Unmarshalled{}, fmt.Errorf("cloudrx: cdc record %s new image missing data attribute", rec.SequenceNumber)
	}
	return Unmarshalled{Data: data, SequenceNumber: rec.SequenceNumber}, nil
}

// newRecord builds a Record per spec §3: hashKey "item-<epochMs>", rangeKey
// "<epochMs>-<uuid>". The epochMs prefix keeps rangeKey ordering intact for
// replay (§5 "stored order"); the uuid suffix gives the matcher protocol a
// correlation token that two writes landing in the same millisecond can't
// collide on, rather than relying on wall-clock resolution alone.
func newRecord(value any) Record {
	now := time.Now()
	ms := now.UnixMilli()
	return Record{
		HashKey:   fmt.Sprintf("item-%d", ms),
		RangeKey:  fmt.Sprintf("%d-%s", ms, uuid.NewString()),
		Data:      value,
		Timestamp: ms,
		Expires:   now.Add(DefaultTTL).Unix(),
	}
}
