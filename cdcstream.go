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
	"time"

	"github.com/go-logr/logr"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
)

const cdcBuffer = 256

// newCdcRecordStream implements component D: per-subscriber, it builds a
// dedicated per-shard pipeline atop the shared shard multiplexer, emitting
// records from every shard it discovers in sequence-number order within a
// shard and with no ordering guarantee across shards (spec §4.D, §5).
func newCdcRecordStream(ctx context.Context, store backingstore.Store, mux *shardMultiplexer, position Position, log logr.Logger, m *metrics, streamID StreamID) (<-chan CdcRecord, <-chan error) {
	out := make(chan CdcRecord, cdcBuffer)
	errOut := make(chan error, 1)
	log = log.WithValues("component", "cdcRecordStream")

	go func() {
		defer close(out)
		defer close(errOut)

		shardsCh, _ := mux.subscribe(ctx)
		var wg sync.WaitGroup
		for shard := range shardsCh {
			wg.Add(1)
			go func(shard Shard) {
				defer wg.Done()
				pollShard(ctx, store, shard, position, out, errOut, log, m, streamID)
			}(shard)
		}
		wg.Wait()
	}()

	return out, errOut
}

func pollShard(ctx context.Context, store backingstore.Store, shard Shard, position Position, out chan<- CdcRecord, errOut chan<- error, log logr.Logger, m *metrics, streamID StreamID) {
	shardLog := log.WithValues("shardId", shard.ShardID)

	itPos := backingstore.IteratorTrimHorizon
	if position == PositionLatest {
		itPos = backingstore.IteratorLatest
	}
	iter, err := store.GetShardIterator(ctx, shard.ShardID, itPos)
	if err != nil {
		shardLog.Info("failed to obtain shard iterator, skipping shard", "error", err)
		return
	}

	for {
		if ctx.Err() != nil {
			return // abort: terminate silently, no error
		}

		recs, next, err := store.GetRecords(ctx, iter)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case errOut <- err:
			case <-ctx.Done():
			}
			return
		}

		for _, r := range recs {
			cdc := CdcRecord{
				ShardID: shard.ShardID, SequenceNumber: r.SequenceNumber,
				HashKey: r.HashKey, RangeKey: r.RangeKey,
				NewImage: r.NewImage, OldImage: r.OldImage,
			}
			select {
			case out <- cdc:
				if m != nil {
					m.cdcRecordsIngested.WithLabelValues(string(streamID), shard.ShardID).Inc()
				}
			case <-ctx.Done():
				return
			}
		}

		if next == "" {
			return // shard closed and fully drained
		}
		iter = next

		if len(recs) == 0 {
			select {
			case <-time.After(DefaultIdleBackoff):
			case <-ctx.Done():
				return
			}
		}
	}
}
