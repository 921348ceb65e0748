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

// subscriberBuffer bounds how many shards a late subscriber's channel can
// hold before replay + live delivery would block. Real CDC streams rarely
// exceed a few hundred shards, so this is generous headroom rather than a
// tight budget.
const subscriberBuffer = 4096

// shardMultiplexer implements component C: a lazy sequence of distinct
// shards, shared across every subscriber of one provider instance and
// memoized per streamId so multiple CDC record-stream subscribers share one
// poller (spec §4.C).
type shardMultiplexer struct {
	store        backingstore.Store
	streamID     StreamID
	pollInterval time.Duration
	abort        context.Context
	log          logr.Logger
	metrics      *metrics

	mu          sync.Mutex
	seen        map[string]struct{}
	emitted     []Shard
	subscribers map[int]chan Shard
	errSubs     map[int]chan error
	nextID      int
	done        bool

	startOnce sync.Once
}

func newShardMultiplexer(store backingstore.Store, id StreamID, pollInterval time.Duration, abort context.Context, log logr.Logger, m *metrics) *shardMultiplexer {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &shardMultiplexer{
		store: store, streamID: id, pollInterval: pollInterval, abort: abort,
		log: log.WithValues("component", "shardMultiplexer"), metrics: m,
		seen: map[string]struct{}{}, subscribers: map[int]chan Shard{}, errSubs: map[int]chan error{},
	}
}

// subscribe registers a new listener, immediately replaying every shard
// already known (in discovery order) before any further live shard is
// delivered to it, then starts the shared poller if this is the first
// subscriber.
func (m *shardMultiplexer) subscribe(ctx context.Context) (<-chan Shard, <-chan error) {
	out := make(chan Shard, subscriberBuffer)
	errOut := make(chan error, 1)

	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		close(out)
		close(errOut)
		return out, errOut
	}
	for _, s := range m.emitted {
		out <- s
	}
	id := m.nextID
	m.nextID++
	m.subscribers[id] = out
	m.errSubs[id] = errOut
	m.mu.Unlock()

	m.startOnce.Do(func() { go m.run() })

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subscribers, id)
		delete(m.errSubs, id)
		m.mu.Unlock()
	}()

	return out, errOut
}

func (m *shardMultiplexer) run() {
	m.poll()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.poll()
		case <-m.abort.Done():
			m.terminate()
			return
		}
	}
}

func (m *shardMultiplexer) poll() {
	ctx, cancel := context.WithTimeout(m.abort, m.pollInterval)
	defer cancel()

	shards, err := m.store.DescribeStream(ctx)
	if err != nil {
		m.log.Info("describeStream failed, continuing to poll", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sh := range shards {
		if _, ok := m.seen[sh.ShardID]; ok {
			continue
		}
		m.seen[sh.ShardID] = struct{}{}
		out := Shard{ShardID: sh.ShardID, ParentShardID: sh.ParentShardID, StartingSequence: sh.StartingSequence, EndingSequence: sh.EndingSequence}
		m.emitted = append(m.emitted, out)
		if m.metrics != nil {
			m.metrics.shardsEmitted.WithLabelValues(string(m.streamID)).Inc()
		}
		for _, sub := range m.subscribers {
			select {
			case sub <- out:
			default:
				m.log.Info("shard subscriber channel full, dropping emission", "shardId", sh.ShardID)
			}
		}
	}
}

func (m *shardMultiplexer) terminate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = true
	for id, sub := range m.subscribers {
		close(sub)
		close(m.errSubs[id])
	}
	m.subscribers = map[int]chan Shard{}
	m.errSubs = map[int]chan error{}
}
