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

	"github.com/go-logr/logr"
)

// subjectSubscriberBuffer bounds how many undelivered values/errors a
// subscriber channel holds before Publish starts dropping (logged) rather
// than blocking the whole subject on one slow reader.
const subjectSubscriberBuffer = 256

// Subscription is returned by CloudSubject.Subscribe. Values and Errors are
// closed together when the subscription's context is cancelled or the
// subject is disposed.
type Subscription struct {
	Values <-chan any
	Errors <-chan error
}

type subjectSubscriber struct {
	values chan any
	errs   chan error
}

// CloudSubject is the user-facing facade of spec §4.F: it binds a
// streamName to a Provider, accepts publishes, fans out to local
// subscribers, and optionally replays history on subscribe.
type CloudSubject struct {
	id       StreamID
	provider *Provider
	cfg      SubjectConfig
	log      logr.Logger

	mu          sync.RWMutex
	disposed    bool
	nextID      int
	subscribers map[int]*subjectSubscriber
}

// NewCloudSubject builds the backing provider per cfg.Type (constructing a
// default client when cfg.Client is nil), obtains it from reg, and returns
// a ready CloudSubject bound to streamName.
func NewCloudSubject(ctx context.Context, reg *Registry, streamName StreamID, cfg SubjectConfig) (*CloudSubject, error) {
	cfg.setDefaults()
	if cfg.TableName == "" {
		cfg.TableName = "cloudrx-" + string(streamName)
	}

	store, err := buildStore(cfg)
	if err != nil {
		return nil, fatalErr("new-subject", err)
	}

	opts := ProviderOptions{
		Store:        store,
		HashKeyName:  cfg.HashKeyName,
		RangeKeyName: cfg.RangeKeyName,
		TTLAttribute: cfg.TTLAttribute,
		TableName:    cfg.TableName,
		PollInterval: cfg.PollInterval,
		AbortSignal:  cfg.AbortSignal,
		Logger:       cfg.Logger,
		Registerer:   cfg.Registerer,
	}

	p, err := reg.Obtain(streamName, opts)
	if err != nil {
		return nil, err
	}

	return &CloudSubject{
		id: streamName, provider: p, cfg: cfg,
		log:         cfg.Logger.WithValues("streamId", streamName, "component", "CloudSubject"),
		subscribers: map[int]*subjectSubscriber{},
	}, nil
}

// ID returns the stream id this subject is bound to.
func (s *CloudSubject) ID() StreamID { return s.id }

// Shards exposes the underlying provider's shard multiplexer (component
// C), letting an outer harness introspect shard discovery without going
// through the subject's publish/subscribe surface.
func (s *CloudSubject) Shards(ctx context.Context) (<-chan Shard, <-chan error) {
	return s.provider.Shards(ctx)
}

// Publish routes value through the §4.E store-verify-emit pipeline and, on
// success, delivers it to every subscriber currently attached; on failure
// it delivers nothing and fans the error out to subscribers' error
// channels instead (spec §4.F, §7).
func (s *CloudSubject) Publish(ctx context.Context, value any) error {
	s.mu.RLock()
	disposed := s.disposed
	s.mu.RUnlock()
	if disposed {
		return fatalErr("publish", fmt.Errorf("cloudrx: subject %q disposed", s.id))
	}

	result, err := publish(ctx, s.provider, value, s.cfg.Consistency)
	if err != nil {
		s.broadcastError(err)
		return err
	}
	s.broadcastValue(result)
	return nil
}

// Subscribe registers a new observer. If cfg.ReplayOnSubscribe is set, it
// first queries stored history and delivers it in stored order; replay is
// guaranteed to finish before any live value reaches this subscriber (spec
// §4.F, §9 "replay must complete before live delivery to that subscriber
// begins"). Replay failures log a warning and the subscription still
// attaches (spec §7 "replay-on-subscribe failures ... do not fail the
// subscription").
func (s *CloudSubject) Subscribe(ctx context.Context) Subscription {
	values := make(chan any, subjectSubscriberBuffer)
	errs := make(chan error, subjectSubscriberBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	sub := &subjectSubscriber{values: values, errs: errs}

	watch := func() {
		go func() {
			<-ctx.Done()
			s.mu.Lock()
			if _, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(values)
				close(errs)
			}
			s.mu.Unlock()
		}()
	}

	// With no replay to wait for, register before returning so a publish
	// issued right after Subscribe can never race ahead of registration.
	if !s.cfg.ReplayOnSubscribe {
		s.mu.Lock()
		if s.disposed {
			s.mu.Unlock()
			close(values)
			close(errs)
			return Subscription{Values: values, Errors: errs}
		}
		s.subscribers[id] = sub
		s.mu.Unlock()
		watch()
		return Subscription{Values: values, Errors: errs}
	}

	go func() {
		items, err := s.provider.Query(ctx, false)
		if err != nil {
			s.log.Info("replay-on-subscribe query failed, continuing without replay", "error", err)
		} else {
			for _, it := range items {
				select {
				case values <- it.Data:
				case <-ctx.Done():
					close(values)
					close(errs)
					return
				}
			}
		}

		s.mu.Lock()
		if s.disposed {
			s.mu.Unlock()
			close(values)
			close(errs)
			return
		}
		s.subscribers[id] = sub
		s.mu.Unlock()
		watch()
	}()

	return Subscription{Values: values, Errors: errs}
}

// Dispose terminates the subject: further Publish calls fail, and every
// currently attached subscriber's channels are closed.
func (s *CloudSubject) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	for id, sub := range s.subscribers {
		close(sub.values)
		close(sub.errs)
		delete(s.subscribers, id)
	}
}

func (s *CloudSubject) broadcastValue(v any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscribers {
		select {
		case sub.values <- v:
		default:
			s.log.Info("subscriber value channel full, dropping delivery")
		}
	}
}

func (s *CloudSubject) broadcastError(err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscribers {
		select {
		case sub.errs <- err:
		default:
			s.log.Info("subscriber error channel full, dropping error", "error", err)
		}
	}
}
