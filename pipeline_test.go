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
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/go-logr/logr"
	. "github.com/onsi/gomega"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
	"github.com/scaffoldly/cloudrx/internal/backingstore/memory"
)

func newTestProvider(store backingstore.Store) *Provider {
	opts := ProviderOptions{Store: store, HashKeyName: "hashKey", RangeKeyName: "rangeKey", Logger: logr.Discard()}
	opts.setDefaults("t1")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "test"})
	return newProvider("t1", opts, backingstore.Schema{}, "arn:test/table", "arn:test/stream", breaker, nil)
}

// TestPublishNoneDeliversOnSuccess covers spec §8 scenario 2.
func TestPublishNoneDeliversOnSuccess(t *testing.T) {
	g := NewWithT(t)
	p := newTestProvider(memory.New())

	v, err := publish(context.Background(), p, map[string]any{"x": 1.0}, ConsistencyNone)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(v).To(Equal(map[string]any{"x": 1.0}))
}

// failingPutStore always fails Put, exercising §8 scenario 3 and the
// "none"-consistency failure path.
type failingPutStore struct{ *memory.Store }

func (s *failingPutStore) Put(ctx context.Context, item backingstore.Item) error {
	return &notFoundErr{}
}

type notFoundErr struct{}

func (e *notFoundErr) Error() string          { return "resource not found" }
func (e *notFoundErr) ResourceNotFound() bool { return true }

func TestPublishNoneFailsOnPersistentStoreFailure(t *testing.T) {
	g := NewWithT(t)
	p := newTestProvider(&failingPutStore{Store: memory.New()})

	_, err := publish(context.Background(), p, map[string]any{"x": 1.0}, ConsistencyNone)
	g.Expect(err).To(HaveOccurred())
}

func TestPublishStrongFailsFast(t *testing.T) {
	g := NewWithT(t)
	p := newTestProvider(memory.New())

	start := time.Now()
	_, err := publish(context.Background(), p, map[string]any{"any": true}, ConsistencyStrong)
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("not yet implemented"))
	g.Expect(time.Since(start)).To(BeNumerically("<", 100*time.Millisecond))
}

// TestPublishWeakVerifiesAndDelivers covers spec §8 invariant 1.
func TestPublishWeakVerifiesAndDelivers(t *testing.T) {
	g := NewWithT(t)
	p := newTestProvider(memory.New())

	value := map[string]any{"m": "hi", "t": 1.0}
	v, err := publish(context.Background(), p, value, ConsistencyWeak)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(v).To(Equal(value))

	items, err := p.Query(context.Background(), true)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(items).To(HaveLen(1))
	g.Expect(deepEqual(items[0].Data, value)).To(BeTrue())
}

// mismatchQueryStore returns a record whose data never matches what was put,
// so each weak verification attempt fails on the mismatch and the publish
// fails with a FatalError after its one retry.
type mismatchQueryStore struct{ *memory.Store }

func (s *mismatchQueryStore) Query(ctx context.Context, consistentRead bool) ([]backingstore.Item, error) {
	items, err := s.Store.Query(ctx, consistentRead)
	if err != nil {
		return nil, err
	}
	out := make([]backingstore.Item, len(items))
	for i, it := range items {
		it.Data = "mismatched"
		out[i] = it
	}
	return out, nil
}

func TestPublishWeakFailsOnVerificationMismatch(t *testing.T) {
	g := NewWithT(t)
	p := newTestProvider(&mismatchQueryStore{Store: memory.New()})

	_, err := publish(context.Background(), p, map[string]any{"x": 1.0}, ConsistencyWeak)
	g.Expect(err).To(HaveOccurred())
	g.Expect(IsFatal(err)).To(BeTrue())
}
