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

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
	"github.com/scaffoldly/cloudrx/internal/backingstore/memory"
)

// TestSubject runs the CloudSubject end-to-end scenarios below as a Ginkgo
// suite: these exercise async delivery across Publish/Subscribe/Dispose, a
// natural fit for BDD-style Describe/Context/It grouping.
func TestSubject(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CloudSubject Suite")
}

// newTestSubject builds a CloudSubject directly against store, bypassing
// NewCloudSubject's buildStore/Registry wiring so tests can inject failing
// or mismatching stores the factory's provider types don't expose.
func newTestSubject(store backingstore.Store, consistency Consistency, replay bool) *CloudSubject {
	cfg := SubjectConfig{Consistency: consistency, ReplayOnSubscribe: replay, Logger: logr.Discard()}
	cfg.setDefaults()
	return &CloudSubject{
		id: "t1", provider: newTestProvider(store), cfg: cfg,
		log:         cfg.Logger,
		subscribers: map[int]*subjectSubscriber{},
	}
}

// failingPutSubjectStore always fails Put, exercising scenario 3 below: a
// store failure under "none" consistency surfaces on the error channel.
type failingPutSubjectStore struct{ *memory.Store }

func (s *failingPutSubjectStore) Put(ctx context.Context, item backingstore.Item) error {
	return &notFoundErr{}
}

var _ = Describe("CloudSubject", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("replay-on-subscribe", func() {
		// scenario 1: a value published before a subscriber attaches is
		// still delivered via replay-on-subscribe.
		It("delivers a value published before any subscriber attached", func() {
			subj := newTestSubject(memory.New(), ConsistencyNone, true)
			Expect(subj.Publish(ctx, map[string]any{"v": 1.0})).To(Succeed())

			subCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			sub := subj.Subscribe(subCtx)

			Eventually(sub.Values, time.Second).Should(Receive(Equal(map[string]any{"v": 1.0})))
		})
	})

	Context("under none consistency", func() {
		// scenario 2: a "none"-consistency publish reaches an already
		// attached subscriber without waiting on verification.
		It("delivers to a live subscriber without waiting on verification", func() {
			subj := newTestSubject(memory.New(), ConsistencyNone, false)
			sub := subj.Subscribe(ctx)

			Expect(subj.Publish(ctx, map[string]any{"v": 2.0})).To(Succeed())
			Eventually(sub.Values, time.Second).Should(Receive(Equal(map[string]any{"v": 2.0})))
		})

		// scenario 3: a store failure under "none" consistency surfaces on
		// the error channel.
		It("propagates a store failure to the observer's error channel", func() {
			subj := newTestSubject(&failingPutSubjectStore{Store: memory.New()}, ConsistencyNone, false)
			sub := subj.Subscribe(ctx)

			err := subj.Publish(ctx, map[string]any{"v": 3.0})
			Expect(err).To(HaveOccurred())
			Eventually(sub.Errors, time.Second).Should(Receive(Equal(err)))
		})
	})

	Context("under weak consistency", func() {
		// scenario 4: three sequential weak-consistency publishes arrive at
		// a subscriber in submission order.
		It("preserves submission order across sequential publishes", func() {
			subj := newTestSubject(memory.New(), ConsistencyWeak, false)
			sub := subj.Subscribe(ctx)

			for i := 0; i < 3; i++ {
				Expect(subj.Publish(ctx, map[string]any{"seq": float64(i)})).To(Succeed())
			}
			for i := 0; i < 3; i++ {
				Eventually(sub.Values, time.Second).Should(Receive(Equal(map[string]any{"seq": float64(i)})))
			}
		})
	})

	Context("under strong consistency", func() {
		// scenario 5: a strong-consistency publish fails fast with a
		// not-implemented error that reaches every attached observer.
		It("fails fast and delivers the error to every observer", func() {
			subj := newTestSubject(memory.New(), ConsistencyStrong, false)
			sub := subj.Subscribe(ctx)

			start := time.Now()
			err := subj.Publish(ctx, map[string]any{"v": 4.0})
			Expect(err).To(HaveOccurred())
			Expect(time.Since(start)).To(BeNumerically("<", 100*time.Millisecond))

			Eventually(sub.Errors, time.Second).Should(Receive(Equal(err)))
		})
	})

	Context("on Dispose", func() {
		It("closes subscriber channels and rejects further publishes", func() {
			subj := newTestSubject(memory.New(), ConsistencyNone, false)
			sub := subj.Subscribe(ctx)
			subj.Dispose()

			_, ok := <-sub.Values
			Expect(ok).To(BeFalse())

			err := subj.Publish(ctx, map[string]any{"v": 5.0})
			Expect(err).To(HaveOccurred())
			Expect(IsFatal(err)).To(BeTrue())
		})
	})
})
