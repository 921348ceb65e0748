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

package s3stub

import (
	"context"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
)

// TestEveryMethodRefuses verifies the S3 stub fails every backingstore.Store
// method with ErrNotImplemented rather than silently no-opping.
func TestEveryMethodRefuses(t *testing.T) {
	g := NewWithT(t)
	s := New()
	ctx := context.Background()

	g.Expect(s.Put(ctx, backingstore.Item{})).To(MatchError(ErrNotImplemented))

	_, err := s.Query(ctx, false)
	g.Expect(err).To(MatchError(ErrNotImplemented))

	_, err = s.DescribeTable(ctx)
	g.Expect(err).To(MatchError(ErrNotImplemented))

	_, err = s.DescribeTTL(ctx)
	g.Expect(err).To(MatchError(ErrNotImplemented))

	g.Expect(s.CreateTable(ctx, backingstore.Schema{})).To(MatchError(ErrNotImplemented))
	g.Expect(s.UpdateTTL(ctx, backingstore.Schema{})).To(MatchError(ErrNotImplemented))

	_, err = s.DescribeStream(ctx)
	g.Expect(err).To(MatchError(ErrNotImplemented))

	_, err = s.GetShardIterator(ctx, "shard-0", backingstore.IteratorTrimHorizon)
	g.Expect(err).To(MatchError(ErrNotImplemented))

	_, _, err = s.GetRecords(ctx, "it")
	g.Expect(err).To(MatchError(ErrNotImplemented))
}
