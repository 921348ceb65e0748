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

// Package s3stub is the fail-fast S3 backing-provider stub named in spec
// §1 as out of scope. Every method returns ErrNotImplemented, which
// provider bootstrap classifies as fatal, so CloudSubject{type: "s3"} fails
// synchronously at obtainProvider time instead of silently behaving like
// another provider.
package s3stub

import (
	"context"
	"errors"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
)

// ErrNotImplemented is returned by every Store method.
var ErrNotImplemented = errors.New("cloudrx: S3 backing provider is not implemented")

// Store satisfies backingstore.Store by refusing every call.
type Store struct{}

// New returns the S3 stub. It never succeeds at anything beyond existing.
func New() *Store { return &Store{} }

func (*Store) Put(context.Context, backingstore.Item) error { return ErrNotImplemented }

func (*Store) Query(context.Context, bool) ([]backingstore.Item, error) {
	return nil, ErrNotImplemented
}

func (*Store) DescribeTable(context.Context) (backingstore.TableDescription, error) {
	return backingstore.TableDescription{}, ErrNotImplemented
}

func (*Store) DescribeTTL(context.Context) (backingstore.TTLDescription, error) {
	return backingstore.TTLDescription{}, ErrNotImplemented
}

func (*Store) CreateTable(context.Context, backingstore.Schema) error { return ErrNotImplemented }

func (*Store) UpdateTTL(context.Context, backingstore.Schema) error { return ErrNotImplemented }

func (*Store) DescribeStream(context.Context) ([]backingstore.Shard, error) {
	return nil, ErrNotImplemented
}

func (*Store) GetShardIterator(context.Context, string, backingstore.IteratorPosition) (backingstore.ShardIterator, error) {
	return "", ErrNotImplemented
}

func (*Store) GetRecords(context.Context, backingstore.ShardIterator) ([]backingstore.CdcRecord, backingstore.ShardIterator, error) {
	return nil, "", ErrNotImplemented
}

var _ backingstore.Store = (*Store)(nil)
