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
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
)

var validate = validator.New()

// Timing constants, set to the values named in spec §9. Only the shard
// poll interval can be overridden, via the PollInterval option.
const (
	DefaultPollInterval        = 5 * time.Second
	DefaultIdleBackoff         = 100 * time.Millisecond
	DefaultVerifyPollInterval  = 100 * time.Millisecond
	DefaultVerifyDeadline      = 5 * time.Second
	DefaultStoreTimeout        = 5 * time.Second
	DefaultPublishDeadline     = 10 * time.Second
	DefaultRetryBackoff        = 1 * time.Second
	DefaultBootstrapRetryWait  = 1 * time.Second
)

// ProviderOptions configures obtainProvider (spec §6).
type ProviderOptions struct {
	// Store is the backing-store adapter. Required.
	Store backingstore.Store `validate:"required"`

	// HashKeyName / RangeKeyName name the table's partition/sort key
	// attributes. Required.
	HashKeyName  string `validate:"required"`
	RangeKeyName string `validate:"required"`

	// TTLAttribute names the TTL attribute; defaults to "expires".
	TTLAttribute string

	// TableName overrides the reference "cloudrx-<streamId>" convention.
	TableName string

	// PollInterval is the shard multiplexer's describeStream cadence.
	PollInterval time.Duration

	// AbortSignal, when non-nil, is the provider's cancellation context: on
	// Done(), bootstrap stops with ErrAborted and the shard multiplexer's
	// poller terminates, closing its subscribers' channels. Publish, Query,
	// Store and the per-shard CDC polling follow the context passed to each
	// call; AbortSignal does not cancel them.
	AbortSignal context.Context

	// Logger receives structured log output; defaults to a discard logger.
	Logger logr.Logger

	// Registerer is carried with the options but not read by the provider.
	// Metrics are always collected by the Registry and exposed through
	// Registry.Register.
	Registerer prometheus.Registerer
}

func (o *ProviderOptions) setDefaults(id StreamID) {
	if o.TTLAttribute == "" {
		o.TTLAttribute = "expires"
	}
	if o.TableName == "" {
		o.TableName = "cloudrx-" + string(id)
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.AbortSignal == nil {
		o.AbortSignal = context.Background()
	}
	o.Logger = orDiscard(o.Logger)
}

func (o *ProviderOptions) validate() error {
	return validate.Struct(o)
}

// ProviderType selects which backingstore.Store implementation
// obtainProvider constructs when the caller does not supply one directly
// via ProviderOptions.Store.
type ProviderType string

const (
	ProviderDynamoDB ProviderType = "dynamodb"
	ProviderRedis    ProviderType = "redis"
	ProviderS3       ProviderType = "s3"
	ProviderMemory   ProviderType = "memory"
)

// SubjectConfig configures a CloudSubject (spec §6: `{ type, tableName,
// client?, region?, consistency?, replayOnSubscribe?, logger? }`).
type SubjectConfig struct {
	// Type selects the backing provider implementation. Defaults to
	// ProviderDynamoDB.
	Type ProviderType

	// TableName overrides the reference "cloudrx-<streamId>" convention.
	TableName string

	// HashKeyName / RangeKeyName name the table's partition/sort key
	// attributes. Default "hashKey" / "rangeKey".
	HashKeyName  string
	RangeKeyName string

	// TTLAttribute names the TTL attribute; defaults to "expires".
	TTLAttribute string

	// Client optionally supplies an already-configured backing-store
	// client, bypassing default client construction. buildStore uses it
	// only when it is a redis.Cmdable (ProviderRedis) or a dynamodbClients
	// pair (ProviderDynamoDB); any other value, including a bare
	// *dynamodb.Client, is ignored and a client is built from the
	// environment instead.
	Client any

	// Region overrides AWS_REGION when a client must be constructed.
	Region string

	Consistency       Consistency
	ReplayOnSubscribe bool

	PollInterval time.Duration
	AbortSignal  context.Context
	Logger       logr.Logger
	Registerer   prometheus.Registerer
}

func (c *SubjectConfig) setDefaults() {
	if c.Type == "" {
		c.Type = ProviderDynamoDB
	}
	if c.HashKeyName == "" {
		c.HashKeyName = "hashKey"
	}
	if c.RangeKeyName == "" {
		c.RangeKeyName = "rangeKey"
	}
	if c.TTLAttribute == "" {
		c.TTLAttribute = "expires"
	}
	if c.AbortSignal == nil {
		c.AbortSignal = context.Background()
	}
	c.Logger = orDiscard(c.Logger)
}

// awsRegion returns the configured region, falling back to AWS_REGION per
// spec §6 ("AWS_REGION consulted when no client is supplied").
func awsRegion(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv("AWS_REGION")
}
