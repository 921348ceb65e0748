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
	"errors"
	"fmt"
	"time"

	smithy "github.com/aws/smithy-go"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
)

// bootstrap runs the provider lifecycle protocol of spec §4.B exactly
// once per streamId; the Registry guarantees that via singleflight.
func bootstrap(id StreamID, opts ProviderOptions, m *metrics) (*Provider, error) {
	opts.setDefaults(id)
	if err := opts.validate(); err != nil {
		return nil, fatalErr("bootstrap", err)
	}
	ctx := opts.AbortSignal

	schema := backingstore.Schema{
		TableName:    opts.TableName,
		HashKeyName:  opts.HashKeyName,
		RangeKeyName: opts.RangeKeyName,
		TTLAttribute: opts.TTLAttribute,
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cloudrx-bootstrap-" + string(id),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen && m != nil {
				m.breakerTrips.WithLabelValues(string(id)).Inc()
			}
		},
	})

	log := opts.Logger.WithValues("streamId", id)
	if m != nil {
		m.bootstrapAttempts.WithLabelValues(string(id)).Inc()
	}

	for {
		if ctx.Err() != nil {
			return nil, fatalErr("bootstrap", ErrAborted)
		}

		td, ttld, err := describeBoth(ctx, opts.Store, breaker)
		if err != nil {
			if createIfNotFound(err) {
				log.Info("table or TTL not found, creating")
				if cerr := createSchema(ctx, opts.Store, schema, breaker); cerr != nil {
					return nil, recordBootstrapFailure(m, id, cerr)
				}
				if !sleepOrAbort(ctx, DefaultBootstrapRetryWait) {
					return nil, fatalErr("bootstrap", ErrAborted)
				}
				continue
			}
			classified := classify(ctx, "bootstrap-describe", err)
			if IsFatal(classified) {
				return nil, recordBootstrapFailure(m, id, classified)
			}
			log.Info("transient bootstrap failure, retrying", "error", classified)
			if !sleepOrAbort(ctx, DefaultBootstrapRetryWait) {
				return nil, fatalErr("bootstrap", ErrAborted)
			}
			continue
		}

		if verr := validateSchema(td, ttld, schema); verr != nil {
			return nil, recordBootstrapFailure(m, id, fatalErr("validate-schema", verr))
		}

		if !td.Active || !ttld.Enabled || ttld.Disabling {
			log.Info("table/TTL not yet active, retrying")
			if !sleepOrAbort(ctx, DefaultBootstrapRetryWait) {
				return nil, fatalErr("bootstrap", ErrAborted)
			}
			continue
		}

		return newProvider(id, opts, schema, td.TableArn, td.StreamArn, breaker, m), nil
	}
}

func recordBootstrapFailure(m *metrics, id StreamID, err error) error {
	if m != nil {
		class := "fatal"
		if IsRetry(err) {
			class = "retry"
		}
		m.bootstrapFailures.WithLabelValues(string(id), class).Inc()
	}
	return err
}

func describeBoth(ctx context.Context, store backingstore.Store, breaker *gobreaker.CircuitBreaker) (backingstore.TableDescription, backingstore.TTLDescription, error) {
	var td backingstore.TableDescription
	var ttld backingstore.TTLDescription

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := breaker.Execute(func() (any, error) { return store.DescribeTable(gctx) })
		if err != nil {
			return fmt.Errorf("describeTable: %w", err)
		}
		td = v.(backingstore.TableDescription)
		return nil
	})
	g.Go(func() error {
		v, err := breaker.Execute(func() (any, error) { return store.DescribeTTL(gctx) })
		if err != nil {
			return fmt.Errorf("describeTTL: %w", err)
		}
		ttld = v.(backingstore.TTLDescription)
		return nil
	})
	if err := g.Wait(); err != nil {
		return td, ttld, err
	}
	return td, ttld, nil
}

func createSchema(ctx context.Context, store backingstore.Store, schema backingstore.Schema, breaker *gobreaker.CircuitBreaker) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := breaker.Execute(func() (any, error) { return nil, store.CreateTable(gctx, schema) })
		return err
	})
	g.Go(func() error {
		_, err := breaker.Execute(func() (any, error) { return nil, store.UpdateTTL(gctx, schema) })
		return err
	})
	return g.Wait()
}

// resourceNotFounder is implemented by the memory and redisstore backing
// stores' not-found errors.
type resourceNotFounder interface {
	ResourceNotFound() bool
}

func createIfNotFound(err error) bool {
	var rnf resourceNotFounder
	if errors.As(err, &rnf) {
		return rnf.ResourceNotFound()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ResourceNotFoundException"
	}
	return false
}

func validateSchema(td backingstore.TableDescription, ttld backingstore.TTLDescription, schema backingstore.Schema) error {
	if td.HashKeyName != schema.HashKeyName || td.HashKeyType != "S" {
		return fmt.Errorf("hash key mismatch: got name=%q type=%q, want name=%q type=S", td.HashKeyName, td.HashKeyType, schema.HashKeyName)
	}
	if td.RangeKeyName != schema.RangeKeyName || td.RangeKeyType != "S" {
		return fmt.Errorf("range key mismatch: got name=%q type=%q, want name=%q type=S", td.RangeKeyName, td.RangeKeyType, schema.RangeKeyName)
	}
	if !td.StreamsEnabled || td.StreamViewType != "NEW_AND_OLD_IMAGES" {
		return fmt.Errorf("stream configuration mismatch: enabled=%v viewType=%q, want enabled=true viewType=NEW_AND_OLD_IMAGES", td.StreamsEnabled, td.StreamViewType)
	}
	if ttld.AttributeName != "" && ttld.AttributeName != schema.TTLAttribute {
		return fmt.Errorf("ttl attribute mismatch: got %q, want %q", ttld.AttributeName, schema.TTLAttribute)
	}
	return nil
}

func sleepOrAbort(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
