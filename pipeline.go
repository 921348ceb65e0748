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
	"time"
)

// publish implements component E: on success it returns the value a
// CloudSubject should deliver to its local subscribers; on failure it
// returns an error and the caller must not deliver anything (spec §4.E,
// §8 invariant 2).
func publish(ctx context.Context, p *Provider, value any, consistency Consistency) (any, error) {
	start := time.Now()
	var result any
	var err error

	switch consistency {
	case ConsistencyStrong:
		err = fatalErr("publish", ErrNotImplemented)
	case ConsistencyNone:
		result, err = publishNone(ctx, p, value)
	default:
		result, err = publishWeak(ctx, p, value)
	}

	if p.metrics != nil {
		p.metrics.publishLatency.WithLabelValues(string(p.id), consistency.String()).Observe(time.Since(start).Seconds())
	}
	return result, err
}

// publishNone stores the value and delivers it immediately without
// read-back, retrying the store once on a transient failure (spec §4.E
// "none").
func publishNone(ctx context.Context, p *Provider, value any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultPublishDeadline)
	defer cancel()

	_, err := p.put(ctx, value)
	if err == nil {
		return value, nil
	}
	if IsFatal(err) {
		return nil, err
	}

	select {
	case <-time.After(DefaultRetryBackoff):
	case <-ctx.Done():
		return nil, fatalErr("publish-none", ErrAborted)
	}

	if _, err := p.put(ctx, value); err != nil {
		return nil, err
	}
	return value, nil
}

// publishWeak stores the value, then polls query(consistentRead=true)
// until the stored record is observed and deep-equal to the original, then
// delivers it. The whole pipeline (store + verify) retries once on any
// failure, bounded by an overall 10 s deadline (spec §4.E "weak").
func publishWeak(ctx context.Context, p *Provider, value any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultPublishDeadline)
	defer cancel()

	if v, err := storeAndVerify(ctx, p, value); err == nil {
		return v, nil
	}

	select {
	case <-time.After(DefaultRetryBackoff):
	case <-ctx.Done():
		return nil, fatalErr("publish-weak", ErrAborted)
	}

	return storeAndVerify(ctx, p, value)
}

func storeAndVerify(ctx context.Context, p *Provider, value any) (any, error) {
	rec, err := p.put(ctx, value)
	if err != nil {
		return nil, err
	}
	return verify(ctx, p, rec)
}

// verify implements the read-back retrieval loop: poll query every 100 ms,
// with an overall verification deadline of 5 s, until rec's (hashKey,
// rangeKey) shows up with a deep-equal payload.
func verify(ctx context.Context, p *Provider, rec Record) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultVerifyDeadline)
	defer cancel()

	ticker := time.NewTicker(DefaultVerifyPollInterval)
	defer ticker.Stop()

	for {
		items, err := p.opts.Store.Query(ctx, true)
		if err == nil {
			for _, it := range items {
				if it.HashKey != rec.HashKey || it.RangeKey != rec.RangeKey {
					continue
				}
				if !deepEqual(it.Data, rec.Data) {
					return nil, fatalErr("publish-verify", fmt.Errorf("cloudrx: verification mismatch for %s/%s", rec.HashKey, rec.RangeKey))
				}
				return rec.Data, nil
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			if err != nil {
				return nil, classify(ctx, "publish-verify", err)
			}
			return nil, retryErr("publish-verify", fmt.Errorf("cloudrx: verification deadline exceeded for %s/%s", rec.HashKey, rec.RangeKey))
		}
	}
}
