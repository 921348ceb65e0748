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

	fasterrors "github.com/go-faster/errors"
	smithy "github.com/aws/smithy-go"
	"github.com/sony/gobreaker"
)

// ErrNotImplemented is returned, wrapped in a FatalError, by publish under
// ConsistencyStrong. The S3 backing provider stub returns its own
// s3stub.ErrNotImplemented instead.
var ErrNotImplemented = errors.New("cloudrx: not yet implemented")

// ErrAborted is returned, wrapped in a FatalError, when a provider's abort
// signal or the caller's context fires mid-operation.
var ErrAborted = errors.New("cloudrx: aborted")

// RetryError wraps an error the caller should retry on a fixed schedule.
type RetryError struct {
	Op  string
	Err error
}

func (e *RetryError) Error() string { return "cloudrx: retryable: " + e.Op + ": " + e.Err.Error() }
func (e *RetryError) Unwrap() error { return e.Err }

// FatalError wraps an unrecoverable error that terminates the initialization
// task or the pipeline step that produced it.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return "cloudrx: fatal: " + e.Op + ": " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

func retryErr(op string, err error) error { return &RetryError{Op: op, Err: err} }
func fatalErr(op string, err error) error { return &FatalError{Op: op, Err: err} }

// IsRetry reports whether err (or anything it wraps) is a RetryError.
func IsRetry(err error) bool {
	var re *RetryError
	return errors.As(err, &re)
}

// IsFatal reports whether err (or anything it wraps) is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// classify maps a raw backing-store error into the two-tier RetryError /
// FatalError taxonomy described in spec §7. op identifies the call site for
// logging and error messages (e.g. "describeTable", "put").
//
// AggregateError-shaped errors (anything with Unwrap() []error, such as
// errors.Join of several inner errors) are unwrapped to their first inner
// error and reclassified recursively; an aggregate with no inner errors is
// treated as fatal. A tripped circuit breaker (open or half-open refusal)
// is retryable.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fatalErr(op, ErrAborted)
	}
	if re := new(RetryError); errors.As(err, &re) {
		return err
	}
	if fe := new(FatalError); errors.As(err, &fe) {
		return err
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		inner := joined.Unwrap()
		if len(inner) == 0 {
			return fatalErr(op, err)
		}
		return classify(ctx, op, inner[0])
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException", "ResourceInUseException", "ValidationException",
			"LimitExceededException", "ProvisionedThroughputExceededException",
			"RequestLimitExceeded", "ThrottlingException":
			return retryErr(op, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return retryErr(op, err)
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return retryErr(op, err)
	}

	if isConnRefused(err) {
		return retryErr(op, err)
	}

	return fatalErr(op, fasterrors.Wrap(err, "unclassified "+op+" error"))
}
