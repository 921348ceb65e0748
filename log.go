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
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// NewZapLogger returns a production zap logger wrapped with zapr, matching
// the teacher's logr-over-zap convention, for callers to pass as a Logger
// option. Components that receive no logger use a discard logger (see
// orDiscard), not this one.
func NewZapLogger() logr.Logger {
	z, err := zap.NewProduction()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(z)
}

func orDiscard(l logr.Logger) logr.Logger {
	if l.GetSink() == nil {
		return logr.Discard()
	}
	return l
}
