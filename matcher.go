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

// newMatcher builds the predicate Provider.Store returns: true iff a CDC
// record's (hashKey, rangeKey) equals the write's own keys (spec §3
// "Matcher", §4.E "Matcher protocol"). rangeKey carries a uuid component
// (see newRecord), so this correlates a pending write to its own CDC echo
// even when another write shares the same epochMs.
func newMatcher(hashKey, rangeKey string) Matcher {
	return func(rec CdcRecord) bool {
		return rec.HashKey == hashKey && rec.RangeKey == rangeKey
	}
}
