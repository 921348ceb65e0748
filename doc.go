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

// Package cloudrx implements a cloud-backed reactive stream primitive: a
// multi-producer, multi-subscriber event channel whose values are durably
// written to a remote append-only store before local subscribers observe
// them, and whose history can be replayed to newly attached subscribers.
//
// Three subsystems compose the package: provider lifecycle and schema
// bootstrap (Registry, Provider), change-data-capture ingestion (shard
// multiplexing and per-shard record streams), and the store-then-verify-
// then-emit publish pipeline consumed through CloudSubject.
package cloudrx
