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

// Command cloudrx-admin is a tiny example harness: it obtains one provider
// from a YAML config and exposes health, metrics, and shard-introspection
// endpoints for it. It is explicitly outside the core's scope (spec.md §1
// "Out of scope: CLI/example harnesses").
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/scaffoldly/cloudrx"
)

type fileConfig struct {
	Addr        string `yaml:"addr"`
	StreamID    string `yaml:"streamId"`
	ProviderRaw struct {
		Type         string `yaml:"type"`
		TableName    string `yaml:"tableName"`
		HashKeyName  string `yaml:"hashKeyName"`
		RangeKeyName string `yaml:"rangeKeyName"`
	} `yaml:"subject"`
}

func main() {
	cfgPath := flag.String("config", "cloudrx-admin.yaml", "path to YAML config")
	flag.Parse()

	zl, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	log := zapr.NewLogger(zl)

	cfg := loadConfig(*cfgPath, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := cloudrx.NewRegistry()
	registerer := prometheus.NewRegistry()
	reg.Register(registerer)

	subjCfg := cloudrx.SubjectConfig{
		Type:         cloudrx.ProviderType(cfg.ProviderRaw.Type),
		TableName:    cfg.ProviderRaw.TableName,
		HashKeyName:  cfg.ProviderRaw.HashKeyName,
		RangeKeyName: cfg.ProviderRaw.RangeKeyName,
		AbortSignal:  ctx,
		Logger:       log,
		Registerer:   registerer,
	}

	subject, err := cloudrx.NewCloudSubject(ctx, reg, cloudrx.StreamID(cfg.StreamID), subjCfg)
	if err != nil {
		log.Error(err, "failed to obtain provider")
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET"}}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
	r.Get("/streams/{streamId}/shards", func(w http.ResponseWriter, r *http.Request) {
		streamID := cloudrx.StreamID(chi.URLParam(r, "streamId"))
		if streamID != subject.ID() {
			http.Error(w, "unknown stream", http.StatusNotFound)
			return
		}
		reqCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		shardsCh, errCh := subject.Shards(reqCtx)
		var ids []string
		for {
			select {
			case sh, ok := <-shardsCh:
				if !ok {
					shardsCh = nil
					continue
				}
				ids = append(ids, sh.ShardID)
			case err, ok := <-errCh:
				if !ok {
					errCh = nil
					continue
				}
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadGateway)
					return
				}
			case <-reqCtx.Done():
				writeJSON(w, ids)
				return
			}
		}
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r}

	go func() {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func loadConfig(path string, log logr.Logger) fileConfig {
	cfg := fileConfig{Addr: ":8080"}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Info("no config file found, using defaults", "path", path)
		return cfg
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func writeJSON(w http.ResponseWriter, ids []string) {
	w.Header().Set("Content-Type", "application/json")
	if ids == nil {
		ids = []string{}
	}
	_ = json.NewEncoder(w).Encode(ids)
}
