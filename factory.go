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
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/redis/go-redis/v9"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
	"github.com/scaffoldly/cloudrx/internal/backingstore/dynamodbstore"
	"github.com/scaffoldly/cloudrx/internal/backingstore/memory"
	"github.com/scaffoldly/cloudrx/internal/backingstore/redisstore"
	"github.com/scaffoldly/cloudrx/internal/backingstore/s3stub"
)

// dynamodbClients bundles the two clients the dynamodb backing provider
// needs; a caller may pass one of these as SubjectConfig.Client instead of
// letting buildStore construct them from the default credential chain.
type dynamodbClients struct {
	Table   dynamodbstore.DynamoDBAPI
	Streams dynamodbstore.StreamsAPI
}

// buildStore constructs the backingstore.Store named by cfg.Type, honoring
// an already-configured cfg.Client when supplied (spec §6 "options =
// { client, ... }").
func buildStore(cfg SubjectConfig) (backingstore.Store, error) {
	tableName := cfg.TableName

	switch cfg.Type {
	case ProviderRedis:
		if client, ok := cfg.Client.(redis.Cmdable); ok {
			return redisstore.New(client, tableName), nil
		}
		client := redis.NewClient(&redis.Options{Addr: redisAddr()})
		return redisstore.New(client, tableName), nil

	case ProviderS3:
		return s3stub.New(), nil

	case ProviderMemory:
		return memory.New(), nil

	case ProviderDynamoDB, "":
		if clients, ok := cfg.Client.(dynamodbClients); ok {
			return dynamodbstore.New(clients.Table, clients.Streams, tableName), nil
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(awsRegion(cfg.Region)))
		if err != nil {
			return nil, fmt.Errorf("cloudrx: load aws config: %w", err)
		}
		return dynamodbstore.New(dynamodb.NewFromConfig(awsCfg), dynamodbstreams.NewFromConfig(awsCfg), tableName), nil

	default:
		return nil, fmt.Errorf("cloudrx: unknown provider type %q", cfg.Type)
	}
}

// redisAddr resolves the Redis backing provider's endpoint from
// REDIS_ADDR, defaulting to the standard local port — mirrors AWS_REGION's
// "environment consulted when no client is supplied" convention (spec §6)
// for the supplemented Redis provider.
func redisAddr() string {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		return v
	}
	return "localhost:6379"
}
