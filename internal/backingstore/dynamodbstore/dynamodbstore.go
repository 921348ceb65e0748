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

// Package dynamodbstore is the reference backingstore.Store implementation:
// a DynamoDB table paired with its DynamoDB Streams change-data-capture
// side channel. Shard discovery, iterator handling and record shape are
// modeled directly on DynamoDB Streams / Kinesis-shaped consumers (see
// DESIGN.md for the example this is grounded on).
package dynamodbstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ddbattr "github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	streamattr "github.com/aws/aws-sdk-go-v2/feature/dynamodbstreams/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"

	"github.com/scaffoldly/cloudrx/internal/backingstore"
)

// DynamoDBAPI is the subset of *dynamodb.Client this package calls.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	DescribeTimeToLive(ctx context.Context, in *dynamodb.DescribeTimeToLiveInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTimeToLiveOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTimeToLive(ctx context.Context, in *dynamodb.UpdateTimeToLiveInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// StreamsAPI is the subset of *dynamodbstreams.Client this package calls.
type StreamsAPI interface {
	DescribeStream(ctx context.Context, in *dynamodbstreams.DescribeStreamInput, opts ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error)
	GetShardIterator(ctx context.Context, in *dynamodbstreams.GetShardIteratorInput, opts ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, in *dynamodbstreams.GetRecordsInput, opts ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error)
}

// Store wraps the two AWS clients needed to drive a table plus its CDC
// stream. The stream ARN is empty until DescribeTable has observed a
// LatestStreamArn; DescribeStream calls DescribeTable first while it is
// still empty.
type Store struct {
	Client    DynamoDBAPI
	Streams   StreamsAPI
	TableName string

	streamArn string
}

// New builds a Store from already-configured AWS SDK clients.
func New(client DynamoDBAPI, streams StreamsAPI, tableName string) *Store {
	return &Store{Client: client, Streams: streams, TableName: tableName}
}

func (s *Store) Put(ctx context.Context, item backingstore.Item) error {
	av, err := ddbattr.MarshalMap(record{
		HashKey:   item.HashKey,
		RangeKey:  item.RangeKey,
		Data:      item.Data,
		Timestamp: item.Timestamp,
		Expires:   item.Expires,
	})
	if err != nil {
		return fmt.Errorf("dynamodbstore: marshal item: %w", err)
	}
	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.TableName),
		Item:      av,
	})
	return err
}

// Query reads back every item currently in the table. The hash key is
// "item-<epochMs>", unique per record, so there is no shared partition key
// to scope a real DynamoDB Query by; this is a paginated Scan instead,
// looping on LastEvaluatedKey until DynamoDB reports the table exhausted,
// then sorting the result ascending by RangeKey.
func (s *Store) Query(ctx context.Context, consistentRead bool) ([]backingstore.Item, error) {
	var items []backingstore.Item
	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := s.Client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.TableName),
			ConsistentRead:    aws.Bool(consistentRead),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		for _, raw := range out.Items {
			var r record
			if err := ddbattr.UnmarshalMap(raw, &r); err != nil {
				return nil, fmt.Errorf("dynamodbstore: unmarshal item: %w", err)
			}
			items = append(items, backingstore.Item{
				HashKey: r.HashKey, RangeKey: r.RangeKey, Data: r.Data,
				Timestamp: r.Timestamp, Expires: r.Expires,
			})
		}
		if len(out.LastEvaluatedKey) == 0 {
			sort.Slice(items, func(i, j int) bool { return items[i].RangeKey < items[j].RangeKey })
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (s *Store) DescribeTable(ctx context.Context) (backingstore.TableDescription, error) {
	out, err := s.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.TableName)})
	if err != nil {
		return backingstore.TableDescription{}, err
	}
	t := out.Table
	desc := backingstore.TableDescription{
		TableArn:  aws.ToString(t.TableArn),
		Active:    t.TableStatus == ddbtypes.TableStatusActive,
		StreamsEnabled: t.StreamSpecification != nil && aws.ToBool(t.StreamSpecification.StreamEnabled),
	}
	if t.StreamSpecification != nil {
		desc.StreamViewType = string(t.StreamSpecification.StreamViewType)
	}
	if t.LatestStreamArn != nil {
		desc.StreamArn = aws.ToString(t.LatestStreamArn)
		s.streamArn = desc.StreamArn
	}
	for _, ks := range t.KeySchema {
		attrType := attrTypeFor(t.AttributeDefinitions, aws.ToString(ks.AttributeName))
		switch ks.KeyType {
		case ddbtypes.KeyTypeHash:
			desc.HashKeyName, desc.HashKeyType = aws.ToString(ks.AttributeName), attrType
		case ddbtypes.KeyTypeRange:
			desc.RangeKeyName, desc.RangeKeyType = aws.ToString(ks.AttributeName), attrType
		}
	}
	return desc, nil
}

func attrTypeFor(defs []ddbtypes.AttributeDefinition, name string) string {
	for _, d := range defs {
		if aws.ToString(d.AttributeName) == name {
			return string(d.AttributeType)
		}
	}
	return ""
}

func (s *Store) DescribeTTL(ctx context.Context) (backingstore.TTLDescription, error) {
	out, err := s.Client.DescribeTimeToLive(ctx, &dynamodb.DescribeTimeToLiveInput{TableName: aws.String(s.TableName)})
	if err != nil {
		return backingstore.TTLDescription{}, err
	}
	desc := backingstore.TTLDescription{}
	if out.TimeToLiveDescription != nil {
		if out.TimeToLiveDescription.AttributeName != nil {
			desc.AttributeName = aws.ToString(out.TimeToLiveDescription.AttributeName)
		}
		status := out.TimeToLiveDescription.TimeToLiveStatus
		desc.Enabled = status == ddbtypes.TimeToLiveStatusEnabled
		desc.Disabling = status == ddbtypes.TimeToLiveStatusDisabling
	}
	return desc, nil
}

func (s *Store) CreateTable(ctx context.Context, schema backingstore.Schema) error {
	_, err := s.Client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(schema.TableName),
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String(schema.HashKeyName), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String(schema.RangeKeyName), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String(schema.HashKeyName), KeyType: ddbtypes.KeyTypeHash},
			{AttributeName: aws.String(schema.RangeKeyName), KeyType: ddbtypes.KeyTypeRange},
		},
		BillingMode: ddbtypes.BillingModePayPerRequest,
		StreamSpecification: &ddbtypes.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: ddbtypes.StreamViewTypeNewAndOldImages,
		},
	})
	if err != nil && !isResourceInUse(err) {
		return err
	}
	return nil
}

func (s *Store) UpdateTTL(ctx context.Context, schema backingstore.Schema) error {
	_, err := s.Client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(schema.TableName),
		TimeToLiveSpecification: &ddbtypes.TimeToLiveSpecification{
			AttributeName: aws.String(schema.TTLAttribute),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil && !isValidationErr(err) {
		return err
	}
	return nil
}

func (s *Store) DescribeStream(ctx context.Context) ([]backingstore.Shard, error) {
	if s.streamArn == "" {
		if _, err := s.DescribeTable(ctx); err != nil {
			return nil, err
		}
	}
	var out []backingstore.Shard
	input := &dynamodbstreams.DescribeStreamInput{StreamArn: aws.String(s.streamArn)}
	for {
		resp, err := s.Streams.DescribeStream(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, sh := range resp.StreamDescription.Shards {
			out = append(out, toShard(sh))
		}
		if resp.StreamDescription.LastEvaluatedShardId == nil {
			return out, nil
		}
		input.ExclusiveStartShardId = resp.StreamDescription.LastEvaluatedShardId
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func toShard(sh streamtypes.Shard) backingstore.Shard {
	out := backingstore.Shard{ShardID: aws.ToString(sh.ShardId), ParentShardID: aws.ToString(sh.ParentShardId)}
	if sh.SequenceNumberRange != nil {
		out.StartingSequence = aws.ToString(sh.SequenceNumberRange.StartingSequenceNumber)
		out.EndingSequence = aws.ToString(sh.SequenceNumberRange.EndingSequenceNumber)
	}
	return out
}

func (s *Store) GetShardIterator(ctx context.Context, shardID string, pos backingstore.IteratorPosition) (backingstore.ShardIterator, error) {
	itType := streamtypes.ShardIteratorTypeTrimHorizon
	if pos == backingstore.IteratorLatest {
		itType = streamtypes.ShardIteratorTypeLatest
	}
	out, err := s.Streams.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(s.streamArn),
		ShardId:           aws.String(shardID),
		ShardIteratorType: itType,
	})
	if err != nil {
		return "", err
	}
	return backingstore.ShardIterator(aws.ToString(out.ShardIterator)), nil
}

func (s *Store) GetRecords(ctx context.Context, iterator backingstore.ShardIterator) ([]backingstore.CdcRecord, backingstore.ShardIterator, error) {
	out, err := s.Streams.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{
		ShardIterator: aws.String(string(iterator)),
	})
	if err != nil {
		return nil, "", err
	}
	recs := make([]backingstore.CdcRecord, 0, len(out.Records))
	for _, r := range out.Records {
		cdc, err := toCdcRecord(r)
		if err != nil {
			return nil, "", err
		}
		recs = append(recs, cdc)
	}
	return recs, backingstore.ShardIterator(aws.ToString(out.NextShardIterator)), nil
}

func toCdcRecord(r streamtypes.Record) (backingstore.CdcRecord, error) {
	out := backingstore.CdcRecord{SequenceNumber: aws.ToString(r.Dynamodb.SequenceNumber)}
	if len(r.Dynamodb.Keys) > 0 {
		var keys record
		if err := streamattr.UnmarshalMap(r.Dynamodb.Keys, &keys); err != nil {
			return out, fmt.Errorf("dynamodbstore: unmarshal keys: %w", err)
		}
		out.HashKey, out.RangeKey = keys.HashKey, keys.RangeKey
	}
	if len(r.Dynamodb.NewImage) > 0 {
		var m map[string]any
		if err := streamattr.UnmarshalMap(r.Dynamodb.NewImage, &m); err != nil {
			return out, fmt.Errorf("dynamodbstore: unmarshal new image: %w", err)
		}
		out.NewImage = m
	}
	if len(r.Dynamodb.OldImage) > 0 {
		var m map[string]any
		if err := streamattr.UnmarshalMap(r.Dynamodb.OldImage, &m); err != nil {
			return out, fmt.Errorf("dynamodbstore: unmarshal old image: %w", err)
		}
		out.OldImage = m
	}
	return out, nil
}

type record struct {
	HashKey   string `dynamodbav:"hashKey"`
	RangeKey  string `dynamodbav:"rangeKey"`
	Data      any    `dynamodbav:"data"`
	Timestamp int64  `dynamodbav:"timestamp"`
	Expires   int64  `dynamodbav:"expires"`
}

func isResourceInUse(err error) bool {
	var e *ddbtypes.ResourceInUseException
	return errors.As(err, &e)
}

func isValidationErr(err error) bool {
	var e *ddbtypes.ValidationException
	return errors.As(err, &e)
}

var _ backingstore.Store = (*Store)(nil)
