// Package dynamodb implements aggstore.Store on a DynamoDB table using
// conditional writes for the version check.
//
// Table schema:
//   - Partition key: subject_id (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name subject-aggregates \
//	  --attribute-definitions AttributeName=subject_id,AttributeType=S \
//	  --key-schema AttributeName=subject_id,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/faceindex/aggstore"
)

// Client is the interface for DynamoDB operations used by the store.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store implements aggstore.Store backed by a DynamoDB table.
type Store struct {
	client    Client
	tableName string
}

var _ aggstore.Store = (*Store)(nil)

// NewStore creates a new DynamoDB aggregate store.
func NewStore(client Client, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
	}
}

// GetOrInit returns the stored aggregate or a fresh zero-version one.
func (s *Store) GetOrInit(ctx context.Context, subjectID string) (aggstore.Aggregate, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"subject_id": &types.AttributeValueMemberS{Value: subjectID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return aggstore.Aggregate{}, fmt.Errorf("dynamodb get: %w", err)
	}

	if len(resp.Item) == 0 {
		now := time.Now().UTC()
		return aggstore.Aggregate{
			SubjectID:   subjectID,
			Collections: make(map[string][]string),
			CreatedAt:   now,
			UpdatedAt:   now,
		}, nil
	}

	return unmarshalAggregate(resp.Item)
}

// ConditionalPut writes the aggregate only if the stored version still
// equals expectedVersion. A ConditionalCheckFailedException maps to
// aggstore.ErrVersionConflict.
func (s *Store) ConditionalPut(ctx context.Context, aggregate aggstore.Aggregate, expectedVersion int64) error {
	aggregate.Version = expectedVersion + 1

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      marshalAggregate(aggregate),
	}

	if expectedVersion == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(subject_id)")
	} else {
		input.ConditionExpression = aws.String("version = :expected")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return aggstore.ErrVersionConflict
		}
		return fmt.Errorf("dynamodb conditional put: %w", err)
	}

	return nil
}

// Count returns the number of persisted aggregates via a paginated
// COUNT scan.
func (s *Store) Count(ctx context.Context) (int, error) {
	var (
		total    int
		startKey map[string]types.AttributeValue
	)

	for {
		resp, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.tableName),
			Select:            types.SelectCount,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, fmt.Errorf("dynamodb count scan: %w", err)
		}

		total += int(resp.Count)
		if len(resp.LastEvaluatedKey) == 0 {
			return total, nil
		}
		startKey = resp.LastEvaluatedKey
	}
}

func marshalAggregate(agg aggstore.Aggregate) map[string]types.AttributeValue {
	recordIDs := make([]types.AttributeValue, 0, len(agg.RecordIDs))
	for _, id := range agg.RecordIDs {
		recordIDs = append(recordIDs, &types.AttributeValueMemberS{Value: id})
	}

	collections := make(map[string]types.AttributeValue, len(agg.Collections))
	for cid, ids := range agg.Collections {
		list := make([]types.AttributeValue, 0, len(ids))
		for _, id := range ids {
			list = append(list, &types.AttributeValueMemberS{Value: id})
		}
		collections[cid] = &types.AttributeValueMemberL{Value: list}
	}

	return map[string]types.AttributeValue{
		"subject_id":    &types.AttributeValueMemberS{Value: agg.SubjectID},
		"record_ids":    &types.AttributeValueMemberL{Value: recordIDs},
		"collections":   &types.AttributeValueMemberM{Value: collections},
		"total_records": &types.AttributeValueMemberN{Value: strconv.Itoa(agg.TotalRecords)},
		"created_at":    &types.AttributeValueMemberS{Value: agg.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"updated_at":    &types.AttributeValueMemberS{Value: agg.UpdatedAt.UTC().Format(time.RFC3339Nano)},
		"version":       &types.AttributeValueMemberN{Value: strconv.FormatInt(agg.Version, 10)},
	}
}

func unmarshalAggregate(item map[string]types.AttributeValue) (aggstore.Aggregate, error) {
	agg := aggstore.Aggregate{
		Collections: make(map[string][]string),
	}

	s, ok := item["subject_id"].(*types.AttributeValueMemberS)
	if !ok {
		return aggstore.Aggregate{}, fmt.Errorf("dynamodb item missing subject_id")
	}
	agg.SubjectID = s.Value

	if l, ok := item["record_ids"].(*types.AttributeValueMemberL); ok {
		for _, av := range l.Value {
			if s, ok := av.(*types.AttributeValueMemberS); ok {
				agg.RecordIDs = append(agg.RecordIDs, s.Value)
			}
		}
	}

	if m, ok := item["collections"].(*types.AttributeValueMemberM); ok {
		for cid, av := range m.Value {
			l, ok := av.(*types.AttributeValueMemberL)
			if !ok {
				continue
			}
			for _, idAV := range l.Value {
				if s, ok := idAV.(*types.AttributeValueMemberS); ok {
					agg.Collections[cid] = append(agg.Collections[cid], s.Value)
				}
			}
		}
	}

	agg.TotalRecords = len(agg.RecordIDs)

	if n, ok := item["version"].(*types.AttributeValueMemberN); ok {
		v, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return aggstore.Aggregate{}, fmt.Errorf("invalid version attribute: %w", err)
		}
		agg.Version = v
	}

	if s, ok := item["created_at"].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339Nano, s.Value); err == nil {
			agg.CreatedAt = t
		}
	}
	if s, ok := item["updated_at"].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339Nano, s.Value); err == nil {
			agg.UpdatedAt = t
		}
	}

	return agg, nil
}
