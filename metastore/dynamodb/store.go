// Package dynamodb implements metastore.Store on a DynamoDB table.
//
// Table schema:
//   - Partition key: record_id (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name face-metadata \
//	  --attribute-definitions AttributeName=record_id,AttributeType=S \
//	  --key-schema AttributeName=record_id,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamodb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/faceindex/metastore"
	"github.com/hupe1980/faceindex/model"
)

// Client is the interface for DynamoDB operations used by the store.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store implements metastore.Store backed by a DynamoDB table.
type Store struct {
	client    Client
	tableName string
}

var _ metastore.Store = (*Store)(nil)

// NewStore creates a new DynamoDB metadata store.
func NewStore(client Client, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
	}
}

// Put writes or overwrites a record.
func (s *Store) Put(ctx context.Context, record model.Record) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      marshalRecord(record),
	})
	if err != nil {
		return fmt.Errorf("dynamodb put: %w", err)
	}
	return nil
}

// Get returns the record, or metastore.ErrNotFound.
func (s *Store) Get(ctx context.Context, recordID string) (model.Record, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"record_id": &types.AttributeValueMemberS{Value: recordID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.Record{}, fmt.Errorf("dynamodb get: %w", err)
	}
	if len(resp.Item) == 0 {
		return model.Record{}, metastore.ErrNotFound
	}
	return unmarshalRecord(resp.Item)
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, recordID string) error {
	resp, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"record_id": &types.AttributeValueMemberS{Value: recordID},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete: %w", err)
	}
	if len(resp.Attributes) == 0 {
		return metastore.ErrNotFound
	}
	return nil
}

// Scan pages through the table. The page token is the record_id of the
// LastEvaluatedKey from the previous page.
func (s *Store) Scan(ctx context.Context, filter metastore.ScanFilter, pageToken string, limit int) (metastore.ScanPage, error) {
	if limit <= 0 {
		limit = 100
	}

	input := &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
		Limit:     aws.Int32(int32(limit)),
	}

	exprValues := map[string]types.AttributeValue{}
	filterExpr := ""
	if filter.CollectionID != "" {
		filterExpr = "collection_id = :cid"
		exprValues[":cid"] = &types.AttributeValueMemberS{Value: filter.CollectionID}
	}
	if filter.SubjectID != "" {
		if filterExpr != "" {
			filterExpr += " AND "
		}
		filterExpr += "subject_id = :sid"
		exprValues[":sid"] = &types.AttributeValueMemberS{Value: filter.SubjectID}
	}
	if filterExpr != "" {
		input.FilterExpression = aws.String(filterExpr)
		input.ExpressionAttributeValues = exprValues
	}
	if pageToken != "" {
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"record_id": &types.AttributeValueMemberS{Value: pageToken},
		}
	}

	resp, err := s.client.Scan(ctx, input)
	if err != nil {
		return metastore.ScanPage{}, fmt.Errorf("dynamodb scan: %w", err)
	}

	page := metastore.ScanPage{}
	for _, item := range resp.Items {
		record, err := unmarshalRecord(item)
		if err != nil {
			return metastore.ScanPage{}, err
		}
		page.Records = append(page.Records, record)
	}

	if last, ok := resp.LastEvaluatedKey["record_id"]; ok {
		if s, ok := last.(*types.AttributeValueMemberS); ok {
			page.NextToken = s.Value
		}
	}

	return page, nil
}

func marshalRecord(record model.Record) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"record_id":     &types.AttributeValueMemberS{Value: record.RecordID},
		"collection_id": &types.AttributeValueMemberS{Value: record.CollectionID},
		"subject_id":    &types.AttributeValueMemberS{Value: record.SubjectID},
		"confidence":    numberAttr(record.Confidence),
		"bounding_box": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"left":   numberAttr(record.BoundingBox.Left),
			"top":    numberAttr(record.BoundingBox.Top),
			"width":  numberAttr(record.BoundingBox.Width),
			"height": numberAttr(record.BoundingBox.Height),
		}},
		"created_at": &types.AttributeValueMemberS{Value: record.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"updated_at": &types.AttributeValueMemberS{Value: record.UpdatedAt.UTC().Format(time.RFC3339Nano)},
	}

	if len(record.Landmarks) > 0 {
		landmarks := make([]types.AttributeValue, 0, len(record.Landmarks))
		for _, lm := range record.Landmarks {
			landmarks = append(landmarks, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
				"type": &types.AttributeValueMemberS{Value: lm.Type},
				"x":    numberAttr(lm.X),
				"y":    numberAttr(lm.Y),
			}})
		}
		item["landmarks"] = &types.AttributeValueMemberL{Value: landmarks}
	}

	if record.Pose != nil {
		item["pose"] = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"roll":  numberAttr(record.Pose.Roll),
			"yaw":   numberAttr(record.Pose.Yaw),
			"pitch": numberAttr(record.Pose.Pitch),
		}}
	}

	if record.Quality != nil {
		item["quality"] = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"brightness": numberAttr(record.Quality.Brightness),
			"sharpness":  numberAttr(record.Quality.Sharpness),
		}}
	}

	if record.ExternalImageID != "" {
		item["external_image_id"] = &types.AttributeValueMemberS{Value: record.ExternalImageID}
	}
	if record.SourceReference != "" {
		item["image_key"] = &types.AttributeValueMemberS{Value: record.SourceReference}
	}
	if record.MigratedFrom != "" {
		item["migrated_from"] = &types.AttributeValueMemberS{Value: record.MigratedFrom}
	}

	return item
}

func unmarshalRecord(item map[string]types.AttributeValue) (model.Record, error) {
	record := model.Record{
		RecordID:        stringAttr(item, "record_id"),
		CollectionID:    stringAttr(item, "collection_id"),
		SubjectID:       stringAttr(item, "subject_id"),
		ExternalImageID: stringAttr(item, "external_image_id"),
		SourceReference: stringAttr(item, "image_key"),
		MigratedFrom:    stringAttr(item, "migrated_from"),
	}
	if record.RecordID == "" {
		return model.Record{}, fmt.Errorf("dynamodb item missing record_id")
	}

	var err error
	if record.Confidence, err = floatAttr(item, "confidence"); err != nil {
		return model.Record{}, err
	}

	if m, ok := item["bounding_box"].(*types.AttributeValueMemberM); ok {
		record.BoundingBox.Left, _ = floatAttr(m.Value, "left")
		record.BoundingBox.Top, _ = floatAttr(m.Value, "top")
		record.BoundingBox.Width, _ = floatAttr(m.Value, "width")
		record.BoundingBox.Height, _ = floatAttr(m.Value, "height")
	}

	if l, ok := item["landmarks"].(*types.AttributeValueMemberL); ok {
		for _, av := range l.Value {
			m, ok := av.(*types.AttributeValueMemberM)
			if !ok {
				continue
			}
			lm := model.Landmark{Type: stringAttr(m.Value, "type")}
			lm.X, _ = floatAttr(m.Value, "x")
			lm.Y, _ = floatAttr(m.Value, "y")
			record.Landmarks = append(record.Landmarks, lm)
		}
	}

	if m, ok := item["pose"].(*types.AttributeValueMemberM); ok {
		pose := &model.Pose{}
		pose.Roll, _ = floatAttr(m.Value, "roll")
		pose.Yaw, _ = floatAttr(m.Value, "yaw")
		pose.Pitch, _ = floatAttr(m.Value, "pitch")
		record.Pose = pose
	}

	if m, ok := item["quality"].(*types.AttributeValueMemberM); ok {
		quality := &model.Quality{}
		quality.Brightness, _ = floatAttr(m.Value, "brightness")
		quality.Sharpness, _ = floatAttr(m.Value, "sharpness")
		record.Quality = quality
	}

	if record.CreatedAt, err = timeAttr(item, "created_at"); err != nil {
		return model.Record{}, err
	}
	if record.UpdatedAt, err = timeAttr(item, "updated_at"); err != nil {
		return model.Record{}, err
	}

	return record, nil
}

func numberAttr(v float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'g', -1, 64)}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func floatAttr(item map[string]types.AttributeValue, name string) (float64, error) {
	n, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s attribute: %w", name, err)
	}
	return v, nil
}

func timeAttr(item map[string]types.AttributeValue, name string) (time.Time, error) {
	s, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.Value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s attribute: %w", name, err)
	}
	return t, nil
}
