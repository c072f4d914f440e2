package dynamodb

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/faceindex/metastore"
	"github.com/hupe1980/faceindex/model"
)

// mockDDBClient is an in-memory DynamoDB mock for testing.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func (m *mockDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := params.Item["record_id"].(*types.AttributeValueMemberS).Value
	m.items[id] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id := params.Key["record_id"].(*types.AttributeValueMemberS).Value
	if item, ok := m.items[id]; ok {
		return &dynamodb.GetItemOutput{Item: item}, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDDBClient) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := params.Key["record_id"].(*types.AttributeValueMemberS).Value
	item, ok := m.items[id]
	if !ok {
		return &dynamodb.DeleteItemOutput{}, nil
	}
	delete(m.items, id)

	if params.ReturnValues == types.ReturnValueAllOld {
		return &dynamodb.DeleteItemOutput{Attributes: item}, nil
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *mockDDBClient) Scan(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	startAfter := ""
	if params.ExclusiveStartKey != nil {
		startAfter = params.ExclusiveStartKey["record_id"].(*types.AttributeValueMemberS).Value
	}

	out := &dynamodb.ScanOutput{}
	scanned := 0
	lastID := ""
	for _, id := range ids {
		if startAfter != "" && id <= startAfter {
			continue
		}
		if params.Limit != nil && scanned == int(*params.Limit) {
			out.LastEvaluatedKey = map[string]types.AttributeValue{
				"record_id": &types.AttributeValueMemberS{Value: lastID},
			}
			break
		}
		scanned++
		lastID = id

		item := m.items[id]
		if !matchesFilter(params, item) {
			continue
		}
		out.Items = append(out.Items, item)
	}

	return out, nil
}

func matchesFilter(params *dynamodb.ScanInput, item map[string]types.AttributeValue) bool {
	if params.FilterExpression == nil {
		return true
	}

	if cid, ok := params.ExpressionAttributeValues[":cid"]; ok {
		if item["collection_id"].(*types.AttributeValueMemberS).Value != cid.(*types.AttributeValueMemberS).Value {
			return false
		}
	}
	if sid, ok := params.ExpressionAttributeValues[":sid"]; ok {
		if item["subject_id"].(*types.AttributeValueMemberS).Value != sid.(*types.AttributeValueMemberS).Value {
			return false
		}
	}
	return true
}

func testRecord(id string) model.Record {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return model.Record{
		RecordID:     id,
		CollectionID: "default",
		SubjectID:    "alice",
		Confidence:   0.9731,
		BoundingBox:  model.BoundingBox{Left: 0.1, Top: 0.2, Width: 0.3, Height: 0.4},
		Landmarks: []model.Landmark{
			{Type: "eyeLeft", X: 0.3, Y: 0.3},
		},
		Pose:            &model.Pose{Roll: 1.5, Yaw: -2, Pitch: 0.5},
		Quality:         &model.Quality{Brightness: 70, Sharpness: 80},
		ExternalImageID: "img-1",
		SourceReference: "images/alice/" + id + ".jpg",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMockDDBClient(), "face-metadata")

	record := testRecord("r1")
	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestStore_GetNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMockDDBClient(), "face-metadata")

	_, err := store.Get(ctx, "nope")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func TestStore_OptionalFieldsOmitted(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMockDDBClient(), "face-metadata")

	record := testRecord("r1")
	record.Landmarks = nil
	record.Pose = nil
	record.Quality = nil
	record.ExternalImageID = ""
	record.SourceReference = ""
	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMockDDBClient(), "face-metadata")

	require.NoError(t, store.Put(ctx, testRecord("r1")))
	require.NoError(t, store.Delete(ctx, "r1"))

	_, err := store.Get(ctx, "r1")
	assert.ErrorIs(t, err, metastore.ErrNotFound)

	// Absent deletes are reported via ReturnValues.
	assert.ErrorIs(t, store.Delete(ctx, "r1"), metastore.ErrNotFound)
}

func TestStore_Scan(t *testing.T) {
	ctx := context.Background()
	client := newMockDDBClient()
	store := NewStore(client, "face-metadata")

	for _, id := range []string{"r1", "r2", "r3"} {
		record := testRecord(id)
		if id == "r2" {
			record.CollectionID = "other"
			record.SubjectID = "bob"
		}
		require.NoError(t, store.Put(ctx, record))
	}

	t.Run("All", func(t *testing.T) {
		page, err := store.Scan(ctx, metastore.ScanFilter{}, "", 10)
		require.NoError(t, err)
		assert.Len(t, page.Records, 3)
		assert.Empty(t, page.NextToken)
	})

	t.Run("CollectionFilter", func(t *testing.T) {
		page, err := store.Scan(ctx, metastore.ScanFilter{CollectionID: "other"}, "", 10)
		require.NoError(t, err)
		require.Len(t, page.Records, 1)
		assert.Equal(t, "r2", page.Records[0].RecordID)
	})

	t.Run("SubjectFilter", func(t *testing.T) {
		page, err := store.Scan(ctx, metastore.ScanFilter{SubjectID: "alice"}, "", 10)
		require.NoError(t, err)
		assert.Len(t, page.Records, 2)
	})
}
