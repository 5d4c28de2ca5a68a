package storage_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnwmail/npaste/models"
	"github.com/johnwmail/npaste/storage"
	"github.com/johnwmail/npaste/storage/storetest"
)

// fakeDynamo is an in-memory table that understands the condition
// expressions DynamoStore sends.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pingErr  error
	failNext error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func keyOf(key map[string]types.AttributeValue) string {
	return key["id"].(*types.AttributeValueMemberS).Value
}

func numberOf(av types.AttributeValue) string {
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		return n.Value
	}
	return ""
}

func (f *fakeDynamo) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

// viewsMatch must be called with f.mu held.
func (f *fakeDynamo) viewsMatch(id string, cond *string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	item, ok := f.items[id]
	if cond == nil {
		return item, nil
	}
	if *cond != "remaining_views = :views" {
		return nil, fmt.Errorf("unexpected condition %q", *cond)
	}
	if !ok || numberOf(item["remaining_views"]) != numberOf(values[":views"]) {
		return nil, conditionFailed()
	}
	return item, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	if !aws.ToBool(in.ConsistentRead) {
		return nil, errors.New("reads must be strongly consistent")
	}
	item, ok := f.items[keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	copied := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		copied[k] = v
	}
	return &dynamodb.GetItemOutput{Item: copied}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	if aws.ToString(in.ConditionExpression) != "attribute_not_exists(id)" {
		return nil, fmt.Errorf("unexpected condition %q", aws.ToString(in.ConditionExpression))
	}
	id := keyOf(in.Item)
	if _, exists := f.items[id]; exists {
		return nil, conditionFailed()
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if aws.ToString(in.UpdateExpression) != "SET remaining_views = :next" {
		return nil, fmt.Errorf("unexpected update %q", aws.ToString(in.UpdateExpression))
	}
	id := keyOf(in.Key)
	item, err := f.viewsMatch(id, in.ConditionExpression, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	updated := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		updated[k] = v
	}
	updated["remaining_views"] = in.ExpressionAttributeValues[":next"]
	f.items[id] = updated
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := keyOf(in.Key)
	if _, err := f.viewsMatch(id, in.ConditionExpression, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	delete(f.items, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.pingErr != nil {
		return nil, f.pingErr
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableName: in.TableName}}, nil
}

func TestDynamoStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.PasteStore {
		return storage.NewDynamoStoreWithClient(newFakeDynamo(), "pastes", discardLogger())
	})
}

func TestDynamoStoreItemLayout(t *testing.T) {
	fake := newFakeDynamo()
	store := storage.NewDynamoStoreWithClient(fake, "pastes", discardLogger())

	p := &models.Paste{
		ID:             "layout1",
		Content:        "body",
		CreatedAt:      1_700_000_000_000,
		ExpiresAt:      models.Int64(1_700_000_060_500),
		RemainingViews: models.Int(4),
	}
	require.NoError(t, store.Create(context.Background(), p))

	item := fake.items["layout1"]
	assert.Equal(t, "body", item["content"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "1700000000000", numberOf(item["created_at"]))
	assert.Equal(t, "1700000060500", numberOf(item["expires_at"]))
	assert.Equal(t, "1700000061", numberOf(item["ttl"]), "ttl must round up to whole seconds")
	assert.Equal(t, "4", numberOf(item["remaining_views"]))
}

func TestDynamoStoreOmitsOptionalAttributes(t *testing.T) {
	fake := newFakeDynamo()
	store := storage.NewDynamoStoreWithClient(fake, "pastes", discardLogger())

	require.NoError(t, store.Create(context.Background(), &models.Paste{ID: "plain01", Content: "x", CreatedAt: 5}))

	item := fake.items["plain01"]
	assert.NotContains(t, item, "ttl")
	assert.NotContains(t, item, "expires_at")
	assert.NotContains(t, item, "remaining_views")
}

func TestDynamoStoreBackendErrors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	store := storage.NewDynamoStoreWithClient(fake, "pastes", discardLogger())

	boom := errors.New("throttled")
	fake.failNext = boom
	_, err := store.FetchAndConsume(ctx, "anything", 0)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, storage.ErrNotFound)

	fake.failNext = boom
	assert.ErrorIs(t, store.Create(ctx, &models.Paste{ID: "err0001", Content: "x"}), boom)

	require.NoError(t, store.Ping(ctx))
	fake.pingErr = boom
	assert.ErrorIs(t, store.Ping(ctx), boom)
}
