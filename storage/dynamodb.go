package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/johnwmail/npaste/models"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Condition expressions used by DynamoStore.
const (
	condIDAbsent    = "attribute_not_exists(id)"
	condViewsEqual  = "remaining_views = :views"
	updateSetViews  = "SET remaining_views = :next"
	dynamoTTLColumn = "ttl"
)

// DynamoStore implements PasteStore using DynamoDB.
// The table needs a string hash key "id" and TTL enabled on "ttl".
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	logger    *slog.Logger
}

// NewDynamoStore creates a new DynamoDB storage backend. endpoint is
// optional and points the client at DynamoDB Local or another emulator.
func NewDynamoStore(ctx context.Context, tableName, region, endpoint string, logger *slog.Logger) (*DynamoStore, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	logger.Info("Using DynamoDB storage", "table", tableName, "region", cfg.Region)
	return NewDynamoStoreWithClient(client, tableName, logger), nil
}

// NewDynamoStoreWithClient wraps an existing DynamoDB client.
func NewDynamoStoreWithClient(client DynamoAPI, tableName string, logger *slog.Logger) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Create saves a paste unless the id is already taken.
func (d *DynamoStore) Create(ctx context.Context, paste *models.Paste) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                pasteToItem(paste),
		ConditionExpression: aws.String(condIDAbsent),
	})
	if isConditionFailed(err) {
		return ErrIDExists
	}
	return err
}

// FetchAndConsume reads a paste and applies view/expiry side effects.
func (d *DynamoStore) FetchAndConsume(ctx context.Context, id string, nowMs int64) (*models.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return consume(ctx, d, id, nowMs)
}

// Delete removes a paste from DynamoDB
func (d *DynamoStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return d.remove(ctx, id)
}

// Ping describes the table to prove credentials and reachability.
func (d *DynamoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	return err
}

// Close is a no-op for DynamoDB
func (d *DynamoStore) Close() error {
	return nil
}

func (d *DynamoStore) load(ctx context.Context, id string) (*models.Paste, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return itemToPaste(result.Item)
}

func (d *DynamoStore) remove(ctx context.Context, id string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       idKey(id),
	})
	return err
}

func (d *DynamoStore) removeIf(ctx context.Context, id string, views int) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 idKey(id),
		ConditionExpression: aws.String(condViewsEqual),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":views": numberAttr(int64(views)),
		},
	})
	if isConditionFailed(err) {
		return errConflict
	}
	return err
}

func (d *DynamoStore) decrementIf(ctx context.Context, id string, views int) error {
	// Only the counter is touched; content and the ttl attribute stay as created.
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 idKey(id),
		UpdateExpression:    aws.String(updateSetViews),
		ConditionExpression: aws.String(condViewsEqual),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":views": numberAttr(int64(views)),
			":next":  numberAttr(int64(views - 1)),
		},
	})
	if isConditionFailed(err) {
		return errConflict
	}
	return err
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return err != nil && errors.As(err, &ccf)
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func numberAttr(v int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

// pasteToItem converts a Paste model to a DynamoDB item
func pasteToItem(paste *models.Paste) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"id":         &types.AttributeValueMemberS{Value: paste.ID},
		"content":    &types.AttributeValueMemberS{Value: paste.Content},
		"created_at": numberAttr(paste.CreatedAt),
	}

	// DynamoDB TTL wants epoch seconds; round up so the sweep never runs
	// before the millisecond expiry.
	if paste.ExpiresAt != nil {
		item["expires_at"] = numberAttr(*paste.ExpiresAt)
		item[dynamoTTLColumn] = numberAttr((*paste.ExpiresAt + 999) / 1000)
	}

	if paste.RemainingViews != nil {
		item["remaining_views"] = numberAttr(int64(*paste.RemainingViews))
	}

	return item
}

// itemToPaste converts a DynamoDB item to a Paste model
func itemToPaste(item map[string]types.AttributeValue) (*models.Paste, error) {
	paste := &models.Paste{}

	if id, ok := item["id"].(*types.AttributeValueMemberS); ok {
		paste.ID = id.Value
	}

	if content, ok := item["content"].(*types.AttributeValueMemberS); ok {
		paste.Content = content.Value
	}

	if createdAt, ok := item["created_at"].(*types.AttributeValueMemberN); ok {
		ms, err := strconv.ParseInt(createdAt.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		paste.CreatedAt = ms
	}

	if expiresAt, ok := item["expires_at"].(*types.AttributeValueMemberN); ok {
		ms, err := strconv.ParseInt(expiresAt.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		paste.ExpiresAt = &ms
	}

	if views, ok := item["remaining_views"].(*types.AttributeValueMemberN); ok {
		n, err := strconv.Atoi(views.Value)
		if err != nil {
			return nil, fmt.Errorf("parse remaining_views: %w", err)
		}
		paste.RemainingViews = &n
	}

	return paste, nil
}
