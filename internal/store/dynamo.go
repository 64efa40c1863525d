package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoStateStore persists actor state in a DynamoDB table keyed by
// entity_key.
type DynamoStateStore struct {
	client    *dynamodb.Client
	tableName string
}

type dynamoState struct {
	EntityKey string `dynamodbav:"entity_key"`
	State     string `dynamodbav:"state"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

func NewDynamoStateStore(client *dynamodb.Client, tableName string) *DynamoStateStore {
	return &DynamoStateStore{client: client, tableName: tableName}
}

func (s *DynamoStateStore) Persist(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	item := dynamoState{
		EntityKey: key,
		State:     string(data),
		UpdatedAt: time.Now().Format(time.RFC3339Nano),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put state: %w", err)
	}
	return nil
}

func (s *DynamoStateStore) Load(ctx context.Context, key string, out any) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"entity_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("failed to get state: %w", err)
	}
	if result.Item == nil {
		return false, nil
	}

	var item dynamoState
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return false, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(item.State), out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *DynamoStateStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"entity_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// Cleanup scans the table and deletes every item. Intended for the
// reset-all-state trigger, not hot paths.
func (s *DynamoStateStore) Cleanup(ctx context.Context) error {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:            aws.String(s.tableName),
		ProjectionExpression: aws.String("entity_key"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to scan state table: %w", err)
		}
		for _, item := range page.Items {
			keyAttr, ok := item["entity_key"]
			if !ok {
				continue
			}
			if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.tableName),
				Key:       map[string]types.AttributeValue{"entity_key": keyAttr},
			}); err != nil {
				return fmt.Errorf("failed to delete state item: %w", err)
			}
		}
	}
	return nil
}
