package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/libris/libris/internal/models"
	"github.com/sirupsen/logrus"
)

// RecordRepository stores one entity type of the library schema.
// Items are keyed "<ENTITY>#<id>" / "METADATA" and tagged with entity_type.
type RecordRepository[T any, P models.RecordPtr[T]] struct {
	client     DynamoDBAPI
	tableName  string
	entityType string
	logger     *logrus.Logger
}

func NewRecordRepository[T any, P models.RecordPtr[T]](client DynamoDBAPI, tableName string, logger *logrus.Logger) *RecordRepository[T, P] {
	return &RecordRepository[T, P]{
		client:     client,
		tableName:  tableName,
		entityType: P(new(T)).EntityType(),
		logger:     logger,
	}
}

func (r *RecordRepository[T, P]) pk(id string) string {
	return r.entityType + "#" + id
}

func (r *RecordRepository[T, P]) marshal(rec P) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", r.entityType, err)
	}
	item[attrPK] = &types.AttributeValueMemberS{Value: r.pk(rec.GetID())}
	item[attrSK] = &types.AttributeValueMemberS{Value: skMetadata}
	item[attrEntityType] = &types.AttributeValueMemberS{Value: r.entityType}
	return item, nil
}

func (r *RecordRepository[T, P]) Create(ctx context.Context, rec P) error {
	if rec.GetID() == "" {
		rec.SetID(uuid.New().String())
	}
	rec.Touch(time.Now().UTC())

	item, err := r.marshal(rec)
	if err != nil {
		return err
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("%s %s: %w", r.entityType, rec.GetID(), ErrAlreadyExists)
		}
		r.logger.WithError(err).WithField("entity", r.entityType).Error("Failed to create record in DynamoDB")
		return fmt.Errorf("failed to create %s: %w", r.entityType, err)
	}

	return nil
}

// Get returns the record or nil when none exists.
func (r *RecordRepository[T, P]) Get(ctx context.Context, id string) (P, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(r.pk(id), skMetadata),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", r.entityType, err)
	}

	if result.Item == nil {
		return nil, nil
	}

	rec := P(new(T))
	if err := attributevalue.UnmarshalMap(result.Item, rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", r.entityType, err)
	}

	return rec, nil
}

// Update replaces an existing record; ErrNotFound when it does not exist.
func (r *RecordRepository[T, P]) Update(ctx context.Context, rec P) error {
	rec.Touch(time.Now().UTC())

	item, err := r.marshal(rec)
	if err != nil {
		return err
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("%s %s: %w", r.entityType, rec.GetID(), ErrNotFound)
		}
		r.logger.WithError(err).WithField("entity", r.entityType).Error("Failed to update record in DynamoDB")
		return fmt.Errorf("failed to update %s: %w", r.entityType, err)
	}

	return nil
}

func (r *RecordRepository[T, P]) Delete(ctx context.Context, id string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(r.pk(id), skMetadata),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("%s %s: %w", r.entityType, id, ErrNotFound)
		}
		return fmt.Errorf("failed to delete %s: %w", r.entityType, err)
	}

	return nil
}

func (r *RecordRepository[T, P]) List(ctx context.Context) ([]P, error) {
	return r.scan(ctx, "", "")
}

// ListBy returns records whose attribute equals value, e.g. books by library_id.
func (r *RecordRepository[T, P]) ListBy(ctx context.Context, attribute, value string) ([]P, error) {
	return r.scan(ctx, attribute, value)
}

func (r *RecordRepository[T, P]) scan(ctx context.Context, attribute, value string) ([]P, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("entity_type = :entity_type"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":entity_type": &types.AttributeValueMemberS{Value: r.entityType},
		},
	}
	if attribute != "" {
		input.FilterExpression = aws.String("entity_type = :entity_type AND #attr = :value")
		input.ExpressionAttributeNames = map[string]string{"#attr": attribute}
		input.ExpressionAttributeValues[":value"] = &types.AttributeValueMemberS{Value: value}
	}

	items, err := scanAll(ctx, r.client, input)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.entityType, err)
	}

	records := make([]P, 0, len(items))
	for _, item := range items {
		rec := P(new(T))
		if err := attributevalue.UnmarshalMap(item, rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", r.entityType, err)
		}
		records = append(records, rec)
	}

	return records, nil
}

func (r *RecordRepository[T, P]) Count(ctx context.Context) (int, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		Select:           types.SelectCount,
		FilterExpression: aws.String("entity_type = :entity_type"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":entity_type": &types.AttributeValueMemberS{Value: r.entityType},
		},
	}

	total := 0
	for {
		out, err := r.client.Scan(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("failed to count %s: %w", r.entityType, err)
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
