package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/libris/libris/internal/models"
	"github.com/sirupsen/logrus"
)

// OTPSecretRepository keeps one TOTP secret per user under the user's partition.
type OTPSecretRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewOTPSecretRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *OTPSecretRepository {
	return &OTPSecretRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Create stores the secret. Secrets are never overwritten: a second call for
// the same user returns ErrAlreadyExists.
func (r *OTPSecretRepository) Create(ctx context.Context, secret models.OTPSecret) error {
	if secret.CreatedAt.IsZero() {
		secret.CreatedAt = time.Now().UTC()
	}

	item := map[string]types.AttributeValue{
		attrPK:       &types.AttributeValueMemberS{Value: "USER#" + secret.UserID},
		attrSK:       &types.AttributeValueMemberS{Value: skOTPSecret},
		"user_id":    &types.AttributeValueMemberS{Value: secret.UserID},
		"secret":     &types.AttributeValueMemberS{Value: secret.Secret},
		"created_at": &types.AttributeValueMemberS{Value: secret.CreatedAt.Format(time.RFC3339)},
	}

	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("otp secret for user %s: %w", secret.UserID, ErrAlreadyExists)
		}
		r.logger.WithError(err).Error("Failed to store OTP secret in DynamoDB")
		return fmt.Errorf("failed to store OTP secret: %w", err)
	}

	return nil
}

// Get returns the user's secret or nil when none has been created.
func (r *OTPSecretRepository) Get(ctx context.Context, userID string) (*models.OTPSecret, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey("USER#"+userID, skOTPSecret),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP secret: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var secret models.OTPSecret
	if err := attributevalue.UnmarshalMap(result.Item, &secret); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP secret: %w", err)
	}

	return &secret, nil
}
