package repository

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
)

// fakeDynamoDB understands just enough of the single-table layout:
// PK/SK keys, attribute_(not_)exists(PK) conditions and equality filters.
type fakeDynamoDB struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	scanErr  error
	pageSize int
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: make(map[string]map[string]types.AttributeValue)}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func keyOf(item map[string]types.AttributeValue) string {
	return str(item[attrPK]) + "|" + str(item[attrSK])
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamoDB) conditionHolds(condition *string, key string) bool {
	if condition == nil {
		return true
	}
	_, exists := f.items[key]
	switch aws.ToString(condition) {
	case "attribute_not_exists(PK)":
		return !exists
	case "attribute_exists(PK)":
		return exists
	}
	return true
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamoDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := keyOf(in.Item)
	if !f.conditionHolds(in.ConditionExpression, key) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := keyOf(in.Key)
	if !f.conditionHolds(in.ConditionExpression, key) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamoDB) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ti := range in.TransactItems {
		if ti.Put != nil && !f.conditionHolds(ti.Put.ConditionExpression, keyOf(ti.Put.Item)) {
			return nil, &types.TransactionCanceledException{Message: aws.String("transaction cancelled")}
		}
	}
	for _, ti := range in.TransactItems {
		if ti.Put != nil {
			f.items[keyOf(ti.Put.Item)] = ti.Put.Item
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// Scan evaluates "entity_type = :entity_type" optionally followed by
// "AND #attr = :value". Results are returned in pages of pageSize when set.
func (f *fakeDynamoDB) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return nil, f.scanErr
	}

	want := str(in.ExpressionAttributeValues[":entity_type"])
	attr := in.ExpressionAttributeNames["#attr"]
	value := str(in.ExpressionAttributeValues[":value"])

	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if len(in.ExclusiveStartKey) > 0 {
		last := keyOf(in.ExclusiveStartKey)
		for i, k := range keys {
			if k == last {
				start = i + 1
				break
			}
		}
	}

	out := &dynamodb.ScanOutput{}
	scanned := 0
	for _, k := range keys[start:] {
		if f.pageSize > 0 && scanned == f.pageSize {
			out.LastEvaluatedKey = map[string]types.AttributeValue{
				attrPK: f.items[keys[start+scanned-1]][attrPK],
				attrSK: f.items[keys[start+scanned-1]][attrSK],
			}
			break
		}
		scanned++
		item := f.items[k]
		if str(item[attrEntityType]) != want {
			continue
		}
		if attr != "" && str(item[attr]) != value {
			continue
		}
		out.Count++
		if in.Select != types.SelectCount {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}
