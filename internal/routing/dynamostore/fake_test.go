package dynamostore

import (
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

type item = map[string]*dynamodb.AttributeValue

// fakeDynamo is an in-memory DynamoDB that understands exactly the
// conditional writes this package issues.
type fakeDynamo struct {
	dynamodbiface.DynamoDBAPI

	mu     sync.Mutex
	tables map[string]map[string]item
	err    error
	puts   []*dynamodb.PutItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: make(map[string]map[string]item)}
}

func keyOf(k item) string {
	for _, v := range k {
		return aws.StringValue(v.S)
	}
	return ""
}

func keyAttr(table string) string {
	if table == "prefs" {
		return "ContactId"
	}
	return "id"
}

func numAttr(it item, name string) int64 {
	v, ok := it[name]
	if !ok || v.N == nil {
		return 0
	}
	n, _ := strconv.ParseInt(*v.N, 10, 64)
	return n
}

func conditionFailedErr() error {
	return awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
}

func (f *fakeDynamo) table(name string) map[string]item {
	t, ok := f.tables[name]
	if !ok {
		t = make(map[string]item)
		f.tables[name] = t
	}
	return t
}

func (f *fakeDynamo) GetItemWithContext(_ aws.Context, in *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	it := f.table(aws.StringValue(in.TableName))[keyOf(in.Key)]
	return &dynamodb.GetItemOutput{Item: it}, nil
}

func (f *fakeDynamo) PutItemWithContext(_ aws.Context, in *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.puts = append(f.puts, in)

	name := aws.StringValue(in.TableName)
	t := f.table(name)
	key := aws.StringValue(in.Item[keyAttr(name)].S)

	if cond := aws.StringValue(in.ConditionExpression); cond != "" {
		if !strings.Contains(cond, "attribute_not_exists") {
			return nil, errors.New("fake: unsupported condition " + cond)
		}
		if existing, ok := t[key]; ok {
			now := numAttr(in.ExpressionAttributeValues, ":now")
			if numAttr(existing, "expiration") > now {
				return nil, conditionFailedErr()
			}
		}
	}
	t[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItemWithContext(_ aws.Context, in *dynamodb.UpdateItemInput, _ ...request.Option) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := f.table(aws.StringValue(in.TableName))
	key := keyOf(in.Key)
	existing, ok := t[key]
	vals := in.ExpressionAttributeValues
	if !ok || numAttr(existing, "expiration") <= numAttr(vals, ":now") {
		return nil, conditionFailedErr()
	}
	updated := make(item, len(existing))
	for k, v := range existing {
		updated[k] = v
	}
	updated["status"] = vals[":s"]
	updated["channel"] = vals[":c"]
	updated["dispatch_id"] = vals[":d"]
	updated["error"] = vals[":e"]
	updated["updated_at"] = vals[":u"]
	t[key] = updated
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItemWithContext(_ aws.Context, in *dynamodb.DeleteItemInput, _ ...request.Option) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := f.table(aws.StringValue(in.TableName))
	key := keyOf(in.Key)
	if in.ConditionExpression != nil {
		existing, ok := t[key]
		if !ok || aws.StringValue(existing["status"].S) != aws.StringValue(in.ExpressionAttributeValues[":s"].S) {
			return nil, conditionFailedErr()
		}
	}
	delete(t, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
