// Package dynamostore provides a DynamoDB implementation of the routing
// preference store and idempotency guard. It reads and writes the table
// layout used by the original serverless deployment, so existing contact
// and idempotency tables can be pointed at directly.
package dynamostore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/pager/internal/alert"
	"github.com/linnemanlabs/pager/internal/awsx"
	"github.com/linnemanlabs/pager/internal/routing"
)

var tracer = otel.Tracer("github.com/linnemanlabs/pager/internal/routing/dynamostore")

// unset is written for a channel without a destination.
const unset = "null"

// prefItem is one row of the contact preference table.
type prefItem struct {
	ContactID        string `dynamodbav:"ContactId"`
	HighPrio         string `dynamodbav:"HighPrio"`
	MediumPrio       string `dynamodbav:"MediumPrio"`
	LowPrio          string `dynamodbav:"LowPrio"`
	CallDestination  string `dynamodbav:"CallDestination"`
	SMSDestination   string `dynamodbav:"SMSDestination"`
	EmailDestination string `dynamodbav:"EmailDestination"`
	UpdatedAt        int64  `dynamodbav:"UpdatedAt,omitempty"`
}

// recordItem is one row of the idempotency table. expiration is the
// table's TTL attribute in epoch seconds.
type recordItem struct {
	ID         string `dynamodbav:"id"`
	Status     string `dynamodbav:"status"`
	Channel    string `dynamodbav:"channel,omitempty"`
	DispatchID string `dynamodbav:"dispatch_id,omitempty"`
	Error      string `dynamodbav:"error,omitempty"`
	CreatedAt  int64  `dynamodbav:"created_at"`
	UpdatedAt  int64  `dynamodbav:"updated_at"`
	Expiration int64  `dynamodbav:"expiration"`
}

// Store talks to two tables: contact preferences keyed by ContactId and
// idempotency records keyed by id.
type Store struct {
	db         dynamodbiface.DynamoDBAPI
	prefTable  string
	claimTable string
	now        func() time.Time
}

// New returns a Store. Both table names are required.
func New(db dynamodbiface.DynamoDBAPI, prefTable, claimTable string) *Store {
	if db == nil {
		panic(xerrors.New("dynamodb client is required"))
	}
	if prefTable == "" || claimTable == "" {
		panic(xerrors.New("dynamodb table names are required"))
	}
	return &Store{db: db, prefTable: prefTable, claimTable: claimTable, now: time.Now}
}

func (s *Store) startSpan(ctx context.Context, name, table string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("aws.dynamodb.table_names", table),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func conditionFailed(err error) bool {
	return awsx.ErrorCode(err) == dynamodb.ErrCodeConditionalCheckFailedException
}

// Resolve reads a contact's preference with a strongly consistent read.
func (s *Store) Resolve(ctx context.Context, contactID string) (*routing.Preference, bool, error) {
	ctx, span := s.startSpan(ctx, "dynamostore.Resolve", s.prefTable)
	defer span.End()

	out, err := s.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.prefTable),
		Key:            map[string]*dynamodb.AttributeValue{"ContactId": {S: aws.String(contactID)}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("get preference: %w", err))
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	var it prefItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &it); err != nil {
		return nil, false, fail(span, fmt.Errorf("decode preference: %w", err))
	}
	return it.preference(), true, nil
}

func (it *prefItem) preference() *routing.Preference {
	p := &routing.Preference{
		ContactID: it.ContactID,
		Channels: map[alert.Priority]alert.Channel{
			alert.PriorityHigh:   alert.Channel(it.HighPrio),
			alert.PriorityMedium: alert.Channel(it.MediumPrio),
			alert.PriorityLow:    alert.Channel(it.LowPrio),
		},
		Destinations: map[alert.Channel]string{
			alert.ChannelCall:  fromStored(it.CallDestination),
			alert.ChannelSMS:   fromStored(it.SMSDestination),
			alert.ChannelEmail: fromStored(it.EmailDestination),
		},
	}
	if it.UpdatedAt > 0 {
		p.UpdatedAt = time.Unix(it.UpdatedAt, 0).UTC()
	}
	return p
}

func fromStored(v string) string {
	if strings.TrimSpace(v) == unset {
		return ""
	}
	return v
}

func toStored(v string) string {
	if strings.TrimSpace(v) == "" {
		return unset
	}
	return v
}

// Put writes a contact's preference, replacing any existing item.
func (s *Store) Put(ctx context.Context, p *routing.Preference) error {
	ctx, span := s.startSpan(ctx, "dynamostore.Put", s.prefTable)
	defer span.End()

	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	item, err := dynamodbattribute.MarshalMap(prefItem{
		ContactID:        p.ContactID,
		HighPrio:         string(p.Channels[alert.PriorityHigh]),
		MediumPrio:       string(p.Channels[alert.PriorityMedium]),
		LowPrio:          string(p.Channels[alert.PriorityLow]),
		CallDestination:  toStored(p.Destinations[alert.ChannelCall]),
		SMSDestination:   toStored(p.Destinations[alert.ChannelSMS]),
		EmailDestination: toStored(p.Destinations[alert.ChannelEmail]),
		UpdatedAt:        updated.Unix(),
	})
	if err != nil {
		return fail(span, fmt.Errorf("encode preference: %w", err))
	}

	if _, err := s.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.prefTable),
		Item:      item,
	}); err != nil {
		return fail(span, fmt.Errorf("put preference: %w", err))
	}
	return nil
}

// Delete removes a contact's preference.
func (s *Store) Delete(ctx context.Context, contactID string) error {
	ctx, span := s.startSpan(ctx, "dynamostore.Delete", s.prefTable)
	defer span.End()

	if _, err := s.db.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.prefTable),
		Key:       map[string]*dynamodb.AttributeValue{"ContactId": {S: aws.String(contactID)}},
	}); err != nil {
		return fail(span, fmt.Errorf("delete preference: %w", err))
	}
	return nil
}

// Claim is a conditional PutItem: it succeeds when no item exists for the
// id or the existing item's expiration has passed. TTL deletion in DynamoDB
// lags, so the expiration check cannot be left to the table.
func (s *Store) Claim(ctx context.Context, rec *routing.Record) (bool, error) {
	ctx, span := s.startSpan(ctx, "dynamostore.Claim", s.claimTable)
	defer span.End()

	item, err := dynamodbattribute.MarshalMap(recordItem{
		ID:         rec.MessageID,
		Status:     string(rec.Status),
		CreatedAt:  rec.CreatedAt.UnixMilli(),
		UpdatedAt:  rec.UpdatedAt.UnixMilli(),
		Expiration: rec.ExpiresAt.Unix(),
	})
	if err != nil {
		return false, fail(span, fmt.Errorf("encode record: %w", err))
	}

	_, err = s.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.claimTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#id) OR #x <= :now"),
		ExpressionAttributeNames: map[string]*string{
			"#id": aws.String("id"),
			"#x":  aws.String("expiration"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":now": {N: aws.String(fmt.Sprint(rec.CreatedAt.Unix()))},
		},
	})
	if conditionFailed(err) {
		span.SetAttributes(attribute.Bool("pager.claimed", false))
		return false, nil
	}
	if err != nil {
		return false, fail(span, fmt.Errorf("claim %s: %w", rec.MessageID, err))
	}
	span.SetAttributes(attribute.Bool("pager.claimed", true))
	return true, nil
}

// Complete records the outcome on a live claim; expiration is not touched.
func (s *Store) Complete(ctx context.Context, rec *routing.Record) error {
	ctx, span := s.startSpan(ctx, "dynamostore.Complete", s.claimTable)
	defer span.End()

	_, err := s.db.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.claimTable),
		Key:                 map[string]*dynamodb.AttributeValue{"id": {S: aws.String(rec.MessageID)}},
		ConditionExpression: aws.String("attribute_exists(#id) AND #x > :now"),
		UpdateExpression:    aws.String("SET #s = :s, channel = :c, dispatch_id = :d, #e = :e, updated_at = :u"),
		ExpressionAttributeNames: map[string]*string{
			"#id": aws.String("id"),
			"#x":  aws.String("expiration"),
			"#s":  aws.String("status"),
			"#e":  aws.String("error"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":s":   {S: aws.String(string(rec.Status))},
			":c":   {S: aws.String(string(rec.Channel))},
			":d":   {S: aws.String(rec.DispatchID)},
			":e":   {S: aws.String(rec.Error)},
			":u":   {N: aws.String(fmt.Sprint(rec.UpdatedAt.UnixMilli()))},
			":now": {N: aws.String(fmt.Sprint(rec.UpdatedAt.Unix()))},
		},
	})
	if conditionFailed(err) {
		return fail(span, fmt.Errorf("complete %s: no live record", rec.MessageID))
	}
	if err != nil {
		return fail(span, fmt.Errorf("complete %s: %w", rec.MessageID, err))
	}
	return nil
}

// Release deletes the record only while it is still in progress.
func (s *Store) Release(ctx context.Context, messageID string) error {
	ctx, span := s.startSpan(ctx, "dynamostore.Release", s.claimTable)
	defer span.End()

	_, err := s.db.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.claimTable),
		Key:                      map[string]*dynamodb.AttributeValue{"id": {S: aws.String(messageID)}},
		ConditionExpression:      aws.String("#s = :s"),
		ExpressionAttributeNames: map[string]*string{"#s": aws.String("status")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":s": {S: aws.String(string(routing.ClaimInProgress))},
		},
	})
	if err != nil && !conditionFailed(err) {
		return fail(span, fmt.Errorf("release %s: %w", messageID, err))
	}
	return nil
}

// Get returns the live record for a message id.
func (s *Store) Get(ctx context.Context, messageID string) (*routing.Record, bool, error) {
	ctx, span := s.startSpan(ctx, "dynamostore.Get", s.claimTable)
	defer span.End()

	out, err := s.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.claimTable),
		Key:            map[string]*dynamodb.AttributeValue{"id": {S: aws.String(messageID)}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("get record: %w", err))
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	var it recordItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &it); err != nil {
		return nil, false, fail(span, fmt.Errorf("decode record: %w", err))
	}
	r := &routing.Record{
		MessageID:  it.ID,
		Status:     routing.ClaimStatus(it.Status),
		Channel:    alert.Channel(it.Channel),
		DispatchID: it.DispatchID,
		Error:      it.Error,
		CreatedAt:  time.UnixMilli(it.CreatedAt).UTC(),
		UpdatedAt:  time.UnixMilli(it.UpdatedAt).UTC(),
		ExpiresAt:  time.Unix(it.Expiration, 0).UTC(),
	}
	if !r.Live(s.now()) {
		return nil, false, nil
	}
	return r, true, nil
}
