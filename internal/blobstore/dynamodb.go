package blobstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	logx "digestfanout/pkg/logx"
)

// dynamoAPI is the subset of the DynamoDB client used by the driver.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	dynamodb.ScanAPIClient
}

// dynamoItem is one document. The partition key "pk" is "<namespace>/<name>".
type dynamoItem struct {
	PK        string `dynamodbav:"pk"`
	Namespace string `dynamodbav:"ns"`
	Name      string `dynamodbav:"doc_name"`
	Body      []byte `dynamodbav:"body"`
	UpdatedAt int64  `dynamodbav:"updated_at"`
}

type dynamoStore struct {
	db    dynamoAPI
	table string
	ns    string
	log   logx.Logger
}

func openDynamo(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	table := strings.TrimSpace(cfg.DynamoTable)
	if table == "" {
		return nil, errors.New("storage.dynamo_table is required for dynamodb driver")
	}
	region := strings.TrimSpace(cfg.DynamoRegion)
	if region == "" {
		region = "us-east-2"
	}
	ac, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimSpace(cfg.DynamoEndpoint)
	client := dynamodb.NewFromConfig(ac, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	ns := strings.TrimSpace(cfg.Namespace)
	if ns == "" {
		ns = "fanoutd"
	}
	return &dynamoStore{db: client, table: table, ns: ns, log: log}, nil
}

func (s *dynamoStore) pk(name string) string { return s.ns + "/" + name }

func (s *dynamoStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: s.pk(id)},
	}
}

func (s *dynamoStore) List(ctx context.Context, q Query) ([]Ref, error) {
	if q.Name != "" {
		out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:            aws.String(s.table),
			Key:                  s.key(q.Name),
			ProjectionExpression: aws.String("pk"),
		})
		if err != nil {
			return nil, err
		}
		if out.Item == nil {
			return nil, nil
		}
		return []Ref{{ID: q.Name, Name: q.Name}}, nil
	}

	prefix := s.pk(q.Prefix)
	p := dynamodb.NewScanPaginator(s.db, &dynamodb.ScanInput{
		TableName:            aws.String(s.table),
		FilterExpression:     aws.String("begins_with(pk, :p)"),
		ProjectionExpression: aws.String("doc_name"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: prefix},
		},
	})
	var refs []Ref
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var items []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			refs = append(refs, Ref{ID: it.Name, Name: it.Name})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func (s *dynamoStore) Get(ctx context.Context, id string) ([]byte, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var it dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, err
	}
	return it.Body, nil
}

// Create uses a conditional put, so concurrent creators of the same name see
// exactly one success.
func (s *dynamoStore) Create(ctx context.Context, name string, body []byte) (Ref, error) {
	if err := validName(name); err != nil {
		return Ref{}, err
	}
	if err := s.put(ctx, name, body, "attribute_not_exists(pk)"); err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return Ref{}, ErrExists
		}
		return Ref{}, err
	}
	return Ref{ID: name, Name: name}, nil
}

func (s *dynamoStore) Update(ctx context.Context, id string, body []byte) error {
	if err := s.put(ctx, id, body, "attribute_exists(pk)"); err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *dynamoStore) Append(ctx context.Context, name string, data []byte) error {
	// DynamoDB has no native byte append. Concurrent appenders can lose a
	// line; callers serialize through the lease lock.
	cur, err := s.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		_, err = s.Create(ctx, name, data)
		return err
	}
	if err != nil {
		return err
	}
	body := append(cur, data...)
	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              s.key(name),
		UpdateExpression: aws.String("SET body = :b, updated_at = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":b": &types.AttributeValueMemberB{Value: body},
			":u": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().UnixMilli())},
		},
	})
	return err
}

func (s *dynamoStore) put(ctx context.Context, name string, body []byte, cond string) error {
	item, err := attributevalue.MarshalMap(dynamoItem{
		PK:        s.pk(name),
		Namespace: s.ns,
		Name:      name,
		Body:      body,
		UpdatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String(cond),
	})
	return err
}

func (s *dynamoStore) Close() error { return nil }
