// Package dynamo is the DynamoDB store backend. All records share one table
// with string keys PK/SK and a global secondary index on GSI1PK/GSI1SK.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"budgetbook/internal/store"
)

const (
	AttrPK     = "PK"
	AttrSK     = "SK"
	AttrGSI1PK = "GSI1PK"
	AttrGSI1SK = "GSI1SK"

	DefaultIndexName = "GSI1"
)

// API is the subset of *dynamodb.Client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type Config struct {
	Table     string
	IndexName string
	Region    string
	// Endpoint overrides the service URL, e.g. for DynamoDB Local.
	Endpoint string
}

type Store struct {
	db    API
	table string
	index string
}

// New loads the default AWS configuration and returns a store for cfg.Table.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		return nil, errors.New("dynamo: table name is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Table, cfg.IndexName), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(db API, table, index string) *Store {
	if index == "" {
		index = DefaultIndexName
	}
	return &Store{db: db, table: table, index: index}
}

func (s *Store) Close() error { return nil }

func (s *Store) Get(ctx context.Context, key store.Key) (store.Item, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyAV(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return store.Item{}, fmt.Errorf("get %s/%s: %w", key.PK, key.SK, err)
	}
	if out.Item == nil {
		return store.Item{}, fmt.Errorf("get %s/%s: %w", key.PK, key.SK, store.ErrNotFound)
	}
	return fromAV(out.Item)
}

func (s *Store) Put(ctx context.Context, item store.Item) error {
	av, err := toAV(item)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", item.PK, item.SK, err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{
			"#pk": AttrPK,
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("put %s/%s: %w", item.PK, item.SK, store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", item.PK, item.SK, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, key store.Key, fields map[string]any) (store.Item, error) {
	names := map[string]string{"#pk": AttrPK}
	values := map[string]types.AttributeValue{}
	var set, remove []string

	// Sorted so the expression is stable across calls.
	attrs := make([]string, 0, len(fields))
	for k := range fields {
		if isKeyAttr(k) {
			continue
		}
		attrs = append(attrs, k)
	}
	sort.Strings(attrs)

	for i, k := range attrs {
		n := fmt.Sprintf("#a%d", i)
		names[n] = k
		if fields[k] == nil {
			remove = append(remove, n)
			continue
		}
		v, err := attributevalue.Marshal(fields[k])
		if err != nil {
			return store.Item{}, fmt.Errorf("update %s/%s: marshal %s: %w", key.PK, key.SK, k, err)
		}
		p := fmt.Sprintf(":v%d", i)
		values[p] = v
		set = append(set, n+" = "+p)
	}

	if len(set) == 0 && len(remove) == 0 {
		return s.Get(ctx, key)
	}

	var expr []string
	if len(set) > 0 {
		expr = append(expr, "SET "+strings.Join(set, ", "))
	}
	if len(remove) > 0 {
		expr = append(expr, "REMOVE "+strings.Join(remove, ", "))
	}

	in := &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.table),
		Key:                      keyAV(key),
		UpdateExpression:         aws.String(strings.Join(expr, " ")),
		ConditionExpression:      aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames: names,
		ReturnValues:             types.ReturnValueAllNew,
	}
	if len(values) > 0 {
		in.ExpressionAttributeValues = values
	}

	out, err := s.db.UpdateItem(ctx, in)
	if isConditionFailed(err) {
		return store.Item{}, fmt.Errorf("update %s/%s: %w", key.PK, key.SK, store.ErrNotFound)
	}
	if err != nil {
		return store.Item{}, fmt.Errorf("update %s/%s: %w", key.PK, key.SK, err)
	}
	return fromAV(out.Attributes)
}

func (s *Store) Delete(ctx context.Context, key store.Key) error {
	_, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 keyAV(key),
		ConditionExpression: aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{
			"#pk": AttrPK,
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("delete %s/%s: %w", key.PK, key.SK, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", key.PK, key.SK, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, pk, skPrefix string) ([]store.Item, error) {
	in := keyQuery(AttrPK, AttrSK, pk, skPrefix)
	in.TableName = aws.String(s.table)
	in.ConsistentRead = aws.Bool(true)
	return s.query(ctx, "query", in)
}

func (s *Store) QueryIndex(ctx context.Context, gsiPK, gsiSKPrefix string) ([]store.Item, error) {
	if gsiPK == "" {
		return []store.Item{}, nil
	}
	in := keyQuery(AttrGSI1PK, AttrGSI1SK, gsiPK, gsiSKPrefix)
	in.TableName = aws.String(s.table)
	in.IndexName = aws.String(s.index)
	return s.query(ctx, "query index", in)
}

func (s *Store) query(ctx context.Context, op string, in *dynamodb.QueryInput) ([]store.Item, error) {
	out := []store.Item{}
	for {
		page, err := s.db.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		items, err := fromAVList(page.Items)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, items...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
	store.SortItems(out)
	return out, nil
}

// Scan reads the whole table, filtering on the sort key prefix server-side.
func (s *Store) Scan(ctx context.Context, skPrefix string) ([]store.Item, error) {
	in := &dynamodb.ScanInput{
		TableName: aws.String(s.table),
	}
	if skPrefix != "" {
		in.FilterExpression = aws.String("begins_with(#sk, :prefix)")
		in.ExpressionAttributeNames = map[string]string{"#sk": AttrSK}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: skPrefix},
		}
	}

	out := []store.Item{}
	for {
		page, err := s.db.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		items, err := fromAVList(page.Items)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, items...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
	store.SortItems(out)
	return out, nil
}

func keyQuery(pkAttr, skAttr, pk, skPrefix string) *dynamodb.QueryInput {
	in := &dynamodb.QueryInput{
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": pkAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}
	if skPrefix != "" {
		in.KeyConditionExpression = aws.String("#pk = :pk AND begins_with(#sk, :prefix)")
		in.ExpressionAttributeNames["#sk"] = skAttr
		in.ExpressionAttributeValues[":prefix"] = &types.AttributeValueMemberS{Value: skPrefix}
	}
	return in
}

func keyAV(key store.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: key.PK},
		AttrSK: &types.AttributeValueMemberS{Value: key.SK},
	}
}

func isKeyAttr(name string) bool {
	switch name {
	case AttrPK, AttrSK, AttrGSI1PK, AttrGSI1SK:
		return true
	}
	return false
}

func toAV(item store.Item) (map[string]types.AttributeValue, error) {
	attrs := make(map[string]any, len(item.Attrs))
	for k, v := range item.Attrs {
		if isKeyAttr(k) {
			continue
		}
		attrs[k] = v
	}
	av, err := attributevalue.MarshalMap(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal attrs: %w", err)
	}
	av[AttrPK] = &types.AttributeValueMemberS{Value: item.PK}
	av[AttrSK] = &types.AttributeValueMemberS{Value: item.SK}
	// Index keys may not be empty strings; absent keys keep the item out of the index.
	if item.GSI1PK != "" {
		av[AttrGSI1PK] = &types.AttributeValueMemberS{Value: item.GSI1PK}
		av[AttrGSI1SK] = &types.AttributeValueMemberS{Value: item.GSI1SK}
	}
	return av, nil
}

func fromAV(av map[string]types.AttributeValue) (store.Item, error) {
	var attrs map[string]any
	if err := attributevalue.UnmarshalMap(av, &attrs); err != nil {
		return store.Item{}, fmt.Errorf("unmarshal item: %w", err)
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	it := store.Item{Attrs: attrs}
	it.PK, _ = attrs[AttrPK].(string)
	it.SK, _ = attrs[AttrSK].(string)
	it.GSI1PK, _ = attrs[AttrGSI1PK].(string)
	it.GSI1SK, _ = attrs[AttrGSI1SK].(string)
	for _, k := range []string{AttrPK, AttrSK, AttrGSI1PK, AttrGSI1SK} {
		delete(attrs, k)
	}
	return it, nil
}

func fromAVList(list []map[string]types.AttributeValue) ([]store.Item, error) {
	out := make([]store.Item, 0, len(list))
	for _, av := range list {
		it, err := fromAV(av)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
