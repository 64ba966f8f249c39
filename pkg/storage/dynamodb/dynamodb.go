// Package dynamodb provides DynamoDB-backed session storage using a single
// table keyed by PK = USER#<user>, SK = CHAT#<chat>.
package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/storage"
)

const (
	pkPrefix = "USER#"
	skPrefix = "CHAT#"
)

// API is the subset of the DynamoDB client used by Driver.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Driver implements storage.Driver on a DynamoDB table.
type Driver struct {
	api       API
	tableName string
}

// NewDriver creates a Driver over api and tableName.
func NewDriver(api API, tableName string) (*Driver, error) {
	if api == nil {
		return nil, errors.New("dynamodb: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamodb: table name must not be empty")
	}
	return &Driver{api: api, tableName: tableName}, nil
}

func primaryKey(key chat.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefix + key.UserID},
		"SK": &types.AttributeValueMemberS{Value: skPrefix + key.ChatID},
	}
}

// GetSession returns the session for key.
func (d *Driver) GetSession(ctx context.Context, key chat.Key) (*chat.Session, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            primaryKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: get session %s: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, storage.NotFoundError{Key: key}
	}

	s, err := itemToSession(out.Item)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: decode session %s: %w", key, err)
	}
	return s, nil
}

// PutSession writes or replaces s.
func (d *Driver) PutSession(ctx context.Context, s *chat.Session) error {
	if s == nil {
		return errors.New("dynamodb: cannot store nil session")
	}
	if !s.Key().Valid() {
		return errors.New("dynamodb: session has no user or chat id")
	}

	item, err := sessionItem(s)
	if err != nil {
		return err
	}

	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb: put session %s: %w", s.Key(), err)
	}
	return nil
}

// ListSessions queries every CHAT# item under the user's partition.
func (d *Driver) ListSessions(ctx context.Context, userID string) ([]*chat.Session, error) {
	out := make([]*chat.Session, 0)

	var start map[string]types.AttributeValue
	for {
		page, err := d.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: pkPrefix + userID},
				":prefix": &types.AttributeValueMemberS{Value: skPrefix},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb: list sessions: %w", err)
		}

		for _, item := range page.Items {
			s, err := itemToSession(item)
			if err != nil {
				return nil, fmt.Errorf("dynamodb: decode session: %w", err)
			}
			out = append(out, s)
		}

		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		start = page.LastEvaluatedKey
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// DeleteSession removes the session item.
func (d *Driver) DeleteSession(ctx context.Context, key chat.Key) error {
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       primaryKey(key),
	})
	if err != nil {
		return fmt.Errorf("dynamodb: delete session %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the AWS client holds no per-driver resources.
func (d *Driver) Close() error {
	return nil
}

func sessionItem(s *chat.Session) (map[string]types.AttributeValue, error) {
	failed := s.FailedJobs
	if failed == nil {
		failed = []chat.FailedJob{}
	}
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: encode failed jobs: %w", err)
	}

	item := primaryKey(s.Key())
	item["userId"] = &types.AttributeValueMemberS{Value: s.UserID}
	item["chatId"] = &types.AttributeValueMemberS{Value: s.ChatID}
	item["title"] = &types.AttributeValueMemberS{Value: s.Title}
	item["status"] = &types.AttributeValueMemberS{Value: string(s.Status)}
	item["pendingPersistence"] = &types.AttributeValueMemberBOOL{Value: s.PendingPersistence}
	item["lastActivity"] = &types.AttributeValueMemberS{Value: s.LastActivity.UTC().Format(time.RFC3339Nano)}
	item["turnCount"] = &types.AttributeValueMemberN{Value: strconv.Itoa(s.TurnCount)}
	item["failedJobs"] = &types.AttributeValueMemberS{Value: string(failedJSON)}
	return item, nil
}

func itemToSession(item map[string]types.AttributeValue) (*chat.Session, error) {
	var (
		s   chat.Session
		err error
	)

	if s.UserID, err = strAttr(item, "userId"); err != nil {
		return nil, err
	}
	if s.ChatID, err = strAttr(item, "chatId"); err != nil {
		return nil, err
	}
	s.Title, _ = strAttr(item, "title")

	status, err := strAttr(item, "status")
	if err != nil {
		return nil, err
	}
	s.Status = chat.Status(status)

	if v, ok := item["pendingPersistence"].(*types.AttributeValueMemberBOOL); ok {
		s.PendingPersistence = v.Value
	}

	if ts, err := strAttr(item, "lastActivity"); err == nil {
		if s.LastActivity, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse lastActivity: %w", err)
		}
	}

	if n, ok := item["turnCount"].(*types.AttributeValueMemberN); ok {
		if s.TurnCount, err = strconv.Atoi(n.Value); err != nil {
			return nil, fmt.Errorf("parse turnCount: %w", err)
		}
	}

	if raw, _ := strAttr(item, "failedJobs"); raw != "" && raw != "[]" {
		if err := json.Unmarshal([]byte(raw), &s.FailedJobs); err != nil {
			return nil, fmt.Errorf("parse failedJobs: %w", err)
		}
	}

	return &s, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

var _ storage.Driver = (*Driver)(nil)
