package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"otp-service/internal/model"
	"otp-service/internal/repository"
	"otp-service/internal/util"
)

// OTPRepository implements repository.OTPStore on a DynamoDB table keyed by
// identifier, with a global secondary index on the phoneNumber attribute for
// phone-channel lookups.
type OTPRepository struct {
	client *DynamoClient
}

func NewOTPRepository(client *DynamoClient, logger *zap.Logger) *OTPRepository {
	return &OTPRepository{
		client: client,
	}
}

// otpItem is the persisted shape. phoneNumber is present only on phone
// records so the GSI holds nothing for email identifiers.
type otpItem struct {
	Identifier  string `dynamodbav:"identifier"`
	Channel     string `dynamodbav:"channel"`
	Code        string `dynamodbav:"code"`
	IssuedAt    int64  `dynamodbav:"issuedAt"`
	ExpiresAt   int64  `dynamodbav:"expiresAt"`
	Attempts    int    `dynamodbav:"attempts"`
	PhoneNumber string `dynamodbav:"phoneNumber,omitempty"`
}

func (r *OTPRepository) Put(ctx context.Context, rec *model.OTPRecord) error {
	item, err := attributevalue.MarshalMap(otpItem{
		Identifier:  rec.Identifier,
		Channel:     string(rec.Channel),
		Code:        rec.Code,
		IssuedAt:    rec.IssuedAt,
		ExpiresAt:   rec.ExpiresAt,
		Attempts:    rec.Attempts,
		PhoneNumber: rec.PhoneNumber(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal OTP record: %w", err)
	}

	_, err = r.client.API.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.client.TableName),
		Item:      item,
	})
	if err != nil {
		util.Error("Failed to put OTP record in dynamodb",
			zap.String("channel", string(rec.Channel)),
			zap.Error(err))
		return fmt.Errorf("failed to put OTP record: %w", err)
	}

	return nil
}

func (r *OTPRepository) GetByIdentifier(ctx context.Context, identifier string) (*model.OTPRecord, error) {
	out, err := r.client.API.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.client.TableName),
		Key:       identifierKey(identifier),
	})
	if err != nil {
		util.Error("Failed to read OTP record from dynamodb", zap.Error(err))
		return nil, fmt.Errorf("failed to read OTP record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, repository.ErrNotFound
	}

	return unmarshalRecord(out.Item)
}

// GetByPhone queries the phone GSI and takes the first match only. The index
// is expected to hold at most one live record per number because generation
// overwrites; cross-identifier collisions are not checked.
func (r *OTPRepository) GetByPhone(ctx context.Context, phoneNumber string) (*model.OTPRecord, error) {
	out, err := r.client.API.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.client.TableName),
		IndexName:              aws.String(r.client.PhoneIndexName),
		KeyConditionExpression: aws.String("phoneNumber = :phoneNumber"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":phoneNumber": &types.AttributeValueMemberS{Value: phoneNumber},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		util.Error("Failed to query phone index in dynamodb", zap.Error(err))
		return nil, fmt.Errorf("failed to query phone index: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, repository.ErrNotFound
	}

	return unmarshalRecord(out.Items[0])
}

// IncrementAttempts uses an ADD update expression, which DynamoDB applies
// atomically, and returns the post-increment count from UPDATED_NEW. The
// condition keeps the increment from resurrecting a concurrently deleted
// record.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, identifier string) (int, error) {
	out, err := r.client.API.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.client.TableName),
		Key:                 identifierKey(identifier),
		UpdateExpression:    aws.String("ADD attempts :inc"),
		ConditionExpression: aws.String("attribute_exists(identifier)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inc": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, repository.ErrNotFound
		}
		util.Error("Failed to increment OTP attempts in dynamodb", zap.Error(err))
		return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}

	attr, ok := out.Attributes["attempts"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("unexpected attempts attribute in update response")
	}
	n, err := strconv.Atoi(attr.Value)
	if err != nil {
		return 0, fmt.Errorf("invalid attempts value in update response: %w", err)
	}

	return n, nil
}

func (r *OTPRepository) Delete(ctx context.Context, identifier string) error {
	_, err := r.client.API.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.client.TableName),
		Key:       identifierKey(identifier),
	})
	if err != nil {
		util.Error("Failed to delete OTP record from dynamodb", zap.Error(err))
		return fmt.Errorf("failed to delete OTP record: %w", err)
	}
	return nil
}

func (r *OTPRepository) ScanExpired(ctx context.Context, now int64) ([]string, error) {
	var expired []string
	var startKey map[string]types.AttributeValue

	for {
		out, err := r.client.API.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(r.client.TableName),
			FilterExpression:     aws.String("expiresAt < :now"),
			ProjectionExpression: aws.String("identifier"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			util.Error("Failed to scan for expired OTP records in dynamodb", zap.Error(err))
			return nil, fmt.Errorf("failed to scan expired OTP records: %w", err)
		}

		for _, item := range out.Items {
			if attr, ok := item["identifier"].(*types.AttributeValueMemberS); ok {
				expired = append(expired, attr.Value)
			}
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return expired, nil
}

func (r *OTPRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

func identifierKey(identifier string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"identifier": &types.AttributeValueMemberS{Value: identifier},
	}
}

func unmarshalRecord(item map[string]types.AttributeValue) (*model.OTPRecord, error) {
	var it otpItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP record: %w", err)
	}

	return &model.OTPRecord{
		Identifier: it.Identifier,
		Channel:    model.Channel(it.Channel),
		Code:       it.Code,
		IssuedAt:   it.IssuedAt,
		ExpiresAt:  it.ExpiresAt,
		Attempts:   it.Attempts,
	}, nil
}
