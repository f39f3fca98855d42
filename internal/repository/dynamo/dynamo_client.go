package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"otp-service/internal/config"
	"otp-service/internal/util"
)

// DynamoClient wraps the DynamoDB API client together with the table and
// index names the repository operates on.
type DynamoClient struct {
	API            *dynamodb.Client
	TableName      string
	PhoneIndexName string
}

// NewDynamoClient builds the DynamoDB client from the default AWS credential
// chain. A configured endpoint switches to static credentials for DynamoDB
// Local, which rejects anonymous requests but validates nothing.
func NewDynamoClient(cfg *config.Config, logger *zap.Logger) (*DynamoClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dynamoConfig := cfg.Dynamo

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(dynamoConfig.Region),
	}
	if dynamoConfig.Endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if dynamoConfig.Endpoint != "" {
			o.BaseEndpoint = aws.String(dynamoConfig.Endpoint)
		}
	})

	util.Info("DynamoDB client initialized",
		zap.String("table", dynamoConfig.TableName),
		zap.String("phone_index", dynamoConfig.PhoneIndexName),
		zap.String("region", dynamoConfig.Region))

	return &DynamoClient{
		API:            api,
		TableName:      dynamoConfig.TableName,
		PhoneIndexName: dynamoConfig.PhoneIndexName,
	}, nil
}

func (c *DynamoClient) HealthCheck(ctx context.Context) error {
	_, err := c.API.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(c.TableName),
	})
	if err != nil {
		return fmt.Errorf("dynamodb health check failed: %w", err)
	}
	return nil
}
