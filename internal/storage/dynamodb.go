package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

// DynamoArchive implements SessionArchive using AWS DynamoDB
type DynamoArchive struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoArchive creates a new DynamoDB session archive
func NewDynamoArchive(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoArchive, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	if cfg.Mode == DynamoModeLocal {
		if err := CreateArchiveTableIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Str("table", cfg.SessionTable).
		Msg("session archive initialized")

	return &DynamoArchive{client: client, config: cfg, logger: logger}, nil
}

// Archive writes a closed session once. A repeated write for the same
// agent and login time is ignored.
func (a *DynamoArchive) Archive(ctx context.Context, session types.ArchivedSession) error {
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("failed to marshal archived session: %w", err)
	}

	cond := expression.AttributeNotExists(expression.Name(archivePartitionKey))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = a.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(a.config.SessionTable),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	var condErr *dbtypes.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		a.logger.Debug().Str("agent_id", session.AgentID).Str("session_id", session.SessionID).Msg("session already archived")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	return nil
}

// History returns the agent's archived sessions, newest first
func (a *DynamoArchive) History(ctx context.Context, agentID string, limit int) ([]types.ArchivedSession, error) {
	if limit <= 0 {
		limit = 50
	}

	keyCond := expression.Key(archivePartitionKey).Equal(expression.Value(agentID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := a.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(a.config.SessionTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query archived sessions: %w", err)
	}

	var sessions []types.ArchivedSession
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &sessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archived sessions: %w", err)
	}
	return sessions, nil
}

// NewArchive creates the appropriate archive based on configuration
func NewArchive(ctx context.Context, logger zerolog.Logger) (SessionArchive, error) {
	cfg := LoadDynamoConfig()

	switch cfg.Mode {
	case DynamoModeLocal, DynamoModeAWS:
		return NewDynamoArchive(ctx, cfg, logger)
	default:
		logger.Info().Msg("session archive disabled (DYNAMO_MODE=none)")
		return NewNoopArchive(), nil
	}
}
