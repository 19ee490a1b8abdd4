package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

// Archive table key schema: one partition per agent, sessions sorted by login time
const (
	archivePartitionKey = "AgentID"
	archiveSortKey      = "LoginTime"
)

// CreateArchiveTableIfNotExist creates the session archive table for local development
func CreateArchiveTableIfNotExist(ctx context.Context, client *dynamodb.Client, config DynamoConfig, logger zerolog.Logger) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(config.SessionTable),
	})
	if err == nil {
		logger.Info().Str("table", config.SessionTable).Msg("table already exists")
		return nil
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(config.SessionTable),
		KeySchema: []dbtypes.KeySchemaElement{
			{AttributeName: aws.String(archivePartitionKey), KeyType: dbtypes.KeyTypeHash},
			{AttributeName: aws.String(archiveSortKey), KeyType: dbtypes.KeyTypeRange},
		},
		AttributeDefinitions: []dbtypes.AttributeDefinition{
			{AttributeName: aws.String(archivePartitionKey), AttributeType: dbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String(archiveSortKey), AttributeType: dbtypes.ScalarAttributeTypeS},
		},
		BillingMode: dbtypes.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", config.SessionTable, err)
	}
	logger.Info().Str("table", config.SessionTable).Msg("table created")
	return nil
}
