// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// Every Lambda in the project needs some subset of: AWS config, recording
// storage, the ticket store, SSM parameter fetch, and startup logging. This
// package extracts the common init patterns so each Lambda's init() is a
// short composition of helpers.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/logging"
	"github.com/fpang/incident-tickets/internal/storage"
	"github.com/fpang/incident-tickets/internal/store"
)

// Environment variables read at cold start.
const (
	EnvStorageBackend = "STORAGE_BACKEND"
	EnvBucket         = "RECORDINGS_BUCKET_NAME"
	EnvMinioEndpoint  = "MINIO_ENDPOINT"
	EnvMinioAccessKey = "MINIO_ACCESS_KEY"
	EnvMinioSecretKey = "MINIO_SECRET_KEY"
	EnvMinioUseSSL    = "MINIO_USE_SSL"

	EnvTicketStore = "TICKET_STORE"
	EnvClusterARN  = "DB_CLUSTER_ARN"
	EnvSecretARN   = "DB_SECRET_ARN"
	EnvDatabase    = "DB_NAME"
	EnvAutoMigrate = "DB_AUTO_MIGRATE"
	EnvTable       = "TICKETS_TABLE_NAME"
)

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitStorage returns the recording storage gateway selected by
// STORAGE_BACKEND: "s3" (default) or "minio". Fatals on a bad backend.
func InitStorage(cfg aws.Config) storage.Gateway {
	bucket := logging.EnvOrDefault(EnvBucket, storage.DefaultBucket)

	switch backend := logging.EnvOrDefault(EnvStorageBackend, "s3"); backend {
	case "s3":
		client := s3.NewFromConfig(cfg)
		return storage.NewS3Gateway(client, s3.NewPresignClient(client), bucket)
	case "minio":
		endpoint := os.Getenv(EnvMinioEndpoint)
		if endpoint == "" {
			log.Fatal().Str("envVar", EnvMinioEndpoint).Msg("MinIO endpoint is required when STORAGE_BACKEND=minio")
		}
		gw, err := storage.NewMinioGateway(context.Background(), storage.MinioConfig{
			Endpoint:        endpoint,
			AccessKeyID:     os.Getenv(EnvMinioAccessKey),
			SecretAccessKey: os.Getenv(EnvMinioSecretKey),
			Bucket:          bucket,
			UseSSL:          os.Getenv(EnvMinioUseSSL) == "true",
		})
		if err != nil {
			log.Fatal().Err(err).Str("endpoint", endpoint).Msg("Failed to initialize MinIO storage")
		}
		return gw
	default:
		log.Fatal().Str("backend", backend).Msg("Unknown STORAGE_BACKEND (want s3 or minio)")
		return nil
	}
}

// InitTicketStore returns the ticket store selected by TICKET_STORE:
// "dataapi" (default, Aurora PostgreSQL via the RDS Data API) or
// "dynamodb". Fatals if a required variable is missing.
func InitTicketStore(cfg aws.Config) store.TicketStore {
	switch backend := logging.EnvOrDefault(EnvTicketStore, "dataapi"); backend {
	case "dataapi":
		clusterARN := requireEnv(EnvClusterARN)
		secretARN := requireEnv(EnvSecretARN)
		st := store.NewDataAPIStore(rdsdata.NewFromConfig(cfg), clusterARN, secretARN,
			logging.EnvOrDefault(EnvDatabase, "postgres"))
		if os.Getenv(EnvAutoMigrate) == "true" {
			start := time.Now()
			if err := st.Migrate(context.Background()); err != nil {
				log.Fatal().Err(err).Msg("Failed to apply ticket schema")
			}
			log.Info().Dur("elapsed", time.Since(start)).Msg("Ticket schema applied")
		}
		return st
	case "dynamodb":
		return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), requireEnv(EnvTable))
	default:
		log.Fatal().Str("backend", backend).Msg("Unknown TICKET_STORE (want dataapi or dynamodb)")
		return nil
	}
}

func requireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatal().Str("envVar", name).Msg("Required environment variable is not set")
	}
	return v
}

// ParameterGetter is the SSM call used to read secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadSecret returns the value of envVar if set, otherwise reads the
// decrypted SSM parameter named by paramEnvVar (or defaultParam) and
// exports it as envVar for the rest of the process.
func LoadSecret(ctx context.Context, client ParameterGetter, envVar, paramEnvVar, defaultParam string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	paramName := logging.EnvOrDefault(paramEnvVar, defaultParam)
	if paramName == "" {
		return "", fmt.Errorf("%s is not set and no SSM parameter is configured", envVar)
	}

	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read SSM parameter %s: %w", paramName, err)
	}
	value := strings.TrimSpace(aws.ToString(result.Parameter.Value))
	os.Setenv(envVar, value)
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Secret loaded from SSM")
	return value, nil
}

// LoadGeminiKey fetches the Gemini API key from SSM Parameter Store if not
// already set via GEMINI_API_KEY env var. Fatals on error.
func LoadGeminiKey(client ParameterGetter) string {
	key, err := LoadSecret(context.Background(), client, "GEMINI_API_KEY", "SSM_API_KEY_PARAM", "/incident-tickets/prod/gemini-api-key")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load Gemini API key")
	}
	return key
}

// StartupLog starts the cold-start summary with the init duration and the
// ticket store the function was wired to.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	sl := logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
	if logging.EnvOrDefault(EnvTicketStore, "dataapi") == "dynamodb" {
		return sl.DynamoTable("tickets", os.Getenv(EnvTable))
	}
	return sl.Database("tickets", logging.EnvOrDefault(EnvDatabase, "postgres"))
}
