// Package app assembles repositories, caches and services from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/libris/libris/internal/cache"
	"github.com/libris/libris/internal/config"
	"github.com/libris/libris/internal/models"
	"github.com/libris/libris/internal/repository"
	"github.com/libris/libris/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type App struct {
	Config        *config.Config
	Logger        *logrus.Logger
	Registry      *prometheus.Registry
	Cache         cache.Cache
	Users         *repository.UserRepository
	Secrets       *repository.OTPSecretRepository
	Catalog       *service.Catalog
	JWT           *service.JWTService
	RefreshTokens *service.RefreshTokenService
	OTP           *service.OTPService
	UserService   *service.UserService
	Stats         *service.StatsService

	redis *redis.Client
}

// New connects to DynamoDB and the configured cache and builds every service.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	dynamoClient, err := NewDynamoDBClient(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DynamoDB: %w", err)
	}
	return NewWithClient(ctx, cfg, dynamoClient, logger)
}

// NewWithClient builds the application on top of an existing DynamoDB client.
func NewWithClient(ctx context.Context, cfg *config.Config, db repository.DynamoDBAPI, logger *logrus.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}

	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		a.Cache = cache.NewMemoryCache()
		logger.Warn("Using in-process session cache; sessions are not shared between instances")
	default:
		client, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.redis = client
		a.Cache = cache.NewRedisCache(client, logger)
	}

	table := cfg.DynamoDB.TableName
	a.Users = repository.NewUserRepository(db, table, logger)
	a.Secrets = repository.NewOTPSecretRepository(db, table, logger)
	a.Catalog = service.NewCatalog(
		repository.NewRecordRepository[models.Library](db, table, logger),
		repository.NewRecordRepository[models.Genre](db, table, logger),
		repository.NewRecordRepository[models.Book](db, table, logger),
		repository.NewRecordRepository[models.Member](db, table, logger),
		repository.NewRecordRepository[models.Loan](db, table, logger),
		logger,
	)

	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	a.JWT = jwtService

	hasher, err := service.NewPasswordHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, err
	}
	generator := service.NewTOTPGenerator(&cfg.OTP)

	var sender service.CodeSender
	if cfg.SMTP.Addr != "" {
		sender = service.NewSMTPCodeSender(cfg.SMTP, logger)
	} else {
		logger.Warn("OTP codes are written to the log; do not use in production")
		sender = service.NewLogCodeSender(logger)
	}

	a.RefreshTokens = service.NewRefreshTokenService(a.Cache, logger)
	a.OTP = service.NewOTPService(a.Users, a.Secrets, a.Cache, hasher, generator, sender, &cfg.OTP, logger,
		service.WithMetrics(service.NewMetrics(a.Registry)))
	a.UserService = service.NewUserService(a.Users, a.Secrets, a.Catalog, hasher, generator, logger)
	a.Stats = service.NewStatsService(a.Catalog)

	return a, nil
}

func (a *App) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

// NewDynamoDBClient builds a client for the configured region and optional local endpoint.
func NewDynamoDBClient(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.DynamoDB.Region)}
	if cfg.DynamoDB.Endpoint != "" {
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:           cfg.DynamoDB.Endpoint,
					SigningRegion: cfg.DynamoDB.Region,
				}, nil
			})))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}
