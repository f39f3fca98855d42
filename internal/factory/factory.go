package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"otp-service/internal/client"
	"otp-service/internal/config"
	"otp-service/internal/repository"
	"otp-service/internal/repository/dynamo"
	"otp-service/internal/repository/redis"
	"otp-service/internal/repository/scylla"
	"otp-service/internal/service"
	"otp-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies. The store
// client is built once at process start and injected into the services, never
// reached for as ambient global state.
type Factory struct {
	config *config.Config

	// Store clients; only the configured backend is non-nil.
	scyllaClient *scylla.ScyllaClient
	redisClient  *client.RedisClient
	dynamoClient *dynamo.DynamoClient

	otpStore       repository.OTPStore
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeStore(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store_backend", cfg.Store.Backend),
	)

	return factory, nil
}

// initializeStore builds the configured OTPStore backend and health-checks it.
func (f *Factory) initializeStore() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch f.config.Store.Backend {
	case config.BackendScylla:
		sc, err := scylla.NewScyllaClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = sc
		f.otpStore = scylla.NewOTPRepository(sc, util.Get())

	case config.BackendDynamo:
		dc, err := dynamo.NewDynamoClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("dynamo: %w", err)
		}
		f.dynamoClient = dc
		f.otpStore = dynamo.NewOTPRepository(dc, util.Get())

	case config.BackendRedis:
		rc, err := client.NewRedisClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = rc
		f.otpStore = redis.NewOTPRepository(rc, f.config.Redis.KeyPrefix, util.Get())

	default:
		return fmt.Errorf("unknown store backend: %s", f.config.Store.Backend)
	}

	if err := f.otpStore.HealthCheck(ctx); err != nil {
		if f.config.IsProduction() {
			return fmt.Errorf("store health check: %w", err)
		}
		util.Warn("Store health check failed - continuing in development",
			util.ErrorField(err))
	} else {
		util.Info("Store initialized and healthy",
			util.String("backend", f.config.Store.Backend))
	}

	return nil
}

// ServiceFactory returns the service factory (singleton)
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(f.otpStore, util.Get())
	}
	return f.serviceFactory
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) OTPStore() repository.OTPStore {
	return f.otpStore
}

// HealthCheck reports the health of the configured store.
func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.otpStore == nil {
		return fmt.Errorf("store not initialized")
	}
	return f.otpStore.HealthCheck(ctx)
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		// The DynamoDB client holds no connections to release.

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}
