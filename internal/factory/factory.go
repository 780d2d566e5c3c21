package factory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/audit"
	"verification-service/internal/bucketing"
	"verification-service/internal/captcha"
	"verification-service/internal/client"
	"verification-service/internal/config"
	"verification-service/internal/hashing"
	"verification-service/internal/oauth"
	"verification-service/internal/queue"
	redisrepo "verification-service/internal/repository/redis"
	"verification-service/internal/repository/scylla"
	"verification-service/internal/service"
	"verification-service/internal/sms"
	"verification-service/internal/util"
	"verification-service/internal/worker"
)

// Role selects which half of the system a process runs.
type Role int

const (
	// RoleServer serves HTTP and enqueues send jobs.
	RoleServer Role = iota
	// RoleWorker consumes send jobs and delivers SMS.
	RoleWorker
	// RoleAll runs both in one process. Without Kafka brokers this is the
	// only role that works, since the in-memory queue is process-local.
	RoleAll
)

func (r Role) serves() bool   { return r == RoleServer || r == RoleAll }
func (r Role) consumes() bool { return r == RoleWorker || r == RoleAll }

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleWorker:
		return "worker"
	default:
		return "all"
	}
}

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config
	role   Role

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher           *hashing.Hasher
	bucketingManager *bucketing.BucketingManager
	tokens           *service.TokenSet

	queue         sendQueue
	memoryQueue   *queue.MemoryQueue
	auditRecorder *audit.ClickHouseRecorder

	serviceFactory *service.ServiceFactory
	worker         *worker.Worker

	closeOnce sync.Once
}

type sendQueue interface {
	queue.Producer
	queue.Consumer
	queue.DeadLetterer
}

// NewFactory connects the clients the role needs and builds the managers.
func NewFactory(cfg *config.Config, role Role) (*Factory, error) {
	f := &Factory{
		config: cfg,
		role:   role,
	}

	if err := f.initializeClients(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeManagers(); err != nil {
		f.Close()
		return nil, err
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("role", role.String()),
		util.Bool("kafka_enabled", f.kafkaProducer != nil),
		util.Bool("audit_enabled", f.auditRecorder != nil),
	)

	return f, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if f.role.serves() {
		// Redis
		redisClient, err := client.NewRedisClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
		util.Info("Redis client initialized and healthy")

		// ScyllaDB
		scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = scyllaClient
		util.Info("ScyllaDB client initialized and healthy")
	}

	// Kafka
	if len(f.config.Kafka.Brokers) > 0 {
		producer, err := client.NewKafkaProducer(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		f.kafkaProducer = producer
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			util.Warn("Kafka health check failed, writes will retry", util.ErrorField(err))
		}

		if f.role.consumes() {
			consumer, err := client.NewKafkaConsumer(f.config, util.Get())
			if err != nil {
				return fmt.Errorf("kafka consumer: %w", err)
			}
			f.kafkaConsumer = consumer
		}
	} else if f.role != RoleAll {
		return fmt.Errorf("kafka brokers are required when running the %s role alone", f.role)
	}

	// ClickHouse
	if f.config.Clickhouse.Enabled {
		chClient, err := client.NewClickHouseClient(f.config, util.Get())
		if err != nil {
			if f.config.IsProduction() {
				return fmt.Errorf("clickhouse: %w", err)
			}
			util.Warn("ClickHouse unavailable - proceeding without audit events", util.ErrorField(err))
		} else {
			f.clickhouseClient = chClient
		}
	}

	return nil
}

// initializeManagers builds the queue, audit recorder and the stateless
// managers shared by services.
func (f *Factory) initializeManagers() error {
	logger := util.Get()

	if f.kafkaProducer != nil {
		f.queue = newKafkaSendQueue(f.kafkaProducer, f.kafkaConsumer, f.config.Kafka, logger)
	} else {
		f.memoryQueue = queue.NewMemoryQueue(0)
		f.queue = f.memoryQueue
		util.Warn("No Kafka brokers configured, using in-process queue")
	}

	if f.clickhouseClient != nil {
		rec := audit.NewClickHouseRecorder(f.clickhouseClient, f.config.Clickhouse.BatchSize, f.config.Clickhouse.FlushInterval, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rec.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to create audit table: %w", err)
		}
		f.auditRecorder = rec
	}

	if f.role.serves() {
		tokens, err := service.NewTokenSet(f.config.Token, logger)
		if err != nil {
			return err
		}
		f.tokens = tokens
		f.hasher = hashing.NewHasher(f.config.Hashing)
		f.bucketingManager = bucketing.NewBucketingManager(f.config.Bucketing.AccountBuckets)
	}

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("tokens_initialized", f.tokens != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
	)
	return nil
}

// newKafkaSendQueue leaves the reader nil for server-only processes. The
// branch keeps a nil *kafka.Reader out of the interface.
func newKafkaSendQueue(producer *client.KafkaProducer, consumer *client.KafkaConsumer, cfg config.KafkaConfig, logger *zap.Logger) *queue.KafkaQueue {
	if consumer == nil {
		return queue.NewKafkaQueue(producer.Writer, nil, cfg.SMSTopic, cfg.DeadLetterTopic, logger)
	}
	return queue.NewKafkaQueue(producer.Writer, consumer.Reader, cfg.SMSTopic, cfg.DeadLetterTopic, logger)
}

// Recorder returns the audit sink, or a no-op one when ClickHouse is off.
func (f *Factory) Recorder() audit.Recorder {
	if f.auditRecorder == nil {
		return audit.NopRecorder{}
	}
	return f.auditRecorder
}

// RunAudit flushes audit events until ctx is cancelled. It returns
// immediately when auditing is disabled.
func (f *Factory) RunAudit(ctx context.Context) error {
	if f.auditRecorder == nil {
		return nil
	}
	return f.auditRecorder.Run(ctx)
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		cache := redisrepo.NewVerificationCache(
			redisrepo.NewRedisCodeStore(f.redisClient, util.Get()),
			f.config.Verification,
		)
		f.serviceFactory = service.NewServiceFactory(service.ServiceDeps{
			Cache:          cache,
			Captcha:        captcha.NewDigitGenerator(f.config.Verification.CaptchaLength),
			Producer:       f.queue,
			Accounts:       scylla.NewAccountRepository(f.scyllaClient, f.bucketingManager, util.Get()),
			Hasher:         f.hasher,
			Tokens:         f.tokens,
			Recorder:       f.Recorder(),
			StoreTimeout:   f.config.Verification.StoreCallTimeout,
			EmailVerifyURL: f.config.Verification.EmailVerifyURL,
			OAuthProvider:  f.oauthProvider(),
		}, util.Get())
	}
	return f.serviceFactory
}

// oauthProvider returns a nil interface when QQ login is not configured.
func (f *Factory) oauthProvider() oauth.Provider {
	if !f.config.OAuth.QQEnabled() {
		return nil
	}
	return oauth.NewQQProvider(f.config.OAuth, util.Get().Named("oauth"))
}

// Worker builds the SMS delivery worker with the configured gateway.
func (f *Factory) Worker(ctx context.Context) (*worker.Worker, error) {
	if f.worker != nil {
		return f.worker, nil
	}

	gateway, err := f.smsGateway(ctx)
	if err != nil {
		return nil, err
	}

	f.worker = worker.New(f.queue, f.queue, gateway, f.Recorder(), worker.Config{
		Concurrency:  f.config.Worker.Concurrency,
		MaxAttempts:  f.config.Worker.MaxAttempts,
		RetryBackoff: f.config.Worker.RetryBackoff,
		SendTimeout:  f.config.Worker.SendTimeout,
		TemplateID:   f.config.SMS.TemplateID,
		TTLMinutes:   f.config.SMSCodeTTLMinutes(),
	}, util.Get())
	return f.worker, nil
}

func (f *Factory) smsGateway(ctx context.Context) (sms.Gateway, error) {
	switch f.config.SMS.Provider {
	case "sns":
		gateway, err := sms.NewSNSGateway(ctx, f.config.SMS, util.Get())
		if err != nil {
			return nil, fmt.Errorf("failed to create sns gateway: %w", err)
		}
		return gateway, nil
	case "log", "":
		if f.config.IsProduction() {
			util.Warn("SMS provider is log in production, codes will not be delivered")
		}
		return sms.NewLogGateway(f.config.SMS.Templates, util.Get()), nil
	default:
		return nil, fmt.Errorf("unknown SMS provider %q", f.config.SMS.Provider)
	}
}

// ==============================
// Health Checks
// ==============================

// HealthStatus checks every client this process holds.
func (f *Factory) HealthStatus(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	return healthErrors
}

// HealthCheck fails when a store on the request path is down. Kafka and
// ClickHouse outages are logged but do not fail the check.
func (f *Factory) HealthCheck(ctx context.Context) error {
	status := f.HealthStatus(ctx)
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		err := status[name]
		if name == "kafka" || name == "clickhouse" {
			util.Warn("Dependency unhealthy", util.String("dependency", name), util.ErrorField(err))
			continue
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.memoryQueue != nil {
			_ = f.memoryQueue.Close()
		}

		if f.kafkaConsumer != nil {
			if err := f.kafkaConsumer.Close(); err != nil {
				util.Error("Failed to close Kafka consumer", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Role() Role {
	return f.role
}
