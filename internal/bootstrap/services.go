package bootstrap

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/toralehq/torale/config"
	"github.com/toralehq/torale/internal/agent"
	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/data"
	"github.com/toralehq/torale/internal/notify/email"
	"github.com/toralehq/torale/internal/notify/slackchannel"
	"github.com/toralehq/torale/internal/observability/statsd"
	"github.com/toralehq/torale/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Lifecycle    *service.LifecycleService
	Scheduler    *service.SchedulerService
	Engine       *service.EngineService
	Dispatcher   *service.DispatcherService
	Webhook      *service.WebhookService
	WebhookRetry *service.WebhookRetryService
	Reaper       *service.ReaperService
	MetricsSink  *statsd.Client
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient *redis.Client
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	Tasks        core.TaskRepository
	Executions   core.ExecutionRepository
	Deliveries   core.WebhookDeliveryRepository
	Sends        core.NotificationSendRepository
	Integrations core.IntegrationRepository
	Users        core.UserRepository
	JobStore     core.JobStore
}

// BuildServices wires repositories, external clients, and services into a
// runnable container.
func BuildServices(deps ServiceDeps) (*ServiceContainer, error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metricsSink := buildMetricsSink(cfg.Observability.Metrics, logger)
	repos := buildRepositories(deps, logger)

	webhookSvc, err := service.NewWebhookService(service.WebhookServiceOptions{
		Deliveries: repos.Deliveries,
		HTTPClient: &http.Client{Timeout: cfg.WebhookRetry.RequestTimeout},
		Logger:     logger,
		Metrics:    sink(metricsSink),
	})
	if err != nil {
		return nil, fmt.Errorf("build webhook service: %w", err)
	}

	webhookRetrySvc, err := service.NewWebhookRetryService(service.WebhookRetryServiceOptions{
		Deliveries: repos.Deliveries,
		Sender:     webhookSvc,
		Config:     cfg.WebhookRetry,
		Logger:     logger,
		Metrics:    sink(metricsSink),
	})
	if err != nil {
		return nil, fmt.Errorf("build webhook retry service: %w", err)
	}

	dispatcherSvc, err := buildDispatcher(cfg, repos, webhookSvc, logger, metricsSink)
	if err != nil {
		return nil, err
	}

	schedulerSvc, err := service.NewSchedulerService(service.SchedulerServiceOptions{
		Store: repos.JobStore,
		Tasks: repos.Tasks,
		Config: core.SchedulerConfig{
			TickInterval:       cfg.Scheduler.Interval,
			BatchSize:          cfg.Scheduler.BatchSize,
			MaxConcurrentFires: cfg.Scheduler.MaxConcurrentFires,
			MisfireGrace:       cfg.Scheduler.MisfireGrace,
		},
		Logger:  logger,
		Metrics: sink(metricsSink),
	})
	if err != nil {
		return nil, fmt.Errorf("build scheduler service: %w", err)
	}

	agentClient, err := agent.NewClient(agent.Config{
		FreeURL:          cfg.Agent.URLFree,
		PaidURL:          cfg.Agent.URLPaid,
		Timeout:          cfg.Agent.Timeout,
		PollFailureLimit: cfg.Agent.PollFailureLimit,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build agent client: %w", err)
	}

	engineSvc, err := service.NewEngineService(service.EngineServiceOptions{
		Repos: service.EngineRepos{
			Tasks:      repos.Tasks,
			Executions: repos.Executions,
		},
		Agent:      agentClient,
		Scheduler:  schedulerSvc,
		Dispatcher: dispatcherSvc,
		Config: core.EngineConfig{
			DedupeWindow:  cfg.Engine.DedupeWindow,
			HistoryWindow: cfg.Engine.HistoryWindow,
			EvidenceLimit: cfg.Engine.EvidenceTruncation,
		},
		Logger:  logger,
		Metrics: sink(metricsSink),
	})
	if err != nil {
		return nil, fmt.Errorf("build engine service: %w", err)
	}
	schedulerSvc.SetExecutor(engineSvc)

	lifecycleSvc, err := service.NewLifecycleService(service.LifecycleServiceOptions{
		Tasks:     repos.Tasks,
		Scheduler: schedulerSvc,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build lifecycle service: %w", err)
	}

	reaperSvc, err := service.NewReaperService(service.ReaperServiceOptions{
		Executions: repos.Executions,
		Config:     cfg.Reaper,
		Logger:     logger,
		Metrics:    sink(metricsSink),
	})
	if err != nil {
		return nil, fmt.Errorf("build reaper service: %w", err)
	}

	return &ServiceContainer{
		Lifecycle:    lifecycleSvc,
		Scheduler:    schedulerSvc,
		Engine:       engineSvc,
		Dispatcher:   dispatcherSvc,
		Webhook:      webhookSvc,
		WebhookRetry: webhookRetrySvc,
		Reaper:       reaperSvc,
		MetricsSink:  metricsSink,
	}, nil
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(deps ServiceDeps, logger *slog.Logger) *serviceRepositories {
	executions := core.ExecutionRepository(data.NewExecutionRepo(data.ExecutionRepoOptions{
		DB:     deps.DB,
		Logger: logger,
	}))
	if deps.RedisClient != nil {
		executions = data.NewCachedExecutionRepo(data.CachedExecutionRepoOptions{
			Inner:  executions,
			Cache:  data.NewRedisCacheRepo(deps.RedisClient),
			Logger: logger,
		})
	}

	return &serviceRepositories{
		Tasks:        data.NewTaskRepo(data.TaskRepoOptions{DB: deps.DB, Logger: logger}),
		Executions:   executions,
		Deliveries:   data.NewWebhookDeliveryRepo(deps.DB),
		Sends:        data.NewNotificationSendRepo(deps.DB),
		Integrations: data.NewIntegrationRepo(deps.DB),
		Users:        data.NewUserRepo(deps.DB),
		JobStore:     data.NewJobStoreRepo(deps.DB),
	}
}

// buildDispatcher assembles the notification fan-out with whichever channels
// the configuration enables. A deployment without email or Slack credentials
// still dispatches the remaining channels.
func buildDispatcher(
	cfg *config.AppConfig,
	repos *serviceRepositories,
	webhookSvc *service.WebhookService,
	logger *slog.Logger,
	metricsSink *statsd.Client,
) (*service.DispatcherService, error) {
	var emailSender core.EmailSender
	if cfg.Notify.Email.APIURL != "" {
		limiter := service.NewTokenBucket(
			float64(cfg.Notify.Email.RateLimitPerSecond),
			cfg.Notify.Email.RateLimitPerSecond,
		)
		sender, err := email.NewSender(email.SenderOptions{
			Config:  cfg.Notify.Email,
			Limiter: limiter,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build email sender: %w", err)
		}
		emailSender = sender
	} else {
		logger.Warn("email provider not configured, email channel disabled")
	}

	cipher := CreateTokenCipher(cfg.Notify.OAuthEncryptionKey, logger)
	slackPoster, err := slackchannel.NewPoster(slackchannel.PosterOptions{
		Integrations: repos.Integrations,
		Cipher:       cipher,
		Config:       cfg.Notify.Slack,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build slack poster: %w", err)
	}

	dispatcher, err := service.NewDispatcherService(service.DispatcherServiceOptions{
		Sends:   repos.Sends,
		Users:   repos.Users,
		Email:   emailSender,
		Webhook: webhookSvc,
		Slack:   slackPoster,
		Logger:  logger,
		Metrics: sink(metricsSink),
	})
	if err != nil {
		return nil, fmt.Errorf("build dispatcher service: %w", err)
	}
	return dispatcher, nil
}

func buildMetricsSink(cfg config.MetricsConfig, logger *slog.Logger) *statsd.Client {
	if !cfg.IsEnabled() {
		return nil
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.StatsdAddress,
		Prefix:  "torale",
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		return nil
	}
	return client
}

// sink converts a possibly-nil concrete client into the Sink interface
// without producing a typed-nil interface value.
func sink(client *statsd.Client) statsd.Sink {
	if client == nil {
		return nil
	}
	return client
}
