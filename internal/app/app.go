package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go_forum/internal/config"
	"go_forum/internal/events"
	"go_forum/internal/forum/access"
	"go_forum/internal/forum/notify"
	"go_forum/internal/forum/repository"
	"go_forum/internal/forum/repository/memory"
	"go_forum/internal/forum/service"
	"go_forum/internal/lock"
	"go_forum/internal/logger"
	"go_forum/internal/mailer"
	"go_forum/internal/mongo"
	"go_forum/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App 应用服务容器
// 负责管理所有服务的生命周期（初始化、运行、关闭）
type App struct {
	MongoDB *mongo.Client
	Store   *repository.Store
	Events  *events.Bus

	Tracking      *service.TrackingPolicy
	Ledger        *service.ReadLedger
	Subscriptions *service.SubscriptionRegistry
	Visibility    *service.Visibility
	Posts         *service.PostService

	Cron      *notify.Cron
	Scheduler *scheduler.Scheduler
	Metrics   *prometheus.Registry

	telegram  *mailer.TelegramSender
	redisLock *lock.Redis
	stopAudit context.CancelFunc
}

// New 初始化应用及其所有服务
// 按顺序初始化各个服务，任何服务初始化失败都会清理已初始化的服务并返回错误
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Forum.Validate(); err != nil {
		return nil, err
	}

	app := &App{}
	if err := app.init(ctx, cfg); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context, cfg *config.Config) error {
	// 存储
	switch cfg.Store {
	case config.StoreMemory:
		a.Store, _ = memory.NewStore()
		logger.L().Warn("Using in-memory store, data will not survive a restart")
	default:
		client, err := mongo.InitFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("init MongoDB failed: %w", err)
		}
		a.MongoDB = client
		a.Store = repository.NewMongoStore(client.Database())
		if err := a.Store.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure indexes failed: %w", err)
		}
		logger.L().Info("MongoDB initialized successfully")
	}

	// 事件总线
	a.Events = events.NewBus()
	auditCtx, cancel := context.WithCancel(context.Background())
	a.stopAudit = cancel
	if err := a.Events.StartAudit(auditCtx); err != nil {
		return fmt.Errorf("start event audit failed: %w", err)
	}

	// 领域服务
	deps := service.Deps{
		Config:    cfg.Forum,
		Store:     a.Store,
		Caps:      access.NewRoleChecker(),
		Directory: access.NewDirectory(a.Store.Users, time.Minute),
		Events:    a.Events,
	}
	a.Tracking = service.NewTrackingPolicy(deps)
	a.Ledger = service.NewReadLedger(deps, a.Tracking)
	a.Subscriptions = service.NewSubscriptionRegistry(deps)
	a.Visibility = service.NewVisibility(deps)
	a.Posts = service.NewPostService(deps, a.Tracking, a.Ledger)

	// 投递渠道
	var email, telegram mailer.Sender = mailer.LogSender{}, nil
	if cfg.Mail.Host != "" {
		email = mailer.NewSMTPSender(cfg.Mail)
		logger.L().Infof("SMTP delivery via %s:%d", cfg.Mail.Host, cfg.Mail.Port)
	}
	if cfg.Telegram.Token != "" {
		tg, err := mailer.NewTelegramSender(cfg.Telegram)
		if err != nil {
			return fmt.Errorf("init Telegram sender failed: %w", err)
		}
		a.telegram = tg
		telegram = tg
		logger.L().Info("Telegram delivery enabled")
	}

	// 任务锁
	var locker lock.Locker = lock.NewLocal()
	if cfg.Redis.Addr != "" {
		redisLock, err := lock.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("init Redis lock failed: %w", err)
		}
		a.redisLock = redisLock
		locker = redisLock
		logger.L().Infof("Using Redis lock at %s", cfg.Redis.Addr)
	}

	// 指标
	a.Metrics = prometheus.NewRegistry()
	a.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.Cron = notify.NewCron(notify.Deps{
		Config:        cfg.Forum,
		Store:         a.Store,
		Ledger:        a.Ledger,
		Subscriptions: a.Subscriptions,
		Visibility:    a.Visibility,
		Sender:        mailer.NewRouter(email, telegram),
		Locker:        locker,
		Metrics:       notify.NewMetrics(a.Metrics),
	})

	a.Scheduler = scheduler.New(cfg.Forum.Location)
	return a.registerJobs(cfg.Schedule)
}

func (a *App) registerJobs(sched config.ScheduleConfig) error {
	jobs := []scheduler.Job{
		{
			Name:    notify.JobImmediate,
			Spec:    sched.Immediate,
			Timeout: 30 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.Cron.RunImmediate(ctx)
				return skipInProgress(err)
			},
		},
		{
			Name:    notify.JobDigest,
			Spec:    sched.Digest,
			Timeout: time.Hour,
			Run: func(ctx context.Context) error {
				_, err := a.Cron.RunDigest(ctx)
				return skipInProgress(err)
			},
		},
		{
			Name:    notify.JobReadCleanup,
			Spec:    sched.ReadCleanup,
			Timeout: time.Hour,
			Run: func(ctx context.Context) error {
				_, err := a.Cron.RunReadCleanup(ctx)
				return skipInProgress(err)
			},
		},
	}
	for _, job := range jobs {
		if err := a.Scheduler.Add(job); err != nil {
			return fmt.Errorf("register job %s failed: %w", job.Name, err)
		}
	}
	return nil
}

// RunOnce 立即执行一次指定任务
func (a *App) RunOnce(ctx context.Context, job string) error {
	switch job {
	case notify.JobImmediate:
		report, err := a.Cron.RunImmediate(ctx)
		if err != nil {
			return err
		}
		logger.L().Infof("Immediate run %s: mailed=%d queued=%d errors=%d", report.RunID, report.Mailed, report.Queued, report.Errors)
	case notify.JobDigest:
		report, err := a.Cron.RunDigest(ctx)
		if err != nil {
			return err
		}
		logger.L().Infof("Digest run %s: ran=%v users=%d errors=%d", report.RunID, report.Ran, report.UsersMailed, report.Errors)
	case notify.JobReadCleanup:
		ran, err := a.Cron.RunReadCleanup(ctx)
		if err != nil {
			return err
		}
		logger.L().Infof("Read cleanup ran=%v", ran)
	default:
		return fmt.Errorf("unknown job %q", job)
	}
	return nil
}

func skipInProgress(err error) error {
	if errors.Is(err, notify.ErrRunInProgress) {
		logger.L().Warn("Previous run still in progress, skipping tick")
		return nil
	}
	return err
}

// Close 优雅关闭所有服务
// 应该在应用退出时调用，确保资源正确释放
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.telegram != nil {
		a.telegram.Close()
	}
	if a.redisLock != nil {
		if err := a.redisLock.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close Redis failed: %w", err))
		}
	}
	if a.stopAudit != nil {
		a.stopAudit()
	}
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event bus failed: %w", err))
		}
	}
	if a.MongoDB != nil {
		if err := a.MongoDB.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close MongoDB failed: %w", err))
		}
	}
	return errors.Join(errs...)
}
