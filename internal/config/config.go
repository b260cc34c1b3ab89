package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
)

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("invalid configuration")

// 存储后端
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// Config 应用程序配置
type Config struct {
	MongoURI    string // MongoDB连接URI
	MongoDBName string // MongoDB数据库名称
	Store       string // 存储后端：mongo/memory
	MetricsAddr string // Prometheus 监听地址
	Forum       ForumConfig
	Schedule    ScheduleConfig
	Mail        MailConfig
	Telegram    TelegramConfig
	Redis       RedisConfig
}

// ForumConfig 论坛站点设置，注入到各组件
type ForumConfig struct {
	TrackReadPosts          bool           // 站点是否启用阅读跟踪
	OldPostDays             int            // 超过该天数的帖子视为已读
	AllowForcedReadTracking bool           // 强制跟踪是否可覆盖用户选择
	MarkReadOnSend          bool           // 发送通知后标记已读
	DigestHourOffset        int            // 摘要发送时刻（当地时间小时）
	MaxEditingTime          time.Duration  // 帖子可编辑时长，也是发送前的静置窗口
	EnableTimedPosts        bool           // 是否启用定时话题
	Location                *time.Location // 站点时区
	SiteURL                 string         // 站点地址，用于生成链接
	SiteName                string
	Workers                 int           // 通知并发数
	SendTimeout             time.Duration // 单条消息发送超时
}

// ScheduleConfig 定时任务 cron 表达式
type ScheduleConfig struct {
	Immediate   string
	Digest      string
	ReadCleanup string
}

// MailConfig SMTP 配置，Host 为空时使用日志输出
type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// TelegramConfig Telegram 通知配置
type TelegramConfig struct {
	Token         string
	RatePerSecond int
}

// RedisConfig 分布式锁配置，Addr 为空时使用进程内锁
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DefaultForumConfig 默认站点设置
func DefaultForumConfig() ForumConfig {
	return ForumConfig{
		TrackReadPosts:          true,
		OldPostDays:             14,
		AllowForcedReadTracking: false,
		MarkReadOnSend:          true,
		DigestHourOffset:        17,
		MaxEditingTime:          30 * time.Minute,
		EnableTimedPosts:        false,
		Location:                time.UTC,
		SiteName:                "Forum",
		Workers:                 8,
		SendTimeout:             30 * time.Second,
	}
}

// OldPostCutoff 返回 now 对应的已读截止时间
func (c ForumConfig) OldPostCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(c.OldPostDays) * 24 * time.Hour)
}

// Validate 校验站点设置，任何一项不合法都返回错误
func (c ForumConfig) Validate() error {
	var problems []string
	if c.OldPostDays < 1 {
		problems = append(problems, fmt.Sprintf("old post days must be >= 1, got %d", c.OldPostDays))
	}
	if c.DigestHourOffset < 0 || c.DigestHourOffset > 23 {
		problems = append(problems, fmt.Sprintf("digest hour must be within 0..23, got %d", c.DigestHourOffset))
	}
	if c.MaxEditingTime < 0 {
		problems = append(problems, "max editing time must not be negative")
	}
	if c.Location == nil {
		problems = append(problems, "timezone is required")
	}
	if strings.TrimSpace(c.SiteURL) == "" {
		problems = append(problems, "site url is required")
	}
	if c.Workers < 1 {
		problems = append(problems, fmt.Sprintf("workers must be >= 1, got %d", c.Workers))
	}
	if c.SendTimeout <= 0 {
		problems = append(problems, "send timeout must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// LoadDotEnv 加载 .env 文件，不存在的文件忽略，已存在的环境变量不会被覆盖
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	mongoDBName := os.Getenv("MONGO_DB_NAME")
	if mongoDBName == "" {
		mongoDBName = "go_forum"
	}

	cfg := &Config{
		MongoURI:    os.Getenv("MONGO_URI"),
		MongoDBName: mongoDBName,
		Store:       StoreMongo,
		MetricsAddr: ":9108",
		Forum:       DefaultForumConfig(),
		Schedule: ScheduleConfig{
			Immediate:   "*/5 * * * *",
			Digest:      "*/10 * * * *",
			ReadCleanup: "17 * * * *",
		},
		Telegram: TelegramConfig{
			Token:         os.Getenv("TELEGRAM_TOKEN"),
			RatePerSecond: 25,
		},
	}

	if store := strings.TrimSpace(os.Getenv("FORUM_STORE")); store != "" {
		if store != StoreMongo && store != StoreMemory {
			return nil, fmt.Errorf("invalid FORUM_STORE: %s", store)
		}
		cfg.Store = store
	}
	if cfg.Store == StoreMongo && cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGO_URI is required when FORUM_STORE=mongo")
	}
	if addr := strings.TrimSpace(os.Getenv("METRICS_ADDR")); addr != "" {
		cfg.MetricsAddr = addr
	}

	if err := loadForumConfig(&cfg.Forum); err != nil {
		return nil, err
	}
	if err := loadScheduleConfig(&cfg.Schedule); err != nil {
		return nil, err
	}
	if err := loadMailConfig(&cfg.Mail); err != nil {
		return nil, err
	}
	if err := loadRedisConfig(&cfg.Redis); err != nil {
		return nil, err
	}
	if rate, ok, err := envInt("TELEGRAM_RATE_PER_SECOND"); err != nil {
		return nil, err
	} else if ok {
		if rate < 1 {
			return nil, fmt.Errorf("TELEGRAM_RATE_PER_SECOND must be >= 1, got %d", rate)
		}
		cfg.Telegram.RatePerSecond = rate
	}

	return cfg, nil
}

func loadForumConfig(f *ForumConfig) error {
	var err error
	if f.TrackReadPosts, err = envBool("FORUM_TRACK_READ_POSTS", f.TrackReadPosts); err != nil {
		return err
	}
	if f.AllowForcedReadTracking, err = envBool("FORUM_ALLOW_FORCED_READ_TRACKING", f.AllowForcedReadTracking); err != nil {
		return err
	}
	if f.MarkReadOnSend, err = envBool("FORUM_MARK_READ_ON_SEND", f.MarkReadOnSend); err != nil {
		return err
	}
	if f.EnableTimedPosts, err = envBool("FORUM_ENABLE_TIMED_POSTS", f.EnableTimedPosts); err != nil {
		return err
	}

	// 解析FORUM_OLD_POST_DAYS（默认14天）
	if days, ok, err := envInt("FORUM_OLD_POST_DAYS"); err != nil {
		return err
	} else if ok {
		if days < 1 {
			return fmt.Errorf("FORUM_OLD_POST_DAYS must be >= 1, got %d", days)
		}
		f.OldPostDays = days
	}

	if hour, ok, err := envInt("FORUM_DIGEST_HOUR"); err != nil {
		return err
	} else if ok {
		if hour < 0 || hour > 23 {
			return fmt.Errorf("FORUM_DIGEST_HOUR must be within 0..23, got %d", hour)
		}
		f.DigestHourOffset = hour
	}

	if workers, ok, err := envInt("FORUM_WORKERS"); err != nil {
		return err
	} else if ok {
		if workers < 1 {
			return fmt.Errorf("FORUM_WORKERS must be >= 1, got %d", workers)
		}
		f.Workers = workers
	}

	if f.MaxEditingTime, err = envDuration("FORUM_MAX_EDITING_TIME", f.MaxEditingTime); err != nil {
		return err
	}
	if f.SendTimeout, err = envDuration("FORUM_SEND_TIMEOUT", f.SendTimeout); err != nil {
		return err
	}

	if tz := strings.TrimSpace(os.Getenv("FORUM_TIMEZONE")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("failed to parse FORUM_TIMEZONE: %w", err)
		}
		f.Location = loc
	}

	f.SiteURL = strings.TrimRight(strings.TrimSpace(os.Getenv("FORUM_SITE_URL")), "/")
	if name := strings.TrimSpace(os.Getenv("FORUM_SITE_NAME")); name != "" {
		f.SiteName = name
	}
	return nil
}

func loadScheduleConfig(s *ScheduleConfig) error {
	entries := []struct {
		env  string
		dest *string
	}{
		{"SCHEDULE_IMMEDIATE", &s.Immediate},
		{"SCHEDULE_DIGEST", &s.Digest},
		{"SCHEDULE_READ_CLEANUP", &s.ReadCleanup},
	}
	for _, entry := range entries {
		if expr := strings.TrimSpace(os.Getenv(entry.env)); expr != "" {
			*entry.dest = expr
		}
		if !gronx.IsValid(*entry.dest) {
			return fmt.Errorf("invalid cron expression in %s: %q", entry.env, *entry.dest)
		}
	}
	return nil
}

func loadMailConfig(m *MailConfig) error {
	m.Host = strings.TrimSpace(os.Getenv("SMTP_HOST"))
	m.User = strings.TrimSpace(os.Getenv("SMTP_USER"))
	m.Password = os.Getenv("SMTP_PASSWORD")
	m.From = strings.TrimSpace(os.Getenv("SMTP_FROM"))
	m.Port = 587

	if port, ok, err := envInt("SMTP_PORT"); err != nil {
		return err
	} else if ok {
		m.Port = port
	}
	if m.Host != "" && m.From == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	return nil
}

func loadRedisConfig(r *RedisConfig) error {
	r.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	r.Password = os.Getenv("REDIS_PASSWORD")
	if db, ok, err := envInt("REDIS_DB"); err != nil {
		return err
	} else if ok {
		r.DB = db
	}
	return nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return value, nil
}

func envInt(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return value, true, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return value, nil
}
