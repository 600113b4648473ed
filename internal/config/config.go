package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	gomysql "github.com/go-sql-driver/mysql"
	sdk "github.com/matrixorigin/moi-go-sdk"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Slack    SlackConfig    `yaml:"slack"`
	AI       AIConfig       `yaml:"ai"`
	VCS      VCSConfig      `yaml:"vcs"`
	Identity IdentityConfig `yaml:"identity"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Report   ReportConfig   `yaml:"report"`
	MOI      MOIConfig      `yaml:"moi"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json (default) or text
	File       string `yaml:"file"`
	Console    bool   `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

// DatabaseConfig selects the report store. Driver is "mysql" or "sqlite"; for sqlite
// Path is the database file.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type TrackerConfig struct {
	SpaceKey   string        `yaml:"space_key"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	ProjectIDs []string      `yaml:"project_ids"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	// RefPatterns are regexes matching ticket keys in free text, per project id.
	// The "*" entry applies to every project.
	RefPatterns map[string][]string `yaml:"ref_patterns"`
	RatePerSec  float64             `yaml:"rate_per_sec"`
}

type SlackConfig struct {
	BotToken     string `yaml:"bot_token"`
	Channel      string `yaml:"channel"`
	AlertChannel string `yaml:"alert_channel"`
	HistoryLimit int    `yaml:"history_limit"`
}

type AIConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type VCSConfig struct {
	Token string   `yaml:"token"`
	Repos []string `yaml:"repos"` // owner/name
}

type IdentityConfig struct {
	Scope string `yaml:"scope"`
	// LeadChatUserID is mentioned instead of an assignee that has no chat identity.
	LeadChatUserID string `yaml:"lead_chat_user_id"`
}

// ScheduleConfig holds cron specs, all interpreted in Timezone.
type ScheduleConfig struct {
	Timezone     string `yaml:"timezone"`
	CheckinOpen  string `yaml:"checkin_open"`
	CheckinClose string `yaml:"checkin_close"`
	DailyReport  string `yaml:"daily_report"`
	WeeklyReport string `yaml:"weekly_report"`
	WeekStart    string `yaml:"week_start"`
}

type FetchConfig struct {
	Workers       int           `yaml:"workers"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
	ChatTimeout   time.Duration `yaml:"chat_timeout"`
	CommitTimeout time.Duration `yaml:"commit_timeout"`
}

type DeliveryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Jitter     float64       `yaml:"jitter"`
}

type ReportConfig struct {
	OutputDir   string `yaml:"output_dir"`
	ExportExcel bool   `yaml:"export_excel"`
}

type MOIConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	CatalogID  int64  `yaml:"catalog_id"`
	DatabaseID int64  `yaml:"database_id"`
	TableID    int64  `yaml:"daily_table_id"`
}

func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 9871},
		Log:      LogConfig{Level: "info", Console: true, MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 30},
		Database: DatabaseConfig{Driver: "sqlite", Path: "data/smart-progress.db", Port: 3306, Name: "smart_progress"},
		Tracker: TrackerConfig{
			CacheTTL:    30 * time.Minute,
			RefPatterns: map[string][]string{"*": {`\b([A-Z][A-Z0-9_]+-[0-9]+)\b`}},
			RatePerSec:  5,
		},
		Slack:    SlackConfig{HistoryLimit: 200},
		AI:       AIConfig{Model: "qwen-plus", Timeout: 8 * time.Second},
		Identity: IdentityConfig{Scope: "default"},
		Schedule: ScheduleConfig{
			Timezone:     "Asia/Tokyo",
			CheckinOpen:  "0 9 * * 1-5",
			CheckinClose: "30 9 * * 1-5",
			DailyReport:  "0 10 * * *",
			WeeklyReport: "0 11 * * 1",
			WeekStart:    "monday",
		},
		Fetch: FetchConfig{
			Workers:       4,
			TaskTimeout:   5 * time.Second,
			ChatTimeout:   10 * time.Second,
			CommitTimeout: 10 * time.Second,
		},
		Delivery: DeliveryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Jitter: 0.2},
		Report:   ReportConfig{OutputDir: "reports"},
	}
}

// Load reads the first config file found, then applies environment overrides.
func Load(configFile string) *Config {
	c := Default()

	paths := []string{"etc/config-dev.yaml", "/etc/smart-progress/config.yaml"}
	if configFile != "" {
		paths = []string{configFile}
	}
	for _, path := range paths {
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, c)
			break
		}
	}

	envOverride(&c.Tracker.APIKey, "BACKLOG_API_KEY")
	envOverride(&c.Tracker.SpaceKey, "BACKLOG_SPACE_KEY")
	envOverrideList(&c.Tracker.ProjectIDs, "BACKLOG_PROJECT_IDS")
	envOverride(&c.Slack.BotToken, "SLACK_BOT_TOKEN")
	envOverride(&c.Slack.Channel, "SLACK_CHANNEL_ID")
	envOverride(&c.Slack.AlertChannel, "SLACK_ALERT_CHANNEL")
	envOverride(&c.AI.BaseURL, "AI_BASE_URL")
	envOverride(&c.AI.APIKey, "AI_API_KEY")
	envOverride(&c.VCS.Token, "GITHUB_TOKEN")
	envOverrideList(&c.VCS.Repos, "GITHUB_REPOS")
	envOverride(&c.Identity.LeadChatUserID, "LEAD_CHAT_USER_ID")
	envOverride(&c.Database.Driver, "DB_DRIVER")
	envOverride(&c.Database.Path, "DB_PATH")
	envOverride(&c.Database.Host, "DB_HOST")
	envOverride(&c.Database.User, "DB_USER")
	envOverride(&c.Database.Password, "DB_PASS")
	envOverride(&c.Database.Name, "DB_NAME")
	envOverride(&c.Schedule.Timezone, "TZ_NAME")
	envOverride(&c.Server.JWTSecret, "JWT_SECRET")
	envOverride(&c.MOI.APIKey, "MOI_API_KEY")
	envOverride(&c.Log.Level, "LOG_LEVEL")
	envOverride(&c.Log.Format, "LOG_FORMAT")
	envOverride(&c.Log.File, "LOG_FILE")
	envOverrideInt(&c.Server.Port, "PORT")
	envOverrideInt(&c.Database.Port, "DB_PORT")

	return c
}

// Validate reports every missing or unusable setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Tracker.APIKey == "" {
		errs = append(errs, errors.New("tracker.api_key is required"))
	}
	if c.Tracker.SpaceKey == "" && c.Tracker.BaseURL == "" {
		errs = append(errs, errors.New("tracker.space_key or tracker.base_url is required"))
	}
	if len(c.Tracker.ProjectIDs) == 0 {
		errs = append(errs, errors.New("tracker.project_ids needs at least one project"))
	}
	if c.Slack.BotToken == "" {
		errs = append(errs, errors.New("slack.bot_token is required"))
	}
	if c.Slack.Channel == "" {
		errs = append(errs, errors.New("slack.channel is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}
	if _, err := c.WeekStartDay(); err != nil {
		errs = append(errs, err)
	}
	if c.Delivery.MaxRetries < 0 {
		errs = append(errs, errors.New("delivery.max_retries must not be negative"))
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Schedule.Timezone)
}

func (c *Config) WeekStartDay() (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.Schedule.WeekStart) {
			return d, nil
		}
	}
	return time.Monday, fmt.Errorf("schedule.week_start %q is not a weekday", c.Schedule.WeekStart)
}

// Secrets lists configured credentials so alert text can be scrubbed of them.
func (c *Config) Secrets() []string {
	return []string{c.Tracker.APIKey, c.Slack.BotToken, c.AI.APIKey, c.VCS.Token, c.Database.Password, c.Server.JWTSecret, c.MOI.APIKey}
}

func (c *Config) OpenGormDB() (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
	if c.Database.Driver == "sqlite" {
		return gorm.Open(sqlite.Open(c.Database.Path), gcfg)
	}

	cfg := gomysql.NewConfig()
	cfg.User = c.Database.User
	cfg.Passwd = c.Database.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port)
	cfg.DBName = c.Database.Name
	cfg.ParseTime = true

	connector, err := gomysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("create connector: %w", err)
	}
	sqlDB := sql.OpenDB(connector)
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return gorm.Open(mysql.New(mysql.Config{Conn: sqlDB}), gcfg)
}

// NewRawClient returns nil, nil when the MOI catalog mirror is not configured.
func (c *Config) NewRawClient() (*sdk.RawClient, error) {
	if c.MOI.APIKey == "" || c.MOI.BaseURL == "" {
		return nil, nil
	}
	return sdk.NewRawClient(c.MOI.BaseURL, c.MOI.APIKey)
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envOverrideList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}
