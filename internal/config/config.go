// Package config loads the service configuration from config.yaml and
// FLOWDESK_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the root configuration tree.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Mailbox       MailboxConfig       `mapstructure:"mailbox"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	WorkspaceID string `mapstructure:"workspace_id"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MailboxConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Address     string `mapstructure:"address"`
	AppPassword string `mapstructure:"app_password"`
	Folder      string `mapstructure:"folder"`
}

type SyncConfig struct {
	WindowDays    int           `mapstructure:"window_days"`
	PollBudget    time.Duration `mapstructure:"poll_budget"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	JobIDWidth    int           `mapstructure:"job_id_width"`
	ParseParallel int           `mapstructure:"parse_parallel"`
}

type NotificationsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type SchedulerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Spec    string `mapstructure:"spec"`
}

var (
	once    sync.Once
	cfg     *Config
	loadErr error
)

// Load reads the configuration once and caches it. Later calls return
// the cached tree.
func Load() (*Config, error) {
	once.Do(func() {
		cfg, loadErr = load()
	})
	return cfg, loadErr
}

// Get returns the loaded configuration and panics if Load never ran
// successfully. Handlers use it after main has loaded.
func Get() *Config {
	c, err := Load()
	if err != nil {
		panic(fmt.Sprintf("config: not loaded: %v", err))
	}
	return c
}

func load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/flowdesk")

	v.SetEnvPrefix("FLOWDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		// Defaults plus environment carry a dev setup.
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("config: %s changed, restart to apply", e.Name)
	})
	v.WatchConfig()

	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "flowdesk")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.workspace_id", "default")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "flowdesk")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("mailbox.host", "imap.gmail.com")
	v.SetDefault("mailbox.port", 993)
	v.SetDefault("mailbox.folder", "INBOX")
	v.SetDefault("sync.window_days", 30)
	v.SetDefault("sync.poll_budget", 60*time.Second)
	v.SetDefault("sync.cooldown", 15*time.Second)
	v.SetDefault("sync.job_id_width", 3)
	v.SetDefault("sync.parse_parallel", 4)
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.port", 587)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.spec", "@every 5m")
}
