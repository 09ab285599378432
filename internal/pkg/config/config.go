// internal/pkg/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	StorageMemory = "memory"
	StorageMySQL  = "mysql"

	LockLocal     = "local"
	LockZookeeper = "zookeeper"
)

type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Fraud     FraudConfig     `yaml:"fraud"`
	Billing   BillingConfig   `yaml:"billing"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
}

type ServiceConfig struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	Timezone string `yaml:"timezone"` // 计算 "今天" 所用的时区
}

type RankingConfig struct {
	Weight        float64       `yaml:"weight"`
	TieEpsilon    float64       `yaml:"tie_epsilon"`
	TimeBucket    time.Duration `yaml:"time_bucket"`
	CandidatePool int           `yaml:"candidate_pool"`
}

type FraudConfig struct {
	Window            time.Duration `yaml:"window"`
	ScorePerRepeat    int           `yaml:"score_per_repeat"`
	MaxAdsPerIPPerDay int           `yaml:"max_ads_per_ip_per_day"`
	BlockScore        int           `yaml:"block_score"`
	UseRedis          bool          `yaml:"use_redis"`
}

type BillingConfig struct {
	LockBackend string        `yaml:"lock_backend"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type StorageConfig struct {
	Backend     string      `yaml:"backend"`
	AutoMigrate bool        `yaml:"auto_migrate"`
	MySQL       MySQLConfig `yaml:"mysql"`
}

type MySQLConfig struct {
	Addr         string        `yaml:"addr"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnMaxLife  time.Duration `yaml:"conn_max_life"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	EventsTopic   string   `yaml:"events_topic"`
	TopUpTopic    string   `yaml:"topup_topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type TracingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type CatalogConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type MatcherConfig struct {
	// CELExpression 为空时使用默认的关键词/类目匹配
	CELExpression string `yaml:"cel_expression"`
}

type SweeperConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Default 返回代码内置的默认配置
func Default() *Config {
	return &Config{
		Service: ServiceConfig{Name: "ads-service", Port: 8090, LogLevel: "info", Timezone: "UTC"},
		Ranking: RankingConfig{Weight: 0.3, TieEpsilon: 0.01, TimeBucket: 5 * time.Second, CandidatePool: 200},
		Fraud: FraudConfig{
			Window:            5 * time.Minute,
			ScorePerRepeat:    25,
			MaxAdsPerIPPerDay: 10,
			BlockScore:        100,
		},
		Billing: BillingConfig{LockBackend: LockLocal, LockTimeout: 3 * time.Second},
		Storage: StorageConfig{
			Backend: StorageMemory,
			MySQL: MySQLConfig{
				Addr: "localhost:3306", User: "root", Database: "adengine",
				MaxOpenConns: 50, MaxIdleConns: 10, ConnMaxLife: time.Hour,
			},
		},
		Redis: RedisConfig{Addrs: []string{"localhost:6379"}},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			EventsTopic:   "ads-billing-events",
			TopUpTopic:    "wallet.topped_up",
			ConsumerGroup: "ads-service",
		},
		Zookeeper: ZookeeperConfig{Servers: []string{"localhost:2181"}, SessionTimeout: 10 * time.Second},
		Tracing:   TracingConfig{JaegerEndpoint: "http://localhost:14268/api/traces"},
		Nacos:     NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
		Catalog:   CatalogConfig{Timeout: 800 * time.Millisecond},
		Sweeper:   SweeperConfig{Interval: time.Minute},
	}
}

// Load 读取 YAML 配置覆盖默认值，然后应用环境变量覆盖。path 为空或文件不存在时只使用默认值。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config %s", path)
			}
		case !os.IsNotExist(err):
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Service.Port = getEnvInt("PORT", c.Service.Port)
	c.Service.LogLevel = getEnv("LOG_LEVEL", c.Service.LogLevel)
	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.MySQL.Addr = getEnv("MYSQL_ADDR", c.Storage.MySQL.Addr)
	c.Storage.MySQL.User = getEnv("MYSQL_USER", c.Storage.MySQL.User)
	c.Storage.MySQL.Password = getEnv("MYSQL_PASSWORD", c.Storage.MySQL.Password)
	c.Storage.MySQL.Database = getEnv("MYSQL_DATABASE", c.Storage.MySQL.Database)
	c.Redis.Addrs = getEnvList("REDIS_ADDRS", c.Redis.Addrs)
	c.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Zookeeper.Servers = getEnvList("ZK_SERVERS", c.Zookeeper.Servers)
	c.Tracing.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", c.Tracing.JaegerEndpoint)
	c.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Nacos.ServerAddrs)
	c.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Nacos.Namespace)
	c.Nacos.Group = getEnv("NACOS_GROUP", c.Nacos.Group)
	c.Catalog.BaseURL = getEnv("CATALOG_BASE_URL", c.Catalog.BaseURL)
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageMemory, StorageMySQL:
	default:
		return errors.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Billing.LockBackend {
	case LockLocal, LockZookeeper:
	default:
		return errors.Errorf("unknown lock backend %q", c.Billing.LockBackend)
	}
	if c.Ranking.Weight < 0 || c.Ranking.TieEpsilon < 0 {
		return errors.New("ranking weight and tie_epsilon must not be negative")
	}
	if c.Fraud.Window <= 0 {
		return errors.New("fraud window must be positive")
	}
	if c.Sweeper.Interval <= 0 {
		return errors.New("sweeper interval must be positive")
	}
	if _, err := time.LoadLocation(c.Service.Timezone); err != nil {
		return errors.Wrapf(err, "invalid timezone %q", c.Service.Timezone)
	}
	return nil
}

// Location 返回配置的时区，Validate 已保证可解析
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Service.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv 从环境变量中读取配置
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
