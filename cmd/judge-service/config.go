package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"judgebox/internal/common/cache"
	commonmw "judgebox/internal/common/http/middleware"
	"judgebox/internal/common/mq"
	"judgebox/internal/common/ratelimit"
	"judgebox/internal/judge/sandbox/engine"
	"judgebox/internal/judge/sandbox/limits"
	"judgebox/internal/judge/sandbox/profile"
	"judgebox/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8000"
	defaultServiceName     = "judgebox"
	defaultReadTimeout     = 5 * time.Second
	defaultQueueWait       = 2 * time.Second
	defaultEvaluateTimeout = 5 * time.Minute
	// writeTimeoutMargin covers encoding and storing the verdict after evaluation ends.
	writeTimeoutMargin = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultWorkRoot        = "/tmp/judgebox"
	defaultResultTTL       = 24 * time.Hour
	defaultStoreTimeout    = 2 * time.Second
	defaultVerdictTopic    = "judge.verdict"
	defaultRateWindow      = time.Minute
	defaultRateMax         = 60
	defaultRedisTimeout    = 100 * time.Millisecond
	defaultSweepInterval   = time.Minute
	envPrefix              = "JUDGE_"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ServiceName  string        `yaml:"serviceName"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// JudgeConfig holds admission and evaluation settings.
type JudgeConfig struct {
	WorkRoot        string        `yaml:"workRoot"`
	MaxConcurrent   int64         `yaml:"maxConcurrent"`
	QueueWait       time.Duration `yaml:"queueWait"`
	EvaluateTimeout time.Duration `yaml:"evaluateTimeout"`
	MaxCodeBytes    int           `yaml:"maxCodeBytes"`
}

// SandboxConfig holds sandbox engine settings.
type SandboxConfig struct {
	Backend          engine.Backend `yaml:"backend"`
	CgroupRoot       string         `yaml:"cgroupRoot"`
	SeccompDir       string         `yaml:"seccompDir"`
	HelperPath       string         `yaml:"helperPath"`
	EnableSeccomp    bool           `yaml:"enableSeccomp"`
	EnableCgroup     bool           `yaml:"enableCgroup"`
	EnableNamespaces bool           `yaml:"enableNamespaces"`
	ContainerWorkDir string         `yaml:"containerWorkDir"`
	PullImages       bool           `yaml:"pullImages"`
}

// LanguageConfig holds language definitions layered over the built-in table.
type LanguageConfig struct {
	Languages []profile.LanguageSpec `yaml:"languages"`
	Profiles  []profile.TaskProfile  `yaml:"profiles"`
}

// ResultConfig holds result store settings.
type ResultConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
}

// EventConfig holds verdict event settings.
type EventConfig struct {
	Enabled bool           `yaml:"enabled"`
	Topic   string         `yaml:"topic"`
	Kafka   mq.KafkaConfig `yaml:"kafka"`
}

// RateLimitConfig holds per-IP limits for the judging routes.
type RateLimitConfig struct {
	Enabled       bool             `yaml:"enabled"`
	Evaluate      ratelimit.Policy `yaml:"evaluate"`
	Execute       ratelimit.Policy `yaml:"execute"`
	RedisTimeout  time.Duration    `yaml:"redisTimeout"`
	SweepInterval time.Duration    `yaml:"sweepInterval"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server    ServerConfig        `yaml:"server"`
	Logger    logger.Config       `yaml:"logger"`
	Redis     cache.RedisConfig   `yaml:"redis"`
	Events    EventConfig         `yaml:"events"`
	Results   ResultConfig        `yaml:"results"`
	RateLimit RateLimitConfig     `yaml:"rateLimit"`
	CORS      commonmw.CORSConfig `yaml:"cors"`
	Judge     JudgeConfig         `yaml:"judge"`
	Limits    limits.Config       `yaml:"limits"`
	Sandbox   SandboxConfig       `yaml:"sandbox"`
	Language  LanguageConfig      `yaml:"language"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads the YAML file, then .env, then JUDGE_* variables. A missing file is allowed.
func loadAppConfig(path string) (*AppConfig, error) {
	cfg := AppConfig{CORS: commonmw.DefaultCORSConfig()}
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env failed: %w", err)
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *AppConfig, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return nil
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
		}
		*dst = parsed
		return nil
	}

	str("ADDR", &cfg.Server.Addr)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("WORK_ROOT", &cfg.Judge.WorkRoot)
	str("LOG_LEVEL", &cfg.Logger.Level)
	str("EVENT_TOPIC", &cfg.Events.Topic)

	var backend string
	str("BACKEND", &backend)
	if backend != "" {
		cfg.Sandbox.Backend = engine.Backend(strings.ToLower(backend))
	}
	if v, ok := lookup(envPrefix + "KAFKA_BROKERS"); ok {
		cfg.Events.Kafka.Brokers = splitList(v)
		cfg.Events.Enabled = len(cfg.Events.Kafka.Brokers) > 0
	}
	if v, ok := lookup(envPrefix + "MAX_CONCURRENT"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_CONCURRENT: %w", envPrefix, err)
		}
		cfg.Judge.MaxConcurrent = n
	}
	if err := boolean("RATE_LIMIT", &cfg.RateLimit.Enabled); err != nil {
		return err
	}
	return boolean("EVENTS", &cfg.Events.Enabled)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ServiceName == "" {
		cfg.Server.ServiceName = defaultServiceName
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
	if cfg.Judge.WorkRoot == "" {
		cfg.Judge.WorkRoot = defaultWorkRoot
	}
	if cfg.Judge.MaxConcurrent <= 0 {
		cfg.Judge.MaxConcurrent = 4
	}
	if cfg.Judge.QueueWait == 0 {
		cfg.Judge.QueueWait = defaultQueueWait
	}
	if cfg.Judge.EvaluateTimeout == 0 {
		cfg.Judge.EvaluateTimeout = defaultEvaluateTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = minWriteTimeout(cfg.Judge) + writeTimeoutMargin
	}
	if cfg.Sandbox.Backend == "" {
		cfg.Sandbox.Backend = engine.BackendProcess
	}
	if cfg.Results.TTL == 0 {
		cfg.Results.TTL = defaultResultTTL
	}
	if cfg.Results.Timeout == 0 {
		cfg.Results.Timeout = defaultStoreTimeout
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = defaultVerdictTopic
	}
	applyPolicyDefaults(&cfg.RateLimit.Evaluate)
	applyPolicyDefaults(&cfg.RateLimit.Execute)
	if cfg.RateLimit.RedisTimeout == 0 {
		cfg.RateLimit.RedisTimeout = defaultRedisTimeout
	}
	if cfg.RateLimit.SweepInterval == 0 {
		cfg.RateLimit.SweepInterval = defaultSweepInterval
	}
	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis)
	}
}

func applyPolicyDefaults(p *ratelimit.Policy) {
	if p.Max <= 0 {
		p.Max = defaultRateMax
	}
	if p.Window <= 0 {
		p.Window = defaultRateWindow
	}
}

func validate(cfg *AppConfig) error {
	switch cfg.Sandbox.Backend {
	case engine.BackendProcess, engine.BackendDocker:
	default:
		return fmt.Errorf("unknown sandbox backend %q", cfg.Sandbox.Backend)
	}
	if cfg.Events.Enabled && len(cfg.Events.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when events are enabled")
	}
	if cfg.Judge.QueueWait < 0 || cfg.Judge.EvaluateTimeout < 0 {
		return fmt.Errorf("judge queueWait and evaluateTimeout must not be negative")
	}
	// A shorter write deadline would cut the connection before a slow evaluation reports.
	if need := minWriteTimeout(cfg.Judge); cfg.Server.WriteTimeout <= need {
		return fmt.Errorf("server writeTimeout %s must exceed judge queueWait plus evaluateTimeout (%s)",
			cfg.Server.WriteTimeout, need)
	}
	return nil
}

// minWriteTimeout is the longest an evaluate request can legitimately take to answer.
func minWriteTimeout(j JudgeConfig) time.Duration {
	return j.QueueWait + j.EvaluateTimeout
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

// toEngineConfig builds the engine settings. Captured output is bounded by the resource
// policy so a single limit governs both backends.
func (s SandboxConfig) toEngineConfig(outputMaxBytes int64) engine.Config {
	return engine.Config{
		CgroupRoot:           s.CgroupRoot,
		SeccompDir:           s.SeccompDir,
		HelperPath:           s.HelperPath,
		StdoutStderrMaxBytes: outputMaxBytes,
		EnableSeccomp:        s.EnableSeccomp,
		EnableCgroup:         s.EnableCgroup,
		EnableNamespaces:     s.EnableNamespaces,
		ContainerWorkDir:     s.ContainerWorkDir,
		PullImages:           s.PullImages,
	}
}
