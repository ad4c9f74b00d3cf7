package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/backend"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 5 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultMaxConcurrent   = 8
	defaultMaxSourceBytes  = 64 << 10
	defaultMaxTestCases    = 256
	defaultMetricsPath     = "/metrics"
	defaultKafkaDial       = 10 * time.Second

	logLevelEnv = "JUDGE_LOG"
)

// defaultSessionLimits apply to every sandboxed process unless the language
// configuration sets the field.
var defaultSessionLimits = spec.ResourceLimit{
	StackMB:  64,
	OutputMB: 16,
	PIDs:     64,
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// MaxConcurrent bounds submissions judged at once over HTTP.
	MaxConcurrent int64 `yaml:"maxConcurrent"`
}

// JudgeConfig holds judging settings.
type JudgeConfig struct {
	WorkRoot string `yaml:"workRoot"`
	// Identities are pre-provisioned users sandboxed code runs as. Empty
	// means dev mode: sandboxed code runs as the service user.
	Identities     []string           `yaml:"identities"`
	MaxSourceBytes int                `yaml:"maxSourceBytes"`
	MaxTestCases   int                `yaml:"maxTestCases"`
	CloseTimeout   time.Duration      `yaml:"closeTimeout"`
	Limits         spec.ResourceLimit `yaml:"limits"`
}

// SandboxConfig holds sandbox engine settings.
type SandboxConfig struct {
	HelperPath           string `yaml:"helperPath"`
	CgroupRoot           string `yaml:"cgroupRoot"`
	SeccompProfile       string `yaml:"seccompProfile"`
	DisableNetwork       bool   `yaml:"disableNetwork"`
	StdoutStderrMaxBytes int64  `yaml:"stdoutStderrMaxBytes"`
	EnableSeccomp        bool   `yaml:"enableSeccomp"`
	EnableCgroup         bool   `yaml:"enableCgroup"`
	EnableNamespaces     bool   `yaml:"enableNamespaces"`
	// ScratchDirs are shadowed by a private tmpfs inside the namespace and
	// swept of files left by a restricted identity when its session closes.
	ScratchDirs []string `yaml:"scratchDirs"`
	// AllowUntrackedProcesses accepts dev mode without cgroups. A program
	// that calls setsid then escapes the process group kill and outlives
	// its session.
	AllowUntrackedProcesses bool `yaml:"allowUntrackedProcesses"`
}

// KafkaConfig holds Kafka settings. The transport is off when Brokers is empty.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	Compression   string        `yaml:"compression"`
	SubmitTopic   string        `yaml:"submitTopic"`
	ResultTopic   string        `yaml:"resultTopic"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Concurrency   int           `yaml:"concurrency"`
	PrefetchCount int           `yaml:"prefetchCount"`
}

// MetricsConfig holds prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AppConfig holds judge-service config. It is built once at start and never
// changed afterwards.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Logger   logger.Config  `yaml:"logger"`
	Judge    JudgeConfig    `yaml:"judge"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Language backend.Config `yaml:"language"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Metrics  MetricsConfig  `yaml:"metrics"`
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

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Judge.WorkRoot == "" {
		return nil, fmt.Errorf("judge work root is required")
	}
	if cfg.Sandbox.EnableCgroup && cfg.Sandbox.CgroupRoot == "" {
		return nil, fmt.Errorf("sandbox cgroup root is required when cgroups are enabled")
	}
	if cfg.Sandbox.EnableSeccomp && cfg.Sandbox.SeccompProfile == "" {
		return nil, fmt.Errorf("sandbox seccomp profile is required when seccomp is enabled")
	}
	if len(cfg.Kafka.Brokers) > 0 && (cfg.Kafka.SubmitTopic == "" || cfg.Kafka.ResultTopic == "") {
		return nil, fmt.Errorf("kafka submit and result topics are required when brokers are set")
	}
	if len(cfg.Judge.Identities) == 0 && !cfg.Sandbox.EnableCgroup && !cfg.Sandbox.AllowUntrackedProcesses {
		return nil, fmt.Errorf("dev mode without identities needs cgroups to track session processes; set sandbox.allowUntrackedProcesses to run without")
	}

	if level := strings.TrimSpace(os.Getenv(logLevelEnv)); level != "" {
		cfg.Logger.Level = level
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "debug"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.MaxConcurrent <= 0 {
		cfg.Server.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Judge.MaxSourceBytes <= 0 {
		cfg.Judge.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.Judge.MaxTestCases <= 0 {
		cfg.Judge.MaxTestCases = defaultMaxTestCases
	}
	cfg.Judge.Limits = cfg.Judge.Limits.Merge(defaultSessionLimits)
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
	if cfg.Kafka.DialTimeout <= 0 {
		cfg.Kafka.DialTimeout = defaultKafkaDial
	}
	if len(cfg.Sandbox.ScratchDirs) == 0 {
		cfg.Sandbox.ScratchDirs = append([]string(nil), security.DefaultScratchDirs...)
	}
	if cfg.Kafka.Concurrency <= 0 {
		cfg.Kafka.Concurrency = int(cfg.Server.MaxConcurrent)
	}
	return &cfg, nil
}

func (j JudgeConfig) intakeLimits() model.IntakeLimits {
	return model.IntakeLimits{MaxSourceBytes: j.MaxSourceBytes, MaxTestCases: j.MaxTestCases}
}

func (k KafkaConfig) enabled() bool {
	return len(k.Brokers) > 0
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	cfg := mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		ReadTimeout:  k.ReadTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
	}
	cfg.Compression = parseCompression(k.Compression)
	return cfg
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

func (s SandboxConfig) toEngineConfig() engine.Config {
	return engine.Config{
		HelperPath: s.HelperPath,
		CgroupRoot: s.CgroupRoot,
		Isolation: security.IsolationProfile{
			SeccompProfile: s.SeccompProfile,
			DisableNetwork: s.DisableNetwork,
			ScratchDirs:    s.ScratchDirs,
		},
		StdoutStderrMaxBytes: s.StdoutStderrMaxBytes,
		EnableSeccomp:        s.EnableSeccomp,
		EnableCgroup:         s.EnableCgroup,
		EnableNamespaces:     s.EnableNamespaces,
	}
}
