package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "judge_service.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	t.Setenv(logLevelEnv, "")
	path := writeConfig(t, `
judge:
  workRoot: /tmp/sessions
  limits:
    pids: 16
sandbox:
  allowUntrackedProcesses: true
language:
  runLimits:
    wallTimeMs: 2000
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Server.MaxConcurrent != defaultMaxConcurrent {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Logger.Level != "debug" {
		t.Fatalf("expected debug level by default, got %q", cfg.Logger.Level)
	}
	if cfg.Judge.Limits.PIDs != 16 || cfg.Judge.Limits.StackMB != 64 || cfg.Judge.Limits.OutputMB != 16 {
		t.Fatalf("unexpected session limits: %+v", cfg.Judge.Limits)
	}
	if cfg.Language.RunLimits.WallTimeMs != 2000 {
		t.Fatalf("unexpected language limits: %+v", cfg.Language.RunLimits)
	}
	limits := cfg.Judge.intakeLimits()
	if limits.MaxSourceBytes != defaultMaxSourceBytes || limits.MaxTestCases != defaultMaxTestCases {
		t.Fatalf("unexpected intake limits: %+v", limits)
	}
	if cfg.Kafka.enabled() {
		t.Fatalf("kafka must be off without brokers")
	}
	if cfg.Metrics.Path != defaultMetricsPath {
		t.Fatalf("unexpected metrics path %q", cfg.Metrics.Path)
	}
	if cfg.Kafka.DialTimeout != defaultKafkaDial {
		t.Fatalf("unexpected kafka dial timeout %v", cfg.Kafka.DialTimeout)
	}
	if got := cfg.Sandbox.toEngineConfig().Isolation.ScratchDirs; len(got) != 3 || got[0] != "/tmp" {
		t.Fatalf("unexpected scratch dirs %v", got)
	}
}

func TestLoadAppConfigLogLevelEnv(t *testing.T) {
	t.Setenv(logLevelEnv, "warn")
	cfg, err := loadAppConfig(writeConfig(t, "logger:\n  level: info\njudge:\n  workRoot: /tmp/s\nsandbox:\n  allowUntrackedProcesses: true\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Logger.Level != "warn" {
		t.Fatalf("expected env to override level, got %q", cfg.Logger.Level)
	}
}

func TestLoadAppConfigDurationsAndKafka(t *testing.T) {
	cfg, err := loadAppConfig(writeConfig(t, `
server:
  readTimeout: 3s
judge:
  workRoot: /tmp/s
  closeTimeout: 1m
  identities: [judge1]
kafka:
  brokers: ["127.0.0.1:9092"]
  submitTopic: in
  resultTopic: out
  compression: lz4
  requiredAcks: -1
`))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.ReadTimeout != 3*time.Second || cfg.Judge.CloseTimeout != time.Minute {
		t.Fatalf("unexpected durations: %v %v", cfg.Server.ReadTimeout, cfg.Judge.CloseTimeout)
	}
	if cfg.Kafka.Concurrency != defaultMaxConcurrent {
		t.Fatalf("expected kafka concurrency to follow the server limit, got %d", cfg.Kafka.Concurrency)
	}
	mqCfg := cfg.Kafka.toMQConfig()
	if mqCfg.Compression != kafka.Lz4 || mqCfg.RequiredAcks != kafka.RequireAll {
		t.Fatalf("unexpected kafka config: %+v", mqCfg)
	}
}

func TestLoadAppConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "missing work root", body: "server:\n  addr: \":0\"\n", want: "work root"},
		{name: "cgroup without root", body: "judge:\n  workRoot: /s\nsandbox:\n  enableCgroup: true\n", want: "cgroup root"},
		{name: "seccomp without profile", body: "judge:\n  workRoot: /s\nsandbox:\n  enableSeccomp: true\n", want: "seccomp profile"},
		{name: "kafka without topics", body: "judge:\n  workRoot: /s\nkafka:\n  brokers: [b:9092]\n", want: "topics"},
		{name: "dev mode without cgroups", body: "judge:\n  workRoot: /s\n", want: "allowUntrackedProcesses"},
		{name: "bad yaml", body: "judge: [", want: "parse config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadAppConfig(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if _, err := loadAppConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := loadAppConfig(filepath.Join("..", "..", "configs", "judge_service.yaml"))
	if err != nil {
		t.Fatalf("shipped config does not load: %v", err)
	}
	if !cfg.Sandbox.EnableSeccomp || cfg.Sandbox.SeccompProfile == "" || len(cfg.Judge.Identities) == 0 {
		t.Fatalf("shipped config must enable isolation: %+v", cfg.Sandbox)
	}
	eng := cfg.Sandbox.toEngineConfig()
	if !eng.Isolation.DisableNetwork || eng.CgroupRoot == "" {
		t.Fatalf("unexpected engine config: %+v", eng)
	}
}
