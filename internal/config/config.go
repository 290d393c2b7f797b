// Package config resolves the simulator's runtime tunables. Values come from
// an optional YAML file (SIM_CONFIG_FILE) overlaid by SIM_* environment
// variables, with validated defaults for everything left unset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBindAddr is the UDP address the LLUDP transport listens on.
	DefaultBindAddr = "0.0.0.0:9000"
	// DefaultStatusAddr serves the operational HTTP surface.
	DefaultStatusAddr = ":9001"
	// DefaultHealthAddr serves the gRPC health endpoint. Empty disables it.
	DefaultHealthAddr = ""
	// DefaultMaxPacketSize bounds one inbound datagram.
	DefaultMaxPacketSize = 1200
	// DefaultResendTimeout is how long a reliable packet waits for an ack.
	DefaultResendTimeout = 100 * time.Millisecond
	// DefaultMaxResends bounds retransmission attempts per reliable packet.
	DefaultMaxResends = 3
	// DefaultAckTimeout bounds how long received sequences wait before being acked.
	DefaultAckTimeout = time.Second
	// DefaultPingInterval is the heartbeat cadence per circuit.
	DefaultPingInterval = 5 * time.Second
	// DefaultClientTimeout evicts circuits with no inbound traffic.
	DefaultClientTimeout = 60 * time.Second
	// DefaultChatRange filters chat fan-out by distance (metres).
	DefaultChatRange = 20.0
	// DefaultRegionName labels the region in handshakes and chat relays.
	DefaultRegionName = "Verdantia"

	// DefaultLogLevel controls simulator log verbosity.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "simulator.log"
	// DefaultLogMaxSizeMB caps one log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogCompress gzips rotated log files.
	DefaultLogCompress = true
)

// Config captures every runtime tunable for the simulator process.
type Config struct {
	BindAddr      string        `yaml:"bind_addr"`
	StatusAddr    string        `yaml:"status_addr"`
	HealthAddr    string        `yaml:"health_addr"`
	MaxPacketSize int           `yaml:"max_packet_size"`
	ResendTimeout time.Duration `yaml:"resend_timeout"`
	MaxResends    int           `yaml:"max_resends"`
	AckTimeout    time.Duration `yaml:"ack_timeout"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	ClientTimeout time.Duration `yaml:"client_timeout"`
	ChatRange     float64       `yaml:"chat_range"`
	RegionName    string        `yaml:"region_name"`
	AdminToken    string        `yaml:"admin_token"`
	TraceDir      string        `yaml:"trace_dir"`
	Accounts      []Account     `yaml:"accounts"`
	Logging       Logging       `yaml:"logging"`
}

// Account seeds one viewer account into the login service at startup.
type Account struct {
	First    string `yaml:"first"`
	Last     string `yaml:"last"`
	Password string `yaml:"password"`
}

// Logging captures the structured logging options.
type Logging struct {
	Level      string `yaml:"level"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

func defaults() *Config {
	return &Config{
		BindAddr:      DefaultBindAddr,
		StatusAddr:    DefaultStatusAddr,
		HealthAddr:    DefaultHealthAddr,
		MaxPacketSize: DefaultMaxPacketSize,
		ResendTimeout: DefaultResendTimeout,
		MaxResends:    DefaultMaxResends,
		AckTimeout:    DefaultAckTimeout,
		PingInterval:  DefaultPingInterval,
		ClientTimeout: DefaultClientTimeout,
		ChatRange:     DefaultChatRange,
		RegionName:    DefaultRegionName,
		Logging: Logging{
			Level:      DefaultLogLevel,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			Compress:   DefaultLogCompress,
		},
	}
}

// Load resolves the configuration: defaults, then the optional YAML file,
// then SIM_* environment overrides. Invalid overrides are collected into a
// single descriptive error.
func Load() (*Config, error) {
	cfg := defaults()

	//1.- Overlay the YAML file when one is configured.
	if path := strings.TrimSpace(os.Getenv("SIM_CONFIG_FILE")); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	//2.- Environment variables win over file values.
	var problems []string

	setString(&cfg.BindAddr, "SIM_BIND_ADDR")
	setString(&cfg.StatusAddr, "SIM_STATUS_ADDR")
	setString(&cfg.HealthAddr, "SIM_HEALTH_ADDR")
	setString(&cfg.RegionName, "SIM_REGION_NAME")
	setString(&cfg.AdminToken, "SIM_ADMIN_TOKEN")
	setString(&cfg.TraceDir, "SIM_TRACE_DIR")
	setString(&cfg.Logging.Level, "SIM_LOG_LEVEL")
	setString(&cfg.Logging.Path, "SIM_LOG_PATH")

	setPositiveInt(&cfg.MaxPacketSize, "SIM_MAX_PACKET_SIZE", &problems)
	setPositiveInt(&cfg.MaxResends, "SIM_MAX_RESENDS", &problems)
	setPositiveInt(&cfg.Logging.MaxSizeMB, "SIM_LOG_MAX_SIZE_MB", &problems)

	setDuration(&cfg.ResendTimeout, "SIM_RESEND_TIMEOUT", &problems)
	setDuration(&cfg.AckTimeout, "SIM_ACK_TIMEOUT", &problems)
	setDuration(&cfg.PingInterval, "SIM_PING_INTERVAL", &problems)
	setDuration(&cfg.ClientTimeout, "SIM_CLIENT_TIMEOUT", &problems)

	if raw := strings.TrimSpace(os.Getenv("SIM_CHAT_RANGE")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SIM_CHAT_RANGE must be a positive number, got %q", raw))
		} else {
			cfg.ChatRange = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SIM_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("SIM_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SIM_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("SIM_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	//3.- Cross-field sanity checks.
	if cfg.PingInterval >= cfg.ClientTimeout {
		problems = append(problems, fmt.Sprintf(
			"ping interval %s must be shorter than client timeout %s", cfg.PingInterval, cfg.ClientTimeout))
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func setString(target *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*target = value
	}
}

func setPositiveInt(target *int, key string, problems *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive integer, got %q", key, raw))
		return
	}
	*target = value
}

func setDuration(target *time.Duration, key string, problems *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*target = value
}
