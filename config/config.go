package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	// EnvAdminSecret overrides AdminSecret.
	EnvAdminSecret = "BOUNTY_ADMIN_SECRET"
	// EnvDataDir overrides DataDir.
	EnvDataDir = "BOUNTY_DATA_DIR"
	// EnvListenAddress overrides ListenAddress.
	EnvListenAddress = "BOUNTY_LISTEN_ADDRESS"
)

type Config struct {
	ListenAddress  string       `toml:"ListenAddress"`
	DataDir        string       `toml:"DataDir"`
	Backend        string       `toml:"Backend"`
	NetworkName    string       `toml:"NetworkName"`
	Environment    string       `toml:"Environment"`
	Tokens         []string     `toml:"Tokens"`
	AutoInitialize bool         `toml:"AutoInitialize"`
	AllowMigrate   bool         `toml:"AllowMigrate"`
	AdminSecret    string       `toml:"AdminSecret"`
	Log            Log          `toml:"log"`
	RateLimit      RateLimit    `toml:"rate_limit"`
	Telemetry      Telemetry    `toml:"telemetry"`
	Sweeper        Sweeper      `toml:"sweeper"`
	Allocations    []Allocation `toml:"allocations"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults. A .env file next to the config, when present, is
// loaded into the environment before overrides are applied.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		created, err := createDefault(path)
		if err != nil {
			return nil, err
		}
		cfg = created
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		for _, undecoded := range meta.Undecoded() {
			if len(undecoded) == 1 && undecoded[0] == "AdminPassword" {
				return nil, fmt.Errorf("config file %s uses deprecated AdminPassword field; rename it to AdminSecret", path)
			}
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("load %s: %w", envPath, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./bounty-data"
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = BackendLevelDB
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "bounty-local"
	}
	if cfg.Tokens == nil {
		cfg.Tokens = []string{}
	}
	for i, token := range cfg.Tokens {
		cfg.Tokens[i] = strings.ToUpper(strings.TrimSpace(token))
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if cfg.RateLimit.RequestsPerSecond == 0 && cfg.RateLimit.Burst == 0 {
		defaults := DefaultRateLimit()
		cfg.RateLimit.RequestsPerSecond = defaults.RequestsPerSecond
		cfg.RateLimit.Burst = defaults.Burst
	}
	if strings.TrimSpace(cfg.Telemetry.ServiceName) == "" {
		cfg.Telemetry.ServiceName = "bountyd"
	}
	if cfg.Sweeper.Enabled && cfg.Sweeper.IntervalSeconds == 0 {
		cfg.Sweeper.IntervalSeconds = 60
	}
}

func applyEnv(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv(EnvAdminSecret)); value != "" {
		cfg.AdminSecret = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvDataDir)); value != "" {
		cfg.DataDir = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvListenAddress)); value != "" {
		cfg.ListenAddress = value
	}
}

// SweepInterval returns the expiry sweep period, zero when the sweeper is off.
func (c *Config) SweepInterval() time.Duration {
	if c == nil || !c.Sweeper.Enabled {
		return 0
	}
	return time.Duration(c.Sweeper.IntervalSeconds) * time.Second
}

// createDefault creates and saves a default configuration file with a freshly
// generated admin secret.
func createDefault(path string) (*Config, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	cfg := &Config{
		ListenAddress:  ":8080",
		DataDir:        "./bounty-data",
		Backend:        BackendLevelDB,
		NetworkName:    "bounty-local",
		Tokens:         []string{"BNT"},
		AutoInitialize: true,
		AdminSecret:    hex.EncodeToString(secret),
		Log:            Log{Level: "info"},
		RateLimit:      DefaultRateLimit(),
		Telemetry:      Telemetry{ServiceName: "bountyd"},
		Allocations:    []Allocation{},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
