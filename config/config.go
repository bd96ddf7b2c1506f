package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Elexon     ElexonConfig     `mapstructure:"elexon"`
	Difficulty DifficultyConfig `mapstructure:"difficulty"`
	Units      UnitsConfig      `mapstructure:"units"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Log        LogConfig        `mapstructure:"log"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
}

// ElexonConfig controls the settlement API client, including the global
// request budget and retry policy.
type ElexonConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRequests int           `mapstructure:"max_requests"` // per rate-limit window
	Window      time.Duration `mapstructure:"window"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Cooldown    time.Duration `mapstructure:"cooldown"` // fixed sleep after HTTP 429
}

type DifficultyConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	BlockReward float64       `mapstructure:"block_reward"`
}

type UnitsConfig struct {
	MappingFile string `mapstructure:"mapping_file"`
}

// DeviceProfile is a named hardware configuration used as the
// energy-equivalence unit for derived calculations.
type DeviceProfile struct {
	Name       string  `mapstructure:"name"`
	HashrateTH float64 `mapstructure:"hashrate_th"`
	PowerW     float64 `mapstructure:"power_w"`
}

type PipelineConfig struct {
	FetchConcurrency int             `mapstructure:"fetch_concurrency"` // outbound API cap
	WriteBatchSize   int             `mapstructure:"write_batch_size"`  // DB write cap
	Profiles         []DeviceProfile `mapstructure:"profiles"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	// TODO: env path
	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	setDefaults(v)

	// Support environment variables with dot notation (e.g., ELEXON_BASE_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("elexon.base_url", "https://data.elexon.co.uk/bmrs/api/v1")
	v.SetDefault("elexon.timeout", "30s")
	v.SetDefault("elexon.max_requests", 45)
	v.SetDefault("elexon.window", "60s")
	v.SetDefault("elexon.max_retries", 3)
	v.SetDefault("elexon.retry_delay", "1s")
	v.SetDefault("elexon.max_delay", "30s")
	v.SetDefault("elexon.cooldown", "60s")

	v.SetDefault("difficulty.base_url", "https://blockchain.info")
	v.SetDefault("difficulty.timeout", "10s")
	v.SetDefault("difficulty.block_reward", 3.125)

	v.SetDefault("units.mapping_file", "config/wind_units.json")

	v.SetDefault("pipeline.fetch_concurrency", 5)
	v.SetDefault("pipeline.write_batch_size", 50)
}
