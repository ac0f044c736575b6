package config

import (
	"fmt"
	"time"

	"govledger/federation"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full node configuration, loaded from YAML via viper and
// validated in one place.
type Config struct {
	Server struct {
		Port int `mapstructure:"port" validate:"required,gt=0,lte=65535"`
	} `mapstructure:"server"`

	LevelDB struct {
		Path string `mapstructure:"path" validate:"required"`
	} `mapstructure:"leveldb"`

	Log struct {
		AppLogFile string `mapstructure:"app_log_file" validate:"required"`
		Level      string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	} `mapstructure:"log"`

	Node struct {
		Scope   string `mapstructure:"scope" validate:"required"`
		Network string `mapstructure:"network" validate:"required"`
	} `mapstructure:"node"`

	Governance struct {
		EligibleVoters int           `mapstructure:"eligible_voters" validate:"required,gt=0"`
		SweepInterval  time.Duration `mapstructure:"sweep_interval" validate:"required"`
	} `mapstructure:"governance"`

	Federation struct {
		Peers         []federation.PeerEndpoint `mapstructure:"peers" validate:"dive"`
		MinPeers      int                       `mapstructure:"min_peers" validate:"gte=0"`
		CheckInterval time.Duration             `mapstructure:"check_interval" validate:"required"`
		PeerTimeout   time.Duration             `mapstructure:"peer_timeout" validate:"required"`
		MaxConcurrent int                       `mapstructure:"max_concurrent" validate:"gte=0"`
	} `mapstructure:"federation"`

	Executor struct {
		// Command, when set, is the external executor invoked with the
		// proposal program on stdin. Empty disables the execute endpoint.
		Command string `mapstructure:"command"`
	} `mapstructure:"executor"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
