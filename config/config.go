package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const (
	ConfigPathFlag    = "config"
	DefaultConfigPath = "mrcrypt.yaml"
)

type (
	ConfigProvider interface {
		GetConfig() Config
	}

	Config struct {
		Defaults   DefaultsConfig   `yaml:"defaults"`
		Encryption EncryptionConfig `yaml:"encryption"`
		Metrics    MetricsConfig    `yaml:"metrics"`
		LogLevel   string           `yaml:"log_level,omitempty"`
	}

	// DefaultsConfig supplies values for flags the caller omits.
	DefaultsConfig struct {
		Profile    string   `yaml:"profile,omitempty"`
		Regions    []string `yaml:"regions,omitempty"`
		KeyID      string   `yaml:"key_id,omitempty"`
		Provider   string   `yaml:"provider,omitempty"`
		GCPKeyName string   `yaml:"gcp_key_name,omitempty"`
	}

	EncryptionConfig struct {
		Caching CachingConfig `yaml:"caching"`
	}

	CachingConfig struct {
		MaxCache int    `yaml:"max_cache,omitempty"`
		MaxAge   string `yaml:"max_age,omitempty"`
		MaxUsage int    `yaml:"max_usage,omitempty"`
	}

	MetricsConfig struct {
		Host string `yaml:"host,omitempty"`
		Port int    `yaml:"port,omitempty"`
	}

	cliConfigProvider struct {
		ctx    *cli.Context
		config Config
	}
)

func newConfigProvider(ctx *cli.Context) (ConfigProvider, error) {
	path := ctx.String(ConfigPathFlag)

	config, err := LoadConfig(path)
	if err != nil {
		// The config file is optional unless the caller pointed at one.
		if errors.Is(err, os.ErrNotExist) && !ctx.IsSet(ConfigPathFlag) {
			return &cliConfigProvider{ctx: ctx}, nil
		}
		return nil, err
	}

	return &cliConfigProvider{
		ctx:    ctx,
		config: config,
	}, nil
}

func (c *cliConfigProvider) GetConfig() Config {
	return c.config
}

func LoadConfig(configFilePath string) (Config, error) {
	var config Config

	configFile, err := os.ReadFile(configFilePath)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(configFile, &config); err != nil {
		return config, fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return config, nil
}
