package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/0chain/errors"
	"github.com/spf13/viper"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
)

// SetupDefaultConfig - setup the default config options that can be overridden via the config file
func SetupDefaultConfig() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.console", false)

	viper.SetDefault("gateway.url", "")
	viper.SetDefault("gateway.poll_interval", 5*time.Second)
	viper.SetDefault("gateway.request_timeout", 30*time.Second)
	viper.SetDefault("gateway.max_retries", 4)
	viper.SetDefault("gateway.hosts_ttl", time.Minute)

	viper.SetDefault("redundancy.data", 10)
	viper.SetDefault("redundancy.parity", 10)

	viper.SetDefault("upload.pool_size", 5)
	viper.SetDefault("download.pool_size", 30)

	viper.SetDefault("dialer.max_idle_conns", 64)
	viper.SetDefault("dialer.idle_conn_timeout", 5*time.Minute)
	viper.SetDefault("dialer.handshake_timeout", 10*time.Second)

	viper.SetDefault("handlers.rate_limit", 0)
}

/*SetupConfig - setup the configuration system */
func SetupConfig(configPath string) {
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()
	viper.SetConfigName("strand")

	if configPath == "" {
		viper.AddConfigPath("./config")
	} else {
		viper.AddConfigPath(configPath)
	}

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %s", err))
	}
}

const (
	DeploymentDevelopment = 0
	DeploymentTestNet     = 1
	DeploymentMainNet     = 2
)

type Config struct {
	DeploymentMode int

	// GatewayURL is the base URL of the application gateway.
	GatewayURL string
	// PollInterval between approval status checks.
	PollInterval time.Duration
	// RequestTimeout for a single gateway round trip.
	RequestTimeout time.Duration
	// MaxRetries for transient gateway failures.
	MaxRetries int
	// HostsTTL bounds how long a fetched host set is served from cache.
	HostsTTL time.Duration

	// DataShards and ParityShards fix the erasure geometry of uploads.
	DataShards   int
	ParityShards int

	UploadPoolSize   int
	DownloadPoolSize int

	MaxIdleConns     int
	IdleConnTimeout  time.Duration
	HandshakeTimeout time.Duration
}

/*Configuration of the system */
var Configuration Config

/*ReadConfig - read the config into the configuration structure */
func ReadConfig(deploymentMode int) *Config {
	Configuration.DeploymentMode = deploymentMode

	Configuration.GatewayURL = viper.GetString("gateway.url")
	Configuration.PollInterval = viper.GetDuration("gateway.poll_interval")
	Configuration.RequestTimeout = viper.GetDuration("gateway.request_timeout")
	Configuration.MaxRetries = viper.GetInt("gateway.max_retries")
	Configuration.HostsTTL = viper.GetDuration("gateway.hosts_ttl")

	Configuration.DataShards = viper.GetInt("redundancy.data")
	Configuration.ParityShards = viper.GetInt("redundancy.parity")

	Configuration.UploadPoolSize = viper.GetInt("upload.pool_size")
	Configuration.DownloadPoolSize = viper.GetInt("download.pool_size")

	Configuration.MaxIdleConns = viper.GetInt("dialer.max_idle_conns")
	Configuration.IdleConnTimeout = viper.GetDuration("dialer.idle_conn_timeout")
	Configuration.HandshakeTimeout = viper.GetDuration("dialer.handshake_timeout")

	return &Configuration
}

// Validate rejects values the SDK cannot work with before any network or
// disk activity happens.
func (c *Config) Validate() error {
	if c.GatewayURL == "" {
		return errors.Throw(common.ErrInvalidConfig, "gateway url is required")
	}
	if c.DataShards <= 0 {
		return errors.Throw(common.ErrInvalidConfig, "data shards must be positive")
	}
	if c.ParityShards < 0 {
		return errors.Throw(common.ErrInvalidConfig, "parity shards must not be negative")
	}
	if c.UploadPoolSize <= 0 || c.DownloadPoolSize <= 0 {
		return errors.Throw(common.ErrInvalidConfig, "transfer pool sizes must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.Throw(common.ErrInvalidConfig, "poll interval must be positive")
	}
	return nil
}

// Development - is development mode?
func Development() bool {
	return Configuration.DeploymentMode == DeploymentDevelopment
}
