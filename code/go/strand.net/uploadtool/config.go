package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/strandnet/strand/code/go/strand.net/core/config"
)

// setupConfig layers configuration the usual way: defaults, then an
// optional strand.yaml, then environment, then explicit flags on top.
func setupConfig() *config.Config {
	config.SetupDefaultConfig()

	if _, err := os.Stat(filepath.Join(configDir, "strand.yaml")); err == nil {
		config.SetupConfig(configDir)
	}

	set := flagsSet()
	if set["gateway.url"] {
		viper.Set("gateway.url", gatewayURL)
	}
	if set["app.secret"] {
		viper.Set("app.secret", appSecret)
	}
	if set["secret.aws_id"] {
		viper.Set("secret.aws_id", awsSecretID)
	}
	if set["redundancy.data"] {
		viper.Set("redundancy.data", dataShards)
	}
	if set["redundancy.parity"] {
		viper.Set("redundancy.parity", parityShards)
	}
	if set["upload.pool"] {
		viper.Set("upload.pool_size", uploadPool)
	}
	if set["download.pool"] {
		viper.Set("download.pool_size", downloadPool)
	}
	if set["log.level"] {
		viper.Set("logging.level", logLevel.String())
	}

	cfg := config.ReadConfig(deploymentMode)
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}
