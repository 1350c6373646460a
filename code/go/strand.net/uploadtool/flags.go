package main

import (
	"flag"

	"go.uber.org/zap"
)

var (
	deploymentMode int
	configDir      string
	logDir         string
	logLevel       zap.AtomicLevel

	gatewayURL  string
	appSecret   string
	awsSecretID string

	dataShards   int
	parityShards int
	uploadPool   int
	downloadPool int
)

func init() {
	flag.IntVar(&deploymentMode, "deployment_mode", 0, "deployment mode: 0=dev, 1=test, 2=mainnet")
	flag.StringVar(&configDir, "config_dir", "./config", "directory holding strand.yaml")
	flag.StringVar(&logDir, "log.dir", ".", "the directory to write the log to")
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	flag.TextVar(&logLevel, "log.level", logLevel, "the log level to use")

	flag.StringVar(&gatewayURL, "gateway.url", "", "the URL of the gateway API")
	flag.StringVar(&appSecret, "app.secret", "", "a secret used to derive the application key")
	flag.StringVar(&awsSecretID, "secret.aws_id", "", "AWS Secrets Manager id holding the application secret")

	flag.IntVar(&dataShards, "redundancy.data", 0, "data shards per slab")
	flag.IntVar(&parityShards, "redundancy.parity", 0, "parity shards per slab")
	flag.IntVar(&uploadPool, "upload.pool", 0, "simultaneous shard stores")
	flag.IntVar(&downloadPool, "download.pool", 0, "simultaneous shard fetches")
}

// parseFlags returns the input and output paths, the tool's two positional
// arguments.
func parseFlags() (string, string) {
	flag.Parse()

	if flag.NArg() != 2 {
		panic("usage: upload-tool [flags] <input_path> <output_path>")
	}
	return flag.Arg(0), flag.Arg(1)
}

// flagsSet reports which flags were given explicitly, so defaults never
// shadow config file or environment values.
func flagsSet() map[string]bool {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}
