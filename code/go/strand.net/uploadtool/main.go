package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/strandnet/strand/code/go/strand.net/core/encryption"
	"github.com/strandnet/strand/code/go/strand.net/core/logging"
	"github.com/strandnet/strand/code/go/strand.net/core/util"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/dialer"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/gateway"
	"github.com/strandnet/strand/code/go/strand.net/sdkcore/sdk"
)

func main() {
	inputPath, outputPath := parseFlags()
	cfg := setupConfig()
	initLogging()
	log := logging.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	secret, err := resolveSecret(ctx)
	if err != nil {
		log.Fatal("failed to load application secret", zap.Error(err))
	}
	key, err := encryption.DeriveKey(secret)
	if err != nil {
		log.Fatal("failed to derive application key", zap.Error(err))
	}
	log.Info("application identity", zap.String("public_key", key.Public().String()))

	resp, connected, err := sdk.Connect(ctx, cfg.GatewayURL, key, gateway.AppMeta{
		Name:        "Strand Upload Tool",
		Description: "Uploads a file and verifies it downloads back intact",
		ServiceURL:  "https://github.com/strandnet/strand",
	}, gateway.WithPollInterval(cfg.PollInterval), gateway.WithRetries(cfg.MaxRetries))
	if err != nil {
		log.Fatal("failed to connect application", zap.Error(err))
	} else if !connected {
		log.Info("please approve the application", zap.String("url", resp.ApprovalURL))
		if connected, err := resp.WaitForApproval(ctx); err != nil {
			log.Fatal("failed to wait for approval", zap.Error(err))
		} else if !connected {
			log.Fatal("gateway denied the application", zap.String("state", string(resp.State())))
		}
	}
	log.Info("application connected")

	client, err := sdk.NewSDK(cfg.GatewayURL, key,
		sdk.WithLogger(log.Named("sdk")),
		sdk.WithRedundancy(cfg.DataShards, cfg.ParityShards),
		sdk.WithUploadPool(cfg.UploadPoolSize),
		sdk.WithDownloadPool(cfg.DownloadPoolSize),
		sdk.WithGatewayOptions(
			gateway.WithPollInterval(cfg.PollInterval),
			gateway.WithRetries(cfg.MaxRetries),
			gateway.WithHostsTTL(cfg.HostsTTL)),
		sdk.WithDialerOptions(
			dialer.WithMaxIdleConns(cfg.MaxIdleConns),
			dialer.WithIdleTimeout(cfg.IdleConnTimeout),
			dialer.WithHandshakeTimeout(cfg.HandshakeTimeout)),
	)
	if err != nil {
		log.Fatal("failed to create SDK client", zap.Error(err))
	}
	defer client.Close()

	hosts, err := client.RefreshHosts(ctx)
	if err != nil {
		log.Fatal("failed to fetch host set", zap.Error(err))
	}
	log.Info("host set fetched", zap.Int("hosts", hosts))

	input, err := os.Open(inputPath)
	if err != nil {
		log.Fatal("failed to open input", zap.Error(err))
	}
	defer input.Close()
	stat, err := input.Stat()
	if err != nil {
		log.Fatal("failed to stat input", zap.Error(err))
	}

	start := time.Now()
	obj, err := client.Upload(ctx, input)
	if err != nil {
		log.Fatal("failed to upload", zap.Error(err))
	}
	uploaded := stat.Size() * int64(cfg.DataShards+cfg.ParityShards) / int64(cfg.DataShards)
	log.Info("upload completed",
		zap.String("object", obj.ID),
		zap.Int("slabs", len(obj.Manifest.Slabs)),
		zap.Uint64("length", obj.Length),
		zap.Duration("duration", time.Since(start)),
		zap.String("speed", formatBpsString(uploaded, time.Since(start))))

	free, err := util.AvailableDiskSpace(filepath.Dir(outputPath))
	if err != nil {
		log.Fatal("failed to check disk space", zap.Error(err))
	}
	if free < obj.Length {
		log.Fatal("not enough disk space for download",
			zap.Uint64("needed", obj.Length), zap.Uint64("available", free))
	}

	output, err := os.Create(outputPath)
	if err != nil {
		log.Fatal("failed to create output", zap.Error(err))
	}

	start = time.Now()
	if err := client.Download(ctx, output, obj.Manifest); err != nil {
		output.Close()
		log.Fatal("failed to download", zap.Error(err))
	}
	if err := output.Close(); err != nil {
		log.Fatal("failed to flush output", zap.Error(err))
	}
	log.Info("download completed",
		zap.Duration("duration", time.Since(start)),
		zap.String("speed", formatBpsString(int64(obj.Length), time.Since(start))))

	want, err := fileDigest(inputPath)
	if err != nil {
		log.Fatal("failed to digest input", zap.Error(err))
	}
	got, err := fileDigest(outputPath)
	if err != nil {
		log.Fatal("failed to digest output", zap.Error(err))
	}
	if want != got {
		log.Fatal("round trip mismatch",
			zap.String("uploaded", want), zap.String("downloaded", got))
	}
	log.Info("round trip verified", zap.String("digest", want))
}

// fileDigest streams the file through sha3-256.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha3.New256()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func formatBpsString(b int64, t time.Duration) string {
	const units = "KMGTPE"
	const factor = 1000

	seconds := t.Seconds()
	if seconds <= 0 {
		return "0.00 bps"
	}

	speed := float64(b*8) / seconds
	if speed < factor {
		return fmt.Sprintf("%.2f bps", speed)
	}

	var i = -1
	for ; speed >= factor; i++ {
		speed /= factor
	}
	return fmt.Sprintf("%.2f %cbps", speed, units[i])
}
