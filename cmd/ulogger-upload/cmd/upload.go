package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ulogger-ai/ulogger-upload/pkg/channel"
	"github.com/ulogger-ai/ulogger-upload/pkg/config"
	"github.com/ulogger-ai/ulogger-upload/pkg/exchange"
	"github.com/ulogger-ai/ulogger-upload/pkg/transfer"
)

// newChannel builds the broker channel for an invocation. Swapped in
// tests for a mock.
var newChannel = func(cfg *config.Config, log *slog.Logger) channel.Channel {
	return channel.NewMQTT(channel.MQTTOptions{
		Broker:      cfg.Broker,
		CustomerID:  cfg.CustomerID,
		Certificate: cfg.Certificate,
		Logger:      log,
	})
}

// uploadResult is the success summary for --output json/yaml.
type uploadResult struct {
	UploadID   int64  `json:"upload_id" yaml:"upload_id"`
	CustomerID int64  `json:"customer_id" yaml:"customer_id"`
	DeviceType string `json:"device_type" yaml:"device_type"`
	Version    string `json:"version" yaml:"version"`
	GitHash    string `json:"git_hash" yaml:"git_hash"`
	Branch     string `json:"branch" yaml:"branch"`
	FileName   string `json:"file_name" yaml:"file_name"`
	FileSize   int64  `json:"file_size" yaml:"file_size"`
}

func runUpload(cmd *cobra.Command, _ []string) error {
	log := newLogger()

	// All configuration failures must fire before any network activity.
	cfg, err := config.Resolve(config.Params{
		CustomerID:    customerID,
		ApplicationID: applicationID,
		DeviceType:    deviceType,
		Version:       versionNumber,
		GitHash:       gitHash,
		Branch:        branch,
		FilePath:      filePath,
		CertPath:      certPath,
		KeyPath:       keyPath,
		Broker:        broker,
		Timeout:       time.Duration(timeoutSecs) * time.Second,
	}, os.LookupEnv)
	if err != nil {
		return err
	}

	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	ctx, stop := signal.NotifyContext(base, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := uploadFlow(ctx, cfg, newChannel(cfg, log), transfer.New(nil, log), log)
	if err != nil {
		return err
	}

	if outputFormat == "table" {
		color.Green("✓ %s (%d bytes) uploaded for customer %d, version %s",
			result.FileName, result.FileSize, result.CustomerID, result.Version)
		return nil
	}
	return formatOutput(result)
}

// uploadFlow sequences the invocation: connect, exchange, transfer. The
// channel is closed on every exit path so the broker can reap the
// subscription.
func uploadFlow(ctx context.Context, cfg *config.Config, ch channel.Channel, up *transfer.Uploader, log *slog.Logger) (*uploadResult, error) {
	if err := ch.Connect(ctx); err != nil {
		return nil, err
	}
	defer ch.Close()

	req, err := exchange.NewUploadRequest(cfg)
	if err != nil {
		return nil, err
	}

	resp, err := exchange.New(ch, log).Execute(ctx, req, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}

	if err := up.Put(ctx, resp.PresignedURL, cfg.FilePath, cfg.FileSize); err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}

	log.Info("upload complete", "upload_id", req.UploadID, "file", cfg.FileName)
	return &uploadResult{
		UploadID:   req.UploadID,
		CustomerID: cfg.CustomerID,
		DeviceType: cfg.DeviceType,
		Version:    cfg.Version,
		GitHash:    cfg.GitHash,
		Branch:     cfg.Branch,
		FileName:   cfg.FileName,
		FileSize:   cfg.FileSize,
	}, nil
}
