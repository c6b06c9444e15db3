// Package cmd implements the ulogger-upload CLI.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ulogger-ai/ulogger-upload/internal/version"
	"github.com/ulogger-ai/ulogger-upload/pkg/clierror"
	"github.com/ulogger-ai/ulogger-upload/pkg/config"
)

var (
	// Upload parameters
	customerID    string
	applicationID string
	deviceType    string
	versionNumber string
	gitHash       string
	branch        string
	filePath      string
	certPath      string
	keyPath       string
	broker        string
	timeoutSecs   int

	// Global flags
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "ulogger-upload",
	Short: "Upload an AXF firmware artifact to the uLogger platform",
	Long: `ulogger-upload is a build-pipeline helper that uploads a compiled AXF
firmware artifact to the uLogger platform.

It publishes a certificate-authenticated upload request over the uLogger
MQTT broker, waits for the platform to issue a presigned S3 URL, and
transfers the artifact to it. Customer, application, and device
identifiers fall back to ULOGGER_CUSTOMER_ID, ULOGGER_APPLICATION_ID,
and ULOGGER_DEVICE_TYPE; certificate material can be supplied inline via
ULOGGER_CERT_DATA and ULOGGER_KEY_DATA instead of files.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runUpload,
}

func init() {
	rootCmd.Flags().StringVar(&customerID, "customer-id", "", "Customer identifier (or ULOGGER_CUSTOMER_ID)")
	rootCmd.Flags().StringVar(&applicationID, "application-id", "", "Application identifier (or ULOGGER_APPLICATION_ID)")
	rootCmd.Flags().StringVar(&deviceType, "device-type", "", "Device type (or ULOGGER_DEVICE_TYPE)")
	rootCmd.Flags().StringVar(&versionNumber, "version-number", "", "Firmware version number")
	rootCmd.Flags().StringVar(&gitHash, "git-hash", "", "Git hash the firmware was built from")
	rootCmd.Flags().StringVar(&branch, "branch", "", "Branch the firmware was built from")
	rootCmd.Flags().StringVar(&filePath, "file", "", "Path to the AXF artifact")
	rootCmd.Flags().StringVar(&certPath, "cert-path", config.DefaultCertPath, "Path to the client certificate (PEM)")
	rootCmd.Flags().StringVar(&keyPath, "key-path", config.DefaultKeyPath, "Path to the client private key (PEM)")
	rootCmd.Flags().StringVar(&broker, "broker", config.DefaultBroker, "MQTT broker host:port")
	rootCmd.Flags().IntVar(&timeoutSecs, "timeout", 30, "Seconds to wait for the upload response")

	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var cliErr *clierror.CLIError
		if !errors.As(err, &cliErr) {
			cliErr = clierror.InternalError(err)
		}
		clierror.PrintError(cliErr, outputFormat)
		return cliErr.ExitCode
	}
	return clierror.ExitSuccess
}

// newLogger builds the stderr diagnostic logger. Debug level is gated
// behind --verbose so CI logs stay quiet by default.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// formatOutput renders data according to the --output flag. Table format
// is handled by each command.
func formatOutput(data any) error {
	switch outputFormat {
	case "json":
		return outputJSON(data)
	case "yaml":
		return outputYAML(data)
	default:
		return nil
	}
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputYAML(data any) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
