// Package config resolves and validates the upload client configuration.
//
// Resolution is pure: explicit parameters win, ULOGGER_* environment
// fallbacks fill the gaps, and every failure surfaces before any network
// connection is attempted. Components never read the process environment
// themselves; the cmd layer injects a lookup function once at startup.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ulogger-ai/ulogger-upload/pkg/clierror"
)

// Defaults matching the platform's published client behavior.
const (
	DefaultBroker   = "mqtt.ulogger.ai:8883"
	DefaultCertPath = "certificate.pem.crt"
	DefaultKeyPath  = "private.pem.key"
	DefaultTimeout  = 30 * time.Second
)

// Environment variable names for parameter fallbacks.
const (
	EnvCustomerID    = "ULOGGER_CUSTOMER_ID"
	EnvApplicationID = "ULOGGER_APPLICATION_ID"
	EnvDeviceType    = "ULOGGER_DEVICE_TYPE"
	EnvCertData      = "ULOGGER_CERT_DATA"
	EnvKeyData       = "ULOGGER_KEY_DATA"
)

// Params carries the explicit call-site values before resolution.
// Zero values fall back to environment variables where a fallback is
// defined, or to the package defaults.
type Params struct {
	CustomerID    string
	ApplicationID string
	DeviceType    string
	Version       string
	GitHash       string
	Branch        string
	FilePath      string

	// Certificate supply. Inline PEM data takes precedence over paths.
	CertData string
	KeyData  string
	CertPath string
	KeyPath  string

	Broker  string
	Timeout time.Duration
}

// Config is the resolved, validated configuration. It is assembled once
// and passed to every component; nothing downstream consults the
// environment or the flag set again.
type Config struct {
	CustomerID    int64
	ApplicationID int64
	DeviceType    string
	Version       string
	GitHash       string
	Branch        string

	FilePath string
	FileName string
	FileSize int64

	Certificate tls.Certificate
	Broker      string
	Timeout     time.Duration
}

// resolved is the shape handed to the struct validator. Identifier
// fields stay strings here so "not set" and "not numeric" produce
// distinct diagnostics.
type resolved struct {
	CustomerID    string `validate:"required,number"`
	ApplicationID string `validate:"required,number"`
	DeviceType    string `validate:"required"`
	Version       string `validate:"required"`
	GitHash       string `validate:"required"`
	Branch        string `validate:"required"`
	FilePath      string `validate:"required"`
}

// fieldInfo maps validator field names to the flag and env-var spelling
// used in diagnostics.
var fieldInfo = map[string]struct{ flag, env string }{
	"CustomerID":    {"customer-id", EnvCustomerID},
	"ApplicationID": {"application-id", EnvApplicationID},
	"DeviceType":    {"device-type", EnvDeviceType},
	"Version":       {"version-number", ""},
	"GitHash":       {"git-hash", ""},
	"Branch":        {"branch", ""},
	"FilePath":      {"file", ""},
}

var validate = validator.New()

// Resolve turns Params plus an environment snapshot into a Config.
// lookup is typically os.LookupEnv; tests inject a map-backed fake.
func Resolve(params Params, lookup func(string) (string, bool)) (*Config, error) {
	r := resolved{
		CustomerID:    fallback(params.CustomerID, EnvCustomerID, lookup),
		ApplicationID: fallback(params.ApplicationID, EnvApplicationID, lookup),
		DeviceType:    fallback(params.DeviceType, EnvDeviceType, lookup),
		Version:       params.Version,
		GitHash:       params.GitHash,
		Branch:        params.Branch,
		FilePath:      params.FilePath,
	}

	if err := validate.Struct(r); err != nil {
		return nil, configError(err)
	}

	customerID, err := strconv.ParseInt(r.CustomerID, 10, 64)
	if err != nil {
		return nil, clierror.InvalidParameter("customer-id", "must be an integer")
	}
	applicationID, err := strconv.ParseInt(r.ApplicationID, 10, 64)
	if err != nil {
		return nil, clierror.InvalidParameter("application-id", "must be an integer")
	}

	cert, err := resolveCertificate(params, lookup)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(r.FilePath)
	if err != nil {
		return nil, clierror.InvalidParameter("file", fmt.Sprintf("artifact not found: %s", r.FilePath))
	}
	if info.IsDir() {
		return nil, clierror.InvalidParameter("file", fmt.Sprintf("%s is a directory, not an artifact", r.FilePath))
	}

	cfg := &Config{
		CustomerID:    customerID,
		ApplicationID: applicationID,
		DeviceType:    r.DeviceType,
		Version:       r.Version,
		GitHash:       r.GitHash,
		Branch:        r.Branch,
		FilePath:      r.FilePath,
		FileName:      filepath.Base(r.FilePath),
		FileSize:      info.Size(),
		Certificate:   cert,
		Broker:        params.Broker,
		Timeout:       params.Timeout,
	}
	if cfg.Broker == "" {
		cfg.Broker = DefaultBroker
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg, nil
}

// fallback prefers the explicit value, then the named environment variable.
func fallback(explicit, envVar string, lookup func(string) (string, bool)) string {
	if explicit != "" {
		return explicit
	}
	if v, ok := lookup(envVar); ok {
		return v
	}
	return ""
}

// resolveCertificate loads the client keypair from inline PEM data or
// from files, inline data taking precedence. Both halves must resolve to
// non-empty content.
func resolveCertificate(params Params, lookup func(string) (string, bool)) (tls.Certificate, error) {
	certPEM, err := resolvePEM(params.CertData, EnvCertData, params.CertPath, DefaultCertPath, "certificate", lookup)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := resolvePEM(params.KeyData, EnvKeyData, params.KeyPath, DefaultKeyPath, "private key", lookup)
	if err != nil {
		return tls.Certificate{}, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, clierror.CertificateConfig(fmt.Sprintf("certificate/key pair does not parse: %v", err))
	}
	return cert, nil
}

// resolvePEM returns one half of the keypair: inline data, env data, or
// file contents, in that order.
func resolvePEM(inline, envVar, path, defaultPath, what string, lookup func(string) (string, bool)) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if v, ok := lookup(envVar); ok && v != "" {
		return []byte(v), nil
	}
	if path == "" {
		path = defaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, clierror.CertificateConfig(fmt.Sprintf("%s not supplied inline and file %s is unreadable", what, path))
	}
	if len(data) == 0 {
		return nil, clierror.CertificateConfig(fmt.Sprintf("%s file %s is empty", what, path))
	}
	return data, nil
}

// configError converts the first validator failure into a CLIError
// naming the offending field.
func configError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return clierror.InternalError(err)
	}

	fe := verrs[0]
	info := fieldInfo[fe.StructField()]
	switch fe.Tag() {
	case "required":
		return clierror.MissingParameter(info.flag, info.env)
	case "number":
		return clierror.InvalidParameter(info.flag, "must be an integer")
	default:
		return clierror.InvalidParameter(info.flag, fe.Tag())
	}
}
