package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulogger-ai/ulogger-upload/internal/testutil"
	"github.com/ulogger-ai/ulogger-upload/pkg/clierror"
)

// envLookup builds a lookup function over a fixed snapshot.
func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

// writeArtifact creates a fake AXF file and returns its path.
func writeArtifact(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "firmware.axf")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

// baseParams returns Params that resolve successfully with inline certs.
func baseParams(t *testing.T) Params {
	certPEM, keyPEM := testutil.KeyPairPEM(t)
	return Params{
		CustomerID:    "42",
		ApplicationID: "7",
		DeviceType:    "stm32h7",
		Version:       "1.4.2",
		GitHash:       "abc1234",
		Branch:        "main",
		FilePath:      writeArtifact(t, 2048),
		CertData:      string(certPEM),
		KeyData:       string(keyPEM),
	}
}

func TestResolve_ExplicitParams(t *testing.T) {
	params := baseParams(t)

	cfg, err := Resolve(params, envLookup(nil))
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.CustomerID)
	assert.Equal(t, int64(7), cfg.ApplicationID)
	assert.Equal(t, "stm32h7", cfg.DeviceType)
	assert.Equal(t, "firmware.axf", cfg.FileName)
	assert.Equal(t, int64(2048), cfg.FileSize)
	assert.Equal(t, DefaultBroker, cfg.Broker)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.NotEmpty(t, cfg.Certificate.Certificate, "keypair should be loaded")
}

func TestResolve_EnvFallback(t *testing.T) {
	params := baseParams(t)
	params.CustomerID = ""
	params.ApplicationID = ""
	params.DeviceType = ""

	cfg, err := Resolve(params, envLookup(map[string]string{
		EnvCustomerID:    "99",
		EnvApplicationID: "3",
		EnvDeviceType:    "nrf52",
	}))
	require.NoError(t, err)

	assert.Equal(t, int64(99), cfg.CustomerID)
	assert.Equal(t, int64(3), cfg.ApplicationID)
	assert.Equal(t, "nrf52", cfg.DeviceType)
}

func TestResolve_ExplicitWinsOverEnv(t *testing.T) {
	params := baseParams(t)

	cfg, err := Resolve(params, envLookup(map[string]string{
		EnvCustomerID: "99",
	}))
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.CustomerID, "explicit parameter must take precedence")
}

func TestResolve_MissingField(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		field  string
	}{
		{"customer id", func(p *Params) { p.CustomerID = "" }, "customer-id"},
		{"application id", func(p *Params) { p.ApplicationID = "" }, "application-id"},
		{"device type", func(p *Params) { p.DeviceType = "" }, "device-type"},
		{"version", func(p *Params) { p.Version = "" }, "version-number"},
		{"git hash", func(p *Params) { p.GitHash = "" }, "git-hash"},
		{"branch", func(p *Params) { p.Branch = "" }, "branch"},
		{"file", func(p *Params) { p.FilePath = "" }, "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := baseParams(t)
			tt.mutate(&params)

			_, err := Resolve(params, envLookup(nil))
			require.Error(t, err)
			assert.Equal(t, clierror.CodeMissingParameter, clierror.ErrorCode(err))
			assert.Contains(t, err.Error(), tt.field, "diagnostic must name the missing field")
		})
	}
}

func TestResolve_NonNumericIdentifier(t *testing.T) {
	params := baseParams(t)
	params.CustomerID = "acme"

	_, err := Resolve(params, envLookup(nil))
	require.Error(t, err)
	assert.Equal(t, clierror.CodeInvalidParameter, clierror.ErrorCode(err))
}

func TestResolve_CertFromFiles(t *testing.T) {
	certPEM, keyPEM := testutil.KeyPairPEM(t)
	dir := t.TempDir()
	certPath := filepath.Join(dir, "certificate.pem.crt")
	keyPath := filepath.Join(dir, "private.pem.key")
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))

	params := baseParams(t)
	params.CertData = ""
	params.KeyData = ""
	params.CertPath = certPath
	params.KeyPath = keyPath

	cfg, err := Resolve(params, envLookup(nil))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Certificate.Certificate)
}

func TestResolve_InlineCertTakesPrecedenceOverPath(t *testing.T) {
	certPEM, keyPEM := testutil.KeyPairPEM(t)

	params := baseParams(t)
	params.CertData = ""
	params.KeyData = ""
	// Paths point at garbage; inline env data must win without touching them.
	params.CertPath = filepath.Join(t.TempDir(), "does-not-exist.crt")
	params.KeyPath = filepath.Join(t.TempDir(), "does-not-exist.key")

	cfg, err := Resolve(params, envLookup(map[string]string{
		EnvCertData: string(certPEM),
		EnvKeyData:  string(keyPEM),
	}))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Certificate.Certificate)
}

func TestResolve_NoCertificateSupply(t *testing.T) {
	params := baseParams(t)
	params.CertData = ""
	params.KeyData = ""
	params.CertPath = filepath.Join(t.TempDir(), "missing.crt")
	params.KeyPath = filepath.Join(t.TempDir(), "missing.key")

	_, err := Resolve(params, envLookup(nil))
	require.Error(t, err)
	assert.Equal(t, clierror.CodeInvalidParameter, clierror.ErrorCode(err))
	assert.Equal(t, clierror.ExitConfig, clierror.ExitCode(err))
}

func TestResolve_MismatchedKeyPair(t *testing.T) {
	certPEM, _ := testutil.KeyPairPEM(t)
	_, otherKeyPEM := testutil.KeyPairPEM(t)

	params := baseParams(t)
	params.CertData = string(certPEM)
	params.KeyData = string(otherKeyPEM)

	_, err := Resolve(params, envLookup(nil))
	require.Error(t, err)
	assert.Equal(t, clierror.CodeInvalidParameter, clierror.ErrorCode(err))
}

func TestResolve_ArtifactMissing(t *testing.T) {
	params := baseParams(t)
	params.FilePath = filepath.Join(t.TempDir(), "nope.axf")

	_, err := Resolve(params, envLookup(nil))
	require.Error(t, err)
	assert.Equal(t, clierror.CodeInvalidParameter, clierror.ErrorCode(err))
}

func TestResolve_ArtifactIsDirectory(t *testing.T) {
	params := baseParams(t)
	params.FilePath = t.TempDir()

	_, err := Resolve(params, envLookup(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}

func TestResolve_TimeoutAndBrokerOverrides(t *testing.T) {
	params := baseParams(t)
	params.Broker = "broker.example.com:8883"
	params.Timeout = 5 * time.Second

	cfg, err := Resolve(params, envLookup(nil))
	require.NoError(t, err)
	assert.Equal(t, "broker.example.com:8883", cfg.Broker)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}
