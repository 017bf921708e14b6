package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
http:
  listen_addr: "127.0.0.1:9090"
sites:
  - name: Main building
    driver: firebirdsql
    host: 10.37.0.20
    database: C:/ACS/Base/ACS.fdb
    user: SYSDBA
    password: masterkey
  - id: dorm1
    driver: firebirdsql
    host: 10.37.0.21
    port: 3051
    database: C:/ACS/Base/ACS.fdb
    user: SYSDBA
    password: vault:secret/gatekey/dorm1#password
    key_casing: lower
credential:
  ttl: 60s
`

func writeRoot(t *testing.T, yaml string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "conf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "conf", fileName), []byte(yaml), 0o644))
	t.Setenv("GATEKEY_ROOT", root)
	return root
}

func TestLoadMergesDefaultsFileAndEnv(t *testing.T) {
	root := writeRoot(t, sampleYAML)
	t.Setenv("GATEKEY_CREDENTIAL__CODE_DIGITS", "4")
	t.Setenv("GATEKEY_HTTP__REQUEST_TIMEOUT", "7s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Paths.Root)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.ListenAddr)
	assert.Equal(t, 60*time.Second, cfg.Credential.TTL)
	assert.Equal(t, 4, cfg.Credential.CodeDigits)
	assert.Equal(t, 7*time.Second, cfg.HTTP.RequestTimeout)

	// Defaults.
	assert.Equal(t, 10*time.Second, cfg.Connect.Timeout)
	assert.Equal(t, 2, cfg.Connect.MaxRetries)
	assert.Equal(t, time.Second, cfg.Connect.RetryBackoff)
	assert.Equal(t, 10*time.Minute, cfg.Vault.CacheTTL)
	assert.Equal(t, "KLUCH2", cfg.Credential.KeyColumn)
	assert.Equal(t, "GPWP", cfg.Credential.Identifiers["uuid"])
	assert.Equal(t, filepath.Join(root, "logs"), cfg.LogDir())

	// Site order and per-site defaults.
	require.Len(t, cfg.Sites, 2)
	assert.Equal(t, "Main building", cfg.Sites[0].Name)
	assert.Equal(t, 3050, cfg.Sites[0].Port)
	assert.Equal(t, "preserve", cfg.Sites[0].KeyCasing)
	assert.Equal(t, 3051, cfg.Sites[1].Port)
	assert.Equal(t, "lower", cfg.Sites[1].KeyCasing)

	// Vault disabled: references stay untouched.
	assert.Equal(t, "vault:secret/gatekey/dorm1#password", cfg.Sites[1].Password)
	assert.Same(t, cfg, Get())
}

func TestLoadRejectsBadIdentifiers(t *testing.T) {
	writeRoot(t, sampleYAML+`
  key_column: "KLUCH2; DROP TABLE PERSONNEL"
`)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresSites(t *testing.T) {
	writeRoot(t, "http:\n  listen_addr: \":8080\"\n")
	_, err := Load()
	require.Error(t, err)
}

type fakeResolver map[string]string

func (f fakeResolver) Resolve(_ context.Context, ref string) (string, error) {
	if v, ok := f[ref]; ok {
		return v, nil
	}
	return "", errors.New("no such secret")
}

func TestResolveSecrets(t *testing.T) {
	cfg := &Config{Sites: []Site{
		{Database: "a.fdb", Password: "plain"},
		{Database: "b.fdb", Password: "vault:secret/gatekey/b#password"},
	}}
	r := fakeResolver{"vault:secret/gatekey/b#password": "s3cret"}

	require.NoError(t, resolveSecrets(context.Background(), cfg, r))
	assert.Equal(t, "plain", cfg.Sites[0].Password)
	assert.Equal(t, "s3cret", cfg.Sites[1].Password)

	cfg.Sites[0].Password = "vault:secret/gatekey/missing#password"
	assert.Error(t, resolveSecrets(context.Background(), cfg, r))
}

func TestIsSQLIdent(t *testing.T) {
	for _, ok := range []string{"PERSONNEL", "KLUCH2", "_x", "RDB$FIELDS"} {
		assert.True(t, IsSQLIdent(ok), ok)
	}
	for _, bad := range []string{"", "2ND", "a b", "x;y", `"quoted"`} {
		assert.False(t, IsSQLIdent(bad), bad)
	}
}
