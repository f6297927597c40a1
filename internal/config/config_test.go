package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `{
	"model": {"provider": "openai", "chat_model": "gpt-4o-mini"},
	"providers": {"openai": {"api_key": "sk-test"}},
	"databases": {"sqlite3": {"dsn": "laneassist.db"}}
}`

func TestLoadLeavesPaybillsToDeployment(t *testing.T) {
	t.Setenv("MPESA_PAYBILL", "")
	t.Setenv("AIRTEL_PAYBILL", "")
	t.Setenv("TKASH_PAYBILL", "424242")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	require.Empty(t, cfg.Payments.MpesaPaybill)
	require.Empty(t, cfg.Payments.AirtelPaybill)
	require.Equal(t, "424242", cfg.Payments.TkashPaybill)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":8090", cfg.BasicConfig.ServerAddress)
	require.Equal(t, DefaultHistoryCap, cfg.Pipeline.HistoryCap)
	require.Equal(t, 3, cfg.Search.MaxResults)
	require.Equal(t, filepath.Join(filepath.Dir(path), "laneassist.db"), cfg.Databases["sqlite3"].DSN)
	require.Equal(t, DefaultDedupTTL, cfg.DedupTTL())
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	_, err := Load(writeConfig(t, `{"model": {"provider": "nope"}, "databases": {"sqlite3": {}}}`))
	require.ErrorContains(t, err, "provider nope not configured")
}
