package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoadMergesCredentialsIntoExchanges(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "config.toml")
	credsPath := filepath.Join(dir, "credentials.toml")

	writeFile(t, mainPath, `
core.data_dir = /tmp/data
core.port = 9100
core.exchanges.demoex0.is_margin_trading = false
core.exchanges.demoex0.currency_pairs = BTC/USDT,ETH/USDT
strategy.name = grid
strategy.spread_bps = 15
`)
	writeFile(t, credsPath, `
demoex0.api_key = key123
demoex0.secret_key = secret456
`)

	cfg, err := Load(mainPath, credsPath)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	require.Len(t, cfg.Exchanges, 1)
	assert.Equal(t, "key123", cfg.Exchanges[0].ApiKey)
	assert.Equal(t, "secret456", cfg.Exchanges[0].SecretKey)
	assert.ElementsMatch(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Exchanges[0].CurrencyPairs)
	assert.Equal(t, "15", cfg.Strategy.Settings["spread_bps"])
}

func TestLoadAbortsOnMissingCredentials(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "config.toml")
	credsPath := filepath.Join(dir, "credentials.toml")

	writeFile(t, mainPath, `core.exchanges.demoex0.is_margin_trading = false`)
	writeFile(t, credsPath, ``)

	_, err := Load(mainPath, credsPath)
	require.Error(t, err)
}

func TestSaveIsInverseOfLoad(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "config.toml")
	credsPath := filepath.Join(dir, "credentials.toml")

	original := &Config{
		DataDir:  "/tmp/data",
		Port:     8001,
		LogLevel: "info",
		Strategy: StrategyConfig{Name: "grid", Settings: map[string]string{"spread_bps": "20"}},
		Exchanges: []ExchangeConfig{
			{ExchangeAccountId: "demoex0", CurrencyPairs: []string{"BTC/USDT"}, ApiKey: "k", SecretKey: "s"},
		},
	}
	require.NoError(t, Save(original, mainPath, credsPath))

	reloaded, err := Load(mainPath, credsPath)
	require.NoError(t, err)
	assert.Equal(t, original.Port, reloaded.Port)
	assert.Equal(t, original.Strategy.Name, reloaded.Strategy.Name)
	require.Len(t, reloaded.Exchanges, 1)
	assert.Equal(t, original.Exchanges[0].ApiKey, reloaded.Exchanges[0].ApiKey)
}
