// Package config loads the engine's two-file configuration (§6): a main
// file carrying [core] (the exchange account list and websocket channels)
// and [strategy], plus a separate credentials file keyed by
// exchange_account_id. Loading merges the two; saving splits them back
// apart so credentials never land in the main file on disk.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aristath/marketmaker/internal/utils"
	"github.com/joho/godotenv"
)

// ExchangeConfig is one [[core.exchanges]] entry, credentials merged in at
// load time.
type ExchangeConfig struct {
	ExchangeAccountId string
	IsMarginTrading   bool
	WebsocketChannels []string
	CurrencyPairs     []string
	ApiKey            string
	SecretKey         string
}

// StrategyConfig is the opaque [strategy] section; strategies read their
// own keys out of it.
type StrategyConfig struct {
	Name     string
	Settings map[string]string
}

// Config is the fully merged, in-memory configuration.
type Config struct {
	DataDir  string
	Port     int
	DevMode  bool
	LogLevel string

	Exchanges []ExchangeConfig
	Strategy  StrategyConfig
}

// Credentials is the separate, more sensitive file: api_key/secret_key per
// exchange_account_id.
type Credentials map[string]CredentialPair

// CredentialPair is one exchange account's secret material.
type CredentialPair struct {
	ApiKey    string
	SecretKey string
}

// Load reads the main config file and credentials file, merges credentials
// into each exchange entry, and applies environment-variable overrides
// (loaded via a local .env first, matching the ambient dev-override
// convention). Missing or empty credentials for a configured exchange
// account abort loading (§6).
func Load(mainPath, credentialsPath string) (*Config, error) {
	_ = godotenv.Load()

	main, err := parseKV(mainPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read main config %s: %w", mainPath, err)
	}
	creds, err := loadCredentials(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials %s: %w", credentialsPath, err)
	}

	cfg := &Config{
		DataDir:  getEnv("DATA_DIR", main["core.data_dir"]),
		Port:     getEnvAsInt("PORT", atoiOr(main["core.port"], 8001)),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", orDefault(main["core.log_level"], "info")),
		Strategy: StrategyConfig{
			Name:     main["strategy.name"],
			Settings: sectionValues(main, "strategy."),
		},
	}

	exchanges, err := parseExchanges(main, creds)
	if err != nil {
		return nil, err
	}
	cfg.Exchanges = exchanges

	return cfg, nil
}

func parseExchanges(main map[string]string, creds Credentials) ([]ExchangeConfig, error) {
	ids := map[string]bool{}
	for key := range main {
		if !strings.HasPrefix(key, "core.exchanges.") {
			continue
		}
		rest := strings.TrimPrefix(key, "core.exchanges.")
		parts := strings.SplitN(rest, ".", 2)
		ids[parts[0]] = true
	}

	out := make([]ExchangeConfig, 0, len(ids))
	for id := range ids {
		prefix := "core.exchanges." + id + "."
		pair, ok := creds[id]
		if !ok || pair.ApiKey == "" || pair.SecretKey == "" {
			return nil, fmt.Errorf("missing or empty credentials for exchange account %q", id)
		}
		out = append(out, ExchangeConfig{
			ExchangeAccountId: id,
			IsMarginTrading:   main[prefix+"is_margin_trading"] == "true",
			WebsocketChannels: splitList(main[prefix+"websocket_channels"]),
			CurrencyPairs:     splitList(main[prefix+"currency_pairs"]),
			ApiKey:            pair.ApiKey,
			SecretKey:         pair.SecretKey,
		})
	}
	return out, nil
}

// Save is the inverse of Load: credentials are stripped from the in-memory
// form back into the credentials file, and the main file is written
// without them.
func Save(cfg *Config, mainPath, credentialsPath string) error {
	creds := Credentials{}
	main := map[string]string{
		"core.data_dir":  cfg.DataDir,
		"core.port":      strconv.Itoa(cfg.Port),
		"core.log_level": cfg.LogLevel,
		"strategy.name":  cfg.Strategy.Name,
	}
	for k, v := range cfg.Strategy.Settings {
		main["strategy."+k] = v
	}
	for _, ex := range cfg.Exchanges {
		prefix := "core.exchanges." + ex.ExchangeAccountId + "."
		main[prefix+"is_margin_trading"] = strconv.FormatBool(ex.IsMarginTrading)
		main[prefix+"websocket_channels"] = strings.Join(ex.WebsocketChannels, ",")
		main[prefix+"currency_pairs"] = strings.Join(ex.CurrencyPairs, ",")
		creds[ex.ExchangeAccountId] = CredentialPair{ApiKey: ex.ApiKey, SecretKey: ex.SecretKey}
	}

	if err := writeKV(mainPath, main); err != nil {
		return fmt.Errorf("failed to write main config %s: %w", mainPath, err)
	}
	if err := saveCredentials(credentialsPath, creds); err != nil {
		return fmt.Errorf("failed to write credentials %s: %w", credentialsPath, err)
	}
	return nil
}

func loadCredentials(path string) (Credentials, error) {
	kv, err := parseKV(path)
	if os.IsNotExist(err) {
		return Credentials{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := Credentials{}
	for key, val := range kv {
		parts := strings.SplitN(key, ".", 2)
		if len(parts) != 2 {
			continue
		}
		id, field := parts[0], parts[1]
		pair := out[id]
		switch field {
		case "api_key":
			pair.ApiKey = val
		case "secret_key":
			pair.SecretKey = val
		}
		out[id] = pair
	}
	return out, nil
}

func saveCredentials(path string, creds Credentials) error {
	kv := map[string]string{}
	for id, pair := range creds {
		kv[id+".api_key"] = pair.ApiKey
		kv[id+".secret_key"] = pair.SecretKey
	}
	return writeKV(path, kv)
}

// sectionValues returns every key under prefix with the prefix stripped,
// excluding the reserved "name" key.
func sectionValues(kv map[string]string, prefix string) map[string]string {
	out := map[string]string{}
	for key, val := range kv {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		field := strings.TrimPrefix(key, prefix)
		if field == "name" {
			continue
		}
		out[field] = val
	}
	return out
}

// splitList parses a comma-separated config value (websocket_channels,
// currency_pairs) using the shared CSV helper rather than reimplementing
// the same trim-and-filter loop.
func splitList(s string) []string {
	return utils.ParseCSV(s)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
