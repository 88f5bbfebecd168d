// Package config is the walletsyncd ambient configuration layer: a
// package-level viper instance with env-prefixed defaults, the way the
// teacher's config/config.go wires TDEX_* environment variables onto typed
// getters.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// NetworkKey is "mainnet", "testnet3" or "regtest".
	NetworkKey = "NETWORK"
	// BlockbookURLKey is the WebSocket endpoint of the Blockbook-style indexer.
	BlockbookURLKey = "BLOCKBOOK_URL"
	// DatadirKey is the local data directory for the badger store.
	DatadirKey = "DATA_DIR_PATH"
	// LogLevelKey is a logrus level name ("debug", "info", ...).
	LogLevelKey = "LOG_LEVEL"
	// GapLimitKey is the contiguous-unused-addresses horizon per branch.
	GapLimitKey = "GAP_LIMIT"
	// CurrencyCodeKey is the code stamped onto BALANCE_CHANGED events.
	CurrencyCodeKey = "CURRENCY_CODE"
	// FormatsKey is a comma-separated list of declared address formats.
	FormatsKey = "ADDRESS_FORMATS"
	// ExtendedKeyPrefixKey is the env-var prefix under which one account
	// extended public key is expected per declared format, e.g.
	// WALLETSYNC_XPUB_BIP84_SEGWIT.
	ExtendedKeyPrefixKey = "XPUB"
	// BlockbookRequestsPerSecondKey throttles outbound indexer calls.
	BlockbookRequestsPerSecondKey = "BLOCKBOOK_REQUESTS_PER_SECOND"
	// BlockbookBurstKey is the token-bucket burst size for indexer calls.
	BlockbookBurstKey = "BLOCKBOOK_BURST"
	// WorkerCountKey has a default but is not read by walletsyncd: the
	// engine sizes its dispatcher's worker pool by the gap limit.
	WorkerCountKey = "WORKER_COUNT"
	// MetricsAddrKey is the listen address for the Prometheus /metrics
	// endpoint; empty disables it.
	MetricsAddrKey = "METRICS_ADDR"

	DbLocation = "db"
)

var vip *viper.Viper

func init() {
	vip = viper.New()
	vip.SetEnvPrefix("WALLETSYNC")
	vip.AutomaticEnv()

	vip.SetDefault(NetworkKey, "mainnet")
	vip.SetDefault(BlockbookURLKey, "wss://blockbook.example.com/websocket")
	vip.SetDefault(DatadirKey, defaultDatadir())
	vip.SetDefault(LogLevelKey, "info")
	vip.SetDefault(GapLimitKey, 20)
	vip.SetDefault(CurrencyCodeKey, "BTC")
	vip.SetDefault(FormatsKey, "bip84-segwit")
	vip.SetDefault(BlockbookRequestsPerSecondKey, 20)
	vip.SetDefault(BlockbookBurstKey, 5)
	vip.SetDefault(WorkerCountKey, 8)
	vip.SetDefault(MetricsAddrKey, "")
}

func defaultDatadir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".walletsyncd")
	}
	return filepath.Join(home, ".walletsyncd")
}

// GetString reads a config key as a string.
func GetString(key string) string { return vip.GetString(key) }

// GetInt reads a config key as an int.
func GetInt(key string) int { return vip.GetInt(key) }

// GetFloat reads a config key as a float64.
func GetFloat(key string) float64 { return vip.GetFloat64(key) }

// GetStringSlice reads a config key as a comma-separated string slice.
func GetStringSlice(key string) []string {
	var out []string
	for _, item := range vip.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Set overrides a config value in the package-level viper instance.
func Set(key string, value interface{}) { vip.Set(key, value) }

// NetworkParams maps the configured network name onto chaincfg parameters.
func NetworkParams() (*chaincfg.Params, error) {
	switch GetString(NetworkKey) {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unsupported network %q", GetString(NetworkKey))
	}
}

// InitDatadir ensures the configured data directory and its db
// subdirectory exist.
func InitDatadir() error {
	datadir := GetString(DatadirKey)
	dbDir := filepath.Join(datadir, DbLocation)
	if _, err := os.Stat(dbDir); os.IsNotExist(err) {
		log.WithField("path", dbDir).Info("creating data directory")
		return os.MkdirAll(dbDir, 0o755)
	}
	return nil
}

// DbDir is the badger store's on-disk directory.
func DbDir() string {
	return filepath.Join(GetString(DatadirKey), DbLocation)
}
