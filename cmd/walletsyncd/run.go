package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/walletsync-engine/walletsyncd/config"
	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"github.com/walletsync-engine/walletsyncd/internal/engine"
	"github.com/walletsync-engine/walletsyncd/internal/infrastructure/blockbook"
	"github.com/walletsync-engine/walletsyncd/internal/infrastructure/emitter"
	"github.com/walletsync-engine/walletsyncd/internal/infrastructure/keymanager"
	"github.com/walletsync-engine/walletsyncd/internal/infrastructure/storage/badger"
	"github.com/walletsync-engine/walletsyncd/internal/ports"
)

func run(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if err := loadConfigFile(configFile); err != nil {
			return fmt.Errorf("loading config file %s: %w", configFile, err)
		}
	}

	level, err := log.ParseLevel(config.GetString(config.LogLevelKey))
	if err != nil {
		return fmt.Errorf("%w: invalid log level: %v", domain.ErrConfig, err)
	}
	log.SetLevel(level)

	if err := config.InitDatadir(); err != nil {
		return fmt.Errorf("%w: initializing data directory: %v", domain.ErrConfig, err)
	}

	network, err := config.NetworkParams()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	formats, err := declaredFormats()
	if err != nil {
		return err
	}

	xpubs, err := extendedKeysForFormats(formats)
	if err != nil {
		return err
	}
	km, err := keymanager.New(network, xpubs)
	if err != nil {
		return fmt.Errorf("constructing keymanager: %w", err)
	}

	store, err := badger.Open(badger.Options{DataDir: config.DbDir()})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	indexer, err := blockbook.Dial(blockbook.Config{
		URL:               config.GetString(config.BlockbookURLKey),
		RequestsPerSecond: config.GetFloat(config.BlockbookRequestsPerSecondKey),
		Burst:             config.GetInt(config.BlockbookBurstKey),
		DialTimeout:       10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("dialing blockbook: %w", err)
	}
	defer indexer.Close()

	eventEmitter := emitter.New(256)
	go drainEvents(eventEmitter)

	cfg := ports.Config{
		CurrencyInfo: ports.CurrencyInfo{
			GapLimit:     uint32(config.GetInt(config.GapLimitKey)),
			Network:      config.GetString(config.NetworkKey),
			CurrencyCode: config.GetString(config.CurrencyCodeKey),
		},
		WalletInfo: ports.WalletInfo{Formats: formats},
		KeyManager: km,
		Store:      store,
		Indexer:    indexer,
		Emitter:    eventEmitter,
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	if addr := config.GetString(config.MetricsAddrKey); addr != "" {
		serveMetrics(addr, eng, eventEmitter)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	log.Info("walletsyncd started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down")
	eng.Stop()
	return nil
}

// serveMetrics registers the engine's and emitter's collectors with a
// dedicated registry and serves it on addr in the background. A listener
// failure is logged, not fatal: the daemon's job is syncing addresses, not
// exporting metrics (SPEC_FULL.md §4 "Progress metrics").
func serveMetrics(addr string, eng *engine.Engine, eventEmitter *emitter.ChannelEmitter) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(eng.Metrics()...)
	registry.MustRegister(eventEmitter.Collector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Error("metrics listener stopped")
		}
	}()
	log.WithField("addr", addr).Info("serving /metrics")
}

func drainEvents(e *emitter.ChannelEmitter) {
	for evt := range e.Events() {
		log.WithField("type", evt.Type).Debug("event drained")
	}
}

func declaredFormats() ([]domain.Format, error) {
	raw := config.GetStringSlice(config.FormatsKey)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no address formats declared", domain.ErrConfig)
	}
	formats := make([]domain.Format, 0, len(raw))
	for _, name := range raw {
		format := domain.Format(name)
		if _, err := format.PurposeType(); err != nil {
			return nil, fmt.Errorf("%w: unsupported declared format %q", domain.ErrConfig, name)
		}
		formats = append(formats, format)
	}
	return formats, nil
}

// xpubEnvSuffix maps each declared format onto the environment variable
// suffix its account extended public key is read from, e.g.
// WALLETSYNC_XPUB_BIP84_SEGWIT.
var xpubEnvSuffix = map[domain.Format]string{
	domain.FormatBIP32Legacy:        "BIP32_LEGACY",
	domain.FormatBIP44Legacy:        "BIP44_LEGACY",
	domain.FormatBIP49WrappedSegwit: "BIP49_WRAPPED_SEGWIT",
	domain.FormatBIP84Segwit:        "BIP84_SEGWIT",
}

func extendedKeysForFormats(formats []domain.Format) (map[domain.Format]string, error) {
	xpubs := make(map[domain.Format]string, len(formats))
	for _, format := range formats {
		suffix, ok := xpubEnvSuffix[format]
		if !ok {
			return nil, fmt.Errorf("%w: no xpub environment mapping for format %q", domain.ErrConfig, format)
		}
		envVar := "WALLETSYNC_XPUB_" + suffix
		xpub := os.Getenv(envVar)
		if xpub == "" {
			return nil, fmt.Errorf("%w: missing required environment variable %s", domain.ErrConfig, envVar)
		}
		xpubs[format] = xpub
	}
	return xpubs, nil
}

// loadConfigFile applies KEY=VALUE lines from a .env-style file as process
// environment variables before config's viper instance resolves anything,
// so operators can point --config at a file instead of exporting every
// WALLETSYNC_* variable by hand.
func loadConfigFile(path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if err := os.Setenv(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return err
		}
	}
	return nil
}
