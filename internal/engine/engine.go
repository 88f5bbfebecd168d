// Package engine implements the address discovery / reconciliation state
// machine: HD gap-limit address generation, on-demand and reactive
// per-address indexer fetching, and the engine facade exposed to the host
// wallet application.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"github.com/walletsync-engine/walletsyncd/internal/ports"
	"golang.org/x/sync/errgroup"
)

// formatPreference orders declared formats from most to least modern; it
// decides which format answers GetFreshAddress when a wallet declares
// several (§4.G does not take a format argument).
var formatPreference = []domain.Format{
	domain.FormatBIP84Segwit,
	domain.FormatBIP49WrappedSegwit,
	domain.FormatBIP44Legacy,
	domain.FormatBIP32Legacy,
}

// FreshAddressResult is GetFreshAddress's response (§6).
type FreshAddressResult struct {
	PublicAddress string
	SegwitAddress string
	LegacyAddress string
}

// Engine is the facade of §4.G: start/stop/getFreshAddress/
// addGapLimitAddresses/markAddressUsed, plus progress event aggregation.
type Engine struct {
	cfg ports.Config

	// mu is the single engine-wide mutex of §5, held for the entire body
	// of setLookAhead.
	mu sync.Mutex

	watchSet   *watchSet
	dispatcher *dispatcher
	progress   *progressTracker
	metrics    *metricsRecorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates the configuration (§7 ConfigError is fatal at Start, but an
// unsupported format is caught here too since it can never produce a
// useful engine) and constructs an Engine.
func New(cfg ports.Config) (*Engine, error) {
	if len(cfg.WalletInfo.Formats) == 0 {
		return nil, fmt.Errorf("%w: wallet descriptor declares no address formats", domain.ErrConfig)
	}
	for _, format := range cfg.WalletInfo.Formats {
		if _, err := format.PurposeType(); err != nil {
			return nil, err
		}
	}
	if cfg.CurrencyInfo.GapLimit == 0 {
		return nil, fmt.Errorf("%w: gap limit must be positive", domain.ErrConfig)
	}

	e := &Engine{
		cfg:      cfg,
		watchSet: newWatchSet(),
		progress: newProgressTracker(),
		metrics:  newMetricsRecorder(),
	}
	e.dispatcher = newDispatcher(int(cfg.CurrencyInfo.GapLimit), e.handleJob)
	return e, nil
}

// Metrics exposes the engine's Prometheus collectors for registration with
// a prometheus.Registerer by the host binary (SPEC_FULL.md §4 "Progress
// metrics").
func (e *Engine) Metrics() []prometheus.Collector {
	return e.metrics.Collectors()
}

// handleJob executes one dispatcher job (§9): either a deferred
// processAddress for a newly minted lookahead address, or a deferred
// setLookAhead re-extension triggered by a used-state flip.
func (e *Engine) handleJob(ctx context.Context, j job) {
	var err error
	switch {
	case j.processAddress != "":
		err = e.processAddress(ctx, j.processAddress)
	case j.lookAheadFmt != "":
		err = e.setLookAhead(ctx, domain.Format(j.lookAheadFmt), true)
	}
	if err != nil {
		if errors.Is(err, domain.ErrInconsistentStoreState) || errors.Is(err, domain.ErrConfig) {
			log.WithError(err).Error("fatal error processing dispatched job")
			e.cfg.Emitter.EmitError(err)
			return
		}
		log.WithError(err).WithField("job", j).Warn("dispatched job failed")
		e.cfg.Emitter.EmitError(err)
	}
}

// Start implements §4.G: for every declared format, grow to the gap limit
// then scan existing addresses; formats run concurrently. Start returns an
// error only when computing the progress total fails (a branch's address
// count cannot be read) — per-format failures surface via the emitter's
// error channel (§7).
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.dispatcher.start(e.ctx)

	total, err := e.estimateTotal(e.ctx)
	if err != nil {
		return err
	}
	e.progress.setTotal(total)

	g, gctx := errgroup.WithContext(e.ctx)
	for _, format := range e.cfg.WalletInfo.Formats {
		f := format
		g.Go(func() error {
			if err := e.syncFormat(gctx, f); err != nil {
				log.WithError(err).WithField("format", f).Error("format sync failed")
				e.cfg.Emitter.EmitError(err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) syncFormat(ctx context.Context, format domain.Format) error {
	if err := e.setLookAhead(ctx, format, true); err != nil {
		return err
	}
	branches, err := format.SupportedBranches()
	if err != nil {
		return err
	}
	for _, branch := range branches {
		if err := e.scanBranch(ctx, format, branch); err != nil {
			return err
		}
	}
	return nil
}

// estimateTotal computes progress's denominator: sum over formats and
// branches of max(addressCount, gapLimit), so the ratio never exceeds 1
// during the initial lookahead phase (§4.G).
func (e *Engine) estimateTotal(ctx context.Context) (uint64, error) {
	var total uint64
	for _, format := range e.cfg.WalletInfo.Formats {
		branches, err := format.SupportedBranches()
		if err != nil {
			return 0, err
		}
		for _, branch := range branches {
			n, err := e.cfg.Store.FetchAddressCountFromPathPartition(ctx, domain.BranchKey{Format: format, ChangeIndex: branch})
			if err != nil {
				return 0, err
			}
			floor := e.cfg.CurrencyInfo.GapLimit
			if uint64(n) > uint64(floor) {
				total += uint64(n)
			} else {
				total += uint64(floor)
			}
		}
	}
	return total, nil
}

func (e *Engine) onAddressChecked() {
	ratio := e.progress.tick()
	e.metrics.observeProgress(ratio)
	e.cfg.Emitter.EmitAddressesChecked(ports.AddressesCheckedPayload{Ratio: ratio})
}

// Stop signals shutdown: in-flight dispatcher jobs finish or are abandoned
// at context cancellation, never leaving the store in a state violating
// §3's invariants since every store mutation is atomic and additive.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.dispatcher != nil {
		e.dispatcher.stop()
	}
}

// GetFreshAddress implements §4.G. It picks the most modern format the
// wallet declared to answer with (the interface takes no format argument).
func (e *Engine) GetFreshAddress(ctx context.Context, change bool) (FreshAddressResult, error) {
	format, err := e.primaryFormat()
	if err != nil {
		return FreshAddressResult{}, err
	}
	purpose, err := format.PurposeType()
	if err != nil {
		return FreshAddressResult{}, err
	}

	changeIndex := domain.BranchReceive
	if change && purpose != domain.PurposeAirbitzLegacy {
		changeIndex = domain.BranchChange
	}
	if !format.SupportsBranch(changeIndex) {
		changeIndex = domain.BranchReceive
	}

	key := domain.BranchKey{Format: format, ChangeIndex: changeIndex}
	anchor, err := freshIndex(ctx, e.cfg.Store, key, e.cfg.CurrencyInfo.GapLimit, false)
	if err != nil {
		return FreshAddressResult{}, err
	}
	path := domain.AddressPath{Format: format, ChangeIndex: changeIndex, AddressIndex: anchor}

	if purpose == domain.PurposeSegwit {
		segwitAddress, err := e.cfg.KeyManager.GetAddress(path)
		if err != nil {
			return FreshAddressResult{}, err
		}
		wrappedPath := path
		wrappedPath.Format = domain.FormatBIP49WrappedSegwit
		publicAddress, err := e.cfg.KeyManager.GetAddress(wrappedPath)
		if err != nil {
			return FreshAddressResult{}, err
		}
		return FreshAddressResult{PublicAddress: publicAddress, SegwitAddress: segwitAddress}, nil
	}

	publicAddress, err := e.cfg.KeyManager.GetAddress(path)
	if err != nil {
		return FreshAddressResult{}, err
	}

	result := FreshAddressResult{PublicAddress: publicAddress}
	legacyPath := path
	legacyPath.Format = domain.FormatBIP32Legacy
	legacyAddress, err := e.cfg.KeyManager.GetAddress(legacyPath)
	if err == nil && legacyAddress != publicAddress {
		result.LegacyAddress = legacyAddress
	}
	return result, nil
}

func (e *Engine) primaryFormat() (domain.Format, error) {
	declared := make(map[domain.Format]bool, len(e.cfg.WalletInfo.Formats))
	for _, f := range e.cfg.WalletInfo.Formats {
		declared[f] = true
	}
	for _, candidate := range formatPreference {
		if declared[candidate] {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no declared format matches any known purpose", domain.ErrConfig)
}

// AddGapLimitAddresses implements §4.G: insert a path-less AddressRecord
// for each supplied address if absent. Per §9's preserved anomaly, these
// records never get a Path, so a later used-flip on them does not trigger
// setLookAhead — externally-imported addresses never extend the gap
// horizon on their own.
func (e *Engine) AddGapLimitAddresses(ctx context.Context, addresses []string) error {
	for _, address := range addresses {
		scriptPubkey, err := e.cfg.KeyManager.ValidScriptPubkeyFromAddress(address)
		if err != nil {
			return fmt.Errorf("%w: decoding address %s: %v", domain.ErrConfig, address, err)
		}
		existing, err := e.cfg.Store.FetchAddressByScriptPubkey(ctx, scriptPubkey)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := e.cfg.Store.SaveAddress(ctx, domain.NewImportedAddress(scriptPubkey)); err != nil {
			return err
		}
	}
	return nil
}

// MarkAddressUsed implements §4.G: a host-driven override for when the
// host spends from an address the engine hasn't yet observed as used.
func (e *Engine) MarkAddressUsed(ctx context.Context, address string) error {
	scriptPubkey, err := e.cfg.KeyManager.ValidScriptPubkeyFromAddress(address)
	if err != nil {
		return fmt.Errorf("%w: decoding address %s: %v", domain.ErrConfig, address, err)
	}
	used := true
	return e.cfg.Store.UpdateAddressByScriptPubkey(ctx, scriptPubkey, ports.AddressUpdate{Used: &used})
}
