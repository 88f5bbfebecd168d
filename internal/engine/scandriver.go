package engine

import (
	"context"
	"errors"

	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"golang.org/x/sync/errgroup"
)

// scanBranch implements §4.E: iterate the existing addresses of one
// (format, branch), dispatching processAddress in waves of gapLimit —
// launch up to gapLimit in parallel, await the whole batch, repeat.
func (e *Engine) scanBranch(ctx context.Context, format domain.Format, branch domain.Branch) error {
	key := domain.BranchKey{Format: format, ChangeIndex: branch}
	n, err := e.cfg.Store.FetchAddressCountFromPathPartition(ctx, key)
	if err != nil {
		return err
	}

	waveSize := int(e.cfg.CurrencyInfo.GapLimit)
	if waveSize < 1 {
		waveSize = 1
	}

	for start := uint32(0); start < n; start += uint32(waveSize) {
		end := start + uint32(waveSize)
		if end > n {
			end = n
		}
		if err := e.scanWave(ctx, key, start, end); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) scanWave(ctx context.Context, key domain.BranchKey, start, end uint32) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := start; i < end; i++ {
		index := i
		g.Go(func() error {
			path := domain.AddressPath{Format: key.Format, ChangeIndex: key.ChangeIndex, AddressIndex: index}
			sp, err := e.cfg.Store.FetchScriptPubkeyByPath(gctx, path)
			if err != nil {
				return err
			}
			address, err := e.cfg.KeyManager.ScriptPubkeyToAddress(sp, key.Format)
			if err != nil {
				return err
			}
			if err := e.processAddress(gctx, address); err != nil {
				if errors.Is(err, domain.ErrInconsistentStoreState) || errors.Is(err, domain.ErrConfig) {
					return err // fatal per §7, bubbles and aborts the format's scan
				}
				e.cfg.Emitter.EmitError(err)
				return nil // TransientNetwork/MalformedIndexerData: per-address, siblings continue
			}
			return nil
		})
	}
	return g.Wait()
}
