package engine

import (
	"context"
	"fmt"

	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"github.com/walletsync-engine/walletsyncd/internal/ports"
)

func patchPath(path domain.AddressPath) ports.AddressUpdate {
	return ports.AddressUpdate{Path: &path}
}

// setLookAhead implements §4.C. It holds e.mu for its entire body so the
// read-compute-write sequence (freshIndex -> create records -> re-read
// freshIndex) is linearizable with respect to other lookahead calls on any
// branch. Newly created addresses are enqueued for processing — never
// awaited here — so the mutex never blocks on network I/O.
func (e *Engine) setLookAhead(ctx context.Context, format domain.Format, processNewAddresses bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	branches, err := format.SupportedBranches()
	if err != nil {
		return err
	}

	for _, branch := range branches {
		if err := e.extendBranch(ctx, format, branch, processNewAddresses); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) extendBranch(
	ctx context.Context,
	format domain.Format,
	branch domain.Branch,
	processNewAddresses bool,
) error {
	key := domain.BranchKey{Format: format, ChangeIndex: branch}

	for {
		fresh, err := freshIndex(ctx, e.cfg.Store, key, e.cfg.CurrencyInfo.GapLimit, true)
		if err != nil {
			return fmt.Errorf("computing fresh index for %s: %w", key, err)
		}

		n, err := e.cfg.Store.FetchAddressCountFromPathPartition(ctx, key)
		if err != nil {
			return err
		}

		target := fresh + e.cfg.CurrencyInfo.GapLimit
		if n >= target {
			return nil
		}

		for i := n; i < target; i++ {
			path := domain.AddressPath{Format: format, ChangeIndex: branch, AddressIndex: i}
			created, err := e.ensureAddress(ctx, path)
			if err != nil {
				return err
			}
			if created && processNewAddresses {
				address, err := e.cfg.KeyManager.GetAddress(path)
				if err != nil {
					return fmt.Errorf("%w: deriving address for %v: %v", domain.ErrInconsistentStoreState, path, err)
				}
				e.dispatcher.enqueue(job{processAddress: address})
			}
		}

		// freshIndex is re-read at the top of the loop: a concurrent
		// processAddress flipping an address used during this extension
		// can move the horizon forward within the same setLookAhead call
		// (§4.C's rationale).
	}
}

// ensureAddress persists a new AddressRecord for path if absent, or patches
// an existing path-less (imported) record with its now-known path. Returns
// true iff a brand-new record was created.
func (e *Engine) ensureAddress(ctx context.Context, path domain.AddressPath) (bool, error) {
	result, err := e.cfg.KeyManager.GetScriptPubkey(path)
	if err != nil {
		return false, fmt.Errorf("%w: deriving scriptPubkey for %v: %v", domain.ErrInconsistentStoreState, path, err)
	}

	existing, err := e.cfg.Store.FetchAddressByScriptPubkey(ctx, result.ScriptPubkey)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if !existing.HasPath() {
			p := path
			if err := e.cfg.Store.UpdateAddressByScriptPubkey(ctx, result.ScriptPubkey, patchPath(p)); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	record := domain.NewDerivedAddress(result.ScriptPubkey, path)
	if err := e.cfg.Store.SaveAddress(ctx, record); err != nil {
		return false, err
	}
	return true, nil
}
