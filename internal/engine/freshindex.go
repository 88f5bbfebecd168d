package engine

import (
	"context"

	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"github.com/walletsync-engine/walletsyncd/internal/ports"
)

// freshIndex implements §4.B: starting at the anchor
// max(0, addressCount-gapLimit), it returns the first unused index whose
// predecessor is used (or index 0, or addressCount if every index from the
// anchor on is used). An unused index below the anchor that is followed by
// a used one is not reported. When find is false it returns the lookahead anchor
// max(0, addressCount-gapLimit) without scanning, for callers that only
// need an anchor (e.g. getFreshAddress with find=false semantics).
func freshIndex(
	ctx context.Context,
	store ports.Store,
	key domain.BranchKey,
	gapLimit uint32,
	find bool,
) (uint32, error) {
	n, err := store.FetchAddressCountFromPathPartition(ctx, key)
	if err != nil {
		return 0, err
	}

	anchor := uint32(0)
	if n > gapLimit {
		anchor = n - gapLimit
	}
	if !find {
		return anchor, nil
	}

	return scanFresh(ctx, store, key, n, anchor)
}

// scanFresh is the bidirectional scan proper, anchored gapLimit before the
// frontier. It terminates in at most O(addressCount) probes and typically
// O(gapLimit).
func scanFresh(
	ctx context.Context,
	store ports.Store,
	key domain.BranchKey,
	n uint32,
	i uint32,
) (uint32, error) {
	for {
		if i >= n {
			return i, nil
		}

		sp, err := store.FetchScriptPubkeyByPath(ctx, domain.AddressPath{
			Format:       key.Format,
			ChangeIndex:  key.ChangeIndex,
			AddressIndex: i,
		})
		if err != nil {
			return 0, err
		}
		record, err := store.FetchAddressByScriptPubkey(ctx, sp)
		if err != nil {
			return 0, err
		}
		if record == nil {
			return 0, domain.ErrInconsistentStoreState
		}

		if !record.Used {
			if i == 0 {
				return 0, nil
			}
			prevSp, err := store.FetchScriptPubkeyByPath(ctx, domain.AddressPath{
				Format:       key.Format,
				ChangeIndex:  key.ChangeIndex,
				AddressIndex: i - 1,
			})
			if err != nil {
				return 0, err
			}
			prev, err := store.FetchAddressByScriptPubkey(ctx, prevSp)
			if err != nil {
				return 0, err
			}
			if prev == nil {
				return 0, domain.ErrInconsistentStoreState
			}
			if prev.Used {
				return i, nil
			}
			if i >= 2 {
				i -= 2
			} else {
				i = 0
			}
			continue
		}

		i++
	}
}
