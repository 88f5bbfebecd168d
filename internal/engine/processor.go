package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"github.com/walletsync-engine/walletsyncd/internal/engine/normalize"
	"github.com/walletsync-engine/walletsyncd/internal/ports"
	"golang.org/x/sync/errgroup"
)

const txHistoryPerPage = 10

// processAddress implements §4.D: reconcile the store with the indexer for
// one address.
func (e *Engine) processAddress(ctx context.Context, address string) error {
	scriptPubkey, err := e.cfg.KeyManager.ValidScriptPubkeyFromAddress(address)
	if err != nil {
		return fmt.Errorf("%w: decoding address %s: %v", domain.ErrInconsistentStoreState, address, err)
	}

	record, err := e.cfg.Store.FetchAddressByScriptPubkey(ctx, scriptPubkey)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: no address record for scriptPubkey %s", domain.ErrInconsistentStoreState, scriptPubkey)
	}
	previouslyUsed := record.Used

	firstVisit := e.watchSet.addIfAbsent(address)
	if firstVisit {
		if err := e.subscribe(ctx); err != nil {
			return err
		}
	}

	details, err := e.cfg.Indexer.FetchAddress(ctx, address, ports.AddressDetailsOpts{
		From:    record.NetworkQueryVal,
		PerPage: txHistoryPerPage,
		Page:    1,
	})
	if err != nil {
		return fmt.Errorf("%w: fetching address %s: %v", domain.ErrTransientNetwork, address, err)
	}

	newBalance, err := combinedBalance(details.Balance, details.UnconfirmedBalance)
	if err != nil {
		return fmt.Errorf("%w: parsing balance for %s: %v", domain.ErrMalformedIndexerData, address, err)
	}
	if !newBalance.Equal(record.Balance) {
		e.cfg.Emitter.EmitBalanceChanged(ports.BalanceChangedPayload{
			CurrencyCode: e.cfg.CurrencyInfo.CurrencyCode,
			Balance:      newBalance.String(),
		})
		e.metrics.balanceChanges.Inc()
	}

	used := details.Txs+details.UnconfirmedTxs > 0
	newBalanceStr := newBalance.String()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.paginateHistory(gctx, address, scriptPubkey, record.NetworkQueryVal)
	})
	g.Go(func() error {
		return e.reconcileUtxos(gctx, address, scriptPubkey, record)
	})
	g.Go(func() error {
		return e.cfg.Store.UpdateAddressByScriptPubkey(gctx, scriptPubkey, ports.AddressUpdate{
			Used:    &used,
			Balance: &newBalanceStr,
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if firstVisit {
		e.onAddressChecked()
	}

	if !previouslyUsed && used && record.HasPath() {
		e.dispatcher.enqueue(job{lookAheadFmt: string(record.Path.Format)})
	}

	return nil
}

// subscribe (re)issues a push subscription for the current watch-set
// snapshot, including the address just added to it.
func (e *Engine) subscribe(ctx context.Context) error {
	snapshot := e.watchSet.snapshot()
	if err := e.cfg.Indexer.WatchAddresses(ctx, snapshot, e.onAddressPush); err != nil {
		return fmt.Errorf("%w: subscribing to %d addresses: %v", domain.ErrTransientNetwork, len(snapshot), err)
	}
	return nil
}

// onAddressPush is the indexer callback re-invoking processAddress on a
// push event. Errors are logged, not propagated — nothing is listening on
// this call stack to return them to.
func (e *Engine) onAddressPush(change ports.AddressChange) {
	if err := e.processAddress(e.ctx, change.Address); err != nil {
		log.WithError(err).WithField("address", change.Address).Error("reactive processAddress failed")
	}
}

func (e *Engine) reconcileUtxos(ctx context.Context, address, scriptPubkey string, record *domain.AddressRecord) error {
	utxos, err := e.cfg.Indexer.FetchAddressUtxos(ctx, address)
	if err != nil {
		return fmt.Errorf("%w: fetching utxos for %s: %v", domain.ErrTransientNetwork, scriptPubkey, err)
	}
	return normalize.ReconcileUtxos(ctx, e.cfg.Store, e.cfg.KeyManager, e.fetchRawTxHex, scriptPubkey, record.Path, utxos)
}

// fetchRawTxHex serves the legacy/Airbitz UTXO script field: the raw hex of
// the transaction that created the output, cache-first through the store.
func (e *Engine) fetchRawTxHex(ctx context.Context, txid string) (string, error) {
	if existing, err := e.cfg.Store.FetchTransaction(ctx, txid); err == nil && existing != nil && existing.Hex != "" {
		return existing.Hex, nil
	}
	raw, err := e.cfg.Indexer.FetchTransaction(ctx, txid)
	if err != nil {
		return "", fmt.Errorf("%w: fetching tx %s: %v", domain.ErrTransientNetwork, txid, err)
	}
	return raw.Hex, nil
}

// paginateHistory implements §4.F's pagination contract: fetch page by
// page (10 per page, from = the address's checkpoint), normalizing and
// persisting each tx, emitting TXIDS_CHANGED once per non-empty page.
func (e *Engine) paginateHistory(ctx context.Context, address, scriptPubkey string, from uint64) error {
	page := 1
	var maxBlockTime int64

	for {
		details, err := e.cfg.Indexer.FetchAddress(ctx, address, ports.AddressDetailsOpts{
			Details: "txs",
			From:    from,
			PerPage: txHistoryPerPage,
			Page:    page,
		})
		if err != nil {
			return fmt.Errorf("%w: fetching tx history page %d for %s: %v", domain.ErrTransientNetwork, page, address, err)
		}

		changed := make(map[string]int64, len(details.Transactions))
		for _, tx := range details.Transactions {
			record, err := normalize.Transaction(tx, e.cfg.KeyManager)
			if err != nil {
				// MalformedIndexerData fails this one tx; pagination of
				// the rest of the page and subsequent pages continues.
				log.WithError(err).WithField("txid", tx.Txid).Error("skipping malformed transaction")
				continue
			}
			if err := e.cfg.Store.SaveTransaction(ctx, record); err != nil {
				return err
			}
			changed[tx.Txid] = tx.BlockTime
			if tx.BlockTime > maxBlockTime {
				maxBlockTime = tx.BlockTime
			}
		}

		// "emit iff at least one transaction was returned for the page" —
		// the intended reading of the ambiguous source boolean (§9).
		if len(details.Transactions) > 0 {
			e.cfg.Emitter.EmitTxidsChanged(ports.TxidsChangedPayload{BlockTimeByTxid: changed})
			e.metrics.txidChanges.Inc()
		}

		if page >= details.TotalPages {
			break
		}
		page++
	}

	if maxBlockTime > 0 {
		checkpoint := uint64(maxBlockTime)
		return e.cfg.Store.UpdateAddressByScriptPubkey(ctx, scriptPubkey, ports.AddressUpdate{
			NetworkQueryVal: &checkpoint,
		})
	}
	return nil
}

func combinedBalance(balance, unconfirmed string) (decimal.Decimal, error) {
	b, err := decimal.NewFromString(zeroIfEmpty(balance))
	if err != nil {
		return decimal.Zero, err
	}
	u, err := decimal.NewFromString(zeroIfEmpty(unconfirmed))
	if err != nil {
		return decimal.Zero, err
	}
	return b.Add(u), nil
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
