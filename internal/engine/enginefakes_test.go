package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"github.com/walletsync-engine/walletsyncd/internal/ports"
)

// fakeKeyManager is a deterministic, crypto-free stand-in for
// internal/infrastructure/keymanager.KeyManager: it encodes a path directly
// into the textual address / scriptPubkey strings it returns, so every
// conversion is trivially and losslessly invertible without deriving any
// real keys.
type fakeKeyManager struct{}

var _ ports.KeyManager = fakeKeyManager{}

func fakeID(prefix string, path domain.AddressPath) string {
	return fmt.Sprintf("%s:%s:%d:%d", prefix, path.Format, path.ChangeIndex, path.AddressIndex)
}

func parseFakeID(prefix, s string) (domain.AddressPath, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 || parts[0] != prefix {
		return domain.AddressPath{}, fmt.Errorf("malformed fake %s id %q", prefix, s)
	}
	branch, err := strconv.Atoi(parts[2])
	if err != nil {
		return domain.AddressPath{}, err
	}
	index, err := strconv.Atoi(parts[3])
	if err != nil {
		return domain.AddressPath{}, err
	}
	return domain.AddressPath{
		Format:       domain.Format(parts[1]),
		ChangeIndex:  domain.Branch(branch),
		AddressIndex: uint32(index),
	}, nil
}

func (fakeKeyManager) GetAddress(path domain.AddressPath) (string, error) {
	if err := path.Validate(); err != nil {
		return "", err
	}
	return fakeID("addr", path), nil
}

func (fakeKeyManager) GetScriptPubkey(path domain.AddressPath) (ports.ScriptPubkeyResult, error) {
	if err := path.Validate(); err != nil {
		return ports.ScriptPubkeyResult{}, err
	}
	result := ports.ScriptPubkeyResult{ScriptPubkey: fakeID("spk", path)}
	if path.Format == domain.FormatBIP49WrappedSegwit {
		result.RedeemScript = fakeID("redeem", path)
	}
	return result, nil
}

func (fakeKeyManager) AddressToScriptPubkey(address string) (string, error) {
	path, err := parseFakeID("addr", address)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedIndexerData, err)
	}
	return fakeID("spk", path), nil
}

func (fakeKeyManager) ScriptPubkeyToAddress(scriptPubkey string, _ domain.Format) (string, error) {
	path, err := parseFakeID("spk", scriptPubkey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedIndexerData, err)
	}
	return fakeID("addr", path), nil
}

func (fakeKeyManager) ValidScriptPubkeyFromAddress(address string) (string, error) {
	path, err := parseFakeID("addr", address)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	return fakeID("spk", path), nil
}

// fakeStore is an in-memory ports.Store, concurrency-safe so it can back
// engine code paths that fan out with errgroup.
type fakeStore struct {
	mu            sync.Mutex
	byScriptPubkey map[string]*domain.AddressRecord
	byPath         map[domain.AddressPath]string
	countByBranch  map[domain.BranchKey]uint32
	transactions   map[string]*domain.TransactionRecord
	utxos          map[string]*domain.UTXORecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byScriptPubkey: make(map[string]*domain.AddressRecord),
		byPath:         make(map[domain.AddressPath]string),
		countByBranch:  make(map[domain.BranchKey]uint32),
		transactions:   make(map[string]*domain.TransactionRecord),
		utxos:          make(map[string]*domain.UTXORecord),
	}
}

var _ ports.Store = (*fakeStore)(nil)

func cloneAddressRecord(r *domain.AddressRecord) *domain.AddressRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Path != nil {
		p := *r.Path
		cp.Path = &p
	}
	return &cp
}

func (s *fakeStore) FetchAddressByScriptPubkey(_ context.Context, scriptPubkey string) (*domain.AddressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAddressRecord(s.byScriptPubkey[scriptPubkey]), nil
}

func (s *fakeStore) FetchAddressCountFromPathPartition(_ context.Context, key domain.BranchKey) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countByBranch[key], nil
}

func (s *fakeStore) FetchScriptPubkeyByPath(_ context.Context, path domain.AddressPath) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.byPath[path]
	if !ok {
		return "", domain.ErrInconsistentStoreState
	}
	return sp, nil
}

func (s *fakeStore) bumpCount(path domain.AddressPath) {
	key := path.BranchKey()
	if path.AddressIndex+1 > s.countByBranch[key] {
		s.countByBranch[key] = path.AddressIndex + 1
	}
}

func (s *fakeStore) SaveAddress(_ context.Context, record *domain.AddressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byScriptPubkey[record.ScriptPubkey] = cloneAddressRecord(record)
	if record.HasPath() {
		s.byPath[*record.Path] = record.ScriptPubkey
		s.bumpCount(*record.Path)
	}
	return nil
}

func (s *fakeStore) UpdateAddressByScriptPubkey(_ context.Context, scriptPubkey string, update ports.AddressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byScriptPubkey[scriptPubkey]
	if !ok {
		return domain.ErrInconsistentStoreState
	}
	if update.Used != nil {
		record.Used = *update.Used
	}
	if update.Balance != nil {
		b, err := decimal.NewFromString(*update.Balance)
		if err != nil {
			return err
		}
		record.Balance = b
	}
	if update.NetworkQueryVal != nil {
		record.NetworkQueryVal = *update.NetworkQueryVal
	}
	if update.Path != nil {
		p := *update.Path
		record.Path = &p
		s.byPath[p] = scriptPubkey
		s.bumpCount(p)
	}
	return nil
}

func (s *fakeStore) FetchTransaction(_ context.Context, txid string) (*domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactions[txid], nil
}

func (s *fakeStore) SaveTransaction(_ context.Context, tx *domain.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.transactions[tx.Txid] = &cp
	return nil
}

func (s *fakeStore) FetchUtxosByScriptPubkey(_ context.Context, scriptPubkey string) ([]*domain.UTXORecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.UTXORecord
	for _, u := range s.utxos {
		if u.ScriptPubkey == scriptPubkey {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveUtxo(_ context.Context, utxo *domain.UTXORecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *utxo
	s.utxos[utxo.ID()] = &cp
	return nil
}

func (s *fakeStore) RemoveUtxo(_ context.Context, utxo *domain.UTXORecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.utxos, utxo.ID())
	return nil
}

// fakeIndexer is an in-memory ports.Indexer. Balance-only FetchAddress
// calls (opts.Details == "") are answered from balances; tx-history page
// calls (opts.Details == "txs") are answered from historyPages, one entry
// per page, with TotalPages filled in from len(historyPages[address]).
type fakeIndexer struct {
	mu           sync.Mutex
	balances     map[string]ports.AddressDetails
	historyPages map[string][]ports.AddressDetails
	utxos        map[string][]ports.IndexerUtxo
	rawTx        map[string]*ports.RawTx
	fetchErr     map[string]error

	watchedSnapshots [][]string
	watchCB          func(ports.AddressChange)
}

var _ ports.Indexer = (*fakeIndexer)(nil)

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{
		balances:     make(map[string]ports.AddressDetails),
		historyPages: make(map[string][]ports.AddressDetails),
		utxos:        make(map[string][]ports.IndexerUtxo),
		rawTx:        make(map[string]*ports.RawTx),
		fetchErr:     make(map[string]error),
	}
}

func (f *fakeIndexer) FetchAddress(_ context.Context, address string, opts ports.AddressDetailsOpts) (*ports.AddressDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fetchErr[address]; ok {
		return nil, err
	}
	if opts.Details == "txs" {
		pages := f.historyPages[address]
		idx := opts.Page - 1
		if idx < 0 || idx >= len(pages) {
			total := len(pages)
			if total == 0 {
				total = 1
			}
			return &ports.AddressDetails{TotalPages: total}, nil
		}
		page := pages[idx]
		page.TotalPages = len(pages)
		return &page, nil
	}
	d := f.balances[address]
	return &d, nil
}

func (f *fakeIndexer) FetchAddressUtxos(_ context.Context, address string) ([]ports.IndexerUtxo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.IndexerUtxo, len(f.utxos[address]))
	copy(out, f.utxos[address])
	return out, nil
}

func (f *fakeIndexer) FetchTransaction(_ context.Context, txid string) (*ports.RawTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.rawTx[txid]
	if !ok {
		return &ports.RawTx{Txid: txid}, nil
	}
	return raw, nil
}

func (f *fakeIndexer) WatchAddresses(_ context.Context, addresses []string, cb func(ports.AddressChange)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make([]string, len(addresses))
	copy(snapshot, addresses)
	f.watchedSnapshots = append(f.watchedSnapshots, snapshot)
	f.watchCB = cb
	return nil
}

func (f *fakeIndexer) push(change ports.AddressChange) {
	f.mu.Lock()
	cb := f.watchCB
	f.mu.Unlock()
	if cb != nil {
		cb(change)
	}
}

func (f *fakeIndexer) watchCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchedSnapshots)
}

// fakeEmitter is an in-memory ports.Emitter recording every emission for
// assertions.
type fakeEmitter struct {
	mu       sync.Mutex
	checked  []ports.AddressesCheckedPayload
	balances []ports.BalanceChangedPayload
	txids    []ports.TxidsChangedPayload
	errs     []error
}

var _ ports.Emitter = (*fakeEmitter)(nil)

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{}
}

func (e *fakeEmitter) EmitAddressesChecked(p ports.AddressesCheckedPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checked = append(e.checked, p)
}

func (e *fakeEmitter) EmitBalanceChanged(p ports.BalanceChangedPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances = append(e.balances, p)
}

func (e *fakeEmitter) EmitTxidsChanged(p ports.TxidsChangedPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txids = append(e.txids, p)
}

func (e *fakeEmitter) EmitError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func (e *fakeEmitter) errCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

// testEngine bundles an Engine with its fakes for assertions.
type testEngine struct {
	*Engine
	store    *fakeStore
	indexer  *fakeIndexer
	emitter  *fakeEmitter
	keyman   fakeKeyManager
}

func newTestEngine(t *testing.T, gapLimit uint32, formats ...domain.Format) *testEngine {
	t.Helper()
	store := newFakeStore()
	indexer := newFakeIndexer()
	emitter := newFakeEmitter()
	km := fakeKeyManager{}

	cfg := ports.Config{
		CurrencyInfo: ports.CurrencyInfo{GapLimit: gapLimit, Network: "testnet", CurrencyCode: "BTC"},
		WalletInfo:   ports.WalletInfo{Formats: formats},
		KeyManager:   km,
		Store:        store,
		Indexer:      indexer,
		Emitter:      emitter,
	}
	eng, err := New(cfg)
	require.NoError(t, err)
	return &testEngine{Engine: eng, store: store, indexer: indexer, emitter: emitter, keyman: km}
}

// seedBranch derives and saves count addresses on key, marking the first
// usedCount of them used.
func seedBranch(t *testing.T, store *fakeStore, key domain.BranchKey, count, usedCount uint32) {
	t.Helper()
	ctx := context.Background()
	for i := uint32(0); i < count; i++ {
		path := domain.AddressPath{Format: key.Format, ChangeIndex: key.ChangeIndex, AddressIndex: i}
		spk, err := fakeKeyManager{}.GetScriptPubkey(path)
		require.NoError(t, err)
		record := domain.NewDerivedAddress(spk.ScriptPubkey, path)
		record.Used = i < usedCount
		require.NoError(t, store.SaveAddress(ctx, record))
	}
}

// drainOneJob pulls exactly one pending dispatcher job and runs it
// synchronously on the calling goroutine, for tests that exercise the
// enqueue side of a reactive job without starting the worker pool.
func drainOneJob(t *testing.T, e *Engine, ctx context.Context) {
	t.Helper()
	select {
	case j := <-e.dispatcher.queue:
		e.handleJob(ctx, j)
	default:
		t.Fatal("expected a pending dispatcher job, found none")
	}
}
