// Package badger is the concrete Store (Processor, §6) implementation: a
// badgerhold-backed key-value store keyed by scriptPubkey/txid/utxo-id, the
// way the teacher's internal/infrastructure/storage/db/badger repositories
// key by badgerhold queries.
package badger

import (
	"context"
	"fmt"
	"time"

	badgerv3 "github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/shopspring/decimal"
	"github.com/timshannon/badgerhold/v4"

	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"github.com/walletsync-engine/walletsyncd/internal/ports"
)

// addressDoc is the on-disk shape of domain.AddressRecord, keyed by
// ScriptPubkey. Format/ChangeIndex/AddressIndex are indexed so the path
// partition queries §3 requires (address count per branch, scriptPubkey by
// path) stay O(log n) rather than full scans.
type addressDoc struct {
	ScriptPubkey string

	HasPath      bool
	Format       string `badgerhold:"index"`
	ChangeIndex  uint32 `badgerhold:"index"`
	AddressIndex uint32 `badgerhold:"index"`

	Used            bool
	Balance         string
	NetworkQueryVal uint64
	LastQuery       int64
	LastTouched     int64
}

func addressDocFromDomain(r *domain.AddressRecord) *addressDoc {
	doc := &addressDoc{
		ScriptPubkey:    r.ScriptPubkey,
		Used:            r.Used,
		Balance:         r.Balance.String(),
		NetworkQueryVal: r.NetworkQueryVal,
		LastQuery:       r.LastQuery.Unix(),
		LastTouched:     r.LastTouched.Unix(),
	}
	if r.Path != nil {
		doc.HasPath = true
		doc.Format = string(r.Path.Format)
		doc.ChangeIndex = uint32(r.Path.ChangeIndex)
		doc.AddressIndex = r.Path.AddressIndex
	}
	return doc
}

func (d *addressDoc) toDomain() (*domain.AddressRecord, error) {
	balance, err := decimal.NewFromString(d.Balance)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing stored balance %q: %v", domain.ErrInconsistentStoreState, d.Balance, err)
	}
	record := &domain.AddressRecord{
		ScriptPubkey:    d.ScriptPubkey,
		Used:            d.Used,
		Balance:         balance,
		NetworkQueryVal: d.NetworkQueryVal,
		LastQuery:       timeFromUnix(d.LastQuery),
		LastTouched:     timeFromUnix(d.LastTouched),
	}
	if d.HasPath {
		record.Path = &domain.AddressPath{
			Format:       domain.Format(d.Format),
			ChangeIndex:  domain.Branch(d.ChangeIndex),
			AddressIndex: d.AddressIndex,
		}
	}
	return record, nil
}

// txDoc is the on-disk shape of domain.TransactionRecord, keyed by Txid.
type txDoc struct {
	Txid        string
	Hex         string
	BlockHeight uint32
	BlockTime   int64
	Fees        string
	Inputs      []txInputDoc
	Outputs     []txOutputDoc
	OurIns      []int
	OurOuts     []int
	OurAmount   string
}

type txInputDoc struct {
	Txid         string
	Vout         uint32
	ScriptPubkey string
	Amount       string
}

type txOutputDoc struct {
	Index        uint32
	ScriptPubkey string
	Amount       string
}

func txDocFromDomain(t *domain.TransactionRecord) *txDoc {
	inputs := make([]txInputDoc, len(t.Inputs))
	for i, in := range t.Inputs {
		inputs[i] = txInputDoc{Txid: in.Txid, Vout: in.Vout, ScriptPubkey: in.ScriptPubkey, Amount: in.Amount.String()}
	}
	outputs := make([]txOutputDoc, len(t.Outputs))
	for i, out := range t.Outputs {
		outputs[i] = txOutputDoc{Index: out.Index, ScriptPubkey: out.ScriptPubkey, Amount: out.Amount.String()}
	}
	return &txDoc{
		Txid:        t.Txid,
		Hex:         t.Hex,
		BlockHeight: t.BlockHeight,
		BlockTime:   t.BlockTime,
		Fees:        t.Fees.String(),
		Inputs:      inputs,
		Outputs:     outputs,
		OurIns:      t.OurIns,
		OurOuts:     t.OurOuts,
		OurAmount:   t.OurAmount.String(),
	}
}

func (d *txDoc) toDomain() (*domain.TransactionRecord, error) {
	fees, err := decimal.NewFromString(d.Fees)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing stored fees %q: %v", domain.ErrInconsistentStoreState, d.Fees, err)
	}
	ourAmount, err := decimal.NewFromString(zeroIfEmpty(d.OurAmount))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing stored ourAmount %q: %v", domain.ErrInconsistentStoreState, d.OurAmount, err)
	}
	inputs := make([]domain.TxInput, len(d.Inputs))
	for i, in := range d.Inputs {
		amount, err := decimal.NewFromString(zeroIfEmpty(in.Amount))
		if err != nil {
			return nil, fmt.Errorf("%w: parsing stored input amount %q: %v", domain.ErrInconsistentStoreState, in.Amount, err)
		}
		inputs[i] = domain.TxInput{Txid: in.Txid, Vout: in.Vout, ScriptPubkey: in.ScriptPubkey, Amount: amount}
	}
	outputs := make([]domain.TxOutput, len(d.Outputs))
	for i, out := range d.Outputs {
		amount, err := decimal.NewFromString(zeroIfEmpty(out.Amount))
		if err != nil {
			return nil, fmt.Errorf("%w: parsing stored output amount %q: %v", domain.ErrInconsistentStoreState, out.Amount, err)
		}
		outputs[i] = domain.TxOutput{Index: out.Index, ScriptPubkey: out.ScriptPubkey, Amount: amount}
	}
	return &domain.TransactionRecord{
		Txid:        d.Txid,
		Hex:         d.Hex,
		BlockHeight: d.BlockHeight,
		BlockTime:   d.BlockTime,
		Fees:        fees,
		Inputs:      inputs,
		Outputs:     outputs,
		OurIns:      d.OurIns,
		OurOuts:     d.OurOuts,
		OurAmount:   ourAmount,
	}, nil
}

// utxoDoc is the on-disk shape of domain.UTXORecord, keyed by its ID
// (txid_vout).
type utxoDoc struct {
	ID           string
	Txid         string
	Vout         uint32
	Value        string
	ScriptPubkey string `badgerhold:"index"`
	Script       string
	RedeemScript string
	ScriptType   string
	BlockHeight  uint32
}

func utxoDocFromDomain(u *domain.UTXORecord) *utxoDoc {
	return &utxoDoc{
		ID:           u.ID(),
		Txid:         u.Txid,
		Vout:         u.Vout,
		Value:        u.Value.String(),
		ScriptPubkey: u.ScriptPubkey,
		Script:       u.Script,
		RedeemScript: u.RedeemScript,
		ScriptType:   string(u.ScriptType),
		BlockHeight:  u.BlockHeight,
	}
}

func (d *utxoDoc) toDomain() (*domain.UTXORecord, error) {
	value, err := decimal.NewFromString(d.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing stored utxo value %q: %v", domain.ErrInconsistentStoreState, d.Value, err)
	}
	return &domain.UTXORecord{
		Txid:         d.Txid,
		Vout:         d.Vout,
		Value:        value,
		ScriptPubkey: d.ScriptPubkey,
		Script:       d.Script,
		RedeemScript: d.RedeemScript,
		ScriptType:   domain.ScriptType(d.ScriptType),
		BlockHeight:  d.BlockHeight,
	}, nil
}

func timeFromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// Store is the badgerhold-backed ports.Store implementation.
type Store struct {
	db *badgerhold.Store
}

// Options mirrors the teacher's repo_manager_badger_v3.go dial knobs: a
// data directory and an injected badger.Logger so the host can route badger
// internals through its own logrus setup.
type Options struct {
	DataDir string
	Logger  badgerv3.Logger
}

// Open creates or opens a badger-backed store at opts.DataDir, with ZSTD
// value compression, the way the teacher opens its badgerhold stores.
func Open(opts Options) (*Store, error) {
	badgerOpts := badgerv3.DefaultOptions(opts.DataDir)
	if opts.Logger != nil {
		badgerOpts.Logger = opts.Logger
	}
	badgerOpts.Compression = options.ZSTD

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          badgerOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("opening badger store at %s: %w", opts.DataDir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ ports.Store = (*Store)(nil)

func (s *Store) FetchAddressByScriptPubkey(_ context.Context, scriptPubkey string) (*domain.AddressRecord, error) {
	var doc addressDoc
	if err := s.db.Get(scriptPubkey, &doc); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return doc.toDomain()
}

func (s *Store) FetchAddressCountFromPathPartition(_ context.Context, key domain.BranchKey) (uint32, error) {
	n, err := s.db.Count(&addressDoc{}, badgerhold.Where("Format").Eq(string(key.Format)).
		And("ChangeIndex").Eq(uint32(key.ChangeIndex)).And("HasPath").Eq(true))
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

func (s *Store) FetchScriptPubkeyByPath(_ context.Context, path domain.AddressPath) (string, error) {
	var docs []addressDoc
	query := badgerhold.Where("Format").Eq(string(path.Format)).
		And("ChangeIndex").Eq(uint32(path.ChangeIndex)).
		And("AddressIndex").Eq(path.AddressIndex).
		And("HasPath").Eq(true).
		Limit(1)
	if err := s.db.Find(&docs, query); err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}
	return docs[0].ScriptPubkey, nil
}

func (s *Store) SaveAddress(_ context.Context, record *domain.AddressRecord) error {
	doc := addressDocFromDomain(record)
	if err := s.db.Insert(record.ScriptPubkey, doc); err != nil {
		if err == badgerhold.ErrKeyExists {
			return nil
		}
		return err
	}
	return nil
}

func (s *Store) UpdateAddressByScriptPubkey(_ context.Context, scriptPubkey string, update ports.AddressUpdate) error {
	var doc addressDoc
	if err := s.db.Get(scriptPubkey, &doc); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("%w: no address record for scriptPubkey %s", domain.ErrInconsistentStoreState, scriptPubkey)
		}
		return err
	}

	if update.Used != nil {
		doc.Used = *update.Used
	}
	if update.Balance != nil {
		doc.Balance = *update.Balance
	}
	if update.NetworkQueryVal != nil {
		doc.NetworkQueryVal = *update.NetworkQueryVal
	}
	if update.Path != nil {
		doc.HasPath = true
		doc.Format = string(update.Path.Format)
		doc.ChangeIndex = uint32(update.Path.ChangeIndex)
		doc.AddressIndex = update.Path.AddressIndex
	}

	return s.db.Update(scriptPubkey, &doc)
}

func (s *Store) FetchTransaction(_ context.Context, txid string) (*domain.TransactionRecord, error) {
	var doc txDoc
	if err := s.db.Get(txid, &doc); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return doc.toDomain()
}

func (s *Store) SaveTransaction(_ context.Context, tx *domain.TransactionRecord) error {
	return s.db.Upsert(tx.Txid, txDocFromDomain(tx))
}

func (s *Store) FetchUtxosByScriptPubkey(_ context.Context, scriptPubkey string) ([]*domain.UTXORecord, error) {
	var docs []utxoDoc
	if err := s.db.Find(&docs, badgerhold.Where("ScriptPubkey").Eq(scriptPubkey)); err != nil {
		return nil, err
	}
	out := make([]*domain.UTXORecord, 0, len(docs))
	for i := range docs {
		record, err := docs[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *Store) SaveUtxo(_ context.Context, utxo *domain.UTXORecord) error {
	return s.db.Upsert(utxo.ID(), utxoDocFromDomain(utxo))
}

func (s *Store) RemoveUtxo(_ context.Context, utxo *domain.UTXORecord) error {
	err := s.db.Delete(utxo.ID(), &utxoDoc{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	return err
}
