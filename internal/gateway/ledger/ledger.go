// Package ledger owns the available/locked balance state for every user.
// All mutations go through atomic badger transactions serialized per user;
// nothing outside this package may write balance state.
package ledger

import (
	"encoding/json"
	"hash/fnv"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// Asset identifies one of the three per-user balances: collateral plus the
// two outcome tokens.
type Asset int

const (
	AssetUSDC Asset = iota
	AssetYes
	AssetNo
)

// Balance is the per-user ledger row. All amounts are non-negative integer
// base units (USDC 6 decimals, outcome tokens 1e6 scale).
type Balance struct {
	USDCAvailable int64 `json:"usdc_available"`
	USDCLocked    int64 `json:"usdc_locked"`
	YesAvailable  int64 `json:"yes_available"`
	YesLocked     int64 `json:"yes_locked"`
	NoAvailable   int64 `json:"no_available"`
	NoLocked      int64 `json:"no_locked"`
}

var (
	// ErrInvalidAmount rejects non-positive mutation amounts at the boundary.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrInsufficient means the mutation would drive a balance field negative.
	// The whole transaction is rolled back; no leg of the mutation applies.
	ErrInsufficient = errors.New("ledger: insufficient balance")
	// ErrDuplicateDeposit means this transaction signature was already credited.
	ErrDuplicateDeposit = errors.New("ledger: duplicate deposit transaction signature")
)

const lockShards = 64

// Store is the badger-backed ledger. Concurrent requests for the same user
// serialize on a striped mutex so read-modify-write inside a transaction is
// race-free; requests for different users proceed in parallel.
type Store struct {
	db    *badger.DB
	locks [lockShards]sync.Mutex
}

// Options controls how the ledger database is opened.
type Options struct {
	Dir      string
	InMemory bool // tests
}

// Open opens (or creates) the ledger database.
func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.WithLogger(nil)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrap(err, "ledger: open badger")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func balanceKey(userID string) []byte {
	return []byte("bal/" + userID)
}

func depositKey(txSignature string) []byte {
	return []byte("dep/" + txSignature)
}

func (s *Store) shard(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.locks[h.Sum32()%lockShards]
}

// lockUsers acquires the shard locks for the given users in a fixed order so
// two concurrent settlements touching the same pair cannot deadlock.
func (s *Store) lockUsers(a, b string) func() {
	ma, mb := s.shard(a), s.shard(b)
	if ma == mb {
		ma.Lock()
		return ma.Unlock
	}
	ha, hb := hash32(a)%lockShards, hash32(b)%lockShards
	if ha > hb {
		ma, mb = mb, ma
	}
	ma.Lock()
	mb.Lock()
	return func() {
		mb.Unlock()
		ma.Unlock()
	}
}

func hash32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func readBalance(txn *badger.Txn, userID string) (Balance, error) {
	var bal Balance
	item, err := txn.Get(balanceKey(userID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return bal, nil // absent row reads as all zeros
		}
		return bal, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &bal)
	})
	return bal, err
}

func writeBalance(txn *badger.Txn, userID string, bal Balance) error {
	b, err := json.Marshal(bal)
	if err != nil {
		return err
	}
	return txn.Set(balanceKey(userID), b)
}

// Get returns the user's balance; a user with no row reads as all zeros.
func (s *Store) Get(userID string) (Balance, error) {
	var bal Balance
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		bal, err = readBalance(txn, userID)
		return err
	})
	return bal, err
}

// Deposit credits usdc_available, idempotent on txSignature. A replayed
// signature returns ErrDuplicateDeposit together with the unchanged balance;
// the dedup mark commits in the same transaction as the credit, so a crash
// cannot leave one without the other.
func (s *Store) Deposit(userID string, amount int64, txSignature string) (Balance, error) {
	if amount <= 0 {
		return Balance{}, ErrInvalidAmount
	}
	if txSignature == "" {
		return Balance{}, errors.New("ledger: transaction signature is required")
	}

	mu := s.shard(userID)
	mu.Lock()
	defer mu.Unlock()

	var out Balance
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(depositKey(txSignature)); err == nil {
			bal, rerr := readBalance(txn, userID)
			if rerr != nil {
				return rerr
			}
			out = bal
			return ErrDuplicateDeposit
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		bal, err := readBalance(txn, userID)
		if err != nil {
			return err
		}
		bal.USDCAvailable += amount
		if err := writeBalance(txn, userID, bal); err != nil {
			return err
		}
		if err := txn.Set(depositKey(txSignature), []byte(userID)); err != nil {
			return err
		}
		out = bal
		return nil
	})
	if err != nil && !errors.Is(err, ErrDuplicateDeposit) {
		return Balance{}, err
	}
	return out, err
}

func (b *Balance) fields(asset Asset) (available *int64, locked *int64) {
	switch asset {
	case AssetYes:
		return &b.YesAvailable, &b.YesLocked
	case AssetNo:
		return &b.NoAvailable, &b.NoLocked
	default:
		return &b.USDCAvailable, &b.USDCLocked
	}
}

// Lock moves amount from available to locked for one (user, asset) pair.
func (s *Store) Lock(userID string, asset Asset, amount int64) (Balance, error) {
	return s.move(userID, asset, amount, true)
}

// Unlock moves amount from locked back to available.
func (s *Store) Unlock(userID string, asset Asset, amount int64) (Balance, error) {
	return s.move(userID, asset, amount, false)
}

func (s *Store) move(userID string, asset Asset, amount int64, toLocked bool) (Balance, error) {
	if amount <= 0 {
		return Balance{}, ErrInvalidAmount
	}
	mu := s.shard(userID)
	mu.Lock()
	defer mu.Unlock()

	var out Balance
	err := s.db.Update(func(txn *badger.Txn) error {
		bal, err := readBalance(txn, userID)
		if err != nil {
			return err
		}
		avail, locked := bal.fields(asset)
		src, dst := avail, locked
		if !toLocked {
			src, dst = locked, avail
		}
		if *src < amount {
			return ErrInsufficient
		}
		*src -= amount
		*dst += amount
		if err := writeBalance(txn, userID, bal); err != nil {
			return err
		}
		out = bal
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	return out, nil
}

// SettleFill applies both legs of a matched fill atomically: the buyer's
// locked collateral pays for the seller's locked outcome tokens. Either both
// users' rows change or neither does, and no field may go negative.
func (s *Store) SettleFill(buyerID, sellerID string, outcome Asset, size int64, cost int64) error {
	if size <= 0 || cost <= 0 {
		return ErrInvalidAmount
	}
	if outcome != AssetYes && outcome != AssetNo {
		return errors.New("ledger: settle outcome must be YES or NO")
	}
	if buyerID == sellerID {
		return errors.New("ledger: buyer and seller must differ")
	}

	unlock := s.lockUsers(buyerID, sellerID)
	defer unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		buyer, err := readBalance(txn, buyerID)
		if err != nil {
			return err
		}
		seller, err := readBalance(txn, sellerID)
		if err != nil {
			return err
		}

		if buyer.USDCLocked < cost {
			return ErrInsufficient
		}
		_, sellerLocked := seller.fields(outcome)
		if *sellerLocked < size {
			return ErrInsufficient
		}

		buyer.USDCLocked -= cost
		seller.USDCAvailable += cost
		*sellerLocked -= size
		buyerAvail, _ := buyer.fields(outcome)
		*buyerAvail += size

		if err := writeBalance(txn, buyerID, buyer); err != nil {
			return err
		}
		return writeBalance(txn, sellerID, seller)
	})
}
