// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package providers keeps the registry of storage providers: their stake,
// owner account and committed forest root. The proofs dealer consumes it for
// stake lookups and root updates, and calls back into it to execute slashes.
package providers

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/storagehub/hub/hub"
	"github.com/storagehub/hub/kv"
	"github.com/storagehub/hub/log"
)

var logger = log.WithContext("pkg", "providers")

var (
	// ErrNotFound is returned when a provider id is not registered.
	ErrNotFound = errors.New("provider not found")
	// ErrAlreadyRegistered is returned when registering a duplicate id.
	ErrAlreadyRegistered = errors.New("provider already registered")
	// ErrInsufficientBalance is returned when an account cannot cover a charge.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

var (
	providersBucket = kv.Bucket("providers.p-")
	ownersBucket    = kv.Bucket("providers.o-")
	accountsBucket  = kv.Bucket("providers.a-")
	metaBucket      = kv.Bucket("providers.m-")
)

var keyTreasury = []byte("treasury")

// Provider is a registered Main or Backup Storage Provider.
type Provider struct {
	ID           hub.Bytes32 `json:"id"`
	Owner        hub.Address `json:"owner"`
	Stake        *big.Int    `json:"stake"`
	Root         hub.Bytes32 `json:"root"`
	Capacity     uint64      `json:"capacity"`
	UsedCapacity uint64      `json:"usedCapacity"`
}

// Registry is the kv backed provider registry.
type Registry struct {
	mu        sync.RWMutex
	providers kv.GetPutter
	owners    kv.GetPutter
	accounts  kv.GetPutter
	meta      kv.GetPutter
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store kv.GetPutter) *Registry {
	return &Registry{
		providers: providersBucket.NewStore(store),
		owners:    ownersBucket.NewStore(store),
		accounts:  accountsBucket.NewStore(store),
		meta:      metaBucket.NewStore(store),
	}
}

// Register adds a new provider. The stake must be set.
func (r *Registry) Register(p *Provider) error {
	if p.Stake == nil {
		return errors.New("stake not set")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	has, err := r.providers.Has(p.ID.Bytes())
	if err != nil {
		return errors.Wrap(err, "check provider")
	}
	if has {
		return ErrAlreadyRegistered
	}
	if err := r.save(p); err != nil {
		return err
	}
	if err := r.owners.Put(p.Owner.Bytes(), p.ID.Bytes()); err != nil {
		return errors.Wrap(err, "index owner")
	}
	logger.Info("registered provider", "id", p.ID, "owner", p.Owner, "stake", p.Stake)
	return nil
}

// Remove deletes a provider, e.g. on sign-off.
func (r *Registry) Remove(id hub.Bytes32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.load(id)
	if err != nil {
		return err
	}
	if err := r.providers.Delete(id.Bytes()); err != nil {
		return errors.Wrap(err, "delete provider")
	}
	if err := r.owners.Delete(p.Owner.Bytes()); err != nil {
		return errors.Wrap(err, "delete owner index")
	}
	logger.Info("removed provider", "id", id)
	return nil
}

// Get returns the provider for the given id.
func (r *Registry) Get(id hub.Bytes32) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.load(id)
}

// ByOwner returns the provider controlled by the given account.
func (r *Registry) ByOwner(owner hub.Address) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idBytes, err := r.owners.Get(owner.Bytes())
	if err != nil {
		if r.owners.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get owner index")
	}
	return r.load(hub.BytesToBytes32(idBytes))
}

// Stake returns the provider's current stake.
func (r *Registry) Stake(id hub.Bytes32) (*big.Int, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return p.Stake, nil
}

// Root returns the provider's committed forest root.
func (r *Registry) Root(id hub.Bytes32) (hub.Bytes32, error) {
	p, err := r.Get(id)
	if err != nil {
		return hub.Bytes32{}, err
	}
	return p.Root, nil
}

// SetRoot updates the provider's committed forest root.
func (r *Registry) SetRoot(id, root hub.Bytes32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.load(id)
	if err != nil {
		return err
	}
	old := p.Root
	p.Root = root
	if err := r.save(p); err != nil {
		return err
	}
	logger.Debug("updated provider root", "id", id, "old", old, "new", root)
	return nil
}

// Slash deducts up to amount from the provider's stake and credits the
// treasury. Returns the amount actually slashed.
func (r *Registry) Slash(id hub.Bytes32, amount *big.Int) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.load(id)
	if err != nil {
		return nil, err
	}
	slashed := new(big.Int).Set(amount)
	if slashed.Cmp(p.Stake) > 0 {
		slashed.Set(p.Stake)
	}
	p.Stake = new(big.Int).Sub(p.Stake, slashed)
	if err := r.save(p); err != nil {
		return nil, err
	}
	if err := r.addBalance(r.meta, keyTreasury, slashed); err != nil {
		return nil, err
	}
	logger.Info("slashed provider", "id", id, "amount", slashed, "remaining", p.Stake)
	return slashed, nil
}

// Deposit credits an account. Used to fund challenge fee payers.
func (r *Registry) Deposit(addr hub.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addBalance(r.accounts, addr.Bytes(), amount)
}

// Charge debits an account and credits the treasury.
func (r *Registry) Charge(addr hub.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	balance, err := r.balance(r.accounts, addr.Bytes())
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	balance.Sub(balance, amount)
	if err := r.accounts.Put(addr.Bytes(), balance.Bytes()); err != nil {
		return errors.Wrap(err, "store balance")
	}
	return r.addBalance(r.meta, keyTreasury, amount)
}

// Balance returns an account's balance.
func (r *Registry) Balance(addr hub.Address) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balance(r.accounts, addr.Bytes())
}

// TreasuryBalance returns the accumulated fee/slash treasury.
func (r *Registry) TreasuryBalance() (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balance(r.meta, keyTreasury)
}

func (r *Registry) load(id hub.Bytes32) (*Provider, error) {
	data, err := r.providers.Get(id.Bytes())
	if err != nil {
		if r.providers.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get provider")
	}
	var p Provider
	if err := rlp.DecodeBytes(data, &p); err != nil {
		return nil, errors.Wrap(err, "decode provider")
	}
	return &p, nil
}

func (r *Registry) save(p *Provider) error {
	data, err := rlp.EncodeToBytes(p)
	if err != nil {
		return errors.Wrap(err, "encode provider")
	}
	return errors.Wrap(r.providers.Put(p.ID.Bytes(), data), "store provider")
}

func (r *Registry) balance(store kv.GetPutter, key []byte) (*big.Int, error) {
	data, err := store.Get(key)
	if err != nil {
		if store.IsNotFound(err) {
			return new(big.Int), nil
		}
		return nil, errors.Wrap(err, "get balance")
	}
	return new(big.Int).SetBytes(data), nil
}

func (r *Registry) addBalance(store kv.GetPutter, key []byte, amount *big.Int) error {
	balance, err := r.balance(store, key)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	return errors.Wrap(store.Put(key, balance.Bytes()), "store balance")
}
