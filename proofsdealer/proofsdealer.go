// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package proofsdealer implements the tick driven challenge cycle of the
// storage network: it derives per-tick challenges, tracks per provider
// proof deadlines, verifies submitted forest proofs and marks providers
// that miss their deadline as slashable, all under fixed per-tick work
// bounds.
package proofsdealer

import (
	"math"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"

	"github.com/storagehub/hub/hub"
	"github.com/storagehub/hub/kv"
	"github.com/storagehub/hub/log"
	"github.com/storagehub/hub/providers"
	"github.com/storagehub/hub/randomness"
)

var logger = log.WithContext("pkg", "proofsdealer")

// ProofsDealer is the challenge scheduler, proof verifier and slashing
// coordinator. All state is persisted through the given kv store, so a
// restarted dealer resumes its cycle where it left off.
//
// Operations are serialized by a single mutex. Within a tick, mutations are
// only observable to readers as whole-operation transitions.
type ProofsDealer struct {
	cfg        Config
	store      *storage
	registry   *providers.Registry
	seedSource randomness.Source

	mu         sync.Mutex
	tickWeight uint64

	feed  event.Feed
	scope event.SubscriptionScope
}

// New creates a dealer over the given store.
func New(cfg Config, store kv.GetPutter, registry *providers.Registry, seeds randomness.Source) (*ProofsDealer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ProofsDealer{
		cfg:        cfg,
		store:      newStorage(store),
		registry:   registry,
		seedSource: seeds,
	}, nil
}

// Close terminates all event subscriptions.
func (d *ProofsDealer) Close() {
	d.scope.Close()
}

// Config returns the dealer's protocol parameters.
func (d *ProofsDealer) Config() Config {
	return d.cfg
}

// CurrentTick returns the dealer's logical clock.
func (d *ProofsDealer) CurrentTick() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.currentTick()
}

// ChallengePeriod derives the tick distance between two proofs a provider
// with the given stake owes. Higher stake means a shorter period, floored at
// MinChallengePeriod.
func (d *ProofsDealer) ChallengePeriod(stake *big.Int) (uint32, error) {
	if stake == nil || stake.Sign() <= 0 {
		return 0, ErrZeroStake
	}
	period := new(big.Int).Div(new(big.Int).SetUint64(d.cfg.StakeToChallengePeriod), stake)
	if !period.IsUint64() || period.Uint64() > math.MaxUint32 {
		return math.MaxUint32, nil
	}
	if p := uint32(period.Uint64()); p > d.cfg.MinChallengePeriod {
		return p, nil
	}
	return d.cfg.MinChallengePeriod, nil
}

// InitialiseChallengeCycle starts, or idempotently resets, a provider's
// proving cycle: the first deadline is one challenge period from the current
// tick. An existing deadline index entry is replaced, never duplicated.
func (d *ProofsDealer) InitialiseChallengeCycle(id hub.Bytes32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.registry.Get(id)
	if err != nil {
		if errors.Is(err, providers.ErrNotFound) {
			return ErrProviderStakeNotFound
		}
		return err
	}
	period, err := d.ChallengePeriod(p.Stake)
	if err != nil {
		return err
	}
	now, err := d.store.currentTick()
	if err != nil {
		return err
	}
	rec := &SubmissionRecord{
		LastTickProven: now,
		NextTick:       now + period,
	}
	if err := d.store.saveRecord(id, rec); err != nil {
		return err
	}
	if err := d.store.scheduleDeadline(id, rec.NextTick); err != nil {
		return err
	}
	logger.Info("challenge cycle initialised", "provider", id.AbbrevString(), "deadline", rec.NextTick)
	d.emit(NewChallengeCycleInitialisedEvent{Provider: id, Owner: p.Owner, Deadline: rec.NextTick})
	return nil
}

// StopChallengeCycle removes a provider from the cycle, e.g. on sign-off.
// Its submission record, deadline index entry and any pending slashable
// marking are cleared.
func (d *ProofsDealer) StopChallengeCycle(id hub.Bytes32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.store.deleteRecord(id); err != nil {
		return err
	}
	if err := d.store.clearDeadline(id); err != nil {
		return err
	}
	return d.store.deleteSlashable(id)
}

// Record returns a provider's submission record.
func (d *ProofsDealer) Record(id hub.Bytes32) (*SubmissionRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, err := d.store.record(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoRecordOfLastSubmittedProof
	}
	return rec, nil
}

// ScheduledDeadline returns the deadline tick a provider is currently
// indexed under.
func (d *ProofsDealer) ScheduledDeadline(id hub.Bytes32) (uint32, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.scheduledDeadline(id)
}

// ValidSubmitters returns the providers that submitted a valid proof in the
// given tick. Lists older than TargetTicksStorageOfSubmitters are pruned.
func (d *ProofsDealer) ValidSubmitters(tick uint32) ([]hub.Bytes32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.validSubmitters(tick)
}

// SetPaused halts or resumes tick advancement. Proof submission stays
// enabled while paused, so a backlog can be drained deterministically.
func (d *ProofsDealer) SetPaused(paused bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.store.savePaused(paused); err != nil {
		return err
	}
	logger.Info("challenges ticker set", "paused", paused)
	d.emit(ChallengesTickerSetEvent{Paused: paused})
	return nil
}

// Paused reports whether tick advancement is halted.
func (d *ProofsDealer) Paused() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.paused()
}

func (d *ProofsDealer) noteWeight(w uint64) {
	d.tickWeight += w
}
